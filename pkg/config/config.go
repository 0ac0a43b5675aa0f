// Package config loads the PAD encoder's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"padenc/pkg/dls"
	"padenc/pkg/mot"
	"padenc/pkg/padpacket"
)

// Config is the top-level YAML document.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	PAD       PADConfig       `yaml:"pad"`
	Slides    SlidesConfig    `yaml:"slides"`
	DLS       DLSConfig       `yaml:"dls"`
}

// TransportConfig names the local datagram socket identifier.
type TransportConfig struct {
	Ident string `yaml:"ident"`
}

// PADConfig controls the frame length and the X-PAD-every-N gating.
type PADConfig struct {
	Length       int `yaml:"length"`
	XPADInterval int `yaml:"xpad_interval"`
}

// SlidesConfig controls the MOT Slideshow directory and encoding policy.
type SlidesConfig struct {
	Dir                string `yaml:"dir"`
	IntervalS          int    `yaml:"interval_s"`
	MaxSlideSizeBytes  int    `yaml:"max_slide_size_bytes"`
	Raw                bool   `yaml:"raw_slides"`
	EraseAfterTx       bool   `yaml:"erase_after_tx"`
	CurrentSlideDump   string `yaml:"current_slide_dump"`
	CompletedSlideDump string `yaml:"completed_slide_dump"`
}

// DLSConfig controls the label file rotation and transcoding policy.
type DLSConfig struct {
	Files         []string `yaml:"files"`
	Charset       int      `yaml:"charset"`
	RawDLS        bool     `yaml:"raw_dls"`
	RemoveDLS     bool     `yaml:"remove_dls"`
	IntervalS     int      `yaml:"interval_s"`
	InsertionMs   int      `yaml:"insertion_ms"`
	ItemStateFile string   `yaml:"item_state_file"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		PAD: PADConfig{
			Length:       58,
			XPADInterval: 1,
		},
		Slides: SlidesConfig{
			MaxSlideSizeBytes: mot.MaxSlideSizeBytes,
		},
		DLS: DLSConfig{
			Charset:     dls.CharsetUTF8,
			InsertionMs: 1000,
		},
	}
}

func (c *Config) validate() error {
	if c.Transport.Ident == "" {
		return fmt.Errorf("transport.ident must be set")
	}
	if !padpacket.CheckPADLen(c.PAD.Length) {
		return fmt.Errorf("pad.length %d invalid (allowed: 6, or 8 to 196)", c.PAD.Length)
	}
	if c.Slides.Dir == "" && len(c.DLS.Files) == 0 {
		return fmt.Errorf("neither slides.dir nor dls.files configured - nothing to encode")
	}
	if c.Slides.MaxSlideSizeBytes <= 0 || c.Slides.MaxSlideSizeBytes > mot.MaxSlideSizeBytes {
		c.Slides.MaxSlideSizeBytes = mot.MaxSlideSizeBytes
	}
	switch c.DLS.Charset {
	case dls.CharsetCompleteEBULatin, dls.CharsetEBULatinCyGr, dls.CharsetEBULatinArHeCyGr,
		dls.CharsetISOLatinAlpha2, dls.CharsetUCS2BE, dls.CharsetUTF8:
	default:
		return fmt.Errorf("dls.charset %d invalid", c.DLS.Charset)
	}
	if !c.DLS.RawDLS && c.DLS.Charset != dls.CharsetCompleteEBULatin && c.DLS.Charset != dls.CharsetUTF8 {
		return fmt.Errorf("dls.charset %d requires dls.raw_dls (transcoding only supported for UTF-8 input)", c.DLS.Charset)
	}
	if c.PAD.XPADInterval <= 0 {
		c.PAD.XPADInterval = 1
	}
	return nil
}

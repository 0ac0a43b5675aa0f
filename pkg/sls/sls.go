// Package sls implements the MOT Slideshow encoder: it turns a slide file
// into a sequence of MSC Data Groups, deciding between raw passthrough and
// an imaging pipeline that resizes and recompresses oversized images.
package sls

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"padenc/pkg/datagroup"
	"padenc/pkg/mot"
)

// maxSlideWidth/maxSlideHeight are the MOT Slideshow Simple Profile target dimensions
// (TS 101 499 v3.1.1, ch. 9.1.1).
const (
	maxSlideWidth  = 320
	maxSlideHeight = 240
)

// minQuality is the floor the JPEG quality search will not go below.
const minQuality = 40

// rawModeSuffixes are case-insensitive basename suffixes that force raw
// (non-recompressed) encoding regardless of the caller's raw flag.
var rawModeSuffixes = []string{"_PadEncRawMode.jpg", "_PadEncRawMode.png"}

// slsParamsSuffix names a slide's sidecar metadata file.
const slsParamsSuffix = ".sls_params"

// IsSlideParamFileFilename reports whether name is a .sls_params sidecar,
// not a slide itself.
func IsSlideParamFileFilename(name string) bool {
	return strings.HasSuffix(name, slsParamsSuffix)
}

func hasRawModeSuffix(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	for _, suffix := range rawModeSuffixes {
		if strings.HasSuffix(base, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// Encoder tracks the independent continuity-index counters for the MOT
// header and body Data Group streams.
type Encoder struct {
	segmenter *mot.Segmenter
}

// NewEncoder returns an Encoder with fresh continuity counters.
func NewEncoder() *Encoder {
	return &Encoder{segmenter: mot.NewSegmenter()}
}

// Params configures one slide encoding call.
type Params struct {
	Raw          bool
	MaxSlideSize int
	DumpPath     string
}

// EncodeSlide reads the slide at path, encodes it (raw or via the imaging
// pipeline), optionally writes the final bytes to DumpPath, and returns the
// MSC Data Groups (each preceded by its Data Group Length Indicator) ready
// for the PAD Packetizer.
func (e *Encoder) EncodeSlide(path string, fidx int, params Params) ([]*datagroup.DataGroup, error) {
	maxSize := params.MaxSlideSize
	if maxSize <= 0 || maxSize > mot.MaxSlideSizeBytes {
		maxSize = mot.MaxSlideSizeBytes
	}

	raw := params.Raw || hasRawModeSuffix(path)

	var body []byte
	var jfifNotPNG bool
	var err error
	if raw {
		body, jfifNotPNG, err = readRaw(path)
	} else {
		body, jfifNotPNG, err = encodeRecompressed(path, maxSize)
	}
	if err != nil {
		return nil, err
	}
	if len(body) > maxSize {
		fmt.Fprintf(os.Stderr, "padenc: slide '%s' exceeds max slide size (%d > %d bytes)\n", path, len(body), maxSize)
	}

	if params.DumpPath != "" {
		if err := os.WriteFile(params.DumpPath, body, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "padenc: writing slide dump '%s' failed: %v\n", params.DumpPath, err)
		}
	}

	slideParams, _ := ParseSidecarParams(path + slsParamsSuffix)
	header := mot.BuildSlideHeader(len(body), fidx, jfifNotPNG, slideParams)

	return e.segmenter.PackSlide(fidx, header.Bytes(), body), nil
}

func readRaw(path string) ([]byte, bool, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("sls: read raw slide %s: %w", path, err)
	}

	// Preserve the historical behaviour: default to JPEG unless the
	// extension unambiguously says PNG.
	jfifNotPNG := true
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".png" {
		jfifNotPNG = false
	}
	return body, jfifNotPNG, nil
}

func encodeRecompressed(path string, maxSize int) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("sls: read slide %s: %w", path, err)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("sls: unable to decode image %s: %w", path, err)
	}

	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false, fmt.Errorf("sls: unable to decode image %s: %w", path, err)
	}

	fitsAlready := cfg.Width <= maxSlideWidth && cfg.Height <= maxSlideHeight
	progressive := format == "jpeg" && isProgressiveJPEG(raw)

	if fitsAlready && !progressive && len(raw) <= maxSize {
		warnOnSmallerImage(cfg.Height, cfg.Width, path)
		return raw, format != "png", nil
	}

	resized := img
	if !fitsAlready {
		resized = imaging.Fit(img, maxSlideWidth, maxSlideHeight, imaging.Lanczos)
	}
	bounds := resized.Bounds()
	warnOnSmallerImage(bounds.Dy(), bounds.Dx(), path)

	return chooseSmallestEncoding(resized, maxSize)
}

func warnOnSmallerImage(height, width int, path string) {
	if height < maxSlideHeight || width < maxSlideWidth {
		fmt.Fprintf(os.Stderr, "padenc: image '%s' smaller than recommended size (%dx%d < %dx%d px)\n",
			path, width, height, maxSlideWidth, maxSlideHeight)
	}
}

// chooseSmallestEncoding tries PNG at best compression and JPEG from quality
// 100 down to minQuality in steps of 5, returning whichever fits maxSize and
// is smaller; jfifNotPNG reports which one was picked. It returns an error
// if neither fits maxSize.
func chooseSmallestEncoding(img image.Image, maxSize int) ([]byte, bool, error) {
	var pngBuf bytes.Buffer
	pngEnc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := pngEnc.Encode(&pngBuf, img); err != nil {
		return nil, false, fmt.Errorf("sls: encode PNG: %w", err)
	}

	var jpegBuf bytes.Buffer
	quality := 100
	for {
		jpegBuf.Reset()
		if err := jpeg.Encode(&jpegBuf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, false, fmt.Errorf("sls: encode JPEG: %w", err)
		}
		if jpegBuf.Len() <= maxSize || quality <= minQuality {
			break
		}
		quality -= 5
	}

	pngOK := pngBuf.Len() <= maxSize
	jpegOK := jpegBuf.Len() <= maxSize
	if !pngOK && !jpegOK {
		return nil, false, fmt.Errorf("sls: image too large after compression: %d bytes (PNG), %d bytes (JPEG)",
			pngBuf.Len(), jpegBuf.Len())
	}

	if jpegBuf.Len() < pngBuf.Len() {
		return jpegBuf.Bytes(), true, nil
	}
	return pngBuf.Bytes(), false, nil
}

// isProgressiveJPEG scans for a progressive (SOF2) start-of-frame marker.
func isProgressiveJPEG(data []byte) bool {
	const (
		markerSOF2 = 0xC2
		markerSOS  = 0xDA
	)
	i := 2 // skip SOI
	for i+4 <= len(data) {
		if data[i] != 0xFF {
			i++
			continue
		}
		marker := data[i+1]
		if marker == 0x00 || marker == 0xFF {
			i++
			continue
		}
		if marker >= 0xD0 && marker <= 0xD9 {
			i += 2
			continue
		}
		if marker == markerSOS {
			return false
		}
		length := int(data[i+2])<<8 | int(data[i+3])
		if marker == markerSOF2 {
			return true
		}
		i += 2 + length
	}
	return false
}

// ParseSidecarParams reads a .sls_params key/value file, producing the
// optional MOT header extensions it describes. A missing file is not an
// error: it simply yields zero-value params.
func ParseSidecarParams(path string) (mot.SlideParams, error) {
	var params mot.SlideParams

	f, err := os.Open(path)
	if err != nil {
		return params, nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			fmt.Fprintf(os.Stderr, "padenc: SLS parameter line %q without separator - ignored\n", line)
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "CategoryID/SlideID":
			parts := strings.Fields(value)
			if len(parts) != 2 {
				fmt.Fprintf(os.Stderr, "padenc: SLS parameter CategoryID/SlideID value %q does not have two parts - ignored\n", value)
				continue
			}
			catID, okCat := parseSLSParamByte("CategoryID", parts[0])
			slideID, okSlide := parseSLSParamByte("SlideID", parts[1])
			if okCat && okSlide {
				params.HasCategory = true
				params.CategoryID = catID
				params.SlideID = slideID
			}
		case "CategoryTitle":
			if checkSLSParamLen("CategoryTitle", len(value), 128) {
				params.CategoryTitle = value
			}
		case "ClickThroughURL":
			if checkSLSParamLen("ClickThroughURL", len(value), 512) {
				params.ClickThroughURL = value
			}
		case "AlternativeLocationURL":
			if checkSLSParamLen("AlternativeLocationURL", len(value), 512) {
				params.AlternativeLocationURL = value
			}
		default:
			fmt.Fprintf(os.Stderr, "padenc: SLS parameter %q unknown - ignored\n", key)
		}
	}
	return params, scanner.Err()
}

func parseSLSParamByte(key, value string) (uint8, bool) {
	v, err := strconv.Atoi(value)
	if err != nil || v < 0x00 || v > 0xFF {
		fmt.Fprintf(os.Stderr, "padenc: SLS parameter %q %q out of range - ignored\n", key, value)
		return 0, false
	}
	return uint8(v), true
}

func checkSLSParamLen(key string, length, max int) bool {
	if length <= max {
		return true
	}
	fmt.Fprintf(os.Stderr, "padenc: SLS parameter %q exceeds its maximum length (%d > %d) - ignored\n", key, length, max)
	return false
}

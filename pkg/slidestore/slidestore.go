// Package slidestore enumerates the MOT Slideshow directory and assigns
// stable fidx values to slides across repeated encodings of the same file.
package slidestore

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// maxHistoryLen bounds the fingerprint history's FIFO size.
const maxHistoryLen = 50

// MaxSlideID is the fidx roll-over value.
const MaxSlideID = 9999

// requestRereadFilename triggers a directory re-scan when present.
const requestRereadFilename = "REQUEST_SLIDES_DIR_REREAD"

// slsParamsSuffix marks a file as MOT sidecar metadata, not a slide.
const slsParamsSuffix = ".sls_params"

// Slide is a discovered slide file with its assigned transport id.
type Slide struct {
	Filepath string
	Fidx     int
}

type fingerprint struct {
	name  string
	size  int64
	mtime int64
	fidx  int
}

func (f fingerprint) matches(o fingerprint) bool {
	return f.name == o.name && f.size == o.size && f.mtime == o.mtime
}

func loadFingerprint(path string) (fingerprint, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fingerprint{}, err
	}
	return fingerprint{
		name:  filepath.Base(path),
		size:  st.Size,
		mtime: int64(st.Mtim.Sec),
	}, nil
}

// History remembers recently transmitted slides so a retransmitted,
// unchanged file reuses its previous fidx instead of getting a new one.
type History struct {
	entries      []fingerprint
	lastGivenIdx int
}

// NewHistory returns an empty History with the default capacity.
func NewHistory() *History {
	return &History{}
}

func (h *History) find(fp fingerprint) int {
	for _, e := range h.entries {
		if e.matches(fp) {
			return e.fidx
		}
	}
	return -1
}

func (h *History) add(fp fingerprint) {
	h.entries = append(h.entries, fp)
	if len(h.entries) > maxHistoryLen {
		h.entries = h.entries[1:]
	}
}

// GetFidx returns the stable fidx for path, assigning and remembering a new
// one if this exact (name, size, mtime) tuple hasn't been seen before.
func (h *History) GetFidx(path string) (int, error) {
	fp, err := loadFingerprint(path)
	if err != nil {
		return 0, err
	}

	idx := h.find(fp)
	if idx < 0 {
		idx = h.lastGivenIdx
		h.lastGivenIdx++
		if h.lastGivenIdx > MaxSlideID {
			h.lastGivenIdx = 0
		}

		fp.fidx = idx
		h.add(fp)
	}
	return idx, nil
}

// Store enumerates a slide directory and hands out slides in fidx order.
type Store struct {
	slides  []Slide
	history *History
}

// New returns an empty Store.
func New() *Store {
	return &Store{history: NewHistory()}
}

func isSlideParamsFile(name string) bool {
	return strings.HasSuffix(name, slsParamsSuffix)
}

// InitFromDir scans dir for slide files (excluding dotfiles, .sls_params
// sidecars, and the re-read request marker), assigns each a stable fidx,
// and sorts the result ascending by fidx.
func (s *Store) InitFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var slides []Slide
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			continue
		}
		if strings.HasPrefix(name, ".") {
			continue
		}
		if name == requestRereadFilename {
			continue
		}
		if isSlideParamsFile(name) {
			continue
		}

		path := filepath.Join(dir, name)
		fidx, err := s.history.GetFidx(path)
		if err != nil {
			continue
		}
		slides = append(slides, Slide{Filepath: path, Fidx: fidx})
	}

	sort.Slice(slides, func(i, j int) bool { return slides[i].Fidx < slides[j].Fidx })
	s.slides = slides
	return nil
}

// Empty reports whether the store has no slides left to hand out.
func (s *Store) Empty() bool {
	return len(s.slides) == 0
}

// Clear empties the store, forcing the next access to re-scan the directory.
func (s *Store) Clear() {
	s.slides = nil
}

// GetSlide removes and returns the next slide in fidx order.
func (s *Store) GetSlide() Slide {
	slide := s.slides[0]
	s.slides = s.slides[1:]
	return slide
}

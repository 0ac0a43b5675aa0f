// Package scheduler drives the request/response PAD generation cycle: one
// peer REQUEST yields exactly one PAD_DATA reply, assembled from whichever
// DLS/SLS work is due by the configured cadences.
package scheduler

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"padenc/pkg/config"
	"padenc/pkg/dls"
	"padenc/pkg/mot"
	"padenc/pkg/padpacket"
	"padenc/pkg/sls"
	"padenc/pkg/slidestore"
	"padenc/pkg/transport"
)

// requestRereadFilename names the slide-directory re-scan trigger.
const requestRereadFilename = "REQUEST_SLIDES_DIR_REREAD"

// pollTimeout bounds how long ReceiveRequest blocks before re-polling; on
// timeout the loop loops again without emitting a frame.
const pollTimeout = 2 * time.Second

// Scheduler owns the PAD packetizer queue, DG buffers, slide store, and DL
// state, and drives them from the transport's request loop.
type Scheduler struct {
	cfg       *config.Config
	transport *transport.Endpoint
	logger    *log.Logger

	packetizer *padpacket.Packetizer
	padLen     int

	dlsEnc *dls.Encoder
	slsEnc *sls.Encoder
	store  *slidestore.Store

	currDLSFile        int
	nextSlide          time.Time
	nextLabel          time.Time
	nextLabelInsertion time.Time

	xpadCounter int
}

// New builds a Scheduler from a validated configuration and a bound
// transport endpoint.
func New(cfg *config.Config, ep *transport.Endpoint, logger *log.Logger) (*Scheduler, error) {
	p, err := padpacket.New(cfg.PAD.Length)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Scheduler{
		cfg:                cfg,
		transport:          ep,
		logger:             logger,
		packetizer:         p,
		padLen:             cfg.PAD.Length,
		dlsEnc:             dls.NewEncoder(),
		slsEnc:             sls.NewEncoder(),
		store:              slidestore.New(),
		nextSlide:          now,
		nextLabel:          now,
		nextLabelInsertion: now,
	}, nil
}

// Run blocks, servicing peer requests until stop is closed.
func (s *Scheduler) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		padlen, ok, err := s.transport.ReceiveRequest(pollTimeout)
		if err != nil {
			return fmt.Errorf("scheduler: receive request: %w", err)
		}
		if !ok {
			continue
		}

		if padlen != s.padLen {
			p, err := padpacket.New(padlen)
			if err != nil {
				return fmt.Errorf("scheduler: invalid requested pad length %d: %w", padlen, err)
			}
			s.packetizer = p
			s.padLen = padlen
			s.logger.Printf("padenc: pad length changed to %d", padlen)
		}

		if err := s.cycle(time.Now()); err != nil {
			s.logger.Printf("padenc: encode cycle failed: %v", err)
		}
	}
}

// cycle runs the single encode cycle triggered by one peer request.
func (s *Scheduler) cycle(now time.Time) error {
	s.dumpCompletedSlide()
	s.rereadSlideDir()

	if err := s.slideCadence(now); err != nil {
		s.logger.Printf("padenc: %v", err)
	}

	forceLabelInsertion := s.rereadDLSFile(now)
	forceLabelInsertion = s.rotateDLSFile(now) || forceLabelInsertion
	if forceLabelInsertion {
		s.nextLabelInsertion = now
	}
	s.insertLabel(now)

	return s.emitOnePAD()
}

func (s *Scheduler) dumpCompletedSlide() {
	if s.cfg.Slides.CurrentSlideDump == "" || s.cfg.Slides.CompletedSlideDump == "" {
		return
	}
	if _, err := os.Stat(s.cfg.Slides.CurrentSlideDump); err != nil {
		return
	}
	if s.packetizer.QueueContainsDG(mot.MOTStartAppType) {
		return
	}
	if err := os.Rename(s.cfg.Slides.CurrentSlideDump, s.cfg.Slides.CompletedSlideDump); err != nil {
		s.logger.Printf("padenc: renaming completed slide dump failed: %v", err)
	}
}

func (s *Scheduler) rereadSlideDir() {
	if s.cfg.Slides.Dir == "" {
		return
	}
	marker := filepath.Join(s.cfg.Slides.Dir, requestRereadFilename)
	if _, err := os.Stat(marker); err != nil {
		return
	}
	s.store.Clear()
	if err := os.Remove(marker); err != nil {
		s.logger.Printf("padenc: removing slide re-read request failed: %v", err)
	}
}

func (s *Scheduler) slideCadence(now time.Time) error {
	if s.cfg.Slides.Dir == "" {
		return nil
	}
	if s.packetizer.QueueContainsDG(mot.MOTStartAppType) {
		return nil
	}

	interval := time.Duration(s.cfg.Slides.IntervalS) * time.Second
	due := (interval > 0 && !now.Before(s.nextSlide)) || interval <= 0
	if !due {
		return nil
	}

	if s.store.Empty() {
		if err := s.store.InitFromDir(s.cfg.Slides.Dir); err != nil {
			return fmt.Errorf("reading slide directory: %w", err)
		}
	}

	for !s.store.Empty() {
		slide := s.store.GetSlide()
		dgs, err := s.slsEnc.EncodeSlide(slide.Filepath, slide.Fidx, sls.Params{
			Raw:          s.cfg.Slides.Raw,
			MaxSlideSize: s.cfg.Slides.MaxSlideSizeBytes,
			DumpPath:     s.cfg.Slides.CurrentSlideDump,
		})
		if err != nil {
			s.logger.Printf("padenc: cannot encode slide '%s': %v", slide.Filepath, err)
			continue
		}

		// Erased once queued, not once transmitted: matches the original
		// encoder's unlink-right-after-encode ordering.
		if s.cfg.Slides.EraseAfterTx {
			if err := os.Remove(slide.Filepath); err != nil {
				s.logger.Printf("padenc: erasing slide '%s' failed: %v", slide.Filepath, err)
			}
		}

		s.packetizer.AddDGs(dgs, false)
		if interval > 0 {
			s.nextSlide = s.nextSlide.Add(interval)
			if s.nextSlide.Before(now) {
				s.nextSlide = now.Add(interval)
			}
		}
		return nil
	}
	return nil
}

func (s *Scheduler) rereadDLSFile(now time.Time) bool {
	forced := false
	for i, file := range s.cfg.DLS.Files {
		marker := file + dls.RequestRereadSuffix
		if _, err := os.Stat(marker); err != nil {
			continue
		}
		s.currDLSFile = i
		if interval := time.Duration(s.cfg.DLS.IntervalS) * time.Second; interval > 0 {
			s.nextLabel = now.Add(interval)
		}
		if err := os.Remove(marker); err != nil {
			s.logger.Printf("padenc: removing DLS re-read request failed: %v", err)
		}
		forced = true
	}
	return forced
}

func (s *Scheduler) rotateDLSFile(now time.Time) bool {
	n := len(s.cfg.DLS.Files)
	if n <= 1 {
		return false
	}
	interval := time.Duration(s.cfg.DLS.IntervalS) * time.Second
	if interval <= 0 || now.Before(s.nextLabel) {
		return false
	}
	s.currDLSFile = (s.currDLSFile + 1) % n
	s.nextLabel = s.nextLabel.Add(interval)
	return true
}

func (s *Scheduler) insertLabel(now time.Time) {
	if len(s.cfg.DLS.Files) == 0 {
		return
	}
	if now.Before(s.nextLabelInsertion) {
		return
	}
	if s.packetizer.QueueContainsDG(dls.AppTypeStart) {
		return
	}

	file := s.cfg.DLS.Files[s.currDLSFile]
	params := dls.Params{
		RawDLS:    s.cfg.DLS.RawDLS,
		Charset:   s.cfg.DLS.Charset,
		RemoveDLS: s.cfg.DLS.RemoveDLS,
	}
	if err := s.dlsEnc.EncodeLabel(file, s.cfg.DLS.ItemStateFile, params, s.packetizer); err != nil {
		s.logger.Printf("padenc: cannot encode label '%s': %v", file, err)
	}

	insertion := time.Duration(s.cfg.DLS.InsertionMs) * time.Millisecond
	if insertion <= 0 {
		insertion = time.Second
	}
	s.nextLabelInsertion = s.nextLabelInsertion.Add(insertion)
	if s.nextLabelInsertion.Before(now) {
		s.nextLabelInsertion = now.Add(insertion)
	}
}

func (s *Scheduler) emitOnePAD() error {
	emitXPAD := s.xpadCounter == 0
	s.xpadCounter = (s.xpadCounter + 1) % s.cfg.PAD.XPADInterval

	frame := s.packetizer.GetNextPAD(emitXPAD)
	// The trailing "used length" byte is a local bookkeeping aid; it is
	// not part of the on-wire PAD_DATA payload.
	payload := frame[:len(frame)-1]

	if err := s.transport.SendPADData(payload); err != nil {
		return fmt.Errorf("sending PAD data: %w", err)
	}
	return nil
}

package scheduler

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"padenc/pkg/config"
	"padenc/pkg/datagroup"
	"padenc/pkg/dls"
	"padenc/pkg/mot"
	"padenc/pkg/padpacket"
	"padenc/pkg/sls"
	"padenc/pkg/slidestore"
	"padenc/pkg/transport"
)

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestScheduler(t *testing.T, cfg *config.Config) *Scheduler {
	t.Helper()
	p, err := padpacket.New(cfg.PAD.Length)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()
	return &Scheduler{
		cfg:                cfg,
		logger:             discardLogger(),
		packetizer:         p,
		padLen:             cfg.PAD.Length,
		dlsEnc:             dls.NewEncoder(),
		slsEnc:             sls.NewEncoder(),
		store:              slidestore.New(),
		nextSlide:          now,
		nextLabel:          now,
		nextLabelInsertion: now,
	}
}

func baseConfig() *config.Config {
	return &config.Config{
		PAD: config.PADConfig{Length: 58, XPADInterval: 1},
		Slides: config.SlidesConfig{
			MaxSlideSizeBytes: mot.MaxSlideSizeBytes,
		},
		DLS: config.DLSConfig{
			Charset:     dls.CharsetUTF8,
			InsertionMs: 1000,
		},
	}
}

func writeTestJPEG(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := image.NewNRGBA(image.Rect(0, 0, 40, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{10, 20, 30, 255})
		}
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
}

func TestSlideCadenceEncodesDueSlide(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a.jpg"))

	cfg := baseConfig()
	cfg.Slides.Dir = dir
	sched := newTestScheduler(t, cfg)

	if err := sched.slideCadence(time.Now()); err != nil {
		t.Fatalf("slideCadence: %v", err)
	}
	if !sched.packetizer.QueueContainsDG(mot.MOTStartAppType) {
		t.Fatal("expected a MOT-start DG to be queued after encoding the due slide")
	}
}

func TestSlideCadenceSkipsWhileMOTStartStillQueued(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a.jpg"))
	writeTestJPEG(t, filepath.Join(dir, "b.jpg"))

	cfg := baseConfig()
	cfg.Slides.Dir = dir
	sched := newTestScheduler(t, cfg)

	if err := sched.store.InitFromDir(dir); err != nil {
		t.Fatal(err)
	}
	sched.packetizer.AddDG(datagroup.New(4, mot.MOTStartAppType, mot.MOTContAppType), false)

	if err := sched.slideCadence(time.Now()); err != nil {
		t.Fatalf("slideCadence: %v", err)
	}
	if sched.store.Empty() {
		t.Fatal("expected the pending slide to be left untouched while a MOT-start DG is still queued")
	}
}

func TestDumpCompletedSlideRenamesWhenQueueDrained(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.jpg")
	completed := filepath.Join(dir, "completed.jpg")
	if err := os.WriteFile(current, []byte("slide bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.Slides.CurrentSlideDump = current
	cfg.Slides.CompletedSlideDump = completed
	sched := newTestScheduler(t, cfg)

	sched.dumpCompletedSlide()

	if _, err := os.Stat(completed); err != nil {
		t.Fatalf("expected completed slide dump to exist: %v", err)
	}
	if _, err := os.Stat(current); !os.IsNotExist(err) {
		t.Fatalf("expected current slide dump to be gone after rename, stat err = %v", err)
	}
}

func TestDumpCompletedSlideSkipsWhileMOTStartQueued(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, "current.jpg")
	completed := filepath.Join(dir, "completed.jpg")
	if err := os.WriteFile(current, []byte("slide bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.Slides.CurrentSlideDump = current
	cfg.Slides.CompletedSlideDump = completed
	sched := newTestScheduler(t, cfg)
	sched.packetizer.AddDG(datagroup.New(4, mot.MOTStartAppType, mot.MOTContAppType), false)

	sched.dumpCompletedSlide()

	if _, err := os.Stat(current); err != nil {
		t.Fatalf("expected current slide dump to remain while a slide is still in flight: %v", err)
	}
}

func TestRereadSlideDirClearsStoreAndRemovesMarker(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "a.jpg"))
	marker := filepath.Join(dir, requestRereadFilename)
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.Slides.Dir = dir
	sched := newTestScheduler(t, cfg)
	if err := sched.store.InitFromDir(dir); err != nil {
		t.Fatal(err)
	}
	if sched.store.Empty() {
		t.Fatal("expected the store to be populated before the re-read request is honoured")
	}

	sched.rereadSlideDir()

	if !sched.store.Empty() {
		t.Fatal("expected the store to be cleared by a re-read request")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected the re-read marker to be removed, stat err = %v", err)
	}
}

func TestInsertLabelEncodesDueLabelAndSkipsWhileQueued(t *testing.T) {
	dir := t.TempDir()
	label := filepath.Join(dir, "label.txt")
	if err := os.WriteFile(label, []byte("Hello, radio\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := baseConfig()
	cfg.DLS.Files = []string{label}
	sched := newTestScheduler(t, cfg)

	sched.insertLabel(time.Now())
	if !sched.packetizer.QueueContainsDG(dls.AppTypeStart) {
		t.Fatal("expected a DLS-start DG to be queued after encoding the due label")
	}
	if !sched.nextLabelInsertion.After(time.Now().Add(-time.Millisecond)) {
		t.Fatal("expected nextLabelInsertion to be rescheduled forward")
	}
}

func TestRotateDLSFileAdvancesIndexWhenDue(t *testing.T) {
	cfg := baseConfig()
	cfg.DLS.Files = []string{"a.txt", "b.txt"}
	cfg.DLS.IntervalS = 5
	sched := newTestScheduler(t, cfg)
	sched.nextLabel = time.Now().Add(-time.Second)

	if !sched.rotateDLSFile(time.Now()) {
		t.Fatal("expected rotation to fire once the interval has elapsed")
	}
	if sched.currDLSFile != 1 {
		t.Fatalf("expected currDLSFile=1, got %d", sched.currDLSFile)
	}
}

func TestRotateDLSFileNoopWithSingleFile(t *testing.T) {
	cfg := baseConfig()
	cfg.DLS.Files = []string{"a.txt"}
	cfg.DLS.IntervalS = 5
	sched := newTestScheduler(t, cfg)
	sched.nextLabel = time.Now().Add(-time.Second)

	if sched.rotateDLSFile(time.Now()) {
		t.Fatal("expected no rotation with a single configured label file")
	}
}

func uniqueSchedIdent(t *testing.T) string {
	return fmt.Sprintf("schedtest-%d-%d", os.Getpid(), time.Now().UnixNano())
}

func TestEmitOnePADSendsStrippedFrame(t *testing.T) {
	ident := uniqueSchedIdent(t)
	peerPath := fmt.Sprintf("/tmp/%s.audioenc", ident)
	encoderPath := fmt.Sprintf("/tmp/%s.padenc", ident)
	t.Cleanup(func() {
		os.Remove(peerPath)
		os.Remove(encoderPath)
	})

	peerAddr, err := net.ResolveUnixAddr("unixgram", peerPath)
	if err != nil {
		t.Fatal(err)
	}
	peerConn, err := net.ListenUnixgram("unixgram", peerAddr)
	if err != nil {
		t.Fatal(err)
	}
	defer peerConn.Close()

	ep, err := transport.Open(ident, discardLogger())
	if err != nil {
		t.Fatalf("transport.Open: %v", err)
	}
	defer ep.Close()

	cfg := baseConfig()
	cfg.PAD.Length = 58
	sched := newTestScheduler(t, cfg)
	sched.transport = ep

	if err := sched.emitOnePAD(); err != nil {
		t.Fatalf("emitOnePAD: %v", err)
	}

	peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 256)
	n, _, err := peerConn.ReadFromUnix(buf)
	if err != nil {
		t.Fatalf("ReadFromUnix: %v", err)
	}

	const msgPADData = 0x02
	if buf[0] != msgPADData {
		t.Fatalf("expected message type 0x02, got 0x%02x", buf[0])
	}
	// message = 1 type byte + padLen payload bytes (the trailing "used
	// length" bookkeeping byte is never put on the wire).
	if n != 1+cfg.PAD.Length {
		t.Fatalf("expected %d bytes on the wire, got %d", 1+cfg.PAD.Length, n)
	}
}

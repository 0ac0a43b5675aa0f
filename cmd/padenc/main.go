package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"padenc/pkg/config"
	"padenc/pkg/scheduler"
	"padenc/pkg/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	fmt.Printf("[padenc] loading config: %s\n", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[padenc] failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	if cfg.Slides.Dir != "" && len(cfg.DLS.Files) > 0 {
		fmt.Printf("[padenc] encoding slideshow from '%s' and DLS from %d file(s), ident '%s'\n",
			cfg.Slides.Dir, len(cfg.DLS.Files), cfg.Transport.Ident)
	} else if cfg.Slides.Dir != "" {
		fmt.Printf("[padenc] encoding slideshow from '%s'. No DLS.\n", cfg.Slides.Dir)
	} else {
		fmt.Printf("[padenc] encoding DLS from %d file(s). No slideshow.\n", len(cfg.DLS.Files))
	}

	ep, err := transport.Open(cfg.Transport.Ident, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[padenc] failed to bind transport: %v\n", err)
		os.Exit(1)
	}
	defer ep.Close()

	sched, err := scheduler.New(cfg, ep, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[padenc] failed to build scheduler: %v\n", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("[padenc] shutting down")
		close(stop)
	}()

	if err := sched.Run(stop); err != nil {
		fmt.Fprintf(os.Stderr, "[padenc] scheduler exited with error: %v\n", err)
		os.Exit(1)
	}
}

// Command agentkerneld runs the local multi-agent orchestration kernel
// (spec §1): a single long-lived daemon that registers agents, schedules
// their execution, and mediates their collaboration over a shared
// channel, inboxes, documents, resources, and proposals.
package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/halvorsen/agentkernel/internal/config"
	"github.com/halvorsen/agentkernel/internal/lifecycle"
)

func main() {
	tmpLogger := log.New(os.Stderr, "[agentkerneld] ", log.LstdFlags)

	cfg, err := config.Load(os.Getenv("AGENTKERNEL_CONFIG"))
	if err != nil {
		tmpLogger.Fatalf("load config: %v", err)
	}

	logger := setupLogger(cfg, tmpLogger)
	logger.Println("starting agentkerneld")
	logger.Printf("data dir: %s", cfg.DataDir)

	d, err := lifecycle.New(cfg, logger)
	if err != nil {
		logger.Fatalf("initialize daemon: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		logger.Fatalf("start daemon: %v", err)
	}

	d.Wait()
	logger.Println("agentkerneld stopped")
}

// setupLogger appends to cfg.LogFile(), additionally mirroring to stderr
// when it is an interactive terminal rather than redirected to a file —
// the same split the teacher's daemon uses so nohup'd runs don't
// duplicate log lines into their own redirect target.
func setupLogger(cfg config.Config, fallback *log.Logger) *log.Logger {
	logPath := cfg.LogFile()
	if logPath == "" {
		return log.New(os.Stderr, "[agentkerneld] ", log.LstdFlags)
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		fallback.Printf("warning: could not create log directory, logging to stderr: %v", err)
		return log.New(os.Stderr, "[agentkerneld] ", log.LstdFlags)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		fallback.Printf("warning: could not open log file, logging to stderr: %v", err)
		return log.New(os.Stderr, "[agentkerneld] ", log.LstdFlags)
	}

	stderrIsTerminal := false
	if info, statErr := os.Stderr.Stat(); statErr == nil {
		stderrIsTerminal = (info.Mode() & os.ModeCharDevice) != 0
	}
	var writer io.Writer = f
	if stderrIsTerminal {
		writer = io.MultiWriter(f, os.Stderr)
	}
	return log.New(writer, "[agentkerneld] ", log.LstdFlags)
}

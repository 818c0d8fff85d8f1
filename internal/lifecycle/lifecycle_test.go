package lifecycle

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halvorsen/agentkernel/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	return cfg
}

func TestStartBindsAndRespondsToHealth(t *testing.T) {
	cfg := testConfig(t)
	logger := log.New(io.Discard, "", 0)

	d, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Shutdown()

	addr := d.Addr()
	if addr == nil {
		t.Fatal("expected a bound address after Start")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	logger := log.New(io.Discard, "", 0)

	d, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		d.Shutdown()
		d.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not return twice within timeout")
	}
}

func TestDiscoveryFileWrittenAndRemoved(t *testing.T) {
	cfg := testConfig(t)
	logger := log.New(io.Discard, "", 0)

	d, err := New(cfg, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	discoveryPath := filepath.Join(cfg.DataDir, "daemon.json")
	if cfg.DiscoveryFile() != discoveryPath {
		t.Fatalf("DiscoveryFile() = %s, want %s", cfg.DiscoveryFile(), discoveryPath)
	}
	if _, err := os.Stat(discoveryPath); err != nil {
		t.Fatalf("expected discovery file to exist after Start: %v", err)
	}

	d.Shutdown()

	if _, err := os.Stat(discoveryPath); !os.IsNotExist(err) {
		t.Fatalf("expected discovery file to be removed after Shutdown, stat err = %v", err)
	}
}

// Package discovery writes and reads the daemon discovery file (spec
// §3, §6): a small JSON document recording where a running kernel can be
// reached, so a CLI or another process can find it without a fixed port.
package discovery

import (
	"encoding/json"
	"os"
	"syscall"
	"time"

	"github.com/halvorsen/agentkernel/internal/domain"
	"github.com/halvorsen/agentkernel/internal/kernelerr"
)

// Write persists a DiscoveryRecord to path, overwriting any prior file.
func Write(path string, record domain.DiscoveryRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "marshal discovery record", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return kernelerr.Wrap(kernelerr.Internal, "write discovery file", err)
	}
	return nil
}

// Remove deletes the discovery file, ignoring a missing file.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return kernelerr.Wrap(kernelerr.Internal, "remove discovery file", err)
	}
	return nil
}

// Read loads a discovery record from path. found is false if the file
// does not exist.
func Read(path string) (record domain.DiscoveryRecord, found bool, err error) {
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return domain.DiscoveryRecord{}, false, nil
		}
		return domain.DiscoveryRecord{}, false, kernelerr.Wrap(kernelerr.Internal, "read discovery file", readErr)
	}
	if err := json.Unmarshal(data, &record); err != nil {
		return domain.DiscoveryRecord{}, false, kernelerr.Wrap(kernelerr.Internal, "parse discovery file", err)
	}
	return record, true, nil
}

// IsStale reports whether the process recorded in record is no longer
// running, by checking liveness with signal 0 (spec §4.11 — a client
// finding a stale discovery file should treat the daemon as absent).
func IsStale(record domain.DiscoveryRecord) bool {
	if record.PID <= 0 {
		return true
	}
	proc, err := os.FindProcess(record.PID)
	if err != nil {
		return true
	}
	return proc.Signal(syscall.Signal(0)) != nil
}

// StartedAt formats the current time the way discovery records store it.
func StartedAt() string {
	return time.Now().Format(time.RFC3339)
}

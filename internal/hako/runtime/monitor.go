package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultMonitorInterval is how often Monitor polls container state.
const DefaultMonitorInterval = 5 * time.Second

// maxExitLogBytes bounds the log tail attached to an exit error.
const maxExitLogBytes = 4096

// Monitor watches one container and reports when it stops running.
type Monitor struct {
	runtime     Runtime
	containerID string
	name        string
	interval    time.Duration
}

// NewMonitor returns a Monitor polling rt every interval (DefaultMonitorInterval
// when zero).
func NewMonitor(rt Runtime, containerID, name string, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	return &Monitor{runtime: rt, containerID: containerID, name: name, interval: interval}
}

// Watch blocks until ctx is done, returning nil, or until the container is no
// longer running, returning an error wrapping ErrContainerExited. Transient
// status errors are logged and polling continues.
func (m *Monitor) Watch(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		status, err := m.runtime.Status(ctx, m.containerID)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				return fmt.Errorf("%w: %s (%s) was removed", ErrContainerExited, m.name, ShortID(m.containerID))
			}
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("monitor: status check failed", "name", m.name, "container", ShortID(m.containerID), "err", err)
			continue
		}
		if status.State == StateRunning {
			continue
		}

		logs, _ := m.runtime.Logs(ctx, m.containerID)
		return fmt.Errorf("%w: %s (%s) state=%s exit_code=%d%s",
			ErrContainerExited, m.name, ShortID(m.containerID), status.State, status.ExitCode, logTail(logs))
	}
}

func logTail(logs string) string {
	logs = strings.TrimSpace(logs)
	if logs == "" {
		return ""
	}
	if len(logs) > maxExitLogBytes {
		logs = logs[len(logs)-maxExitLogBytes:]
	}
	return "\nlast logs:\n" + logs
}

// ShortID truncates a container ID to the 12-character form engines print.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

package pipewire

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/audiolibrelab/pipecast/internal/metrics"
)

// Stream opens a registry dump stream. The returned reader is closed by the
// monitor when it is done with it.
type Stream func(ctx context.Context) (io.ReadCloser, error)

// Monitor follows the host registry and forwards every change as an Event.
// It owns the pw-dump process and restarts it when it exits.
type Monitor struct {
	open   Stream
	events chan<- Event
}

// NewMonitor creates a monitor that runs binary (pw-dump) in monitor mode
func NewMonitor(binary string, events chan<- Event) *Monitor {
	return &Monitor{open: DumpStream(binary), events: events}
}

// NewMonitorFromStream creates a monitor over an arbitrary dump stream
func NewMonitorFromStream(open Stream, events chan<- Event) *Monitor {
	return &Monitor{open: open, events: events}
}

// Run follows the registry until ctx is cancelled. Each restart after the
// first run is announced with a Reset event.
func (m *Monitor) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	for first := true; ; first = false {
		if !first {
			if !m.send(ctx, Event{Kind: Reset}) {
				return nil
			}
		}

		started := time.Now()
		err := m.follow(ctx)
		if ctx.Err() != nil {
			return nil
		}

		// a monitor that ran for a while earns a fresh backoff
		if time.Since(started) > time.Minute {
			b.Reset()
		}
		wait := b.NextBackOff()
		metrics.MonitorRestarted()
		slog.Warn("Registry monitor exited, restarting", "error", err, "retry_in", wait)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *Monitor) follow(ctx context.Context) error {
	stream, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	slog.Debug("Registry monitor started")
	err = Decode(stream, func(ev Event) error {
		if !m.send(ctx, ev) {
			return ctx.Err()
		}
		return nil
	})
	if err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}

func (m *Monitor) send(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// DumpStream runs `pw-dump --monitor --no-colors` and streams its stdout
func DumpStream(binary string) Stream {
	return func(ctx context.Context) (io.ReadCloser, error) {
		cmd := exec.CommandContext(ctx, binary, "--monitor", "--no-colors")
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s output: %w", binary, err)
		}
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", binary, err)
		}
		return &commandStream{ReadCloser: stdout, cmd: cmd}, nil
	}
}

type commandStream struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (s *commandStream) Close() error {
	s.ReadCloser.Close()
	if s.cmd.ProcessState == nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	return s.cmd.Wait()
}

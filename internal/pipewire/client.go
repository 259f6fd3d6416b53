// Package pipewire talks to the PipeWire server through its command line
// tools: pw-dump follows the registry, pw-cli creates and destroys nodes and
// pw-link manages port links.
package pipewire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/pipecast/internal/metrics"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

var (
	// ErrHostCommand is returned when the host rejects a command
	ErrHostCommand = errors.New("host command failed")
	// ErrCommandTimeout is returned when no reply arrives in time
	ErrCommandTimeout = errors.New("host command timed out")
)

// Runner executes an external command and returns its combined output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Binaries names the PipeWire tools to invoke
type Binaries struct {
	Cli  string
	Link string
	Dump string
}

// DefaultBinaries resolves the tools from PATH
func DefaultBinaries() Binaries {
	return Binaries{Cli: "pw-cli", Link: "pw-link", Dump: "pw-dump"}
}

type request struct {
	op       string
	name     string
	args     []string
	deadline time.Time
	reply    chan reply
}

type reply struct {
	output []byte
	err    error
}

// Client is the host command surface. Commands are executed one at a time
// by the goroutine running Run; callers wait at most the configured timeout.
type Client struct {
	runner   Runner
	binaries Binaries
	timeout  time.Duration

	linkRetries int
	retryDelay  time.Duration

	requests chan request
}

// NewClient creates a client. Run must be started before any command is
// issued.
func NewClient(runner Runner, binaries Binaries, timeout time.Duration) *Client {
	return &Client{
		runner:      runner,
		binaries:    binaries,
		timeout:     timeout,
		linkRetries: 3,
		retryDelay:  200 * time.Millisecond,
		requests:    make(chan request),
	}
}

// Run executes commands until ctx is cancelled
func (c *Client) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-c.requests:
			// the command dies with the caller's deadline, not a fresh one
			cmdCtx, cancel := context.WithDeadline(ctx, req.deadline)
			started := time.Now()
			output, err := c.runner.Run(cmdCtx, req.name, req.args...)
			if err != nil && errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %s after %s", ErrCommandTimeout, req.op, c.timeout)
			}
			cancel()

			metrics.ObserveHostCommand(req.op, started, err)
			req.reply <- reply{output: output, err: err}
		}
	}
}

func (c *Client) exec(ctx context.Context, op, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	req := request{op: op, name: name, args: args, deadline: deadline, reply: make(chan reply, 1)}
	select {
	case c.requests <- req:
	case <-ctx.Done():
		return nil, c.waitError(ctx, op)
	}

	select {
	case r := <-req.reply:
		if errors.Is(r.err, ErrCommandTimeout) {
			return r.output, r.err
		}
		if r.err != nil && ctx.Err() != nil {
			// killed because our own deadline passed
			return r.output, c.waitError(ctx, op)
		}
		if r.err != nil {
			return r.output, fmt.Errorf("%w: %s %s: %v (output: %s)",
				ErrHostCommand, name, strings.Join(args, " "), r.err, strings.TrimSpace(string(r.output)))
		}
		return r.output, nil
	case <-ctx.Done():
		return nil, c.waitError(ctx, op)
	}
}

func (c *Client) waitError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", ErrCommandTimeout, op, c.timeout)
	}
	return ctx.Err()
}

// CreateNode asks the adapter factory for a lingering null-audio-sink node.
// The node's host id arrives later through the registry.
func (c *Client) CreateNode(ctx context.Context, spec NodeSpec) error {
	_, err := c.exec(ctx, "create-node", c.binaries.Cli, "create-node", "adapter", spec.Props())
	if err != nil {
		return err
	}
	slog.Debug("Created node", "name", spec.Name, "class", spec.MediaClass)
	return nil
}

// DestroyObject removes any host object by id
func (c *Client) DestroyObject(ctx context.Context, id registry.HostID) error {
	_, err := c.exec(ctx, "destroy", c.binaries.Cli, "destroy", strconv.FormatUint(uint64(id), 10))
	if err != nil {
		return err
	}
	slog.Debug("Destroyed object", "id", id)
	return nil
}

// SetNodeVolume sets every channel of a daemon node to volume (0-100)
func (c *Client) SetNodeVolume(ctx context.Context, id registry.HostID, volume uint8) error {
	_, err := c.exec(ctx, "set-volume", c.binaries.Cli, "set-param",
		strconv.FormatUint(uint64(id), 10), "Props", volumeProps(volume, len(StereoPositions)))
	if err != nil {
		return err
	}
	slog.Debug("Set node volume", "id", id, "volume", volume)
	return nil
}

// CreateLink links two ports by id. A link that already exists counts as
// success; other failures are retried a few times since freshly created
// ports may not be linkable immediately.
func (c *Client) CreateLink(ctx context.Context, outPort, inPort registry.HostID) error {
	out := strconv.FormatUint(uint64(outPort), 10)
	in := strconv.FormatUint(uint64(inPort), 10)

	var err error
	for attempt := 1; attempt <= c.linkRetries; attempt++ {
		var output []byte
		output, err = c.exec(ctx, "link", c.binaries.Link, out, in)
		if err == nil || strings.Contains(string(output), "File exists") {
			slog.Debug("Connected ports", "out", outPort, "in", inPort, "attempt", attempt)
			return nil
		}
		if errors.Is(err, ErrCommandTimeout) || ctx.Err() != nil {
			return err
		}
		slog.Debug("Link attempt failed", "out", outPort, "in", inPort, "attempt", attempt, "error", err)

		if attempt < c.linkRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}

	return fmt.Errorf("failed to connect %d to %d after %d attempts: %w", outPort, inPort, c.linkRetries, err)
}

// DestroyLink removes the link between two ports
func (c *Client) DestroyLink(ctx context.Context, outPort, inPort registry.HostID) error {
	_, err := c.exec(ctx, "unlink", c.binaries.Link, "-d",
		strconv.FormatUint(uint64(outPort), 10), strconv.FormatUint(uint64(inPort), 10))
	if err != nil {
		return err
	}
	slog.Debug("Disconnected ports", "out", outPort, "in", inPort)
	return nil
}

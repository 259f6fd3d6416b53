package pipewire

import (
	"bytes"
	"context"
	"fmt"

	"github.com/audiolibrelab/pipecast/internal/registry"
)

// Snapshot runs pw-dump once and replays its output into a fresh mirror
func Snapshot(ctx context.Context, runner Runner, binary, managedPrefix string) (*registry.Mirror, error) {
	out, err := runner.Run(ctx, binary, "--no-colors")
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", binary, err)
	}

	mirror := registry.New(managedPrefix)
	err = Decode(bytes.NewReader(out), func(ev Event) error {
		switch ev.Kind {
		case Global:
			mirror.Global(ev.ID, ev.Type, ev.Props)
		case GlobalRemove:
			mirror.Remove(ev.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mirror, nil
}

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

const requestTimeout = 10 * time.Second

// send delivers one request to the running daemon. An Err response,
// including a nested Pipewire error, is returned as an error.
func send(cmd *cobra.Command, req ipc.DaemonRequest) (ipc.DaemonResponse, error) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, requestTimeout)
	defer cancel()

	client, err := ipc.Dial(ctx, settings.IPC.Socket)
	if err != nil {
		return ipc.DaemonResponse{}, err
	}
	defer client.Close()

	resp, err := client.Send(ctx, req)
	if err != nil {
		return resp, err
	}
	if err := resp.Error(); err != nil {
		return resp, err
	}
	return resp, nil
}

func sendPipewire(cmd *cobra.Command, c ipc.PipewireCommand) (ipc.PipewireCommandResponse, error) {
	resp, err := send(cmd, ipc.Pipewire(c))
	if err != nil {
		return ipc.PipewireCommandResponse{}, err
	}
	if resp.Pipewire == nil {
		return ipc.PipewireCommandResponse{}, fmt.Errorf("unexpected response from daemon")
	}
	return *resp.Pipewire, nil
}

func fetchStatus(cmd *cobra.Command) (*ipc.DaemonStatus, error) {
	resp, err := send(cmd, ipc.GetStatus())
	if err != nil {
		return nil, err
	}
	if resp.Status == nil || resp.Status.Audio.Profile == nil {
		return nil, fmt.Errorf("daemon returned no status")
	}
	return resp.Status, nil
}

// resolver turns command line node references into ids. A reference is a
// node id or a case-insensitive node name.
type resolver struct {
	cmd     *cobra.Command
	profile *profile.Profile
}

func (r *resolver) node(ref string) (profile.ID, error) {
	if id, err := profile.ParseID(ref); err == nil {
		return id, nil
	}

	if r.profile == nil {
		status, err := fetchStatus(r.cmd)
		if err != nil {
			return profile.Nil, err
		}
		r.profile = status.Audio.Profile
	}

	var found []profile.ID
	for _, id := range append(r.profile.Sources(), r.profile.Targets()...) {
		if d, ok := r.profile.Description(id); ok && strings.EqualFold(d.Name, ref) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return profile.Nil, fmt.Errorf("no node named %q", ref)
	case 1:
		return found[0], nil
	}
	return profile.Nil, fmt.Errorf("node name %q is ambiguous, use one of its ids: %v", ref, found)
}

func (r *resolver) nodes(refs []string) ([]profile.ID, error) {
	ids := make([]profile.ID, 0, len(refs))
	for _, ref := range refs {
		id, err := r.node(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1", "enable", "enabled":
		return true, nil
	case "off", "false", "no", "0", "disable", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the daemon is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		if _, err := send(cmd, ipc.Ping()); err != nil {
			return err
		}
		fmt.Printf("Daemon is running (%s, %s)\n", settings.IPC.Socket, time.Since(started).Round(time.Microsecond))
		return nil
	},
}

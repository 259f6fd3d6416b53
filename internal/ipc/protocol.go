// Package ipc defines the daemon's request and response documents and the
// length-delimited JSON framing used on the local socket.
//
// Enums are externally tagged: a variant without data is a bare string
// ("Ping"), a variant with data is a single-key object ({"Pipewire": ...}).
package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/wI2L/jsondiff"

	"github.com/audiolibrelab/pipecast/internal/profile"
)

// PatchID is the envelope id of unsolicited status patches
const PatchID uint64 = math.MaxUint64

// Request is the envelope clients send
type Request struct {
	ID   uint64        `json:"id"`
	Data DaemonRequest `json:"data"`
}

// Response is the envelope the daemon sends back, echoing the request id
type Response struct {
	ID   uint64         `json:"id"`
	Data DaemonResponse `json:"data"`
}

type RequestKind int

const (
	KindPing RequestKind = iota + 1
	KindGetStatus
	KindDaemon
	KindPipewire
)

// DaemonRequest is Ping | GetStatus | Daemon(DaemonCommand) | Pipewire(PipewireCommand)
type DaemonRequest struct {
	Kind     RequestKind
	Daemon   DaemonCommand
	Pipewire *PipewireCommand
}

func Ping() DaemonRequest      { return DaemonRequest{Kind: KindPing} }
func GetStatus() DaemonRequest { return DaemonRequest{Kind: KindGetStatus} }

func Daemon(cmd DaemonCommand) DaemonRequest {
	return DaemonRequest{Kind: KindDaemon, Daemon: cmd}
}

func Pipewire(cmd PipewireCommand) DaemonRequest {
	return DaemonRequest{Kind: KindPipewire, Pipewire: &cmd}
}

// Variant names the request for logs and metrics
func (r DaemonRequest) Variant() string {
	switch r.Kind {
	case KindPing:
		return "Ping"
	case KindGetStatus:
		return "GetStatus"
	case KindDaemon:
		return "Daemon." + string(r.Daemon)
	case KindPipewire:
		if r.Pipewire != nil {
			return "Pipewire." + r.Pipewire.Variant()
		}
		return "Pipewire"
	}
	return "Unknown"
}

func (r DaemonRequest) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case KindPing:
		return json.Marshal("Ping")
	case KindGetStatus:
		return json.Marshal("GetStatus")
	case KindDaemon:
		return json.Marshal(map[string]DaemonCommand{"Daemon": r.Daemon})
	case KindPipewire:
		if r.Pipewire == nil {
			return nil, errors.New("pipewire request without a command")
		}
		return json.Marshal(map[string]*PipewireCommand{"Pipewire": r.Pipewire})
	}
	return nil, fmt.Errorf("unknown request kind %d", r.Kind)
}

func (r *DaemonRequest) UnmarshalJSON(data []byte) error {
	if unit, ok := unitVariant(data); ok {
		switch unit {
		case "Ping":
			*r = Ping()
		case "GetStatus":
			*r = GetStatus()
		default:
			return fmt.Errorf("unknown request %q", unit)
		}
		return nil
	}

	var tagged struct {
		Daemon   *DaemonCommand   `json:"Daemon"`
		Pipewire *PipewireCommand `json:"Pipewire"`
	}
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	switch {
	case tagged.Daemon != nil && tagged.Pipewire == nil:
		*r = Daemon(*tagged.Daemon)
	case tagged.Pipewire != nil && tagged.Daemon == nil:
		if err := tagged.Pipewire.Validate(); err != nil {
			return err
		}
		*r = DaemonRequest{Kind: KindPipewire, Pipewire: tagged.Pipewire}
	default:
		return errors.New("request must contain exactly one of Daemon or Pipewire")
	}
	return nil
}

// DaemonCommand controls the daemon itself
type DaemonCommand string

const (
	SaveProfile   DaemonCommand = "SaveProfile"
	ReloadProfile DaemonCommand = "ReloadProfile"
	StopDaemon    DaemonCommand = "StopDaemon"
)

func (c *DaemonCommand) UnmarshalText(data []byte) error {
	switch cmd := DaemonCommand(data); cmd {
	case SaveProfile, ReloadProfile, StopDaemon:
		*c = cmd
		return nil
	}
	return fmt.Errorf("unknown daemon command %q", string(data))
}

// PipewireCommand carries exactly one audio graph operation
type PipewireCommand struct {
	SetRoute             *SetRoute             `json:"SetRoute,omitempty"`
	GetRoute             *GetRoute             `json:"GetRoute,omitempty"`
	SetSourceMuteState   *SetSourceMuteState   `json:"SetSourceMuteState,omitempty"`
	SetSourceMuteTargets *SetSourceMuteTargets `json:"SetSourceMuteTargets,omitempty"`
	SetTargetMix         *SetTargetMix         `json:"SetTargetMix,omitempty"`
	AddNode              *AddNode              `json:"AddNode,omitempty"`
	RemoveNode           *RemoveNode           `json:"RemoveNode,omitempty"`
	RenameNode           *RenameNode           `json:"RenameNode,omitempty"`
	SetVolume            *SetVolume            `json:"SetVolume,omitempty"`
}

type SetRoute struct {
	Source  profile.ID `json:"source"`
	Target  profile.ID `json:"target"`
	Enabled bool       `json:"enabled"`
}

type GetRoute struct {
	Source profile.ID `json:"source"`
	Target profile.ID `json:"target"`
}

type SetSourceMuteState struct {
	Source     profile.ID         `json:"source"`
	MuteTarget profile.MuteTarget `json:"mute_target"`
	Active     bool               `json:"active"`
}

type SetSourceMuteTargets struct {
	Source     profile.ID         `json:"source"`
	MuteTarget profile.MuteTarget `json:"mute_target"`
	Targets    []profile.ID       `json:"targets"`
}

type SetTargetMix struct {
	Target profile.ID  `json:"target"`
	Mix    profile.Mix `json:"mix"`
}

type AddNode struct {
	Kind  profile.NodeKind `json:"kind"`
	Name  string           `json:"name"`
	Match []string         `json:"match,omitempty"`
}

type RemoveNode struct {
	ID profile.ID `json:"id"`
}

type RenameNode struct {
	ID   profile.ID `json:"id"`
	Name string     `json:"name"`
}

type SetVolume struct {
	ID     profile.ID  `json:"id"`
	Mix    profile.Mix `json:"mix"`
	Volume uint8       `json:"volume"`
}

func (c PipewireCommand) variants() []string {
	var set []string
	if c.SetRoute != nil {
		set = append(set, "SetRoute")
	}
	if c.GetRoute != nil {
		set = append(set, "GetRoute")
	}
	if c.SetSourceMuteState != nil {
		set = append(set, "SetSourceMuteState")
	}
	if c.SetSourceMuteTargets != nil {
		set = append(set, "SetSourceMuteTargets")
	}
	if c.SetTargetMix != nil {
		set = append(set, "SetTargetMix")
	}
	if c.AddNode != nil {
		set = append(set, "AddNode")
	}
	if c.RemoveNode != nil {
		set = append(set, "RemoveNode")
	}
	if c.RenameNode != nil {
		set = append(set, "RenameNode")
	}
	if c.SetVolume != nil {
		set = append(set, "SetVolume")
	}
	return set
}

// Variant returns the name of the operation carried
func (c PipewireCommand) Variant() string {
	if set := c.variants(); len(set) == 1 {
		return set[0]
	}
	return "Invalid"
}

// Validate checks that exactly one operation is set
func (c PipewireCommand) Validate() error {
	if set := c.variants(); len(set) != 1 {
		return fmt.Errorf("pipewire command must carry exactly one operation, got %v", set)
	}
	return nil
}

// DaemonResponse is Ok | Err(string) | Patch | Status | Pipewire
type DaemonResponse struct {
	Ok       bool                     `json:"-"`
	Err      *string                  `json:"Err,omitempty"`
	Patch    jsondiff.Patch           `json:"Patch,omitempty"`
	Status   *DaemonStatus            `json:"Status,omitempty"`
	Pipewire *PipewireCommandResponse `json:"Pipewire,omitempty"`
}

func OkResponse() DaemonResponse {
	return DaemonResponse{Ok: true}
}

func ErrResponse(err error) DaemonResponse {
	msg := err.Error()
	return DaemonResponse{Err: &msg}
}

func StatusResponse(status DaemonStatus) DaemonResponse {
	return DaemonResponse{Status: &status}
}

func PatchResponse(patch jsondiff.Patch) DaemonResponse {
	return DaemonResponse{Patch: patch}
}

func PipewireResponse(r PipewireCommandResponse) DaemonResponse {
	return DaemonResponse{Pipewire: &r}
}

// Error returns the carried error message, including a nested Pipewire error
func (r DaemonResponse) Error() error {
	if r.Err != nil {
		return errors.New(*r.Err)
	}
	if r.Pipewire != nil && r.Pipewire.Err != nil {
		return errors.New(*r.Pipewire.Err)
	}
	return nil
}

type daemonResponseFields DaemonResponse

func (r DaemonResponse) MarshalJSON() ([]byte, error) {
	if r.Ok {
		return json.Marshal("Ok")
	}
	return json.Marshal(daemonResponseFields(r))
}

func (r *DaemonResponse) UnmarshalJSON(data []byte) error {
	if unit, ok := unitVariant(data); ok {
		if unit != "Ok" {
			return fmt.Errorf("unknown response %q", unit)
		}
		*r = OkResponse()
		return nil
	}

	var fields daemonResponseFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = DaemonResponse(fields)
	return nil
}

// PipewireCommandResponse is Ok | Err(string) | RouteState(bool) | NodeCreated(id)
type PipewireCommandResponse struct {
	Ok          bool        `json:"-"`
	Err         *string     `json:"Err,omitempty"`
	RouteState  *bool       `json:"RouteState,omitempty"`
	NodeCreated *profile.ID `json:"NodeCreated,omitempty"`
}

func PipewireOk() PipewireCommandResponse {
	return PipewireCommandResponse{Ok: true}
}

func PipewireErr(err error) PipewireCommandResponse {
	msg := err.Error()
	return PipewireCommandResponse{Err: &msg}
}

func PipewireRouteState(exists bool) PipewireCommandResponse {
	return PipewireCommandResponse{RouteState: &exists}
}

func PipewireNodeCreated(id profile.ID) PipewireCommandResponse {
	return PipewireCommandResponse{NodeCreated: &id}
}

type pipewireResponseFields PipewireCommandResponse

func (r PipewireCommandResponse) MarshalJSON() ([]byte, error) {
	if r.Ok {
		return json.Marshal("Ok")
	}
	return json.Marshal(pipewireResponseFields(r))
}

func (r *PipewireCommandResponse) UnmarshalJSON(data []byte) error {
	if unit, ok := unitVariant(data); ok {
		if unit != "Ok" {
			return fmt.Errorf("unknown pipewire response %q", unit)
		}
		*r = PipewireOk()
		return nil
	}

	var fields pipewireResponseFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*r = PipewireCommandResponse(fields)
	return nil
}

// DaemonStatus is the document patch subscribers follow
type DaemonStatus struct {
	Config DaemonConfig `json:"config"`
	Audio  AudioStatus  `json:"audio"`
}

type DaemonConfig struct {
	HTTPSettings HTTPSettings `json:"http_settings"`
}

type HTTPSettings struct {
	Enabled     bool   `json:"enabled"`
	BindAddress string `json:"bind_address"`
	CorsEnabled bool   `json:"cors_enabled"`
	Port        uint16 `json:"port"`
}

// AudioStatus exposes the profile and what is currently realized on the host
type AudioStatus struct {
	Profile *profile.Profile `json:"profile"`
	// logical id -> host ids of its filters, in registration order
	Filters map[string][]uint32 `json:"filters"`
	Links   int                 `json:"links"`
}

// unitVariant reports whether data is a JSON string and returns it
func unitVariant(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}

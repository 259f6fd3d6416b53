package ipc

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/wI2L/jsondiff"

	"github.com/audiolibrelab/pipecast/internal/profile"
)

var (
	sourceID = profile.MustParseID("01890a5d-ac96-774b-bcce-b302099a8057")
	targetID = profile.MustParseID("01890a5d-ac96-774b-bcce-b302099a8058")
)

func TestRequestEncoding(t *testing.T) {
	tests := []struct {
		name string
		req  DaemonRequest
		want string
	}{
		{"ping", Ping(), `"Ping"`},
		{"status", GetStatus(), `"GetStatus"`},
		{"daemon", Daemon(SaveProfile), `{"Daemon":"SaveProfile"}`},
		{
			"set route",
			Pipewire(PipewireCommand{SetRoute: &SetRoute{Source: sourceID, Target: targetID, Enabled: true}}),
			`{"Pipewire":{"SetRoute":{"source":"01890a5d-ac96-774b-bcce-b302099a8057","target":"01890a5d-ac96-774b-bcce-b302099a8058","enabled":true}}}`,
		},
		{
			"mute state",
			Pipewire(PipewireCommand{SetSourceMuteState: &SetSourceMuteState{Source: sourceID, MuteTarget: profile.TargetB, Active: true}}),
			`{"Pipewire":{"SetSourceMuteState":{"source":"01890a5d-ac96-774b-bcce-b302099a8057","mute_target":"TargetB","active":true}}}`,
		},
		{
			"target mix",
			Pipewire(PipewireCommand{SetTargetMix: &SetTargetMix{Target: targetID, Mix: profile.MixB}}),
			`{"Pipewire":{"SetTargetMix":{"target":"01890a5d-ac96-774b-bcce-b302099a8058","mix":"B"}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.req)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got: %s", tt.want, data)
			}

			var decoded DaemonRequest
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if decoded.Variant() != tt.req.Variant() {
				t.Errorf("Expected variant %s, got: %s", tt.req.Variant(), decoded.Variant())
			}
		})
	}
}

func TestRequestDecodingRejects(t *testing.T) {
	inputs := []string{
		`"Pong"`,
		`{"Daemon":"Explode"}`,
		`{"Pipewire":{}}`,
		`{"Pipewire":{"GetRoute":{"source":"01890a5d-ac96-774b-bcce-b302099a8057","target":"01890a5d-ac96-774b-bcce-b302099a8058"},"RemoveNode":{"id":"01890a5d-ac96-774b-bcce-b302099a8057"}}}`,
		`{"Daemon":"StopDaemon","Pipewire":{"RemoveNode":{"id":"01890a5d-ac96-774b-bcce-b302099a8057"}}}`,
		`{"Pipewire":{"RemoveNode":{"id":"not-a-uuid"}}}`,
	}

	for _, input := range inputs {
		var req DaemonRequest
		if err := json.Unmarshal([]byte(input), &req); err == nil {
			t.Errorf("Expected %s to be rejected, got: %+v", input, req)
		}
	}
}

func TestResponseEncoding(t *testing.T) {
	tests := []struct {
		name string
		resp DaemonResponse
		want string
	}{
		{"ok", OkResponse(), `"Ok"`},
		{"err", ErrResponse(errors.New("boom")), `{"Err":"boom"}`},
		{"pipewire ok", PipewireResponse(PipewireOk()), `{"Pipewire":"Ok"}`},
		{"route state", PipewireResponse(PipewireRouteState(false)), `{"Pipewire":{"RouteState":false}}`},
		{"pipewire err", PipewireResponse(PipewireErr(errors.New("no such node"))), `{"Pipewire":{"Err":"no such node"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.resp)
			if err != nil {
				t.Fatalf("Failed to encode: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Expected %s, got: %s", tt.want, data)
			}

			var decoded DaemonResponse
			if err := json.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Failed to decode: %v", err)
			}
			if (decoded.Error() == nil) != (tt.resp.Error() == nil) {
				t.Errorf("Expected error %v, got: %v", tt.resp.Error(), decoded.Error())
			}
		})
	}
}

func TestResponseErrorIncludesNested(t *testing.T) {
	resp := PipewireResponse(PipewireErr(errors.New("route missing")))
	if err := resp.Error(); err == nil || err.Error() != "route missing" {
		t.Errorf("Expected nested error, got: %v", err)
	}
	if err := PipewireResponse(PipewireRouteState(true)).Error(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestPatchEnvelope(t *testing.T) {
	before := DaemonStatus{Config: DaemonConfig{HTTPSettings: HTTPSettings{Port: 14565}}}
	after := before
	after.Config.HTTPSettings.Port = 14566

	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		t.Fatalf("Failed to diff: %v", err)
	}

	data, err := json.Marshal(Response{ID: PatchID, Data: PatchResponse(patch)})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	if !strings.HasPrefix(string(data), `{"id":18446744073709551615,`) {
		t.Errorf("Expected patch id MaxUint64, got: %s", data)
	}
	if !strings.Contains(string(data), `"path":"/config/http_settings/port"`) {
		t.Errorf("Expected port replacement, got: %s", data)
	}
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	if err != nil {
		t.Fatalf("compile %s: %v", name, err)
	}
	return s
}

func validateDocument(t *testing.T, s *jsonschema.Schema, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := s.Validate(doc); err != nil {
		t.Errorf("validate %s: %v", data, err)
	}
}

func TestSchemasAcceptEncodedDocuments(t *testing.T) {
	requestSchema := compileSchema(t, "request.schema.json")
	responseSchema := compileSchema(t, "response.schema.json")

	requests := []DaemonRequest{
		Ping(),
		GetStatus(),
		Daemon(StopDaemon),
		Pipewire(PipewireCommand{GetRoute: &GetRoute{Source: sourceID, Target: targetID}}),
		Pipewire(PipewireCommand{SetSourceMuteTargets: &SetSourceMuteTargets{Source: sourceID, MuteTarget: profile.TargetA, Targets: []profile.ID{targetID}}}),
		Pipewire(PipewireCommand{AddNode: &AddNode{Kind: profile.PhysicalSource, Name: "Mic", Match: []string{"alsa_input.usb"}}}),
		Pipewire(PipewireCommand{RenameNode: &RenameNode{ID: sourceID, Name: "Voice"}}),
		Pipewire(PipewireCommand{SetVolume: &SetVolume{ID: sourceID, Mix: profile.MixA, Volume: 80}}),
	}
	for i, req := range requests {
		validateDocument(t, requestSchema, Request{ID: uint64(i), Data: req})
	}

	p := profile.Default()
	responses := []DaemonResponse{
		OkResponse(),
		ErrResponse(errors.New("failed")),
		PipewireResponse(PipewireNodeCreated(sourceID)),
		PipewireResponse(PipewireRouteState(true)),
		StatusResponse(DaemonStatus{
			Config: DaemonConfig{HTTPSettings: HTTPSettings{Enabled: true, BindAddress: "localhost", Port: 14565}},
			Audio:  AudioStatus{Profile: p, Filters: map[string][]uint32{sourceID.String(): {41, 42}}, Links: 4},
		}),
	}
	for i, resp := range responses {
		validateDocument(t, responseSchema, Response{ID: uint64(i), Data: resp})
	}
}

func TestSchemaRejectsMalformedRequest(t *testing.T) {
	requestSchema := compileSchema(t, "request.schema.json")

	var doc any
	_ = json.Unmarshal([]byte(`{"id":1,"data":{"Pipewire":{"SetVolume":{"id":"01890a5d-ac96-774b-bcce-b302099a8057","mix":"C","volume":80}}}}`), &doc)
	if err := requestSchema.Validate(doc); err == nil {
		t.Errorf("Expected mix C to be rejected")
	}
}

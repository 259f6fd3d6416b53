package pipewire

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/audiolibrelab/pipecast/internal/registry"
)

type EventKind int

const (
	// Global adds or updates a registry object
	Global EventKind = iota + 1
	// GlobalRemove removes a registry object by id
	GlobalRemove
	// Sync marks the end of one batch of changes
	Sync
	// Reset means the monitor restarted and every previous object is stale
	Reset
)

func (k EventKind) String() string {
	switch k {
	case Global:
		return "global"
	case GlobalRemove:
		return "global_remove"
	case Sync:
		return "sync"
	case Reset:
		return "reset"
	}
	return "unknown"
}

// Event is a parsed registry delta forwarded to the manager loop
type Event struct {
	Kind  EventKind
	ID    registry.HostID
	Type  string
	Props registry.Props
}

type dumpObject struct {
	ID   registry.HostID `json:"id"`
	Type string          `json:"type"`
	Info json.RawMessage `json:"info"`
}

type dumpInfo struct {
	Props map[string]json.RawMessage `json:"props"`
}

var jsonNull = []byte("null")

// event converts one pw-dump object. Objects without an info block
// (metadata, for instance) are skipped.
func (o dumpObject) event() (Event, bool, error) {
	if o.Info == nil {
		return Event{}, false, nil
	}
	if bytes.Equal(bytes.TrimSpace(o.Info), jsonNull) {
		return Event{Kind: GlobalRemove, ID: o.ID}, true, nil
	}

	var info dumpInfo
	if err := json.Unmarshal(o.Info, &info); err != nil {
		return Event{}, false, fmt.Errorf("object %d: %w", o.ID, err)
	}

	props := make(registry.Props, len(info.Props))
	for key, raw := range info.Props {
		if value, ok := propString(raw); ok {
			props[key] = value
		}
	}
	return Event{Kind: Global, ID: o.ID, Type: o.Type, Props: props}, true, nil
}

// propString flattens a property value to the string form the registry
// parsers expect. Nested objects and arrays are kept as compact JSON.
func propString(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, jsonNull) {
		return "", false
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", false
		}
		return s, true
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return "", false
	}
	return compact.String(), true
}

// Decode reads the stream of JSON arrays pw-dump --monitor writes and calls
// emit for every object, followed by a Sync after each array. It returns nil
// on a clean end of stream and stops early if emit fails.
func Decode(r io.Reader, emit func(Event) error) error {
	dec := json.NewDecoder(r)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read registry dump: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return fmt.Errorf("unexpected token in registry dump: %v", tok)
		}

		for dec.More() {
			var obj dumpObject
			if err := dec.Decode(&obj); err != nil {
				return fmt.Errorf("failed to decode registry object: %w", err)
			}

			ev, ok, err := obj.event()
			if err != nil {
				// one bad object does not poison the stream
				continue
			}
			if !ok {
				continue
			}
			if err := emit(ev); err != nil {
				return err
			}
		}

		// closing ]
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("failed to read registry dump: %w", err)
		}
		if err := emit(Event{Kind: Sync}); err != nil {
			return err
		}
	}
}

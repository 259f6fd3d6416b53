package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default returns the profile used when none exists on disk: one node of
// each kind and an empty routing matrix.
func Default() *Profile {
	p := New()
	p.AddNode(PhysicalSource, "Microphone", nil)
	p.AddNode(VirtualSource, "System", nil)
	p.AddNode(VirtualSource, "Music", nil)
	p.AddNode(PhysicalTarget, "Headphones", nil)
	p.AddNode(VirtualTarget, "Stream Mix", nil)
	return p
}

// Load reads a profile from path. A missing file yields the default profile
// and exists=false so the caller can decide whether to persist it.
func Load(path string) (p *Profile, exists bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("Profile not found, using defaults", "path", path)
			return Default(), false, nil
		}
		return nil, false, fmt.Errorf("failed to read profile: %w", err)
	}

	p = New()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, true, fmt.Errorf("failed to parse profile %s: %w", path, err)
	}

	for _, fix := range p.Sanitize() {
		slog.Warn("Profile sanitized", "path", path, "fix", fix)
	}

	return p, true, nil
}

// Save writes the profile to path, replacing any previous file atomically
func (p *Profile) Save(path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary profile: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write profile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace profile %s: %w", path, err)
	}

	slog.Debug("Profile saved", "path", path)
	return nil
}

// Path returns the location of the named profile inside the config directory
func Path(configDir, name string) string {
	if name == "" {
		name = "default"
	}
	return filepath.Join(configDir, "profiles", name+".yaml")
}

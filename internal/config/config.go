// Package config resolves the daemon settings from settings.yaml, PIPECAST_
// environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/pipewire"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

const (
	appName        = "pipecast"
	settingsName   = "settings"
	envPrefix      = "PIPECAST"
	DefaultProfile = "default"
	DefaultPort    = 14565
)

type Settings struct {
	HTTP    HTTPConfig    `mapstructure:"http" yaml:"http"`
	Host    HostConfig    `mapstructure:"host" yaml:"host"`
	IPC     IPCConfig     `mapstructure:"ipc" yaml:"ipc"`
	Manager ManagerConfig `mapstructure:"manager" yaml:"manager"`
	// Profile is a profile name under the profiles directory or a path to
	// a profile file
	Profile string `mapstructure:"profile" yaml:"profile"`

	// File the settings were read from, empty when only defaults apply
	File string `mapstructure:"-" yaml:"-"`
}

type HTTPConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	CorsEnabled bool   `mapstructure:"cors_enabled" yaml:"cors_enabled"`
	Port        uint16 `mapstructure:"port" yaml:"port"`
}

type HostConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
	PwCli          string        `mapstructure:"pw_cli" yaml:"pw_cli"`
	PwLink         string        `mapstructure:"pw_link" yaml:"pw_link"`
	PwDump         string        `mapstructure:"pw_dump" yaml:"pw_dump"`
}

type IPCConfig struct {
	Socket string `mapstructure:"socket" yaml:"socket"`
}

type ManagerConfig struct {
	QueueSize       int           `mapstructure:"queue_size" yaml:"queue_size"`
	TeardownTimeout time.Duration `mapstructure:"teardown_timeout" yaml:"teardown_timeout"`
}

// ConfigDir returns the per-user configuration directory
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// DefaultSocketPath prefers the runtime directory and falls back to a
// per-user path in /tmp
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName+".socket")
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.socket", appName, os.Getuid()))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.bind_address", "localhost")
	v.SetDefault("http.cors_enabled", false)
	v.SetDefault("http.port", DefaultPort)

	binaries := pipewire.DefaultBinaries()
	v.SetDefault("host.command_timeout", 5*time.Second)
	v.SetDefault("host.pw_cli", binaries.Cli)
	v.SetDefault("host.pw_link", binaries.Link)
	v.SetDefault("host.pw_dump", binaries.Dump)

	v.SetDefault("ipc.socket", DefaultSocketPath())
	v.SetDefault("manager.queue_size", 32)
	v.SetDefault("manager.teardown_timeout", 5*time.Second)
	v.SetDefault("profile", DefaultProfile)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads settings from configFile, or from settings.yaml in ConfigDir
// when configFile is empty. A missing default file is not an error.
func Load(configFile string) (*Settings, error) {
	v := newViper()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(settingsName)
		v.AddConfigPath(ConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	s.File = v.ConfigFileUsed()
	s.IPC.Socket = expandPath(s.IPC.Socket)

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &s, nil
}

// WriteDefaults creates a settings file holding the built-in defaults;
// an existing file is left alone
func WriteDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	v := newViper()
	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("error writing config file %s: %w", path, err)
	}
	return nil
}

// DefaultFile is where Load looks when no file is given
func DefaultFile() string {
	return filepath.Join(ConfigDir(), settingsName+".yaml")
}

func (s *Settings) Validate() error {
	if s.HTTP.Enabled {
		if s.HTTP.Port == 0 {
			return fmt.Errorf("http.port must be between 1 and 65535")
		}
		if strings.TrimSpace(s.HTTP.BindAddress) == "" {
			return fmt.Errorf("http.bind_address is required")
		}
	}
	if s.Host.CommandTimeout <= 0 {
		return fmt.Errorf("host.command_timeout must be positive, got %s", s.Host.CommandTimeout)
	}
	for key, bin := range map[string]string{
		"host.pw_cli":  s.Host.PwCli,
		"host.pw_link": s.Host.PwLink,
		"host.pw_dump": s.Host.PwDump,
	} {
		if strings.TrimSpace(bin) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if s.IPC.Socket == "" {
		return fmt.Errorf("ipc.socket is required")
	}
	if s.Manager.QueueSize <= 0 {
		return fmt.Errorf("manager.queue_size must be positive, got %d", s.Manager.QueueSize)
	}
	if strings.TrimSpace(s.Profile) == "" {
		return fmt.Errorf("profile is required")
	}
	return nil
}

// ProfilePath resolves the profile setting: a bare name lives in the
// profiles directory, anything that looks like a path is used as is
func (s *Settings) ProfilePath() string {
	p := s.Profile
	if strings.ContainsRune(p, filepath.Separator) || strings.HasSuffix(p, ".yaml") || strings.HasSuffix(p, ".yml") {
		return expandPath(p)
	}
	return profile.Path(ConfigDir(), p)
}

// HTTPSettings is the form reported in the daemon status
func (s *Settings) HTTPSettings() ipc.HTTPSettings {
	return ipc.HTTPSettings{
		Enabled:     s.HTTP.Enabled,
		BindAddress: s.HTTP.BindAddress,
		CorsEnabled: s.HTTP.CorsEnabled,
		Port:        s.HTTP.Port,
	}
}

func (s *Settings) Binaries() pipewire.Binaries {
	return pipewire.Binaries{Cli: s.Host.PwCli, Link: s.Host.PwLink, Dump: s.Host.PwDump}
}

// expandPath expands ~/ to the user's home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

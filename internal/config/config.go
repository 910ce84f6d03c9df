// Package config loads and validates the optional .qemurun YAML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file at the project root.
const FileName = ".qemurun"

// Default values used when the configuration file leaves a field empty.
const (
	DefaultQEMUBinary        = "/usr/local/src/qemu/build/qemu-system-xtensa"
	DefaultMachine           = "esp32"
	DefaultGDBPort           = 1234
	DefaultTarget            = "xtensa-esp32-espidf"
	DefaultChip              = "esp32"
	DefaultPartitionTable    = "partitions.csv"
	DefaultSDKConfigDefaults = "sdkconfig.defaults;sdkconfig.defaults.qemu"
	DefaultAppImage          = "target/xtensa-esp32-espidf/debug/esp-rs-qemu.bin"
	DefaultUnittestImage     = "target/xtensa-esp32-espidf/debug/esp-rs-qemu-unittest.bin"
	DefaultGDBSearchRoot     = ".embuild"
	DefaultGDBBinary         = "xtensa-esp32-elf-gdb"
	DefaultShell             = "/bin/sh"
)

// Kill scopes for the emulator cleanup step.
const (
	ScopeGroup  = "group"  // only emulator processes in the spawned process group
	ScopeGlobal = "global" // every process with the emulator's binary name
)

// Config holds the parsed .qemurun configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version int          `yaml:"version"`
	Shell   string       `yaml:"shell"`
	QEMU    QEMUConfig   `yaml:"qemu"`
	Build   BuildConfig  `yaml:"build"`
	VSCode  VSCodeConfig `yaml:"vscode"`
}

// QEMUConfig controls how the emulator is launched and torn down.
type QEMUConfig struct {
	Binary      string `yaml:"binary"`       // path to qemu-system-xtensa
	Machine     string `yaml:"machine"`      // -machine value
	ProcessName string `yaml:"process_name"` // binary name swept after the result banner
	KillScope   string `yaml:"kill_scope"`   // group (default) or global
	GDBPort     int    `yaml:"gdb_port"`     // port used by -gdb tcp::PORT
}

// BuildConfig controls the cargo/espflash invocations.
type BuildConfig struct {
	Target            string            `yaml:"target"`
	Chip              string            `yaml:"chip"`
	PartitionTable    string            `yaml:"partition_table"`
	SDKConfigDefaults string            `yaml:"sdkconfig_defaults"` // ESP_IDF_SDKCONFIG_DEFAULTS for builds
	AppImage          string            `yaml:"app_image"`
	UnittestImage     string            `yaml:"unittest_image"`
	Env               map[string]string `yaml:"env"` // extra overrides for build steps
}

// VSCodeConfig controls the editor payloads.
type VSCodeConfig struct {
	GDBSearchRoot string `yaml:"gdb_search_root"` // relative to the project root
	GDBBinary     string `yaml:"gdb_binary"`
}

// ShellPath returns the configured shell or the default.
func (c *Config) ShellPath() string {
	return orDefault(c.Shell, DefaultShell)
}

// QEMUBinary returns the configured emulator binary or the default.
func (c *Config) QEMUBinary() string {
	return orDefault(c.QEMU.Binary, DefaultQEMUBinary)
}

// Machine returns the configured -machine value or the default.
func (c *Config) Machine() string {
	return orDefault(c.QEMU.Machine, DefaultMachine)
}

// EmulatorProcessName returns the binary name swept after a result banner.
// It defaults to the basename of the emulator binary.
func (c *Config) EmulatorProcessName() string {
	if c.QEMU.ProcessName != "" {
		return c.QEMU.ProcessName
	}
	return filepath.Base(c.QEMUBinary())
}

// KillScope returns the configured kill scope, falling back to ScopeGroup.
func (c *Config) KillScope() string {
	if c.QEMU.KillScope == ScopeGlobal {
		return ScopeGlobal
	}
	return ScopeGroup
}

// GDBPort returns the configured gdb port or the default.
func (c *Config) GDBPort() int {
	if c.QEMU.GDBPort > 0 {
		return c.QEMU.GDBPort
	}
	return DefaultGDBPort
}

// Target returns the cargo target triple.
func (c *Config) Target() string {
	return orDefault(c.Build.Target, DefaultTarget)
}

// Chip returns the espflash chip name.
func (c *Config) Chip() string {
	return orDefault(c.Build.Chip, DefaultChip)
}

// PartitionTable returns the partition table passed to espflash.
func (c *Config) PartitionTable() string {
	return orDefault(c.Build.PartitionTable, DefaultPartitionTable)
}

// SDKConfigDefaults returns the ESP_IDF_SDKCONFIG_DEFAULTS value for builds.
func (c *Config) SDKConfigDefaults() string {
	return orDefault(c.Build.SDKConfigDefaults, DefaultSDKConfigDefaults)
}

// AppImage returns the output path of the application image.
func (c *Config) AppImage() string {
	return orDefault(c.Build.AppImage, DefaultAppImage)
}

// UnittestImage returns the output path of the unit test image.
func (c *Config) UnittestImage() string {
	return orDefault(c.Build.UnittestImage, DefaultUnittestImage)
}

// GDBSearchRoot returns the directory searched for the gdb binary.
func (c *Config) GDBSearchRoot() string {
	return orDefault(c.VSCode.GDBSearchRoot, DefaultGDBSearchRoot)
}

// GDBBinary returns the gdb binary name.
func (c *Config) GDBBinary() string {
	return orDefault(c.VSCode.GDBBinary, DefaultGDBBinary)
}

// BuildEnv returns the environment overrides applied to build steps: the
// sdkconfig defaults list, network features disabled, then any extras.
func (c *Config) BuildEnv() map[string]string {
	env := map[string]string{
		"ESP_IDF_SDKCONFIG_DEFAULTS": c.SDKConfigDefaults(),
		"WIFI_SSID":                  "",
		"WIFI_PASS":                  "",
		"MQTT_URL":                   "",
	}
	for k, v := range c.Build.Env {
		env[k] = v
	}
	return env
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// LoadResult holds the parsed config and the discovered project root.
type LoadResult struct {
	Config   *Config
	RepoRoot string // directory containing Cargo.toml; falls back to workspace
}

// Load reads the .qemurun file from the project root.
// The project root is discovered by walking upward from workspace
// looking for Cargo.toml. If no .qemurun file exists, a default Config is returned.
func Load(workspace string) (*LoadResult, error) {
	root, err := findRepoRoot(workspace)
	if err != nil {
		root = workspace
	}
	return LoadFile(filepath.Join(root, FileName), root)
}

// LoadFile reads an explicit configuration file. A missing file yields the
// default Config.
func LoadFile(path, root string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Config: &Config{}, RepoRoot: root}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return &LoadResult{Config: cfg, RepoRoot: root}, nil
}

// Validate rejects values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.QEMU.KillScope {
	case "", ScopeGroup, ScopeGlobal:
	default:
		return fmt.Errorf("qemu.kill_scope must be %q or %q, got %q", ScopeGroup, ScopeGlobal, c.QEMU.KillScope)
	}
	if c.QEMU.GDBPort < 0 || c.QEMU.GDBPort > 65535 {
		return fmt.Errorf("qemu.gdb_port out of range: %d", c.QEMU.GDBPort)
	}
	return nil
}

// findRepoRoot walks upward from dir looking for a directory containing Cargo.toml.
func findRepoRoot(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("Cargo.toml not found")
		}
		dir = parent
	}
}

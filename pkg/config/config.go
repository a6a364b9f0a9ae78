package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

const (
	configDir       string = "abicheck"
	configFile      string = "config.yml"
	localConfigFile string = ".abicheck.yml"
)

// Exemption names a demangled-name prefix of compiler or runtime generated
// symbols. Prefixes lists additional decorations ("vtable for ",
// "typeinfo for ", ...) that may precede Name.
type Exemption struct {
	Name     string   `yaml:"name"`
	Prefixes []string `yaml:"prefixes,omitempty"`
}

// EquivalenceRule describes an alternative symbol that satisfies an
// expected special member symbol.
type EquivalenceRule struct {
	Name string `yaml:"name"`
	// Symbol, when set, restricts the rule to exactly this mangled symbol
	// and Alternatives are complete symbol names.
	Symbol string `yaml:"symbol,omitempty"`
	// Suffix restricts the rule to symbols ending in Suffix; Alternatives
	// replace the suffix.
	Suffix       string   `yaml:"suffix,omitempty"`
	Alternatives []string `yaml:"alternatives"`
}

// ProbeClass is one ABI-surface class exercised by the generated probe.
type ProbeClass struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	// SelfRef overrides the substitution index of the class in its own
	// copy and move member signatures.
	SelfRef string `yaml:"self-ref,omitempty"`
	// DestructorArgs are constructor arguments used to reference a virtual
	// destructor when the class has neither a nullptr nor a default
	// constructor.
	DestructorArgs string `yaml:"destructor-args,omitempty"`
}

// ProbeConfig configures the special member probe.
type ProbeConfig struct {
	// Compiler is the C++ compiler command line, e.g. "c++" or "ccache g++".
	Compiler string `yaml:"compiler"`
	// Flags are passed to the compiler. Single quotes group words.
	Flags string `yaml:"flags"`
	// Sources are the translation units of the probe.
	Sources []string `yaml:"sources"`
	// Libraries are linked after the sources, typically the library under test.
	Libraries []string `yaml:"libraries"`
	// Output is the path of the probe executable. A temporary file in the
	// working directory is used when empty.
	Output string `yaml:"output,omitempty"`
	// Runner is an optional command prefix used to start the probe.
	Runner string `yaml:"runner,omitempty"`
	// Env lists additional KEY=VALUE entries for the probe's environment.
	Env []string `yaml:"env,omitempty"`

	// Headers and Classes drive probe-gen.
	Headers []string     `yaml:"headers,omitempty"`
	Classes []ProbeClass `yaml:"classes,omitempty"`
	// Base classes used by the generated probe to cross check the
	// declared kinds.
	WidgetBase  string `yaml:"widget-base,omitempty"`
	QObjectBase string `yaml:"qobject-base,omitempty"`
	EventBase   string `yaml:"event-base,omitempty"`

	// EquivalenceRules replaces the built-in aliasing rules when not empty.
	EquivalenceRules []EquivalenceRule `yaml:"equivalence-rules,omitempty"`
}

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// VersionPrefix is the required prefix of every version tag of the library.
	VersionPrefix string `yaml:"version-prefix"`
	// ProjectRoot is the directory holding the library's own sources.
	ProjectRoot string `yaml:"project-root"`
	// SystemIncludeRoots are directories considered to hold system headers.
	SystemIncludeRoots []string `yaml:"system-include-roots"`

	// Locator selects the source locator backend: "addr2line" or "dwarf".
	Locator string `yaml:"locator"`
	// Resolver is the address-to-source command used by the addr2line
	// locator. {binary}, {symbol} and {address} are substituted.
	Resolver string `yaml:"resolver"`
	// DebugInfoDirectories is the list of directories used to resolve
	// separate debug info files by build id.
	DebugInfoDirectories []string `yaml:"debug-info-directories"`
	// Debuginfod enables debuginfod-find lookups for missing debug info.
	Debuginfod bool `yaml:"debuginfod"`

	// DemangleCacheSize bounds the number of memoized demangled names.
	DemangleCacheSize int `yaml:"demangle-cache-size"`

	// Exemptions replaces the built-in exemption table when not empty.
	Exemptions []Exemption `yaml:"exemptions,omitempty"`

	Probe ProbeConfig `yaml:"probe"`

	// Color selects colored diagnostics: "auto", "always" or "never".
	Color string `yaml:"color"`

	path string
}

// Path returns the file the configuration was loaded from, empty if the
// defaults are in use.
func (c *Config) Path() string {
	return c.path
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.ProjectRoot == "" {
		if wd, err := os.Getwd(); err == nil {
			c.ProjectRoot = wd
		}
	}
	if len(c.SystemIncludeRoots) == 0 {
		c.SystemIncludeRoots = []string{"/usr/include"}
	}
	if c.Locator == "" {
		c.Locator = "addr2line"
	}
	if c.Resolver == "" {
		c.Resolver = "eu-addr2line -e {binary} {symbol}"
	}
	if len(c.DebugInfoDirectories) == 0 {
		c.DebugInfoDirectories = []string{"/usr/lib/debug/.build-id"}
	}
	if c.DemangleCacheSize <= 0 {
		c.DemangleCacheSize = 4096
	}
	if c.Probe.Compiler == "" {
		c.Probe.Compiler = "c++"
	}
	if c.Color == "" {
		c.Color = "auto"
	}
}

// LoadConfig reads the configuration at path. With an empty path
// .abicheck.yml in the working directory is tried first, then
// $XDG_CONFIG_HOME/abicheck/config.yml. A missing file is not an error, the
// defaults are returned instead.
func LoadConfig(path string) (*Config, error) {
	logger := logflags.ConfigLogger()
	explicit := path != ""
	candidates := []string{path}
	if !explicit {
		candidates = []string{localConfigFile}
		if p, err := GetConfigFilePath(configFile); err == nil {
			candidates = append(candidates, p)
		}
	}

	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !explicit {
				logger.Debugf("no config file at %s", p)
				continue
			}
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		var c Config
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unable to decode config file %s: %w", p, err)
		}
		dir, err := filepath.Abs(filepath.Dir(p))
		if err != nil {
			return nil, err
		}
		c.resolvePaths(dir)
		c.applyDefaults()
		c.path = p
		logger.Debugf("loaded config from %s", p)
		return &c, nil
	}

	logger.Debugf("using default configuration")
	return Default(), nil
}

// resolvePaths makes the directories of c that are relative to the config
// file absolute. Resolver output is always absolute, so relative roots
// would never match.
func (c *Config) resolvePaths(dir string) {
	c.ProjectRoot = resolvePath(dir, c.ProjectRoot)
	for i := range c.SystemIncludeRoots {
		c.SystemIncludeRoots[i] = resolvePath(dir, c.SystemIncludeRoots[i])
	}
	for i := range c.DebugInfoDirectories {
		c.DebugInfoDirectories[i] = resolvePath(dir, c.DebugInfoDirectories[i])
	}
}

func resolvePath(dir, p string) string {
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}

// SaveConfig will marshal and save the config struct to path.
func SaveConfig(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, out, 0644)
}

// WriteConfig writes conf as yaml to w.
func WriteConfig(w io.Writer, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// WriteDefaultConfig writes a commented configuration template to w.
func WriteDefaultConfig(w io.Writer) error {
	_, err := io.WriteString(w,
		`# Configuration file for abicheck.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Every version definition of the library has to start with this prefix.
# version-prefix: tuiwidgets_0

# Symbols resolved to files under project-root are the library's own.
# project-root: /path/to/checkout

# Symbols resolved to files under these roots come from system headers.
system-include-roots: ["/usr/include"]

# Source locator backend, either addr2line (external resolver, one process
# per symbol) or dwarf (reads .debug_line in process).
locator: addr2line
resolver: "eu-addr2line -e {binary} {symbol}"

# List of directories to use when searching for separate debug info files.
debug-info-directories: ["/usr/lib/debug/.build-id"]
# debuginfod: true

# Demangled-name prefixes of compiler generated symbols. Leaving this unset
# keeps the built-in table.
# exemptions:
#   - {name: "std::", prefixes: ["vtable for ", "typeinfo for ", "typeinfo name for "]}

probe:
  compiler: c++
  # flags: "-fno-access-control -std=c++17 -O0 -g -I../src -fPIC"
  # sources: [abi_checker_special_members.cpp]
  # libraries: [../_build/src/libtuiwidgets.so]
  # runner: "env LD_LIBRARY_PATH=../_build/src"
  # Input of 'abicheck probe-gen'. Kinds are Widget, Facet, Value, Event,
  # Layout, QObject_Intree, QObject_Other, Misc and Inline.
  # headers: [Tui/ZColor.h, Tui/ZWidget.h]
  # classes:
  #   - {name: "Tui::ZColor", kind: Value}
  #   - {name: "Tui::ZWidget", kind: Widget}
  #   - {name: "Tui::ZPendingKeySequenceCallbacks", kind: Misc, destructor-args: "QObject{}"}
  # widget-base: "Tui::ZWidget"
  # qobject-base: QObject
  # event-base: "Tui::ZEvent"
  # equivalence-rules:
  #   - {name: destructor, suffix: D1Ev, alternatives: [D2Ev]}

color: auto
`)
	return err
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, configDir, file), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", configDir, file), nil
}

// Package config loads build options for paq using Viper, merging the
// .paq.yml configuration file, PAQ_ environment variables and command-line
// flags, then applying defaults and validating the result.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

const (
	DefaultTestCommand  = "nodeunit"
	DefaultDoxorCommand = "doxor"
	DefaultDoxorOutput  = "docs/api"
	DefaultDoccoCommand = "docco"
	DefaultDoccoOutput  = "docs/src"
	DefaultDebounce     = time.Second
)

// Options configures one paq invocation.
type Options struct {
	Join             string        `mapstructure:"join" yaml:"join" json:"join"`
	Minify           string        `mapstructure:"minify" yaml:"minify" json:"minify"`
	Watch            bool          `mapstructure:"watch" yaml:"watch" json:"watch"`
	Test             string        `mapstructure:"test" yaml:"test" json:"test"`
	TestCommand      string        `mapstructure:"test_command" yaml:"test_command" json:"test_command"`
	Doxor            DocOptions    `mapstructure:"doxor" yaml:"doxor" json:"doxor"`
	Docco            DocOptions    `mapstructure:"docco" yaml:"docco" json:"docco"`
	Debounce         time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
	Ignore           []string      `mapstructure:"ignore" yaml:"ignore" json:"ignore"`
	StrictNamespaces bool          `mapstructure:"strict_namespaces" yaml:"strict_namespaces" json:"strict_namespaces"`
	Version          string        `mapstructure:"version" yaml:"version" json:"version"`
	Header           HeaderOptions `mapstructure:"header" yaml:"header" json:"header"`
	Sources          []string      `mapstructure:"-" yaml:"-" json:"-"` // CLI arguments, not from config file
}

// DocOptions configures one documentation generator.
type DocOptions struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Output  string `mapstructure:"output" yaml:"output" json:"output"`
	Command string `mapstructure:"command" yaml:"command" json:"command"`
}

// HeaderOptions overrides fields of the copyright comment. Empty fields keep
// the built-in values.
type HeaderOptions struct {
	Name    string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`
	Author  string `mapstructure:"author" yaml:"author,omitempty" json:"author,omitempty"`
	URL     string `mapstructure:"url" yaml:"url,omitempty" json:"url,omitempty"`
	License string `mapstructure:"license" yaml:"license,omitempty" json:"license,omitempty"`
}

// Defaults returns the options used when nothing is configured.
func Defaults() Options {
	return Options{
		TestCommand: DefaultTestCommand,
		Doxor:       DocOptions{Output: DefaultDoxorOutput, Command: DefaultDoxorCommand},
		Docco:       DocOptions{Output: DefaultDoccoOutput, Command: DefaultDoccoCommand},
		Debounce:    DefaultDebounce,
	}
}

// Load reads options from the global viper instance.
func Load() (*Options, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads options from v.
func LoadFrom(v *viper.Viper) (*Options, error) {
	options := Defaults()
	if err := v.Unmarshal(&options); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// Viper hands back slices set through flags or the environment as a
	// single string; read them through its own accessor instead.
	if v.IsSet("ignore") {
		options.Ignore = v.GetStringSlice("ignore")
	}

	applyDefaults(&options)

	if err := Validate(&options); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &options, nil
}

// applyDefaults fills values an explicit empty setting cleared.
func applyDefaults(options *Options) {
	defaults := Defaults()
	if options.TestCommand == "" {
		options.TestCommand = defaults.TestCommand
	}
	if options.Doxor.Output == "" {
		options.Doxor.Output = defaults.Doxor.Output
	}
	if options.Doxor.Command == "" {
		options.Doxor.Command = defaults.Doxor.Command
	}
	if options.Docco.Output == "" {
		options.Docco.Output = defaults.Docco.Output
	}
	if options.Docco.Command == "" {
		options.Docco.Command = defaults.Docco.Command
	}
}

// Validate checks options for values no build can run with.
func Validate(options *Options) error {
	if options.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative: %s", options.Debounce)
	}

	for _, pattern := range options.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid ignore pattern: %q", pattern)
		}
	}

	if options.Join != "" && options.Minify != "" && samePath(options.Join, options.Minify) {
		return fmt.Errorf("join and minify outputs must differ: %s", options.Join)
	}

	if err := validateDocOptions("doxor", options.Doxor); err != nil {
		return err
	}
	if err := validateDocOptions("docco", options.Docco); err != nil {
		return err
	}

	return nil
}

func validateDocOptions(name string, doc DocOptions) error {
	if !doc.Enabled {
		return nil
	}
	if doc.Output == "" {
		return fmt.Errorf("%s output directory is empty", name)
	}
	if doc.Command == "" {
		return fmt.Errorf("%s command is empty", name)
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// Outputs returns the files and directories a build writes to.
func (o *Options) Outputs() []string {
	var outputs []string
	if o.Join != "" {
		outputs = append(outputs, o.Join)
	}
	if o.Minify != "" {
		outputs = append(outputs, o.Minify)
	}
	if o.Doxor.Enabled {
		outputs = append(outputs, o.Doxor.Output)
	}
	if o.Docco.Enabled {
		outputs = append(outputs, o.Docco.Output)
	}
	return outputs
}

// HasWork reports whether any build step is enabled.
func (o *Options) HasWork() bool {
	return o.Join != "" || o.Minify != "" || o.Test != "" || o.Doxor.Enabled || o.Docco.Enabled
}

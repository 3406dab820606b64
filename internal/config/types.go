// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
)

const (
	// PolicyAcceptAll accepts every server operation.
	PolicyAcceptAll PolicyName = "accept-all"
	// PolicyRequireKnownTarget rejects tags pushed before their branch.
	PolicyRequireKnownTarget PolicyName = "require-known-target"
	// PolicyRejectTags rejects every tag push.
	PolicyRejectTags PolicyName = "reject-tags"

	// ColorSchemeAuto detects the terminal background.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces the dark palette.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces the light palette.
	ColorSchemeLight ColorScheme = "light"

	// BuiltinConsumer selects the in-process go-git consumer.
	BuiltinConsumer = "builtin"
)

var (
	// ErrInvalidPolicy is returned for unknown policy names.
	ErrInvalidPolicy = errors.New("invalid server policy")
	// ErrInvalidColorScheme is returned for unknown color schemes.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
)

type (
	// PolicyName names a server policy preset.
	PolicyName string

	// ColorScheme selects the CLI palette.
	ColorScheme string

	// Config is the complete tagprobe configuration.
	Config struct {
		Scenario ScenarioConfig `json:"scenario" yaml:"scenario" mapstructure:"scenario"`
		Server   ServerConfig   `json:"server" yaml:"server" mapstructure:"server"`
		Consumer ConsumerConfig `json:"consumer" yaml:"consumer" mapstructure:"consumer"`
		UI       UIConfig       `json:"ui" yaml:"ui" mapstructure:"ui"`
	}

	// ScenarioConfig shapes the rounds.
	ScenarioConfig struct {
		Owner            string   `json:"owner" yaml:"owner" mapstructure:"owner"`
		Name             string   `json:"name" yaml:"name" mapstructure:"name"`
		Versions         []string `json:"versions" yaml:"versions" mapstructure:"versions"`
		Branch           string   `json:"branch" yaml:"branch" mapstructure:"branch"`
		CreateRepository bool     `json:"create_repository" yaml:"create_repository" mapstructure:"create_repository"`
		VerifyContent    bool     `json:"verify_content" yaml:"verify_content" mapstructure:"verify_content"`
	}

	// ServerConfig configures the git server.
	ServerConfig struct {
		Host       string     `json:"host" yaml:"host" mapstructure:"host"`
		AutoCreate bool       `json:"auto_create" yaml:"auto_create" mapstructure:"auto_create"`
		Policy     PolicyName `json:"policy" yaml:"policy" mapstructure:"policy"`
		GitBinary  string     `json:"git_binary" yaml:"git_binary" mapstructure:"git_binary"`
	}

	// ConsumerConfig configures the package manager invocation.
	ConsumerConfig struct {
		// Program is the consumer executable, or "builtin".
		Program    string   `json:"program" yaml:"program" mapstructure:"program"`
		PrefixArgs []string `json:"prefix_args" yaml:"prefix_args" mapstructure:"prefix_args"`
		CacheFlag  string   `json:"cache_flag" yaml:"cache_flag" mapstructure:"cache_flag"`
		// ExtraArgs is split like a shell command line.
		ExtraArgs string `json:"extra_args" yaml:"extra_args" mapstructure:"extra_args"`
		Identity  string `json:"identity" yaml:"identity" mapstructure:"identity"`
		// Mode is the caching behaviour of the builtin consumer.
		Mode string `json:"mode" yaml:"mode" mapstructure:"mode"`
	}

	// UIConfig configures CLI output.
	UIConfig struct {
		Verbose     bool        `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
		Format      string      `json:"format" yaml:"format" mapstructure:"format"`
		ColorScheme ColorScheme `json:"color_scheme" yaml:"color_scheme" mapstructure:"color_scheme"`
	}
)

// Validate rejects unknown policy names.
func (p PolicyName) Validate() error {
	switch p {
	case PolicyAcceptAll, PolicyRequireKnownTarget, PolicyRejectTags:
		return nil
	default:
		return fmt.Errorf("%w %q", ErrInvalidPolicy, p)
	}
}

// Validate rejects unknown color schemes.
func (c ColorScheme) Validate() error {
	switch c {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return nil
	default:
		return fmt.Errorf("%w %q", ErrInvalidColorScheme, c)
	}
}

// DefaultConfig returns the built-in defaults: the canonical john-doe/foo
// scenario installed with the builtin consumer.
func DefaultConfig() *Config {
	return &Config{
		Scenario: ScenarioConfig{
			Owner:            "john-doe",
			Name:             "foo",
			Versions:         []string{"1.0.0", "2.0.0"},
			Branch:           "master",
			CreateRepository: true,
			VerifyContent:    true,
		},
		Server: ServerConfig{
			Host:      "127.0.0.1",
			Policy:    PolicyAcceptAll,
			GitBinary: "git",
		},
		Consumer: ConsumerConfig{
			Program:    BuiltinConsumer,
			PrefixArgs: []string{},
			CacheFlag:  "--cache-folder",
			Identity:   "test",
			Mode:       "exact",
		},
		UI: UIConfig{
			Format:      "text",
			ColorScheme: ColorSchemeAuto,
		},
	}
}

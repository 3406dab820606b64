// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/invowk/tagprobe/internal/issue"
	"github.com/invowk/tagprobe/internal/refconsumer"
	"github.com/invowk/tagprobe/internal/scenario"
	"github.com/invowk/tagprobe/pkg/cueutil"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "tagprobe"
	// ConfigFileName is the config file name inside Dir, without extension.
	ConfigFileName = "config"
	// LocalFileName is the config file name in the working directory.
	LocalFileName = "tagprobe"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "TAGPROBE"
	// DirEnv overrides Dir.
	DirEnv = "TAGPROBE_CONFIG_DIR"
)

// Extensions lists the supported config file extensions in lookup order.
var Extensions = []string{"cue", "toml"}

//go:embed config_schema.cue
var configSchema string

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
	// WorkDir is searched after the config directory (default: cwd).
	WorkDir string
}

// Dir returns the tagprobe configuration directory: TAGPROBE_CONFIG_DIR,
// else %APPDATA% on Windows, ~/Library/Application Support on macOS and
// $XDG_CONFIG_HOME (default ~/.config) elsewhere.
func Dir() (string, error) {
	if dir := os.Getenv(DirEnv); dir != "" {
		return dir, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// Load resolves the configuration and returns it with the path of the file
// it was read from ("" when only defaults and environment applied).
func Load(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	select {
	case <-ctx.Done():
		return nil, "", fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path, err := resolvePath(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if err := mergeFile(v, path); err != nil {
			return nil, "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file is valid " + strings.ToUpper(strings.TrimPrefix(filepath.Ext(path), "."))).
				WithSuggestion("Verify the values match the schema shown by 'tagprobe config schema'").
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Check TAGPROBE_* environment variables for typos").
			Wrap(err).
			BuildError()
	}
	return &cfg, path, nil
}

// Validate checks the values that environment overrides can still break
// after schema validation.
func (c *Config) Validate() error {
	if err := c.Server.Policy.Validate(); err != nil {
		return err
	}
	if err := c.UI.ColorScheme.Validate(); err != nil {
		return err
	}
	if len(c.Scenario.Versions) == 0 {
		return fmt.Errorf("scenario.versions: at least one version is required")
	}
	if _, err := refconsumer.ParseMode(c.Consumer.Mode); err != nil {
		return fmt.Errorf("consumer.mode: %w", err)
	}
	if _, err := scenario.ParseFormat(c.UI.Format); err != nil {
		return fmt.Errorf("ui.format: %w", err)
	}
	return nil
}

// Schema returns the embedded CUE schema.
func Schema() string { return configSchema }

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("scenario.owner", d.Scenario.Owner)
	v.SetDefault("scenario.name", d.Scenario.Name)
	v.SetDefault("scenario.versions", d.Scenario.Versions)
	v.SetDefault("scenario.branch", d.Scenario.Branch)
	v.SetDefault("scenario.create_repository", d.Scenario.CreateRepository)
	v.SetDefault("scenario.verify_content", d.Scenario.VerifyContent)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.auto_create", d.Server.AutoCreate)
	v.SetDefault("server.policy", string(d.Server.Policy))
	v.SetDefault("server.git_binary", d.Server.GitBinary)
	v.SetDefault("consumer.program", d.Consumer.Program)
	v.SetDefault("consumer.prefix_args", d.Consumer.PrefixArgs)
	v.SetDefault("consumer.cache_flag", d.Consumer.CacheFlag)
	v.SetDefault("consumer.extra_args", d.Consumer.ExtraArgs)
	v.SetDefault("consumer.identity", d.Consumer.Identity)
	v.SetDefault("consumer.mode", d.Consumer.Mode)
	v.SetDefault("ui.verbose", d.UI.Verbose)
	v.SetDefault("ui.format", d.UI.Format)
	v.SetDefault("ui.color_scheme", string(d.UI.ColorScheme))
}

// resolvePath picks the config file: the explicit path, else the first
// existing file in the config directory, else in the working directory.
func resolvePath(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return "", issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Use 'tagprobe config init' to write a default config").
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		return opts.ConfigFilePath, nil
	}

	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	for _, ext := range Extensions {
		if p := filepath.Join(dir, ConfigFileName+"."+ext); fileExists(p) {
			return p, nil
		}
	}
	for _, ext := range Extensions {
		if p := filepath.Join(opts.WorkDir, LocalFileName+"."+ext); fileExists(p) {
			return p, nil
		}
	}
	return "", nil
}

// mergeFile validates path against #Config and merges it into v.
func mergeFile(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var m map[string]any
	switch ext := strings.TrimPrefix(filepath.Ext(path), "."); ext {
	case "cue":
		m, err = cueutil.ValidateSource(configSchema, "#Config", data, path)
	case "toml":
		if err := cueutil.CheckFileSize(data, cueutil.DefaultMaxFileSize, path); err != nil {
			return err
		}
		doc := map[string]any{}
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		m, err = cueutil.ValidateValue(configSchema, "#Config", doc, path)
	default:
		return fmt.Errorf("unsupported config file extension %q (want .cue or .toml)", ext)
	}
	if err != nil {
		return err
	}
	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg as a config.cue document.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// tagprobe configuration\n\n")

	sb.WriteString("scenario: {\n")
	fmt.Fprintf(&sb, "\towner: %q\n", cfg.Scenario.Owner)
	fmt.Fprintf(&sb, "\tname: %q\n", cfg.Scenario.Name)
	fmt.Fprintf(&sb, "\tversions: %s\n", cueList(cfg.Scenario.Versions))
	fmt.Fprintf(&sb, "\tbranch: %q\n", cfg.Scenario.Branch)
	fmt.Fprintf(&sb, "\tcreate_repository: %v\n", cfg.Scenario.CreateRepository)
	fmt.Fprintf(&sb, "\tverify_content: %v\n", cfg.Scenario.VerifyContent)
	sb.WriteString("}\n\nserver: {\n")
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.Server.Host)
	fmt.Fprintf(&sb, "\tauto_create: %v\n", cfg.Server.AutoCreate)
	fmt.Fprintf(&sb, "\tpolicy: %q\n", cfg.Server.Policy)
	fmt.Fprintf(&sb, "\tgit_binary: %q\n", cfg.Server.GitBinary)
	sb.WriteString("}\n\nconsumer: {\n")
	fmt.Fprintf(&sb, "\tprogram: %q\n", cfg.Consumer.Program)
	fmt.Fprintf(&sb, "\tprefix_args: %s\n", cueList(cfg.Consumer.PrefixArgs))
	fmt.Fprintf(&sb, "\tcache_flag: %q\n", cfg.Consumer.CacheFlag)
	fmt.Fprintf(&sb, "\textra_args: %q\n", cfg.Consumer.ExtraArgs)
	fmt.Fprintf(&sb, "\tidentity: %q\n", cfg.Consumer.Identity)
	fmt.Fprintf(&sb, "\tmode: %q\n", cfg.Consumer.Mode)
	sb.WriteString("}\n\nui: {\n")
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	fmt.Fprintf(&sb, "\tformat: %q\n", cfg.UI.Format)
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	sb.WriteString("}\n")
	return sb.String()
}

func cueList(items []string) string {
	quoted := make([]string, 0, len(items))
	for _, s := range items {
		quoted = append(quoted, fmt.Sprintf("%q", s))
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// WriteDefault writes the default config.cue into dir unless a config file
// already exists there, and returns its path.
func WriteDefault(dir string) (string, bool, error) {
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", false, err
		}
	}
	for _, ext := range Extensions {
		if p := filepath.Join(dir, ConfigFileName+"."+ext); fileExists(p) {
			return p, false, nil
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}
	path := filepath.Join(dir, ConfigFileName+".cue")
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}
	return path, true, nil
}

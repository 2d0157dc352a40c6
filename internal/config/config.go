package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// Config represents the top-level YAML configuration file. Every field has a
// working default; a config file is optional.
type Config struct {
	Backup  BackupConfig  `mapstructure:"backup"  yaml:"backup"`
	Docker  DockerConfig  `mapstructure:"docker"  yaml:"docker"`
	Compose ComposeConfig `mapstructure:"compose" yaml:"compose"`
	Vault   VaultConfig   `mapstructure:"vault"   yaml:"vault"`
}

// BackupConfig contains global backup pipeline options.
type BackupConfig struct {
	// OutputDir receives the final archive. The staging tree lives in a
	// run-named subdirectory underneath it unless StagingDir overrides that.
	OutputDir       string        `mapstructure:"output_dir"       yaml:"output_dir"`
	StagingDir      string        `mapstructure:"staging_dir"      yaml:"staging_dir,omitempty"`
	TimestampFormat string        `mapstructure:"timestamp_format" yaml:"timestamp_format"`
	SafetyMargin    string        `mapstructure:"safety_margin"    yaml:"safety_margin"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"  yaml:"command_timeout"`

	// DeleteStaging is the pre-resolved answer to "remove the uncompressed
	// staging tree after archiving". The pipeline never prompts; the CLI
	// resolves this before the run starts.
	DeleteStaging bool `mapstructure:"delete_staging" yaml:"delete_staging"`

	// ConfigTrees are the filesystem trees captured by the configs phase.
	ConfigTrees []string `mapstructure:"config_trees" yaml:"config_trees,omitempty"`
}

// DockerConfig controls the container engine collectors.
type DockerConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// ComposeConfig controls compose-file discovery.
type ComposeConfig struct {
	Roots    []string `mapstructure:"roots"     yaml:"roots,omitempty"`
	MaxDepth int      `mapstructure:"max_depth" yaml:"max_depth"`
}

// VaultConfig holds optional HashiCorp Vault settings used to fetch database
// dump credentials. Database dumps fall back to engine-default, unauthenticated
// in-container commands when Address is empty.
type VaultConfig struct {
	Address  string `mapstructure:"address"   yaml:"address,omitempty"`
	RoleID   string `mapstructure:"role_id"   yaml:"role_id,omitempty"`
	RoleName string `mapstructure:"role_name" yaml:"role_name,omitempty"`
	// Token is a static alternative to AppRole login; it overrides the
	// VAULT_TOKEN environment variable.
	Token  string `mapstructure:"token"   yaml:"token,omitempty"`
	KVBase string `mapstructure:"kv_base" yaml:"kv_base,omitempty"`
}

// Load reads the configuration from the given YAML file using Viper and
// unmarshals into the Config struct. An empty path loads defaults only.
func (c *Config) Load(path string) error {
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		v.AutomaticEnv()

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("%w: read config %s: %v", ErrLoadConfig, path, err)
		}
		if err := v.UnmarshalExact(c); err != nil {
			return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
		}
	}

	c.applyDefaults()
	return c.Validate()
}

func (c *Config) applyDefaults() {
	if c.Backup.OutputDir == "" {
		c.Backup.OutputDir = "/var/backups/hostbackup"
	}
	if c.Backup.TimestampFormat == "" {
		c.Backup.TimestampFormat = "2006-01-02_15-04-05"
	}
	if c.Backup.SafetyMargin == "" {
		c.Backup.SafetyMargin = "512MiB"
	}
	if c.Backup.CommandTimeout == 0 {
		c.Backup.CommandTimeout = 10 * time.Minute
	}
	if len(c.Backup.ConfigTrees) == 0 {
		c.Backup.ConfigTrees = []string{
			"/etc/nginx",
			"/etc/ssl",
			"/etc/letsencrypt",
			"/etc/systemd/system",
			"/etc/cron.d",
			"/etc/fail2ban",
		}
	}
	if c.Docker.Binary == "" {
		c.Docker.Binary = "docker"
	}
	if len(c.Compose.Roots) == 0 {
		c.Compose.Roots = []string{"/opt", "/srv", "/home", "/root"}
	}
	if c.Compose.MaxDepth == 0 {
		c.Compose.MaxDepth = 3
	}
}

// Validate checks the loaded configuration for values the pipeline cannot
// work with.
func (c *Config) Validate() error {
	if _, err := humanize.ParseBytes(c.Backup.SafetyMargin); err != nil {
		return fmt.Errorf("%w: safety_margin %q: %v", ErrValidateConfig, c.Backup.SafetyMargin, err)
	}
	if c.Backup.CommandTimeout < 0 {
		return fmt.Errorf("%w: command_timeout must be positive", ErrValidateConfig)
	}
	if c.Compose.MaxDepth < 1 {
		return fmt.Errorf("%w: compose max_depth must be at least 1", ErrValidateConfig)
	}
	for _, root := range c.Compose.Roots {
		if root == "" {
			return fmt.Errorf("%w: empty compose root", ErrValidateConfig)
		}
	}
	return nil
}

// SafetyMarginBytes returns the parsed safety margin.
func (c *Config) SafetyMarginBytes() uint64 {
	n, err := humanize.ParseBytes(c.Backup.SafetyMargin)
	if err != nil {
		// Validate rejects unparsable margins; keep a sane floor anyway.
		return 512 * 1024 * 1024
	}
	return n
}

// EnsureOutputDir creates the output directory if missing.
func (c *Config) EnsureOutputDir() error {
	if err := os.MkdirAll(c.Backup.OutputDir, 0o700); err != nil {
		return fmt.Errorf("create output dir %q: %w", c.Backup.OutputDir, err)
	}
	return nil
}

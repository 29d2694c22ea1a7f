package config

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultPrefix is the folder inside the bucket that receives DAG files.
	DefaultPrefix = "dags/"

	// DefaultBackend is the default object store backend.
	DefaultBackend = BackendS3

	// DefaultS3Endpoint is the Cloud Storage XML interoperability endpoint.
	DefaultS3Endpoint = "https://storage.googleapis.com"

	// DefaultS3Region is the region used when signing S3-compatible requests.
	DefaultS3Region = "auto"

	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "DAGSYNC"
)

const (
	// BackendS3 uploads to an S3-compatible object store.
	BackendS3 = "s3"

	// BackendLocal writes objects to a local directory.
	BackendLocal = "local"
)

// DefaultIgnorePatterns are matched against each file's base name.
var DefaultIgnorePatterns = []string{"__init__.py", "*_test.py"}

// DefaultExtensions are the extensions treated as DAG files.
var DefaultExtensions = []string{".py"}

// Config is the root configuration for dagsync.
type Config struct {
	Global      GlobalConfig      `yaml:"global" mapstructure:"global"`
	Source      SourceConfig      `yaml:"source" mapstructure:"source"`
	Destination DestinationConfig `yaml:"destination" mapstructure:"destination"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig controls which files are collected from the DAGs directory.
type SourceConfig struct {
	IgnorePatterns []string `yaml:"ignore_patterns" mapstructure:"ignore_patterns"`
	Extensions     []string `yaml:"extensions" mapstructure:"extensions"`
}

// DestinationConfig controls where collected files are uploaded.
type DestinationConfig struct {
	Prefix  string      `yaml:"prefix" mapstructure:"prefix"`
	Backend string      `yaml:"backend" mapstructure:"backend"`
	S3      S3Config    `yaml:"s3" mapstructure:"s3"`
	Local   LocalConfig `yaml:"local" mapstructure:"local"`
}

// S3Config contains settings for S3-compatible storage. The bucket itself is
// supplied on the command line.
type S3Config struct {
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	StorageClass    string `yaml:"storage_class,omitempty" mapstructure:"storage_class"`
	ACL             string `yaml:"acl,omitempty" mapstructure:"acl"`
}

// LocalConfig contains settings for the local directory backend.
type LocalConfig struct {
	Root string `yaml:"root,omitempty" mapstructure:"root"`
}

// Load reads the configuration file at path (optional) and applies
// DAGSYNC_* environment overrides and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindKeys(v)

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindKeys registers every key with viper so AutomaticEnv can resolve it
// during Unmarshal even when the key is absent from the file.
func bindKeys(v *viper.Viper) {
	for _, key := range []string{
		"global.log_level",
		"source.ignore_patterns",
		"source.extensions",
		"destination.prefix",
		"destination.backend",
		"destination.s3.endpoint_url",
		"destination.s3.region",
		"destination.s3.access_key_id",
		"destination.s3.secret_access_key",
		"destination.s3.force_path_style",
		"destination.s3.storage_class",
		"destination.s3.acl",
		"destination.local.root",
	} {
		_ = v.BindEnv(key)
	}
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Source.IgnorePatterns == nil {
		c.Source.IgnorePatterns = append([]string(nil), DefaultIgnorePatterns...)
	}

	if len(c.Source.Extensions) == 0 {
		c.Source.Extensions = append([]string(nil), DefaultExtensions...)
	}

	if c.Destination.Prefix == "" {
		c.Destination.Prefix = DefaultPrefix
	}

	if c.Destination.Backend == "" {
		c.Destination.Backend = DefaultBackend
	}

	if c.Destination.S3.EndpointURL == "" {
		c.Destination.S3.EndpointURL = DefaultS3Endpoint
	}

	if c.Destination.S3.Region == "" {
		c.Destination.S3.Region = DefaultS3Region
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	for _, pattern := range c.Source.IgnorePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("source: invalid ignore pattern %q", pattern)
		}
	}

	for _, ext := range c.Source.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("source: extension %q must start with a dot", ext)
		}
	}

	switch c.Destination.Backend {
	case BackendS3:
		s3 := c.Destination.S3
		if (s3.AccessKeyID == "") != (s3.SecretAccessKey == "") {
			return fmt.Errorf(
				"destination.s3: access_key_id and secret_access_key must be set together",
			)
		}
	case BackendLocal:
		if c.Destination.Local.Root == "" {
			return fmt.Errorf("destination.local: root is required")
		}
	default:
		return fmt.Errorf("destination: unknown backend %q", c.Destination.Backend)
	}

	return nil
}

// ValidateBucket checks that a bucket name was given without a URI scheme.
func ValidateBucket(bucket string) error {
	if bucket == "" {
		return fmt.Errorf("bucket name is required")
	}

	if i := strings.Index(bucket, "://"); i >= 0 {
		return fmt.Errorf(
			"bucket %q must not include a scheme prefix (use %q)",
			bucket, bucket[i+3:],
		)
	}

	if strings.Contains(bucket, "/") {
		return fmt.Errorf("bucket %q must not contain '/'", bucket)
	}

	return nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Source.IgnorePatterns = append([]string(nil), c.Source.IgnorePatterns...)
	out.Source.Extensions = append([]string(nil), c.Source.Extensions...)

	if out.Destination.S3.SecretAccessKey != "" {
		out.Destination.S3.SecretAccessKey = "REDACTED"
	}

	return &out
}

// Package config builds the typed Config of a run from defaults, the settings
// file, TCD_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/onnwee/vod-chat/format"
)

// LogFileName is the log file written into the output directory when Log is set.
const LogFileName = "vod-chat.log"

// ErrSettingsExist is returned by WriteStarter instead of overwriting a file.
var ErrSettingsExist = errors.New("settings file already exists")

// EnvPrefix prefixes every environment variable, e.g. TCD_CLIENT_ID.
const EnvPrefix = "TCD"

// Setting keys. Flags bind to the same names with dashes.
const (
	KeyClientID          = "client_id"
	KeyClientSecret      = "client_secret"
	KeyOAuthToken        = "oauth_token"
	KeyTokenURL          = "token_url"
	KeyHelixURL          = "helix_url"
	KeyCommentsURL       = "comments_url"
	KeyVideo             = "video"
	KeyChannel           = "channel"
	KeyUser              = "user"
	KeyFirst             = "first"
	KeyOutput            = "output"
	KeyFormat            = "format"
	KeyTimezone          = "timezone"
	KeyIncludes          = "includes"
	KeyConcurrency       = "concurrency"
	KeyMaxAttempts       = "max_attempts"
	KeyBackoffBase       = "backoff_base"
	KeyBackoffMax        = "backoff_max"
	KeyRequestsPerSecond = "requests_per_second"
	KeyLowWater          = "ratelimit_low_water"
	KeyPreview           = "preview"
	KeyLog               = "log"
	KeyMetricsPushURL    = "metrics_push_url"
	KeyFormats           = "formats"
	KeySettingsFile      = "settings_file"
)

// Config is the resolved configuration of one run. It is not modified after Load.
type Config struct {
	// Twitch
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	OAuthToken   string `mapstructure:"oauth_token" yaml:"oauth_token"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
	HelixURL     string `mapstructure:"helix_url" yaml:"helix_url"`
	CommentsURL  string `mapstructure:"comments_url" yaml:"comments_url"`

	// What to archive
	Videos   []string `mapstructure:"video" yaml:"video"`
	Channels []string `mapstructure:"channel" yaml:"channel"`
	First    int      `mapstructure:"first" yaml:"first"`

	// How to archive
	Users    []string `mapstructure:"user" yaml:"user"`
	Includes string   `mapstructure:"includes" yaml:"includes"`
	Output   string   `mapstructure:"output" yaml:"output"`
	Format   string   `mapstructure:"format" yaml:"format"`
	Timezone string   `mapstructure:"timezone" yaml:"timezone"`
	Preview  bool     `mapstructure:"preview" yaml:"preview"`
	// Log also writes the run log to LogFileName in Output.
	Log bool `mapstructure:"log" yaml:"log"`

	// Pacing
	Concurrency       int           `mapstructure:"concurrency" yaml:"concurrency"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RateLimitLowWater int           `mapstructure:"ratelimit_low_water" yaml:"ratelimit_low_water"`

	MetricsPushURL string `mapstructure:"metrics_push_url" yaml:"metrics_push_url"`

	// Formats adds to or overrides the built-in formats by name.
	Formats map[string]format.Definition `mapstructure:"formats" yaml:"formats,omitempty"`

	// SettingsFile is the file that was read, empty if none.
	SettingsFile string `mapstructure:"-" yaml:"-"`
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// setDefaults registers every key so AutomaticEnv can find it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyClientID, "")
	v.SetDefault(KeyClientSecret, "")
	v.SetDefault(KeyOAuthToken, "")
	v.SetDefault(KeyTokenURL, "https://id.twitch.tv/oauth2/token")
	v.SetDefault(KeyHelixURL, "https://api.twitch.tv/helix")
	v.SetDefault(KeyCommentsURL, "https://api.twitch.tv/v5")
	v.SetDefault(KeyVideo, []string{})
	v.SetDefault(KeyChannel, []string{})
	v.SetDefault(KeyUser, []string{})
	v.SetDefault(KeyFirst, 5)
	v.SetDefault(KeyOutput, ".")
	v.SetDefault(KeyFormat, "default")
	v.SetDefault(KeyTimezone, "")
	v.SetDefault(KeyIncludes, "")
	v.SetDefault(KeyPreview, false)
	v.SetDefault(KeyLog, false)
	v.SetDefault(KeyConcurrency, 1)
	v.SetDefault(KeyMaxAttempts, 5)
	v.SetDefault(KeyBackoffBase, "1s")
	v.SetDefault(KeyBackoffMax, "30s")
	v.SetDefault(KeyRequestsPerSecond, 10.0)
	v.SetDefault(KeyLowWater, 10)
	v.SetDefault(KeyMetricsPushURL, "")
}

// DefaultSettingsFile is ~/.config/tcd/settings.yaml.
func DefaultSettingsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tcd", "settings.yaml")
}

// Load reads the settings file and decodes v into a Config. A missing
// settings file is only an error when it was named explicitly.
func Load(v *viper.Viper) (*Config, error) {
	path := v.GetString(KeySettingsFile)
	explicit := path != ""
	if !explicit {
		path = DefaultSettingsFile()
	}
	used := ""
	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		switch {
		case err == nil:
			used = path
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read settings file %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.SettingsFile = used
	return cfg, nil
}

// LoadWithoutFile decodes defaults, environment and flags only. It is used
// to create a settings file that does not exist yet.
func LoadWithoutFile(v *viper.Viper) (*Config, error) {
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	c.Videos = splitList(c.Videos)
	c.Channels = splitList(c.Channels)
	c.Users = splitList(c.Users)
	c.Format = strings.ToLower(strings.TrimSpace(c.Format))
	c.Timezone = strings.TrimSpace(c.Timezone)
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.OAuthToken = strings.TrimPrefix(strings.TrimSpace(c.OAuthToken), "oauth:")
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks everything a run needs. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, fmt.Errorf("missing twitch client id: set --client-id or TCD_CLIENT_ID"))
	}
	if c.ClientSecret == "" && c.OAuthToken == "" {
		errs = append(errs, fmt.Errorf("missing twitch credentials: set --client-secret (TCD_CLIENT_SECRET) or oauth_token"))
	}
	if len(c.Videos) == 0 && len(c.Channels) == 0 {
		errs = append(errs, fmt.Errorf("nothing to archive: pass --video or --channel"))
	}
	if c.First < 1 {
		errs = append(errs, fmt.Errorf("first must be at least 1, got %d", c.First))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("backoff_base must be positive, got %s", c.BackoffBase))
	}
	if c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff_max (%s) is below backoff_base (%s)", c.BackoffMax, c.BackoffBase))
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second must not be negative"))
	}
	if c.Output == "" {
		errs = append(errs, fmt.Errorf("output directory is empty"))
	}
	return errors.Join(errs...)
}

// FormatSet compiles the built-in formats overlaid with the configured ones.
func (c *Config) FormatSet() (*format.Set, error) {
	ref, err := format.ReferenceDefinitions()
	if err != nil {
		return nil, err
	}
	return format.Compile(ref, c.Formats)
}

// Write prints the configuration as YAML with secrets masked.
func (c *Config) Write(w io.Writer) error {
	out := *c
	out.ClientSecret = mask(out.ClientSecret)
	out.OAuthToken = mask(out.OAuthToken)
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return err
	}
	return enc.Close()
}

// LogFile is where the run log is saved when Log is set.
func (c *Config) LogFile() string {
	return filepath.Join(c.Output, LogFileName)
}

// WriteStarter writes a settings file to path holding c's tunables and every
// built-in format, ready for editing. Credentials and archive targets are left
// out. An existing file is never replaced.
func (c *Config) WriteStarter(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s: %w", path, ErrSettingsExist)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	ref, err := format.ReferenceDefinitions()
	if err != nil {
		return err
	}
	out := *c
	out.ClientSecret, out.OAuthToken = "", ""
	out.Videos, out.Channels, out.Users = nil, nil, nil
	out.Formats = make(map[string]format.Definition, len(ref)+len(c.Formats))
	for name, def := range ref {
		out.Formats[name] = def
	}
	for name, def := range c.Formats {
		out.Formats[name] = def
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# vod-chat settings. Environment variables (%s_*) and flags override these.\n", EnvPrefix)
	if err := out.Write(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := renameio.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write settings file: %w", err)
	}
	return nil
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

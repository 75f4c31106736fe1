// Package config loads service settings from flags, a YAML file and the
// environment.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/dukerupert/ticketeer/internal/errutil"
)

// EnvPrefix prefixes every environment variable the service reads, e.g.
// TICKETEER_JWT_SECRET.
const EnvPrefix = "TICKETEER_"

type Config struct {
	Port             int           `koanf:"port"`
	DatabaseDir      string        `koanf:"database_dir"`
	DatabaseName     string        `koanf:"database_name"`
	JWTSecret        string        `koanf:"jwt_secret"`
	TicketSecret     string        `koanf:"ticket_secret"`
	SessionTTL       time.Duration `koanf:"session_ttl"`
	OTPTTL           time.Duration `koanf:"otp_ttl"`
	ResetTTL         time.Duration `koanf:"reset_ttl"`
	PostmarkToken    string        `koanf:"postmark_token"`
	FromEmail        string        `koanf:"from_email"`
	BaseURL          string        `koanf:"base_url"`
	AllowedOrigins   []string      `koanf:"allowed_origins"`
	TrustedProxies   []string      `koanf:"trusted_proxies"`
	AllowAdminSignup bool          `koanf:"allow_admin_signup"`
	DevMode          bool          `koanf:"dev_mode"`
	LogLevel         string        `koanf:"log_level"`
	LogFormat        string        `koanf:"log_format"`

	BackupEndpoint   string        `koanf:"backup_endpoint"`
	BackupBucket     string        `koanf:"backup_bucket"`
	BackupRegion     string        `koanf:"backup_region"`
	BackupAccessKey  string        `koanf:"backup_access_key"`
	BackupSecretKey  string        `koanf:"backup_secret_key"`
	BackupPrefix     string        `koanf:"backup_prefix"`
	BackupPassphrase string        `koanf:"backup_passphrase"`
	BackupInterval   time.Duration `koanf:"backup_interval"`
	BackupRetention  time.Duration `koanf:"backup_retention"`
}

// RegisterFlags defines a flag with its default for every setting. Flag
// names use dashes where keys use underscores.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("port", 8080, "HTTP listen port")
	fs.String("database-dir", ".", "directory holding the SQLite database")
	fs.String("database-name", "ticketeer.db", "SQLite database file name")
	fs.String("jwt-secret", "", "secret used to sign session tokens")
	fs.String("ticket-secret", "", "secret used to sign ticket payloads")
	fs.Duration("session-ttl", 24*time.Hour, "session token lifetime")
	fs.Duration("otp-ttl", 15*time.Minute, "password reset code lifetime")
	fs.Duration("reset-ttl", 15*time.Minute, "password reset token lifetime")
	fs.String("postmark-token", "", "Postmark server token; reset codes are logged when empty")
	fs.String("from-email", "noreply@ticketeer.local", "sender address for transactional mail")
	fs.String("base-url", "http://localhost:8080", "public URL of the service")
	fs.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "CORS origins allowed to send credentials")
	fs.StringSlice("trusted-proxies", nil, "proxy IPs or CIDRs whose forwarding headers name the client")
	fs.Bool("allow-admin-signup", false, "allow self-registration with the admin role")
	fs.Bool("dev-mode", false, "log password reset codes instead of mailing them when no postmark token is set")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")

	fs.String("backup-endpoint", "", "S3-compatible endpoint URL; empty for AWS")
	fs.String("backup-bucket", "", "bucket receiving database snapshots")
	fs.String("backup-region", "us-east-1", "bucket region")
	fs.String("backup-access-key", "", "storage access key")
	fs.String("backup-secret-key", "", "storage secret key")
	fs.String("backup-prefix", "ticketeer", "object key prefix for snapshots")
	fs.String("backup-passphrase", "", "passphrase snapshots are encrypted with")
	fs.Duration("backup-interval", 0, "take a snapshot this often while serving; 0 disables")
	fs.Duration("backup-retention", 30*24*time.Hour, "delete snapshots older than this")
}

// Load resolves settings in increasing precedence: flag defaults, the YAML
// file at path (if any), TICKETEER_* environment variables, then flags set
// on the command line.
func Load(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code(errutil.CodeConfiguration).With("path", path).Wrapf(err, "load config file")
		}
	}

	envKey := func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code(errutil.CodeConfiguration).Wrapf(err, "load environment")
	}

	flagKey := func(f *pflag.Flag) (string, interface{}) {
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	}
	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
		return nil, oops.Code(errutil.CodeConfiguration).Wrapf(err, "load flags")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code(errutil.CodeConfiguration).Wrapf(err, "decode config")
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.TrustedProxies = splitList(cfg.TrustedProxies)

	return &cfg, nil
}

// Validate reports the first setting that would keep the service from
// starting.
func (c *Config) Validate() error {
	invalid := func(key, msg string) error {
		return oops.Code(errutil.CodeConfiguration).
			Public(msg).
			With("key", key).
			Errorf("invalid %s: %s", key, msg)
	}

	switch {
	case c.Port < 1 || c.Port > 65535:
		return invalid("port", "port must be between 1 and 65535")
	case c.DatabaseName == "":
		return invalid("database_name", "database name is required")
	case c.JWTSecret == "":
		return invalid("jwt_secret", "jwt secret is required")
	case c.TicketSecret == "":
		return invalid("ticket_secret", "ticket secret is required")
	case c.PostmarkToken == "" && !c.DevMode:
		return invalid("postmark_token", "postmark token is required unless dev mode is enabled")
	case c.SessionTTL <= 0:
		return invalid("session_ttl", "session ttl must be positive")
	case c.OTPTTL <= 0:
		return invalid("otp_ttl", "otp ttl must be positive")
	case c.ResetTTL <= 0:
		return invalid("reset_ttl", "reset ttl must be positive")
	case c.BackupInterval < 0:
		return invalid("backup_interval", "backup interval must not be negative")
	case c.BackupRetention < 0:
		return invalid("backup_retention", "backup retention must not be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return invalid("log_format", "log format must be text or json")
	}
	return nil
}

// DatabasePath joins the database directory and file name. An in-memory
// name is returned unchanged.
func (c *Config) DatabasePath() string {
	if c.DatabaseName == ":memory:" {
		return c.DatabaseName
	}
	return filepath.Join(c.DatabaseDir, c.DatabaseName)
}

// splitList expands comma-separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
	Ledger     LedgerConfig
	Governance GovernanceConfig
	Email      EmailConfig
	Push       PushConfig
	Backup     BackupConfig
	Admin      AdminConfig
}

type HTTPConfig struct {
	Port            int
	BaseURL         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// SecureCookies marks the session cookie Secure. Derived from BaseURL.
	SecureCookies   bool
}

type DatabaseConfig struct {
	Path string
}

type LoggingConfig struct {
	Level  string
	Format string // text|json
}

type LedgerConfig struct {
	StartingBonus int64
}

type GovernanceConfig struct {
	DefaultVotingDays int
	MaxVotingDays     int
	FinalizeInterval  time.Duration
}

type EmailConfig struct {
	PostmarkToken string
	FromAddress   string
}

type PushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subject         string
}

type BackupConfig struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string

	// Passphrase encrypts every backup. Losing it makes backups unreadable.
	Passphrase    string
	Interval      time.Duration
	RetentionDays int
}

// Configured reports whether enough settings are present to run backups.
func (b BackupConfig) Configured() bool {
	return b.Bucket != "" && b.AccessKey != "" && b.SecretKey != "" && b.Passphrase != ""
}

// AdminConfig lists identities promoted to admin the first time they sign in.
type AdminConfig struct {
	Wallets []string
	Emails  []string
}

const (
	envPrefix = "DAOSTORE_"

	defaultPort             = 8080
	defaultBaseURL          = "http://localhost:8080"
	defaultReadTimeout      = 5 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultDBPath           = "daostore.db"
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultStartingBonus    = 100
	defaultVotingDays       = 7
	defaultMaxVotingDays    = 90
	defaultFinalizeInterval = time.Minute
	defaultFromAddress      = "noreply@daostore.local"
	defaultBackupPrefix     = "backups/"
	defaultBackupRegion     = "auto"
	defaultBackupInterval   = 24 * time.Hour
	defaultBackupRetention  = 30
	defaultPushSubject      = "mailto:admin@daostore.local"
)

// Load reads configuration from DAOSTORE_* environment variables, applying
// defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			BaseURL: strings.TrimRight(valueOrDefault("BASE_URL", defaultBaseURL), "/"),
		},
		Database: DatabaseConfig{
			Path: valueOrDefault("DB_PATH", defaultDBPath),
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", defaultLogLevel),
			Format: strings.ToLower(valueOrDefault("LOG_FORMAT", defaultLogFormat)),
		},
		Email: EmailConfig{
			PostmarkToken: getenv("POSTMARK_TOKEN"),
			FromAddress:   valueOrDefault("FROM_EMAIL", defaultFromAddress),
		},
		Push: PushConfig{
			VAPIDPublicKey:  getenv("VAPID_PUBLIC_KEY"),
			VAPIDPrivateKey: getenv("VAPID_PRIVATE_KEY"),
			Subject:         valueOrDefault("VAPID_SUBJECT", defaultPushSubject),
		},
		Backup: BackupConfig{
			Endpoint:  getenv("S3_ENDPOINT"),
			Bucket:    getenv("S3_BUCKET"),
			Region:    valueOrDefault("S3_REGION", defaultBackupRegion),
			AccessKey: getenv("S3_ACCESS_KEY"),
			SecretKey: getenv("S3_SECRET_KEY"),
			Prefix:    valueOrDefault("S3_PREFIX", defaultBackupPrefix),

			Passphrase: getenv("BACKUP_PASSPHRASE"),
		},
		Admin: AdminConfig{
			Wallets: splitCSV(getenv("ADMIN_WALLETS")),
			Emails:  splitCSV(getenv("ADMIN_EMAILS")),
		},
	}
	cfg.HTTP.SecureCookies = strings.HasPrefix(cfg.HTTP.BaseURL, "https://")

	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return Config{}, fmt.Errorf("invalid %sLOG_FORMAT %q: want text or json", envPrefix, cfg.Logging.Format)
	}

	var err error
	if cfg.HTTP.Port, err = parsePort("PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ReadTimeout, err = parseDuration("READ_TIMEOUT", defaultReadTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.WriteTimeout, err = parseDuration("WRITE_TIMEOUT", defaultWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.IdleTimeout, err = parseDuration("IDLE_TIMEOUT", defaultIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.HTTP.ShutdownTimeout, err = parseDuration("SHUTDOWN_TIMEOUT", defaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Governance.FinalizeInterval, err = parseDuration("FINALIZE_INTERVAL", defaultFinalizeInterval); err != nil {
		return Config{}, err
	}

	if cfg.Backup.Interval, err = parseDuration("BACKUP_INTERVAL", defaultBackupInterval); err != nil {
		return Config{}, err
	}
	if cfg.Backup.RetentionDays, err = parseInt("BACKUP_RETENTION_DAYS", defaultBackupRetention); err != nil {
		return Config{}, err
	}
	if cfg.Backup.RetentionDays < 1 {
		return Config{}, fmt.Errorf("%sBACKUP_RETENTION_DAYS must be at least 1", envPrefix)
	}

	bonus, err := parseInt("STARTING_BONUS", defaultStartingBonus)
	if err != nil {
		return Config{}, err
	}
	if bonus < 0 {
		return Config{}, fmt.Errorf("%sSTARTING_BONUS must not be negative", envPrefix)
	}
	cfg.Ledger.StartingBonus = int64(bonus)

	if cfg.Governance.DefaultVotingDays, err = parseInt("VOTING_DAYS", defaultVotingDays); err != nil {
		return Config{}, err
	}
	if cfg.Governance.MaxVotingDays, err = parseInt("MAX_VOTING_DAYS", defaultMaxVotingDays); err != nil {
		return Config{}, err
	}
	if cfg.Governance.MaxVotingDays < 1 || cfg.Governance.DefaultVotingDays < 1 ||
		cfg.Governance.DefaultVotingDays > cfg.Governance.MaxVotingDays {
		return Config{}, fmt.Errorf("voting days must satisfy 1 <= %sVOTING_DAYS <= %sMAX_VOTING_DAYS", envPrefix, envPrefix)
	}

	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c HTTPConfig) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

func valueOrDefault(key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseInt(key string, fallback int) (int, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s value %q: %w", envPrefix, key, v, err)
	}
	return n, nil
}

func parseDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s%s must be positive", envPrefix, key)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	port, err := parseInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if port <= 0 || port > 65535 {
		return 0, fmt.Errorf("port %d is out of range", port)
	}
	return port, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

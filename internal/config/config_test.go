package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Ledger.StartingBonus != 100 {
		t.Errorf("starting bonus = %d, want 100", cfg.Ledger.StartingBonus)
	}
	if cfg.Governance.DefaultVotingDays != 7 || cfg.Governance.MaxVotingDays != 90 {
		t.Errorf("voting days = %d/%d, want 7/90", cfg.Governance.DefaultVotingDays, cfg.Governance.MaxVotingDays)
	}
	if cfg.Governance.FinalizeInterval != time.Minute {
		t.Errorf("finalize interval = %v, want 1m", cfg.Governance.FinalizeInterval)
	}
	if cfg.HTTP.SecureCookies {
		t.Error("expected insecure cookies for http base URL")
	}
	if cfg.Backup.Configured() {
		t.Error("backup should not be configured by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DAOSTORE_PORT", "9090")
	t.Setenv("DAOSTORE_BASE_URL", "https://shop.example.com/")
	t.Setenv("DAOSTORE_STARTING_BONUS", "250")
	t.Setenv("DAOSTORE_LOG_FORMAT", "JSON")
	t.Setenv("DAOSTORE_FINALIZE_INTERVAL", "30s")
	t.Setenv("DAOSTORE_ADMIN_EMAILS", " root@example.com, ,ops@example.com ")
	t.Setenv("DAOSTORE_S3_BUCKET", "bucket")
	t.Setenv("DAOSTORE_S3_ACCESS_KEY", "ak")
	t.Setenv("DAOSTORE_S3_SECRET_KEY", "sk")
	t.Setenv("DAOSTORE_BACKUP_PASSPHRASE", "correct horse")
	t.Setenv("DAOSTORE_BACKUP_RETENTION_DAYS", "14")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr() != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.HTTP.Addr())
	}
	if cfg.HTTP.BaseURL != "https://shop.example.com" || !cfg.HTTP.SecureCookies {
		t.Errorf("base url = %q secure = %v", cfg.HTTP.BaseURL, cfg.HTTP.SecureCookies)
	}
	if cfg.Ledger.StartingBonus != 250 {
		t.Errorf("starting bonus = %d, want 250", cfg.Ledger.StartingBonus)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Governance.FinalizeInterval != 30*time.Second {
		t.Errorf("finalize interval = %v", cfg.Governance.FinalizeInterval)
	}
	if len(cfg.Admin.Emails) != 2 || cfg.Admin.Emails[1] != "ops@example.com" {
		t.Errorf("admin emails = %q", cfg.Admin.Emails)
	}
	if !cfg.Backup.Configured() {
		t.Error("expected backup to be configured")
	}
	if cfg.Backup.RetentionDays != 14 || cfg.Backup.Interval != 24*time.Hour {
		t.Errorf("backup retention/interval = %d/%v", cfg.Backup.RetentionDays, cfg.Backup.Interval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"DAOSTORE_PORT", "abc"},
		{"DAOSTORE_PORT", "70000"},
		{"DAOSTORE_READ_TIMEOUT", "soon"},
		{"DAOSTORE_FINALIZE_INTERVAL", "-1s"},
		{"DAOSTORE_STARTING_BONUS", "-5"},
		{"DAOSTORE_BACKUP_RETENTION_DAYS", "0"},
		{"DAOSTORE_VOTING_DAYS", "100"},
		{"DAOSTORE_LOG_FORMAT", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

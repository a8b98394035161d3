package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Log       LogConfig       `mapstructure:"log"`
	Billing   BillingConfig   `mapstructure:"billing"`
	Card      CardConfig      `mapstructure:"card"`
	Platform  PlatformConfig  `mapstructure:"platform"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type QueueConfig struct {
	JobQueue         string `mapstructure:"job_queue"`
	MaxWorkers       int    `mapstructure:"max_workers"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	RetryBaseSeconds int    `mapstructure:"retry_base_seconds"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// BillingConfig holds the engine's business constants. Money values are minor units.
type BillingConfig struct {
	Currency                  string `mapstructure:"currency"`
	PeriodDays                int    `mapstructure:"period_days"`
	TrialPeriods              int    `mapstructure:"trial_periods"`
	ChargeNoticeLeadHours     int    `mapstructure:"charge_notice_lead_hours"`
	PlanChangeCooldownMinutes int    `mapstructure:"plan_change_cooldown_minutes"`
	RecognitionPrice          int64  `mapstructure:"recognition_price"`
	PollRetryHours            int    `mapstructure:"poll_retry_hours"`
	MaxWriteRetries           int    `mapstructure:"max_write_retries"`
}

type CardConfig struct {
	SecretKey      string `mapstructure:"secret_key"`
	WebhookSecret  string `mapstructure:"webhook_secret"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PlatformConfig struct {
	SharedSecret     string `mapstructure:"shared_secret"` // verifyReceipt password
	Password         string `mapstructure:"password"`      // server notification password
	VerifyURL        string `mapstructure:"verify_url"`
	SandboxVerifyURL string `mapstructure:"sandbox_verify_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
}

type SchedulerConfig struct {
	DispatchSpec        string `mapstructure:"dispatch_spec"`
	CleanupSpec         string `mapstructure:"cleanup_spec"`
	BatchSize           int    `mapstructure:"batch_size"`
	PendingCleanupHours int    `mapstructure:"pending_cleanup_hours"`
	// dispatched jobs older than this are handed out again
	StaleDispatchMinutes int `mapstructure:"stale_dispatch_minutes"`
}

// Period returns the length of one paid billing period.
func (b BillingConfig) Period() time.Duration {
	return time.Duration(b.PeriodDays) * 24 * time.Hour
}

// BillingDefaults fills unset billing and scheduler values.
func (c *Config) BillingDefaults() {
	if c.Billing.Currency == "" {
		c.Billing.Currency = "usd"
	}
	if c.Billing.PeriodDays <= 0 {
		c.Billing.PeriodDays = 30
	}
	if c.Billing.TrialPeriods <= 0 {
		c.Billing.TrialPeriods = 2
	}
	if c.Billing.ChargeNoticeLeadHours <= 0 {
		c.Billing.ChargeNoticeLeadHours = 72
	}
	if c.Billing.PlanChangeCooldownMinutes <= 0 {
		c.Billing.PlanChangeCooldownMinutes = 30
	}
	if c.Billing.RecognitionPrice <= 0 {
		c.Billing.RecognitionPrice = 5
	}
	if c.Billing.PollRetryHours <= 0 {
		c.Billing.PollRetryHours = 24
	}
	if c.Billing.MaxWriteRetries <= 0 {
		c.Billing.MaxWriteRetries = 3
	}
	if c.Scheduler.DispatchSpec == "" {
		c.Scheduler.DispatchSpec = "@every 1m"
	}
	if c.Scheduler.CleanupSpec == "" {
		c.Scheduler.CleanupSpec = "@hourly"
	}
	if c.Scheduler.BatchSize <= 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Scheduler.PendingCleanupHours <= 0 {
		c.Scheduler.PendingCleanupHours = 48
	}
	if c.Queue.JobQueue == "" {
		c.Queue.JobQueue = "billing_jobs"
	}
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 2
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = 5
	}
	if c.Queue.RetryBaseSeconds <= 0 {
		c.Queue.RetryBaseSeconds = 60
	}
	if c.Scheduler.StaleDispatchMinutes <= 0 {
		c.Scheduler.StaleDispatchMinutes = 30
	}
}

func Load(configPath string) (*Config, error) {
	// config.local.yaml carries real secrets and is never committed
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.BillingDefaults()

	return &cfg, nil
}

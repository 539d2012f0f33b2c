// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Rules         RulesConfig        `mapstructure:"rules"`
	Scheduler     SchedulerConfig    `mapstructure:"scheduler"`
	Contact       ContactConfig      `mapstructure:"contact"`
	Heartbeat     HeartbeatConfig    `mapstructure:"heartbeat"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Notifications NotificationConfig `mapstructure:"notifications"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	AuditIndex string   `mapstructure:"audit_index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Domain Configuration Sections ---

// RulesConfig is the initial filtering rule set. It can be replaced at
// runtime through the coordinator's update-rules command.
type RulesConfig struct {
	Keywords          []string `mapstructure:"keywords"`
	ExcludedLocations []string `mapstructure:"excluded_locations"`
	AllowedCategories []string `mapstructure:"allowed_categories"`
	MinQuantity       float64  `mapstructure:"min_quantity"`
	QuantityUnit      string   `mapstructure:"quantity_unit"`
	MinProbableValue  float64  `mapstructure:"min_probable_value"`
}

// SchedulerConfig controls cycle pacing.
type SchedulerConfig struct {
	RefreshGap      int `mapstructure:"refresh_gap"`       // milliseconds, minimum gap between source refreshes
	FlushTick       int `mapstructure:"flush_tick"`        // milliseconds, secondary filter/log tick
	PollInterval    int `mapstructure:"poll_interval"`     // milliseconds, granularity of cancellable waits
	MinLeadsOnPage  int `mapstructure:"min_leads_on_page"` // cardinality probe threshold before trusting a scrape
	SummaryCapacity int `mapstructure:"summary_capacity"`  // retained cycle summaries
	DetailCapacity  int `mapstructure:"detail_capacity"`   // retained per-lead detail blocks
}

// ContactConfig controls the contact flow executor.
type ContactConfig struct {
	ConfirmTimeout int `mapstructure:"confirm_timeout"` // milliseconds
	PollInterval   int `mapstructure:"poll_interval"`   // milliseconds
	SubmitRetries  int `mapstructure:"submit_retries"`  // extra submit attempts after a confirmation timeout
}

type HeartbeatConfig struct {
	Interval          int `mapstructure:"interval"`           // milliseconds
	InactiveThreshold int `mapstructure:"inactive_threshold"` // milliseconds without a pong before diagnostics
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// NotificationConfig holds operator notification settings (suspend/resume).
type NotificationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SES    struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
			ToEmail   string `mapstructure:"to_email"`
		} `mapstructure:"ses"`
		SNS struct {
			Enabled            bool   `mapstructure:"enabled"`
			TopicARN           string `mapstructure:"topic_arn"`
			DefaultSMSSenderID string `mapstructure:"default_sms_sender_id"`
		} `mapstructure:"sns"`
	} `mapstructure:"aws"`
}

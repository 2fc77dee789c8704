// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Registry    RegistryConfig    `mapstructure:"registry" yaml:"registry"`
	Solver      SolverConfig      `mapstructure:"solver" yaml:"solver"`
	Mailbox     MailboxConfig     `mapstructure:"mailbox" yaml:"mailbox"`
	Flow        FlowConfig        `mapstructure:"flow" yaml:"flow"`
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the browser session manager.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ProfileDir        string        `mapstructure:"profile_dir" yaml:"profile_dir"`
	DebugDir          string        `mapstructure:"debug_dir" yaml:"debug_dir"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Proxy             ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// ProxyConfig defines the configuration for an outbound proxy.
type ProxyConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Server   string `mapstructure:"server" yaml:"server"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"-"`
}

// RegistryConfig locates the static country/selector configuration and sets
// the URL composition overrides.
type RegistryConfig struct {
	Dir            string `mapstructure:"dir" yaml:"dir"`
	DefaultCountry string `mapstructure:"default_country" yaml:"default_country"`
	Origin         string `mapstructure:"origin" yaml:"origin"`
	Language       string `mapstructure:"language" yaml:"language"`
}

// SolverConfig configures the external CAPTCHA solving service client.
type SolverConfig struct {
	APIKey          string        `mapstructure:"api_key" yaml:"-"`
	CreateTaskURL   string        `mapstructure:"create_task_url" yaml:"create_task_url"`
	GetResultURL    string        `mapstructure:"get_result_url" yaml:"get_result_url"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	MaxWait         time.Duration `mapstructure:"max_wait" yaml:"max_wait"`
	PollIntervalMin time.Duration `mapstructure:"poll_interval_min" yaml:"poll_interval_min"`
	PollIntervalMax time.Duration `mapstructure:"poll_interval_max" yaml:"poll_interval_max"`
}

// MailboxConfig configures the IMAP verification-mail reader.
type MailboxConfig struct {
	Host            string   `mapstructure:"host" yaml:"host"`
	Port            int      `mapstructure:"port" yaml:"port"`
	Username        string   `mapstructure:"username" yaml:"username"`
	Password        string   `mapstructure:"password" yaml:"-"`
	Folder          string   `mapstructure:"folder" yaml:"folder"`
	SenderPatterns  []string `mapstructure:"sender_patterns" yaml:"sender_patterns"`
	SubjectKeywords []string `mapstructure:"subject_keywords" yaml:"subject_keywords"`
	TargetDomain    string   `mapstructure:"target_domain" yaml:"target_domain"`
}

// FlowConfig tunes the orchestrator wait loops. Every wait here is a ceiling;
// the loops themselves use randomized intervals.
type FlowConfig struct {
	SubmitEnableTimeout time.Duration `mapstructure:"submit_enable_timeout" yaml:"submit_enable_timeout"`
	SubmitPollInterval  time.Duration `mapstructure:"submit_poll_interval" yaml:"submit_poll_interval"`
	ContentChangeWindow time.Duration `mapstructure:"content_change_window" yaml:"content_change_window"`
	OTPWaitPerAttempt   time.Duration `mapstructure:"otp_wait_per_attempt" yaml:"otp_wait_per_attempt"`
	OTPMaxAttempts      int           `mapstructure:"otp_max_attempts" yaml:"otp_max_attempts"`
}

// CredentialsConfig carries the account credentials used by the flows.
// Typically supplied via VISAFLOW_CREDENTIALS_* environment variables.
type CredentialsConfig struct {
	Email        string `mapstructure:"email" yaml:"email"`
	Password     string `mapstructure:"password" yaml:"-"`
	MobileNumber string `mapstructure:"mobile_number" yaml:"mobile_number"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "visaflow")
	v.SetDefault("logger.log_file", "visaflow.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// Browser
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.profile_dir", "profiles")
	v.SetDefault("browser.debug_dir", "debug")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.proxy.enabled", false)

	// Registry
	v.SetDefault("registry.dir", "config")
	v.SetDefault("registry.default_country", "aut")
	v.SetDefault("registry.origin", "tur")
	v.SetDefault("registry.language", "en")

	// Solver
	v.SetDefault("solver.create_task_url", "https://api.capsolver.com/createTask")
	v.SetDefault("solver.get_result_url", "https://api.capsolver.com/getTaskResult")
	v.SetDefault("solver.request_timeout", "30s")
	v.SetDefault("solver.max_wait", "120s")
	v.SetDefault("solver.poll_interval_min", "3s")
	v.SetDefault("solver.poll_interval_max", "6s")

	// Mailbox
	v.SetDefault("mailbox.port", 993)
	v.SetDefault("mailbox.folder", "INBOX")
	v.SetDefault("mailbox.sender_patterns", []string{
		"vfsglobal.com", "vfsevisa.com", "noreply", "no-reply",
	})
	v.SetDefault("mailbox.subject_keywords", []string{
		"vfs", "verification", "verify", "otp",
		"one-time", "password", "doğrulama", "kod",
	})
	v.SetDefault("mailbox.target_domain", "visa.vfsglobal.com")

	// Flow
	v.SetDefault("flow.submit_enable_timeout", "180s")
	v.SetDefault("flow.submit_poll_interval", "3s")
	v.SetDefault("flow.content_change_window", "10s")
	v.SetDefault("flow.otp_wait_per_attempt", "60s")
	v.SetDefault("flow.otp_max_attempts", 3)
}

// BindEnv wires the viper instance to the VISAFLOW_ environment prefix so
// secrets (solver key, mailbox password, account credentials) never need to
// live in the config file.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("VISAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate checks the configuration for values that would make a flow fail in
// confusing ways later. Credential presence is checked by the flows themselves,
// at the point the credential is actually needed.
func (c *Config) Validate() error {
	if c.Registry.DefaultCountry == "" {
		return fmt.Errorf("registry.default_country must not be empty")
	}
	if len(c.Registry.DefaultCountry) != 3 {
		return fmt.Errorf("registry.default_country must be a 3-letter code, got %q", c.Registry.DefaultCountry)
	}
	if c.Solver.PollIntervalMin <= 0 || c.Solver.PollIntervalMax < c.Solver.PollIntervalMin {
		return fmt.Errorf("solver.poll_interval_min/max must be positive and ordered")
	}
	if c.Solver.MaxWait <= 0 {
		return fmt.Errorf("solver.max_wait must be a positive duration")
	}
	if c.Mailbox.Port <= 0 || c.Mailbox.Port > 65535 {
		return fmt.Errorf("mailbox.port must be a valid TCP port, got %d", c.Mailbox.Port)
	}
	if c.Flow.OTPMaxAttempts <= 0 {
		return fmt.Errorf("flow.otp_max_attempts must be a positive integer")
	}
	if c.Flow.SubmitPollInterval <= 0 {
		return fmt.Errorf("flow.submit_poll_interval must be a positive duration")
	}
	return nil
}

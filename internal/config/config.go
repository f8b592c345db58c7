// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/xkilldash9x/visa-resched/internal/appointment"
	"github.com/xkilldash9x/visa-resched/internal/network"
)

// EnvPrefix is the prefix for every environment override, e.g. VISA_RESCHED_LOGGER_LEVEL.
const EnvPrefix = "VISA_RESCHED"

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
	Timeouts     TimeoutsConfig     `mapstructure:"timeouts" yaml:"timeouts"`
	Availability AvailabilityConfig `mapstructure:"availability" yaml:"availability"`
	Calendar     CalendarConfig     `mapstructure:"calendar" yaml:"calendar"`
	Appointment  AppointmentConfig  `mapstructure:"appointment" yaml:"appointment"`
	Notify       NotifyConfig       `mapstructure:"notify" yaml:"notify"`
	Watch        WatchConfig        `mapstructure:"watch" yaml:"watch"`
}

// LoggerConfig defines all the settings for the logger.
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

// BrowserConfig controls how Chrome is launched.
type BrowserConfig struct {
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	ExecPath string `mapstructure:"exec_path" yaml:"exec_path"`
	// Args are extra command line switches, e.g. "--lang=en-US".
	Args          []string       `mapstructure:"args" yaml:"args"`
	Viewport      ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	ScreenshotDir string         `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// ViewportConfig pins the page size so elements do not move between runs.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// TimeoutsConfig holds every wait budget and settle delay used by the workflow.
type TimeoutsConfig struct {
	Element       time.Duration `mapstructure:"element" yaml:"element"`
	Navigation    time.Duration `mapstructure:"navigation" yaml:"navigation"`
	CalendarProbe time.Duration `mapstructure:"calendar_probe" yaml:"calendar_probe"`
	Settle        time.Duration `mapstructure:"settle" yaml:"settle"`
	DaySettle     time.Duration `mapstructure:"day_settle" yaml:"day_settle"`
	ConfirmSettle time.Duration `mapstructure:"confirm_settle" yaml:"confirm_settle"`
}

// AvailabilityConfig bounds the wait for the intercepted availability listing.
type AvailabilityConfig struct {
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CalendarConfig bounds the month paging loop.
type CalendarConfig struct {
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`
}

// AppointmentConfig identifies the account and appointment to act on.
type AppointmentConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Region     string `mapstructure:"region" yaml:"region"`
	ID         string `mapstructure:"id" yaml:"id"`
	ConsularID string `mapstructure:"consular_id" yaml:"consular_id"`
	Group      bool   `mapstructure:"group" yaml:"group"`
	// LimitDate is the latest acceptable date, YYYY-MM-DD.
	LimitDate string `mapstructure:"limit_date" yaml:"limit_date"`
	Username  string `mapstructure:"username" yaml:"username"`
	Password  string `mapstructure:"password" yaml:"-"`
}

// NotifyConfig configures the push notification relay.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	Token    string `mapstructure:"token" yaml:"-"`
	// User is the recipient key. Without it nothing is sent.
	User          string        `mapstructure:"user" yaml:"user"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Retries       int           `mapstructure:"retries" yaml:"retries"`
	RatePerMinute int           `mapstructure:"rate_per_minute" yaml:"rate_per_minute"`
	// Proxy routes relay traffic, e.g. http://proxy:3128. Empty uses the environment.
	Proxy string `mapstructure:"proxy" yaml:"proxy"`
}

// WatchConfig drives repeated runs.
type WatchConfig struct {
	Interval      time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxRuns       int           `mapstructure:"max_runs" yaml:"max_runs"`
	StopOnSuccess bool          `mapstructure:"stop_on_success" yaml:"stop_on_success"`
}

// NewDefaultConfig creates a configuration populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key. Every
// key needs a default so that AutomaticEnv overrides are seen by Unmarshal.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "visa-resched")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.viewport.width", 2078)
	v.SetDefault("browser.viewport.height", 1479)
	v.SetDefault("browser.screenshot_dir", "")

	// -- Timeouts --
	v.SetDefault("timeouts.element", "5s")
	v.SetDefault("timeouts.navigation", "60s")
	v.SetDefault("timeouts.calendar_probe", "100ms")
	v.SetDefault("timeouts.settle", "1s")
	v.SetDefault("timeouts.day_settle", "500ms")
	v.SetDefault("timeouts.confirm_settle", "5s")

	// -- Availability / Calendar --
	v.SetDefault("availability.poll_attempts", 10)
	v.SetDefault("availability.poll_interval", "1s")
	v.SetDefault("calendar.max_pages", 36)

	// -- Appointment --
	v.SetDefault("appointment.base_url", "https://ais.usvisa-info.com")
	v.SetDefault("appointment.region", "")
	v.SetDefault("appointment.id", "")
	v.SetDefault("appointment.consular_id", "")
	v.SetDefault("appointment.group", false)
	v.SetDefault("appointment.limit_date", "")
	v.SetDefault("appointment.username", "")
	v.SetDefault("appointment.password", "")

	// -- Notify --
	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.endpoint", "https://api.pushover.net/1/messages.json")
	v.SetDefault("notify.token", "")
	v.SetDefault("notify.user", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.retries", 2)
	v.SetDefault("notify.rate_per_minute", 30)
	v.SetDefault("notify.proxy", "")

	// -- Watch --
	v.SetDefault("watch.interval", "15m")
	v.SetDefault("watch.max_runs", 0)
	v.SetDefault("watch.stop_on_success", true)
}

// BindEnv wires the prefixed automatic environment lookup plus the explicit
// names for secrets and the variable names older deployments used.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind := func(key string, names ...string) {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	bind("appointment.username", EnvPrefix+"_APPOINTMENT_USERNAME", EnvPrefix+"_USERNAME", "US_VISA_USERNAME")
	bind("appointment.password", EnvPrefix+"_APPOINTMENT_PASSWORD", EnvPrefix+"_PASSWORD", "US_VISA_PASSWORD")
	bind("appointment.id", EnvPrefix+"_APPOINTMENT_ID", "US_VISA_APPOINTMENT_ID")
	bind("appointment.consular_id", EnvPrefix+"_APPOINTMENT_CONSULAR_ID", "US_VISA_CONSULAR_ID")
	bind("appointment.region", EnvPrefix+"_APPOINTMENT_REGION", "US_VISA_REGION")
	bind("appointment.group", EnvPrefix+"_APPOINTMENT_GROUP", "US_VISA_GROUP")
	bind("appointment.limit_date", EnvPrefix+"_APPOINTMENT_LIMIT_DATE", "US_VISA_CURRENT_DATE")
	bind("notify.token", EnvPrefix+"_NOTIFY_TOKEN")
	bind("notify.user", EnvPrefix+"_NOTIFY_USER", "USER_TOKEN")
}

// NewConfigFromViper binds the environment, unmarshals and validates.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	var err error
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("expanding logger.log_file: %w", err)
	}
	if c.Browser.ScreenshotDir, err = homedir.Expand(c.Browser.ScreenshotDir); err != nil {
		return fmt.Errorf("expanding browser.screenshot_dir: %w", err)
	}
	if c.Browser.ExecPath, err = homedir.Expand(c.Browser.ExecPath); err != nil {
		return fmt.Errorf("expanding browser.exec_path: %w", err)
	}
	return nil
}

// Validate checks the configuration for sane values. Appointment fields are
// checked separately by AppointmentContext, since not every command needs them.
func (c *Config) Validate() error {
	var errs []error
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		errs = append(errs, fmt.Errorf("browser.viewport must have positive width and height"))
	}
	for key, d := range map[string]time.Duration{
		"timeouts.element":           c.Timeouts.Element,
		"timeouts.navigation":        c.Timeouts.Navigation,
		"timeouts.calendar_probe":    c.Timeouts.CalendarProbe,
		"availability.poll_interval": c.Availability.PollInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", key))
		}
	}
	if c.Timeouts.Settle < 0 || c.Timeouts.DaySettle < 0 || c.Timeouts.ConfirmSettle < 0 {
		errs = append(errs, fmt.Errorf("settle delays must not be negative"))
	}
	if c.Availability.PollAttempts <= 0 {
		errs = append(errs, fmt.Errorf("availability.poll_attempts must be a positive integer"))
	}
	if c.Calendar.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("calendar.max_pages must be a positive integer"))
	}
	if c.Appointment.LimitDate != "" {
		if _, err := appointment.ParseISODate(c.Appointment.LimitDate); err != nil {
			errs = append(errs, fmt.Errorf("appointment.limit_date: %w", err))
		}
	}
	if c.Notify.Enabled && c.Notify.Endpoint == "" {
		errs = append(errs, fmt.Errorf("notify.endpoint is required when notifications are enabled"))
	}
	if c.Notify.Retries < 0 || c.Notify.RatePerMinute < 0 {
		errs = append(errs, fmt.Errorf("notify.retries and notify.rate_per_minute must not be negative"))
	}
	if _, err := network.ParseProxy(c.Notify.Proxy); err != nil {
		errs = append(errs, fmt.Errorf("notify.proxy: %w", err))
	}
	if c.Watch.Interval <= 0 {
		errs = append(errs, fmt.Errorf("watch.interval must be a positive duration"))
	}
	return errors.Join(errs...)
}

// AppointmentContext builds the immutable per-run input for run runID.
func (c *Config) AppointmentContext(runID uint64) (appointment.Context, error) {
	limit, err := appointment.ParseISODate(c.Appointment.LimitDate)
	if err != nil && c.Appointment.LimitDate != "" {
		return appointment.Context{}, fmt.Errorf("appointment.limit_date: %w", err)
	}
	apt := appointment.Context{
		RunID:         runID,
		Limit:         limit,
		Username:      c.Appointment.Username,
		Password:      c.Appointment.Password,
		AppointmentID: c.Appointment.ID,
		ConsularID:    c.Appointment.ConsularID,
		Region:        c.Appointment.Region,
		Group:         c.Appointment.Group,
		NotifyAddress: c.Notify.User,
	}
	if err := apt.Validate(); err != nil {
		return appointment.Context{}, fmt.Errorf("incomplete appointment configuration: %w", err)
	}
	return apt, nil
}

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // scheduler timezone must resolve on hosts without zoneinfo

	"campus/internal/logging"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Chat      *ChatConfig      `json:"chat"`
	Scheduler *SchedulerConfig `json:"scheduler"`
	Notifier  *NotifierConfig  `json:"notifier"`
	Logging   *logging.Config  `json:"logging"`
}

type DatabaseConfig struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// Addr is the listen address.
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// ChatConfig tunes the broadcast relay.
type ChatConfig struct {
	RatePerSec   float64 `json:"rate_per_sec"`
	Burst        int     `json:"burst"`
	HistoryLimit int     `json:"history_limit"`
	QueueSize    int     `json:"queue_size"`
}

// SchedulerConfig tunes the reminder scheduler.
type SchedulerConfig struct {
	Enabled      bool          `json:"enabled"`
	TickInterval time.Duration `json:"tick_interval"`
	LeadWindow   time.Duration `json:"lead_window"`
	Timezone     string        `json:"timezone"`
	SendTimeout  time.Duration `json:"send_timeout"`
}

// Location resolves Timezone.
func (s *SchedulerConfig) Location() (*time.Location, error) {
	return time.LoadLocation(s.Timezone)
}

// Notifier drivers.
const (
	NotifierConsole  = "console"
	NotifierSendGrid = "sendgrid"
	NotifierSMTP     = "smtp"
)

// NotifierConfig selects and configures the reminder delivery channel.
type NotifierConfig struct {
	Driver         string `json:"driver"`
	FromAddress    string `json:"from_address"`
	FromName       string `json:"from_name"`
	SendGridAPIKey string `json:"sendgrid_api_key"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"smtp_password"`
}

// FUNCTIONAL DISCOVERY: reminders fire once a minute for classes starting within
// ten minutes, measured on Beijing wall-clock time
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:           "./data/campus.db",
			MaxConnections: 10,
		},
		HTTP: &HTTPConfig{
			Port:         5000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Chat: &ChatConfig{
			RatePerSec:   5,
			Burst:        10,
			HistoryLimit: 50,
			QueueSize:    1000,
		},
		Scheduler: &SchedulerConfig{
			Enabled:      true,
			TickInterval: time.Minute,
			LeadWindow:   10 * time.Minute,
			Timezone:     "Asia/Shanghai",
			SendTimeout:  30 * time.Second,
		},
		Notifier: &NotifierConfig{
			Driver:   NotifierConsole,
			FromName: "Campus",
			SMTPPort: 465,
		},
		Logging: &logging.Config{
			Level:   "info",
			Console: true,
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Chat == nil {
		return fmt.Errorf("chat configuration is required")
	}
	if c.Chat.RatePerSec <= 0 || c.Chat.Burst <= 0 {
		return fmt.Errorf("chat rate and burst must be positive")
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat history limit cannot be negative")
	}
	if c.Chat.HistoryLimit > c.WebSocket.BufferSize {
		return fmt.Errorf("chat history limit cannot exceed the WebSocket buffer size")
	}
	if c.Chat.QueueSize <= 0 {
		return fmt.Errorf("chat queue size must be positive")
	}

	if c.Scheduler == nil {
		return fmt.Errorf("scheduler configuration is required")
	}
	if c.Scheduler.TickInterval < time.Second {
		return fmt.Errorf("scheduler tick interval must be at least 1s")
	}
	if c.Scheduler.LeadWindow <= 0 {
		return fmt.Errorf("scheduler lead window must be positive")
	}
	if c.Scheduler.SendTimeout <= 0 {
		return fmt.Errorf("scheduler send timeout must be positive")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return fmt.Errorf("scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	if c.Notifier == nil {
		return fmt.Errorf("notifier configuration is required")
	}
	switch c.Notifier.Driver {
	case NotifierConsole:
	case NotifierSendGrid:
		if c.Notifier.SendGridAPIKey == "" || c.Notifier.FromAddress == "" {
			return fmt.Errorf("sendgrid notifier requires an API key and a from address")
		}
	case NotifierSMTP:
		if c.Notifier.SMTPHost == "" || c.Notifier.FromAddress == "" {
			return fmt.Errorf("smtp notifier requires a host and a from address")
		}
		if c.Notifier.SMTPPort <= 0 || c.Notifier.SMTPPort > 65535 {
			return fmt.Errorf("smtp port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("unknown notifier driver %q", c.Notifier.Driver)
	}

	if c.Logging == nil {
		return fmt.Errorf("logging configuration is required")
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values are ignored and the previous value is kept
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("CAMPUS_DATABASE_PATH", &config.Database.Path)
	envInt("CAMPUS_DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)

	envInt("CAMPUS_HTTP_PORT", &config.HTTP.Port)
	envString("CAMPUS_HTTP_HOST", &config.HTTP.Host)
	envDuration("CAMPUS_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("CAMPUS_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envDuration("CAMPUS_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("CAMPUS_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("CAMPUS_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("CAMPUS_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	envFloat("CAMPUS_CHAT_RATE_PER_SEC", &config.Chat.RatePerSec)
	envInt("CAMPUS_CHAT_BURST", &config.Chat.Burst)
	envInt("CAMPUS_CHAT_HISTORY_LIMIT", &config.Chat.HistoryLimit)
	envInt("CAMPUS_CHAT_QUEUE_SIZE", &config.Chat.QueueSize)

	envBool("CAMPUS_SCHEDULER_ENABLED", &config.Scheduler.Enabled)
	envDuration("CAMPUS_SCHEDULER_TICK_INTERVAL", &config.Scheduler.TickInterval)
	envDuration("CAMPUS_SCHEDULER_LEAD_WINDOW", &config.Scheduler.LeadWindow)
	envString("CAMPUS_SCHEDULER_TIMEZONE", &config.Scheduler.Timezone)
	envDuration("CAMPUS_SCHEDULER_SEND_TIMEOUT", &config.Scheduler.SendTimeout)

	envString("CAMPUS_NOTIFIER_DRIVER", &config.Notifier.Driver)
	envString("CAMPUS_NOTIFIER_FROM_ADDRESS", &config.Notifier.FromAddress)
	envString("CAMPUS_NOTIFIER_FROM_NAME", &config.Notifier.FromName)
	envString("CAMPUS_SENDGRID_API_KEY", &config.Notifier.SendGridAPIKey)
	envString("CAMPUS_SMTP_HOST", &config.Notifier.SMTPHost)
	envInt("CAMPUS_SMTP_PORT", &config.Notifier.SMTPPort)
	envString("CAMPUS_SMTP_USERNAME", &config.Notifier.SMTPUsername)
	envString("CAMPUS_SMTP_PASSWORD", &config.Notifier.SMTPPassword)

	envString("CAMPUS_LOG_LEVEL", &config.Logging.Level)
	envBool("CAMPUS_LOG_CONSOLE", &config.Logging.Console)
	envString("CAMPUS_LOG_FILE", &config.Logging.File)
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the on-disk structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for parsing to handle duration strings,
// pointer fields distinguish "absent" from zero values
type ConfigFile struct {
	Database  *DatabaseConfigFile  `json:"database"`
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Chat      *ChatConfigFile      `json:"chat"`
	Scheduler *SchedulerConfigFile `json:"scheduler"`
	Notifier  *NotifierConfigFile  `json:"notifier"`
	Logging   *LoggingConfigFile   `json:"logging"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type ChatConfigFile struct {
	RatePerSec   float64 `json:"rate_per_sec"`
	Burst        int     `json:"burst"`
	HistoryLimit *int    `json:"history_limit"`
	QueueSize    int     `json:"queue_size"`
}

type SchedulerConfigFile struct {
	Enabled      *bool  `json:"enabled"`
	TickInterval string `json:"tick_interval"`
	LeadWindow   string `json:"lead_window"`
	Timezone     string `json:"timezone"`
	SendTimeout  string `json:"send_timeout"`
}

type NotifierConfigFile struct {
	Driver         string `json:"driver"`
	FromAddress    string `json:"from_address"`
	FromName       string `json:"from_name"`
	SendGridAPIKey string `json:"sendgrid_api_key"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"smtp_password"`
}

type LoggingConfigFile struct {
	Level   string `json:"level"`
	Console *bool  `json:"console"`
	File    string `json:"file"`
}

// LoadFromFile reads a JSON or YAML file (by extension) over the defaults.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	data, _, err = coerceToJSONBytes(path, data)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var cf ConfigFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cf); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cf.apply(config)
}

func parseDuration(field, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

func setString(src string, dst *string) {
	if src != "" {
		*dst = src
	}
}

func setInt(src int, dst *int) {
	if src > 0 {
		*dst = src
	}
}

func (cf *ConfigFile) apply(config *Config) error {
	if db := cf.Database; db != nil {
		setString(db.Path, &config.Database.Path)
		setInt(db.MaxConnections, &config.Database.MaxConnections)
	}

	if h := cf.HTTP; h != nil {
		setInt(h.Port, &config.HTTP.Port)
		setString(h.Host, &config.HTTP.Host)
		if err := parseDuration("http.read_timeout", h.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("http.write_timeout", h.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return err
		}
	}

	if ws := cf.WebSocket; ws != nil {
		setInt(ws.BufferSize, &config.WebSocket.BufferSize)
		if err := parseDuration("websocket.ping_interval", ws.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return err
		}
		if err := parseDuration("websocket.read_timeout", ws.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("websocket.write_timeout", ws.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return err
		}
	}

	if ch := cf.Chat; ch != nil {
		if ch.RatePerSec > 0 {
			config.Chat.RatePerSec = ch.RatePerSec
		}
		setInt(ch.Burst, &config.Chat.Burst)
		setInt(ch.QueueSize, &config.Chat.QueueSize)
		if ch.HistoryLimit != nil {
			config.Chat.HistoryLimit = *ch.HistoryLimit
		}
	}

	if s := cf.Scheduler; s != nil {
		if s.Enabled != nil {
			config.Scheduler.Enabled = *s.Enabled
		}
		setString(s.Timezone, &config.Scheduler.Timezone)
		if err := parseDuration("scheduler.tick_interval", s.TickInterval, &config.Scheduler.TickInterval); err != nil {
			return err
		}
		if err := parseDuration("scheduler.lead_window", s.LeadWindow, &config.Scheduler.LeadWindow); err != nil {
			return err
		}
		if err := parseDuration("scheduler.send_timeout", s.SendTimeout, &config.Scheduler.SendTimeout); err != nil {
			return err
		}
	}

	if n := cf.Notifier; n != nil {
		setString(n.Driver, &config.Notifier.Driver)
		setString(n.FromAddress, &config.Notifier.FromAddress)
		setString(n.FromName, &config.Notifier.FromName)
		setString(n.SendGridAPIKey, &config.Notifier.SendGridAPIKey)
		setString(n.SMTPHost, &config.Notifier.SMTPHost)
		setInt(n.SMTPPort, &config.Notifier.SMTPPort)
		setString(n.SMTPUsername, &config.Notifier.SMTPUsername)
		setString(n.SMTPPassword, &config.Notifier.SMTPPassword)
	}

	if l := cf.Logging; l != nil {
		setString(l.Level, &config.Logging.Level)
		setString(l.File, &config.Logging.File)
		if l.Console != nil {
			config.Logging.Console = *l.Console
		}
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Configuration precedence: file > environment > defaults
// A missing or broken file is an error once a path is given
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

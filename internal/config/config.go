// Package config loads the bot configuration from YAML with environment
// variable overrides, and hot-reloads it when the file changes.
package config

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Salla     SallaConfig     `mapstructure:"salla"`
	Google    GoogleConfig    `mapstructure:"google"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Directory DirectoryConfig `mapstructure:"directory"`
	Store     StoreConfig     `mapstructure:"store"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Replies   RepliesConfig   `mapstructure:"replies"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type SallaConfig struct {
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	BaseURL         string        `mapstructure:"base_url"`
	TokenURL        string        `mapstructure:"token_url"`
	AccountID       string        `mapstructure:"account_id"`
	CompletedLabel  string        `mapstructure:"completed_label"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
	RefreshLead     time.Duration `mapstructure:"refresh_lead"`
}

type GoogleConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	RedirectURL  string        `mapstructure:"redirect_url"`
	StateSecret  string        `mapstructure:"state_secret"`
	StateTTL     time.Duration `mapstructure:"state_ttl"`
}

type MailboxConfig struct {
	AccountType string     `mapstructure:"account_type"`
	SearchTerm  string     `mapstructure:"search_term"`
	IMAP        IMAPConfig `mapstructure:"imap"`
	POP3        POP3Config `mapstructure:"pop3"`
}

type IMAPConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Folder string `mapstructure:"folder"`
}

type POP3Config struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  bool   `mapstructure:"tls"`
}

type VerifyConfig struct {
	Deadline   time.Duration `mapstructure:"deadline"`
	Interval   time.Duration `mapstructure:"interval"`
	MinCodeLen int           `mapstructure:"min_code_len"`
	MaxCodeLen int           `mapstructure:"max_code_len"`
}

type DirectoryConfig struct {
	Path           string `mapstructure:"path"`
	ReloadSchedule string `mapstructure:"reload_schedule"`
}

type StoreConfig struct {
	Dir string `mapstructure:"dir"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RepliesConfig struct {
	Path string `mapstructure:"path"`
}

// Manager owns the viper instance and the current snapshot.
type Manager struct {
	v      *viper.Viper
	logger *log.Logger

	mu      sync.RWMutex
	current *Config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 4200)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	// Empty defaults keep env-only overrides visible to Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("salla.client_id", "")
	v.SetDefault("salla.client_secret", "")
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.redirect_url", "")
	v.SetDefault("google.state_secret", "")
	v.SetDefault("mailbox.imap.host", "")
	v.SetDefault("mailbox.pop3.host", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("replies.path", "")
	v.SetDefault("salla.base_url", "https://api.salla.dev/admin/v2")
	v.SetDefault("salla.token_url", "https://accounts.salla.sa/oauth2/token")
	v.SetDefault("salla.account_id", "salla")
	v.SetDefault("salla.completed_label", "تم التنفيذ")
	v.SetDefault("salla.refresh_schedule", "0 */15 * * * *")
	v.SetDefault("salla.refresh_lead", 24*time.Hour)
	v.SetDefault("google.state_ttl", 10*time.Minute)
	v.SetDefault("mailbox.account_type", "gmail")
	v.SetDefault("mailbox.search_term", "verification")
	v.SetDefault("mailbox.imap.port", 993)
	v.SetDefault("mailbox.imap.folder", "INBOX")
	v.SetDefault("mailbox.pop3.port", 995)
	v.SetDefault("mailbox.pop3.tls", true)
	v.SetDefault("verify.deadline", 2*time.Minute)
	v.SetDefault("verify.interval", 5*time.Second)
	v.SetDefault("verify.min_code_len", 3)
	v.SetDefault("verify.max_code_len", 7)
	v.SetDefault("directory.path", "accounts.xlsx")
	v.SetDefault("directory.reload_schedule", "0 */5 * * * *")
	v.SetDefault("store.dir", "data/credentials")
	v.SetDefault("cache.backend", "local")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.redis.addr", "localhost:6379")
}

// Load reads the config file at path (optional; defaults apply when empty or
// missing) with SALLABOT_* environment overrides.
func Load(path string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.Default()
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/sallabot")
	}

	setDefaults(v)

	v.SetEnvPrefix("SALLABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &Manager{v: v, logger: logger, current: cfg}, nil
}

// Config returns the current snapshot.
func (m *Manager) Config() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Watch reloads the snapshot when the config file changes on disk. A file
// that fails to parse leaves the previous snapshot in service.
func (m *Manager) Watch() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		next := &Config{}
		if err := m.v.Unmarshal(next); err != nil {
			m.logger.Printf("config: reload %s failed: %v", e.Name, err)
			return
		}
		m.mu.Lock()
		m.current = next
		m.mu.Unlock()
		m.logger.Printf("config: reloaded from %s", e.Name)
	})
	m.v.WatchConfig()
}

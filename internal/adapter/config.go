package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default NNTP ports
const (
	defaultNewsPort  = 119
	defaultSnewsPort = 563
)

// Config holds all application configuration
type Config struct {
	News    NewsConfig    `mapstructure:"news"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// NewsConfig holds news server and newsrc configuration
type NewsConfig struct {
	Server           string        `mapstructure:"server"`            // news://[user@]host[:port]
	Newsrc           string        `mapstructure:"newsrc"`            // path pattern, see ExpandNewsrcPath
	CacheDir         string        `mapstructure:"cache_dir"`         // empty disables caching
	SaveUnsubscribed bool          `mapstructure:"save_unsubscribed"` // keep ranges and caches of unsubscribed groups
	MarkOld          bool          `mapstructure:"mark_old"`
	LockTimeout      time.Duration `mapstructure:"lock_timeout"` // 0 waits forever
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		News: NewsConfig{
			Server:      "news://localhost",
			Newsrc:      "~/.newsrc",
			CacheDir:    defaultCachePath(),
			LockTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			File:  defaultLogPath(),
			Level: "INFO",
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "nntpsync", "nntpsync.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "nntpsync", "nntpsync.log")
	}
}

// defaultConfigPath returns the default config directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "nntpsync")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "nntpsync")
	}
}

// defaultCachePath returns the default news cache directory for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "nntpsync", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "nntpsync", "cache")
	}
}

func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Defaults double as the key list AutomaticEnv consults
	v.SetDefault("news.server", cfg.News.Server)
	v.SetDefault("news.newsrc", cfg.News.Newsrc)
	v.SetDefault("news.cache_dir", cfg.News.CacheDir)
	v.SetDefault("news.save_unsubscribed", cfg.News.SaveUnsubscribed)
	v.SetDefault("news.mark_old", cfg.News.MarkOld)
	v.SetDefault("news.lock_timeout", cfg.News.LockTimeout)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.level", cfg.Logging.Level)

	// Environment variable overrides, e.g. NNTPSYNC_NEWS_SERVER
	v.SetEnvPrefix("NNTPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from file and environment. An empty path
// searches the default config directory and the working directory.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper(cfg)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(defaultConfigPath())
		v.AddConfigPath(".")
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes cfg to path, or to the default config directory when
// path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = filepath.Join(defaultConfigPath(), "config.yaml")
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("news.server", cfg.News.Server)
	v.Set("news.newsrc", cfg.News.Newsrc)
	v.Set("news.cache_dir", cfg.News.CacheDir)
	v.Set("news.save_unsubscribed", cfg.News.SaveUnsubscribed)
	v.Set("news.mark_old", cfg.News.MarkOld)
	v.Set("news.lock_timeout", cfg.News.LockTimeout.String())
	v.Set("logging.file", cfg.Logging.File)
	v.Set("logging.level", cfg.Logging.Level)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ServerAccount is the parsed form of a news server URL.
type ServerAccount struct {
	Scheme   string // "news" or "snews"
	User     string
	Host     string
	Port     int
	HasPort  bool // port given explicitly in the URL
	Original string
}

// ParseServerURL parses "news://[user@]host[:port]" or the snews/nntp/nntps
// equivalents. A bare host is taken as news://host.
func ParseServerURL(raw string) (*ServerAccount, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty server url")
	}
	if !strings.Contains(raw, "://") {
		raw = "news://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", raw, err)
	}

	acct := &ServerAccount{Original: raw, Host: strings.ToLower(u.Hostname())}
	switch strings.ToLower(u.Scheme) {
	case "news", "nntp":
		acct.Scheme, acct.Port = "news", defaultNewsPort
	case "snews", "nntps":
		acct.Scheme, acct.Port = "snews", defaultSnewsPort
	default:
		return nil, fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if acct.Host == "" {
		return nil, fmt.Errorf("server url %q has no host", raw)
	}
	if u.User != nil {
		acct.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port in %q: %w", raw, err)
		}
		acct.Port, acct.HasPort = port, true
	}
	return acct, nil
}

// Account renders "[user@]host[:port]" with the port only when explicit.
func (a *ServerAccount) Account() string {
	s := a.Host
	if a.User != "" {
		s = a.User + "@" + s
	}
	if a.HasPort {
		s += ":" + strconv.Itoa(a.Port)
	}
	return s
}

// ExpandNewsrcPath expands a newsrc path pattern for one server:
//
//	%a  account, [user@]host[:port]
//	%p  port
//	%P  port if given in the URL
//	%s  server host name
//	%S  URL scheme
//	%u  user name
//	%%  literal percent
//
// A leading ~ is replaced by the home directory.
func ExpandNewsrcPath(pattern, serverURL string) (string, error) {
	acct, err := ParseServerURL(serverURL)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		if c != '%' || i+1 == len(pattern) {
			b.WriteByte(c)
			continue
		}
		i++
		switch pattern[i] {
		case 'a':
			b.WriteString(acct.Account())
		case 'p':
			b.WriteString(strconv.Itoa(acct.Port))
		case 'P':
			if acct.HasPort {
				b.WriteString(strconv.Itoa(acct.Port))
			}
		case 's':
			b.WriteString(acct.Host)
		case 'S':
			b.WriteString(acct.Scheme)
		case 'u':
			b.WriteString(acct.User)
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(pattern[i])
		}
	}
	return ExpandHome(b.String())
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

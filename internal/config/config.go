package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GRAPPLE_WEB_ADDR.
const EnvPrefix = "GRAPPLE"

// Keys as they appear in the config file. Nested keys map to env vars with
// "." replaced by "_".
const (
	KeyPort             = "port"
	KeyMockEnabled      = "mock.enabled"
	KeyMockControlAddr  = "mock.control_addr"
	KeyMockInterval     = "mock.interval"
	KeyWebAddr          = "web.addr"
	KeyLogFile          = "log.file"
	KeyLogMaxSizeMB     = "log.max_size_mb"
	KeyLogMaxBackups    = "log.max_backups"
	KeyChartPoints      = "chart.points"
	KeyRawMaxBytes      = "raw.max_bytes"
	defaultConfigName   = "config"
	defaultConfigFolder = ".grapple-monitor"
)

type Config struct {
	// Port is the serial port to use; empty auto-selects.
	Port  string      `mapstructure:"port"`
	Mock  MockConfig  `mapstructure:"mock"`
	Web   WebConfig   `mapstructure:"web"`
	Log   LogConfig   `mapstructure:"log"`
	Chart ChartConfig `mapstructure:"chart"`
	Raw   RawConfig   `mapstructure:"raw"`
}

type MockConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ControlAddr string        `mapstructure:"control_addr"`
	Interval    time.Duration `mapstructure:"interval"`
}

type WebConfig struct {
	// Addr enables the browser feed when set.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type ChartConfig struct {
	Points int `mapstructure:"points"`
}

type RawConfig struct {
	MaxBytes int `mapstructure:"max_bytes"`
}

// DefaultDir is ~/.grapple-monitor
func DefaultDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, defaultConfigFolder)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, "")
	v.SetDefault(KeyMockEnabled, false)
	v.SetDefault(KeyMockControlAddr, "127.0.0.1:8091")
	v.SetDefault(KeyMockInterval, time.Second)
	v.SetDefault(KeyWebAddr, "")
	v.SetDefault(KeyLogFile, filepath.Join(DefaultDir(), "grapple-monitor.log"))
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyChartPoints, 60)
	v.SetDefault(KeyRawMaxBytes, 8*1024)
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"port":              KeyPort,
	"mock":              KeyMockEnabled,
	"mock-control-addr": KeyMockControlAddr,
	"mock-interval":     KeyMockInterval,
	"web-addr":          KeyWebAddr,
	"log-file":          KeyLogFile,
	"chart-points":      KeyChartPoints,
}

// RegisterFlags adds the flags Loader.BindFlags knows about to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file (default ~/.grapple-monitor/config.yaml)")
	fs.StringP("port", "p", "", "serial port to open (default: auto-select a Pico)")
	fs.Bool("mock", false, "use a simulated device instead of a serial port")
	fs.String("mock-control-addr", "", "listen address of the simulated device's control page")
	fs.Duration("mock-interval", 0, "interval between simulated frames")
	fs.String("web-addr", "", "serve the browser feed on this address")
	fs.String("log-file", "", "log file path")
	fs.Int("chart-points", 0, "samples shown in the heart-rate chart")
}

// Loader reads configuration from defaults, file, environment and flags,
// in increasing order of precedence.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger
	mu     sync.Mutex
}

func NewLoader(logger *log.Logger) *Loader {
	if logger == nil {
		panic("config.Loader: logger cannot be nil")
	}
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v, logger: logger}
}

// BindFlags makes flags set on the command line override every other source.
// Flags that were not changed fall through to file and environment.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads configFile, or config.yaml from DefaultDir when empty. A
// missing default file is not an error; a missing explicit one is.
func (l *Loader) Load(configFile string) (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if configFile != "" {
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(defaultConfigName)
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(DefaultDir())
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		l.logger.Printf("config: no config file, using defaults")
	} else {
		l.logger.Printf("config: loaded %s", l.v.ConfigFileUsed())
	}

	return l.decodeLocked()
}

// decodeLocked must be called with mu held
func (l *Loader) decodeLocked() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch calls fn with the reloaded config whenever the config file changes.
// Invalid edits are logged and skipped. Without a config file it does
// nothing and reports false.
func (l *Loader) Watch(fn func(Config)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.v.ConfigFileUsed() == "" {
		return false
	}
	if _, err := os.Stat(l.v.ConfigFileUsed()); err != nil {
		return false
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		cfg, err := l.decodeLocked()
		l.mu.Unlock()
		if err != nil {
			l.logger.Printf("config: ignoring change to %s: %v", e.Name, err)
			return
		}
		l.logger.Printf("config: reloaded %s", e.Name)
		fn(cfg)
	})
	l.v.WatchConfig()
	return true
}

func (c Config) Validate() error {
	if c.Chart.Points <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyChartPoints, c.Chart.Points)
	}
	if c.Raw.MaxBytes <= 0 {
		return fmt.Errorf("%s must be positive, got %d", KeyRawMaxBytes, c.Raw.MaxBytes)
	}
	if c.Mock.Interval < 0 {
		return fmt.Errorf("%s must not be negative, got %s", KeyMockInterval, c.Mock.Interval)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("log rotation limits must not be negative")
	}
	return nil
}

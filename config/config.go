package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"headersmanager/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultQuotaBytes is the hard quota of the synced backend.
const DefaultQuotaBytes = 102400

// Synced backend kinds for storage.primary.
const (
	PrimarySQLite = "sqlite"
	PrimaryRedis  = "redis"
	PrimaryMemory = "memory"
)

// DefaultThresholdRatio is the share of the quota above which data moves to local storage.
const DefaultThresholdRatio = 0.8

type DefaultPaths struct {
	ConfigDir    string
	EnvFilePath  string
	LogPathApp   string
	LogPathProxy string
	CACertPath   string
	CAKeyPath    string
	DBPath       string
	LogLevel     string
}

type Configuration struct {
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Server struct {
		Port    string `mapstructure:"port"`
		LogPath string `mapstructure:"log_path"`
	} `mapstructure:"server"`
	Proxy struct {
		Port       string `mapstructure:"port"`
		CACertPath string `mapstructure:"ca_cert_path"`
		CAKeyPath  string `mapstructure:"ca_key_path"`
		LogPath    string `mapstructure:"log_path"`
	} `mapstructure:"proxy"`
	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
	Storage struct {
		QuotaBytes     int64   `mapstructure:"quota_bytes"`
		ThresholdRatio float64 `mapstructure:"threshold_ratio"`
		Primary        string  `mapstructure:"primary"` // sqlite, redis or memory
		Redis          struct {
			Addr      string `mapstructure:"addr"`
			Password  string `mapstructure:"password"`
			DB        int    `mapstructure:"db"`
			Namespace string `mapstructure:"namespace"`
		} `mapstructure:"redis"`
	} `mapstructure:"storage"`
	Reload struct {
		SettleDelay time.Duration `mapstructure:"settle_delay"`
	} `mapstructure:"reload"`
}

var AppConfig Configuration

func expandTilde(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, path[1:]), nil
}

// ExpandTilde is exported for the cmd package flag handling.
func ExpandTilde(path string) (string, error) {
	return expandTilde(path)
}

func GetDefaultConfigPaths() DefaultPaths {
	var paths DefaultPaths
	userConfigDirBase, err := os.UserConfigDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not get user config dir: %v. Using current directory.\n", err)
		userConfigDirBase = "."
	}

	userConfigDir, err := expandTilde(userConfigDirBase)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in user config dir '%s': %v. Using potentially literal path.\n", userConfigDirBase, err)
		userConfigDir = userConfigDirBase
	}

	paths.ConfigDir = filepath.Join(userConfigDir, "headersmanager")
	logDir := filepath.Join(paths.ConfigDir, "logs")

	paths.EnvFilePath = filepath.Join(paths.ConfigDir, ".env")
	paths.LogPathApp = filepath.Join(logDir, "app.log")
	paths.LogPathProxy = filepath.Join(logDir, "proxy.log")
	paths.CACertPath = filepath.Join(paths.ConfigDir, "headersmanager-ca.crt")
	paths.CAKeyPath = filepath.Join(paths.ConfigDir, "headersmanager-ca.key")
	paths.DBPath = filepath.Join(paths.ConfigDir, "headersmanager.db")
	paths.LogLevel = "INFO"
	return paths
}

// newViper builds a viper instance with every default registered.
func newViper(defaults DefaultPaths) *viper.Viper {
	v := viper.New()
	v.SetDefault("database.path", defaults.DBPath)
	v.SetDefault("server.port", "8778")
	v.SetDefault("server.log_path", defaults.LogPathApp)
	v.SetDefault("proxy.port", "8777")
	v.SetDefault("proxy.ca_cert_path", defaults.CACertPath)
	v.SetDefault("proxy.ca_key_path", defaults.CAKeyPath)
	v.SetDefault("proxy.log_path", defaults.LogPathProxy)
	v.SetDefault("logging.level", defaults.LogLevel)
	v.SetDefault("storage.quota_bytes", DefaultQuotaBytes)
	v.SetDefault("storage.threshold_ratio", DefaultThresholdRatio)
	v.SetDefault("storage.primary", PrimarySQLite)
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.namespace", "headersmanager")
	v.SetDefault("reload.settle_delay", 100*time.Millisecond)

	v.SetEnvPrefix("HEADERSMANAGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration without touching loggers or the filesystem beyond reading.
func Load(cfgFile string) (Configuration, string, error) {
	defaults := GetDefaultConfigPaths()

	// .env files only seed the environment; real env vars keep priority.
	for _, envPath := range []string{defaults.EnvFilePath, ".env"} {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Could not load env file %s: %v\n", envPath, err)
			}
		}
	}

	v := newViper(defaults)
	if cfgFile != "" {
		expandedCfgFile, err := expandTilde(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in config file path '%s': %v. Trying original path.\n", cfgFile, err)
			expandedCfgFile = cfgFile
		}
		v.SetConfigFile(expandedCfgFile)
		v.SetConfigType("yaml")
	} else {
		v.AddConfigPath(defaults.ConfigDir)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	configUsedMsg := "Using default/environment configuration."
	readErr := v.ReadInConfig()
	if readErr == nil {
		configUsedMsg = fmt.Sprintf("Using config file: %s", v.ConfigFileUsed())
	} else if _, ok := readErr.(viper.ConfigFileNotFoundError); !ok || cfgFile != "" {
		return Configuration{}, "", fmt.Errorf("reading config file: %w", readErr)
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return Configuration{}, "", fmt.Errorf("unable to decode config into struct: %w", err)
	}

	var err error
	if cfg.Database.Path, err = expandTilde(cfg.Database.Path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in database.path '%s': %v.\n", cfg.Database.Path, err)
	}
	if cfg.Proxy.CACertPath, err = expandTilde(cfg.Proxy.CACertPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in proxy.ca_cert_path '%s': %v.\n", cfg.Proxy.CACertPath, err)
	}
	if cfg.Proxy.CAKeyPath, err = expandTilde(cfg.Proxy.CAKeyPath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in proxy.ca_key_path '%s': %v.\n", cfg.Proxy.CAKeyPath, err)
	}

	if cfg.Storage.QuotaBytes <= 0 {
		cfg.Storage.QuotaBytes = DefaultQuotaBytes
	}
	if cfg.Storage.ThresholdRatio <= 0 || cfg.Storage.ThresholdRatio > 1 {
		cfg.Storage.ThresholdRatio = DefaultThresholdRatio
	}
	cfg.Storage.Primary = strings.ToLower(strings.TrimSpace(cfg.Storage.Primary))
	switch cfg.Storage.Primary {
	case PrimarySQLite, PrimaryRedis, PrimaryMemory:
	case "":
		cfg.Storage.Primary = PrimarySQLite
	default:
		return Configuration{}, "", fmt.Errorf("unknown storage.primary %q (want sqlite, redis or memory)", cfg.Storage.Primary)
	}
	if cfg.Storage.Primary == PrimaryRedis && cfg.Storage.Redis.Addr == "" {
		return Configuration{}, "", fmt.Errorf("storage.primary is redis but storage.redis.addr is empty")
	}
	if cfg.Reload.SettleDelay < 0 {
		cfg.Reload.SettleDelay = 0
	}
	return cfg, configUsedMsg, nil
}

func Init(cfgFile string, flagAppLogPath, flagProxyLogPath, flagLogLevel string) error {
	cfg, configUsedMsg, err := Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: %v\n", err)
		return err
	}
	AppConfig = cfg

	// Apply flag overrides
	if flagAppLogPath != "" {
		if expandedPath, err := expandTilde(flagAppLogPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in --app-log path '%s': %v. Using original path.\n", flagAppLogPath, err)
			AppConfig.Server.LogPath = flagAppLogPath
		} else {
			AppConfig.Server.LogPath = expandedPath
		}
	}
	if flagProxyLogPath != "" {
		if expandedPath, err := expandTilde(flagProxyLogPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not expand tilde in --proxy-log path '%s': %v. Using original path.\n", flagProxyLogPath, err)
			AppConfig.Proxy.LogPath = flagProxyLogPath
		} else {
			AppConfig.Proxy.LogPath = expandedPath
		}
	}
	if flagLogLevel != "" {
		AppConfig.Logging.Level = strings.ToUpper(flagLogLevel)
	}

	if err := os.MkdirAll(GetDefaultConfigPaths().ConfigDir, 0750); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not create main config directory: %v\n", err)
	}

	if err := logger.InitGlobalLoggers(AppConfig.Server.LogPath, AppConfig.Proxy.LogPath, AppConfig.Logging.Level); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to initialize global loggers with final config: %v\n", err)
		return fmt.Errorf("failed to initialize global loggers with final config: %w", err)
	}

	logger.Info(configUsedMsg)
	if flagAppLogPath != "" || flagProxyLogPath != "" || flagLogLevel != "" {
		logger.Info("Log path/level flags may have overridden config file/defaults.")
	}
	if AppConfig.Storage.Primary == PrimaryRedis {
		logger.Info("Synced storage backend: redis at %s (namespace %s)", AppConfig.Storage.Redis.Addr, AppConfig.Storage.Redis.Namespace)
	} else {
		logger.Info("Synced storage backend: %s", AppConfig.Storage.Primary)
	}
	logger.Debug("Final AppConfig Initialized: %+v", AppConfig)
	return nil
}

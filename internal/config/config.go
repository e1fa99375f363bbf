// quickdb: distributed analytical query engine over sharded catalogs
// SPDX-License-Identifier: MIT
//
// Master and worker configuration loading and validation.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MasterConfig configures the HTTP job service (C9) and the scatter
// engine (C7): which workers to fan out to, and how to listen for
// client requests.
type MasterConfig struct {
	Bind             string   `mapstructure:"bind"`
	Port             int      `mapstructure:"port"`
	Workers          []string `mapstructure:"workers"`
	AuthSecretFile   string   `mapstructure:"auth_secret_file"`
	ConnectTimeoutMs int      `mapstructure:"connect_timeout_ms"`
	JobRetentionSecs int      `mapstructure:"job_retention_seconds"`
	LogLevel         string   `mapstructure:"log_level"`
	PIDFile          string   `mapstructure:"pid_file"`
}

// WorkerConfig configures one worker daemon (C6): which catalog shards
// it serves, how many processes to fan chunks out to, and where to
// listen for the master's connections.
type WorkerConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Parallel       int    `mapstructure:"parallel"`
	PIDFile        string `mapstructure:"pid_file"`
	AuthSecretFile string `mapstructure:"auth_secret_file"`
	MasterAddr     string `mapstructure:"master_addr"`
	DataDir        string `mapstructure:"data_dir"`
	LogLevel       string `mapstructure:"log_level"`
}

func masterDefaults(v *viper.Viper) {
	v.SetDefault("bind", "127.0.0.1")
	v.SetDefault("port", 7800)
	v.SetDefault("workers", []string{})
	v.SetDefault("auth_secret_file", "")
	v.SetDefault("connect_timeout_ms", 5000)
	v.SetDefault("job_retention_seconds", 30)
	v.SetDefault("log_level", "info")
	v.SetDefault("pid_file", "")
}

func workerDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 7801)
	v.SetDefault("parallel", 0) // 0 => runtime.NumCPU()
	v.SetDefault("pid_file", "")
	v.SetDefault("auth_secret_file", "")
	v.SetDefault("master_addr", "127.0.0.1")
	v.SetDefault("data_dir", "")
	v.SetDefault("log_level", "info")
}

// LoadMaster reads master configuration from flags, environment
// (QUICKDB_ prefix), and an optional config file.
func LoadMaster() (MasterConfig, error) {
	v := viper.New()
	masterDefaults(v)
	v.SetEnvPrefix("QUICKDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	var cfgPathFlag string
	fs.StringVarP(&cfgPathFlag, "config", "c", "", "Config file path (yaml|json|toml)")
	fs.String("bind", "127.0.0.1", "Address to bind the HTTP job service")
	fs.Int("port", 7800, "HTTP job service port")
	fs.StringSlice("workers", []string{}, "Worker addresses (host:port), repeatable")
	fs.String("auth_secret_file", "", "Path to the shared auth secret (>= 256 bytes, mode 0600)")
	fs.Int("connect_timeout_ms", 5000, "Per-worker connect timeout in milliseconds (validated only; worker dials use no timeout)")
	fs.Int("job_retention_seconds", 30, "Seconds a terminal job is retained for polling (validated only; the job service retains terminal jobs for a fixed 30s)")
	fs.String("log_level", "info", "Log level")
	fs.String("pid_file", "", "PID file path")
	_ = fs.Parse(os.Args[1:])

	if err := loadConfigFile(v, cfgPathFlag, "QUICKDB_MASTER_CONFIG", "quickdb-master"); err != nil {
		return MasterConfig{}, err
	}
	_ = v.BindPFlags(fs)

	var cfg MasterConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return MasterConfig{}, fmt.Errorf("unmarshal master config: %w", err)
	}
	if err := validateMaster(cfg); err != nil {
		return MasterConfig{}, err
	}
	return cfg, nil
}

// LoadWorker reads worker configuration the same way LoadMaster does.
func LoadWorker() (WorkerConfig, error) {
	v := viper.New()
	workerDefaults(v)
	v.SetEnvPrefix("QUICKDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fs := pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
	var cfgPathFlag string
	fs.StringVarP(&cfgPathFlag, "config", "c", "", "Config file path (yaml|json|toml)")
	fs.String("host", "127.0.0.1", "Address to listen on")
	fs.Int("port", 7801, "Port to listen on")
	fs.Int("parallel", 0, "Number of concurrent chunk workers (0 = number of CPUs)")
	fs.String("pid_file", "", "PID file path")
	fs.String("auth_secret_file", "", "Path to the shared auth secret (>= 256 bytes, mode 0600)")
	fs.String("master_addr", "127.0.0.1", "Address the master connects from, for auth's non-loopback check")
	fs.String("data_dir", "", "Catalog root directory served by the shard store")
	fs.String("log_level", "info", "Log level")
	_ = fs.Parse(os.Args[1:])

	if err := loadConfigFile(v, cfgPathFlag, "QUICKDB_WORKER_CONFIG", "quickdb-worker"); err != nil {
		return WorkerConfig{}, err
	}
	_ = v.BindPFlags(fs)

	var cfg WorkerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return WorkerConfig{}, fmt.Errorf("unmarshal worker config: %w", err)
	}
	if err := validateWorker(cfg); err != nil {
		return WorkerConfig{}, err
	}
	return cfg, nil
}

func validateMaster(cfg MasterConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("config: port must be between 1 and 65535")
	}
	if cfg.JobRetentionSecs <= 0 {
		return errors.New("config: job_retention_seconds must be > 0")
	}
	if cfg.ConnectTimeoutMs <= 0 {
		return errors.New("config: connect_timeout_ms must be > 0")
	}
	return nil
}

func validateWorker(cfg WorkerConfig) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.New("config: port must be between 1 and 65535")
	}
	if cfg.Parallel < 0 {
		return errors.New("config: parallel must be >= 0")
	}
	return nil
}

func loadConfigFile(v *viper.Viper, flagPath, envVar, baseName string) error {
	cfgPath := flagPath
	if cfgPath == "" {
		cfgPath = os.Getenv(envVar)
	}
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", cfgPath, err)
		}
		return nil
	}
	return readDefaultConfig(v, baseName) // best-effort
}

func readDefaultConfig(v *viper.Viper, baseName string) error {
	exts := []string{"yaml", "yml", "json", "toml"}
	for _, base := range defaultConfigCandidates(baseName) {
		for _, ext := range exts {
			candidate := base + "." + ext
			if _, err := os.Stat(candidate); err == nil {
				v.SetConfigFile(candidate)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("read default config %s: %w", candidate, err)
				}
				return nil
			}
		}
	}
	return nil
}

func defaultConfigCandidates(baseName string) []string {
	var out []string
	cwd, _ := os.Getwd()
	if cwd != "" {
		out = append(out,
			filepath.Join(cwd, baseName),
			filepath.Join(cwd, "config", baseName),
		)
	}
	xdg := os.Getenv("XDG_CONFIG_HOME")
	if xdg == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			xdg = filepath.Join(home, ".config")
		}
	}
	if xdg != "" {
		out = append(out, filepath.Join(xdg, "quickdb", baseName))
	}
	return out
}

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Store backends.
const (
	storeMemory = "memory"
	storeLibSQL = "libsql"
	storeBadger = "badger"
)

// Config holds all jobflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	Store      string `json:"store"`
	DBPath     string `json:"db_path"`
	JobsDir    string `json:"jobs_dir"`
	Samples    bool   `json:"samples"`
	LogLevel   string `json:"log_level"`
	PoolSize   int    `json:"pool_size"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		Store:      storeLibSQL,
		DBPath:     filepath.Join(jobflowDir(), "jobflow.db"),
		JobsDir:    filepath.Join(jobflowDir(), "jobs"),
		Samples:    true,
		LogLevel:   "info",
		PoolSize:   10,
	}
}

func jobflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".jobflow"
	}
	return filepath.Join(home, ".jobflow")
}

func settingsPath() string {
	return filepath.Join(jobflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	applyEnv(&cfg, os.Getenv)
	return cfg
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("JOBFLOW_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("JOBFLOW_STORE"); v != "" {
		cfg.Store = v
	}
	if v := getenv("JOBFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("JOBFLOW_JOBS_DIR"); v != "" {
		cfg.JobsDir = v
	}
	if v := getenv("JOBFLOW_SAMPLES"); v != "" {
		cfg.Samples = v == "true" || v == "1"
	}
	if v := getenv("JOBFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("JOBFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
}

func (c Config) validate() error {
	switch c.Store {
	case storeMemory, storeLibSQL, storeBadger:
	default:
		return fmt.Errorf("unknown store %q (want memory, libsql or badger)", c.Store)
	}
	if c.Store != storeMemory && c.DBPath == "" {
		return fmt.Errorf("store %s requires db_path", c.Store)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	return nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	JobsChanged     bool
	RestartNeeded   []string // fields that require a server restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.JobsDir != new.JobsDir || old.Samples != new.Samples {
		d.JobsChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	if old.Store != new.Store {
		d.RestartNeeded = append(d.RestartNeeded, "store")
	}
	if old.DBPath != new.DBPath {
		d.RestartNeeded = append(d.RestartNeeded, "db_path")
	}
	if old.PoolSize != new.PoolSize {
		d.RestartNeeded = append(d.RestartNeeded, "pool_size")
	}
	return d
}

func pidPath() string {
	return filepath.Join(jobflowDir(), "jobflow.pid")
}

// runInit writes settings.json from flags.
func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	def := defaultConfig()
	listenAddr := fs.String("listen-addr", def.ListenAddr, "HTTP listen address")
	storeKind := fs.String("store", def.Store, "step repository: memory, libsql, badger")
	dbPath := fs.String("db-path", "", "database path (default: ~/.jobflow/jobflow.db)")
	jobsDir := fs.String("jobs-dir", def.JobsDir, "directory of job definition files")
	samples := fs.Bool("samples", def.Samples, "load the bundled sample jobs")
	logLevel := fs.String("log-level", def.LogLevel, "log level: debug, info, warn, error")
	poolSize := fs.Int("pool-size", def.PoolSize, "concurrent async launches")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	dir := jobflowDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		fatalf("cannot create %s: %v", dir, err)
	}

	cfg := Config{
		ListenAddr: *listenAddr,
		Store:      *storeKind,
		DBPath:     *dbPath,
		JobsDir:    *jobsDir,
		Samples:    *samples,
		LogLevel:   *logLevel,
		PoolSize:   *poolSize,
	}
	if cfg.DBPath == "" {
		cfg.DBPath = def.DBPath
		if cfg.Store == storeBadger {
			cfg.DBPath = filepath.Join(dir, "badger")
		}
	}
	if err := cfg.validate(); err != nil {
		fatalf("%v", err)
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	path := settingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fatalf("cannot write %s: %v", path, err)
	}
	fmt.Printf("Config written to %s\n", path)

	// A running server picks the new settings up on SIGHUP.
	signalRunningServer()
}

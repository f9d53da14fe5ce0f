package config

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all public (non-secret) application configuration.
// Secrets live in an encrypted side file and are merged in by Load.
type Config struct {
	Version string `yaml:"-"`

	Bookmaker struct {
		BaseURL  string `yaml:"base_url"`
		LoginURL string `yaml:"login_url"`
	} `yaml:"bookmaker"`

	Browser struct {
		// Mode selects the recovery strategy: "attached" reconnects to an
		// externally launched browser, "standalone" owns the process and
		// relaunches it. Never inferred at runtime.
		Mode             string `yaml:"mode"`
		RemoteURL        string `yaml:"remote_url"` // DevTools URL for attached mode
		Headless         bool   `yaml:"headless"`
		ActionTimeoutSec int    `yaml:"action_timeout_sec"`
	} `yaml:"browser"`

	Staking struct {
		Fraction float64 `yaml:"fraction"` // share of bankroll per bet
		Ceiling  float64 `yaml:"ceiling"`  // absolute stake cap
	} `yaml:"staking"`

	Ledger struct {
		SQLitePath     string  `yaml:"sqlite_path"`
		InitialBalance float64 `yaml:"initial_balance"`
		DriftEpsilon   float64 `yaml:"drift_epsilon"`
	} `yaml:"ledger"`

	Selectors struct {
		Path        string `yaml:"path"`
		BackupDir   string `yaml:"backup_dir"`
		BackupCount int    `yaml:"backup_count"`
	} `yaml:"selectors"`

	Healing struct {
		MaxAttempts  int    `yaml:"max_attempts"`
		HistoryPath  string `yaml:"history_path"`
		HistoryLimit int    `yaml:"history_limit"`
	} `yaml:"healing"`

	Guardian struct {
		IntervalSec      int `yaml:"interval_sec"`
		FailureThreshold int `yaml:"failure_threshold"`
	} `yaml:"guardian"`

	Liveness struct {
		Path        string `yaml:"path"`
		IntervalSec int    `yaml:"interval_sec"`
		MaxStaleSec int    `yaml:"max_stale_sec"`
	} `yaml:"liveness"`

	Schedule struct {
		ReconcileCron   string `yaml:"reconcile_cron"`
		MaintenanceCron string `yaml:"maintenance_cron"`
	} `yaml:"schedule"`

	Bus struct {
		QueueSize int `yaml:"queue_size"`
	} `yaml:"bus"`

	Monitor struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"monitor"`

	Blackbox struct {
		Path string `yaml:"path"`
	} `yaml:"blackbox"`

	Patterns struct {
		Path string `yaml:"path"`
	} `yaml:"patterns"`

	Logging struct {
		File       string `yaml:"file"`
		MaxSizeMB  int64  `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		Level      string `yaml:"level"`
	} `yaml:"logging"`

	SecretsPath string `yaml:"secrets_path"`

	Secrets Secrets `yaml:"-"`
}

// Secrets are loaded from the encrypted store and env, never from the
// public YAML file. Secrets take precedence over anything public.
type Secrets struct {
	TelegramBotToken string `json:"telegram_bot_token"`
	TelegramChatID   string `json:"telegram_chat_id"`
	GeminiAPIKey     string `json:"gemini_api_key"`
	BookmakerUser    string `json:"bookmaker_user"`
	BookmakerPass    string `json:"bookmaker_pass"`
	BookmakerPIN     string `json:"bookmaker_pin"`
}

// Load reads the YAML config, applies env overrides (a .env file is
// honored if present), merges decrypted secrets, fills defaults and
// validates. Fails hard on anything the system cannot run without.
func Load(path string) (*Config, error) {
	// Load .env variables into the process environment
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, using system environment variables")
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	// Encrypted secrets, merged over whatever env provided.
	if cfg.SecretsPath != "" {
		sec, err := LoadSecrets(cfg.SecretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("load secrets: %w", err)
			}
			log.Println("Warning: secrets file missing, relying on environment secrets")
		} else {
			cfg.Secrets.merge(sec)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BOOKMAKER_BASE_URL"); v != "" {
		c.Bookmaker.BaseURL = v
	}
	if v := os.Getenv("BROWSER_MODE"); v != "" {
		c.Browser.Mode = v
	}
	if v := os.Getenv("BROWSER_REMOTE_URL"); v != "" {
		c.Browser.RemoteURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Ledger.SQLitePath = v
	}
	if v := os.Getenv("BETFLOW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	c.Staking.Fraction = getEnvAsFloat64("STAKE_FRACTION", c.Staking.Fraction)
	c.Staking.Ceiling = getEnvAsFloat64("STAKE_CEILING", c.Staking.Ceiling)

	// Secrets may arrive via environment too; the encrypted store wins later.
	c.Secrets.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Secrets.TelegramBotToken)
	c.Secrets.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.Secrets.TelegramChatID)
	c.Secrets.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Secrets.GeminiAPIKey)
	c.Secrets.BookmakerUser = getEnv("BOOKMAKER_USER", c.Secrets.BookmakerUser)
	c.Secrets.BookmakerPass = getEnv("BOOKMAKER_PASS", c.Secrets.BookmakerPass)
	c.Secrets.BookmakerPIN = getEnv("BOOKMAKER_PIN", c.Secrets.BookmakerPIN)
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "standalone"
	}
	if c.Browser.ActionTimeoutSec == 0 {
		c.Browser.ActionTimeoutSec = 30
	}
	if c.Staking.Fraction == 0 {
		c.Staking.Fraction = 0.05
	}
	if c.Staking.Ceiling == 0 {
		c.Staking.Ceiling = 50
	}
	if c.Ledger.SQLitePath == "" {
		c.Ledger.SQLitePath = "betflow.db"
	}
	if c.Ledger.DriftEpsilon == 0 {
		c.Ledger.DriftEpsilon = 0.01
	}
	if c.Selectors.Path == "" {
		c.Selectors.Path = "selectors.yaml"
	}
	if c.Selectors.BackupDir == "" {
		c.Selectors.BackupDir = "selector_backups"
	}
	if c.Selectors.BackupCount == 0 {
		c.Selectors.BackupCount = 5
	}
	if c.Healing.MaxAttempts == 0 {
		c.Healing.MaxAttempts = 3
	}
	if c.Healing.HistoryPath == "" {
		c.Healing.HistoryPath = "healing_history.json"
	}
	if c.Healing.HistoryLimit == 0 {
		c.Healing.HistoryLimit = 100
	}
	if c.Guardian.IntervalSec == 0 {
		c.Guardian.IntervalSec = 15
	}
	if c.Guardian.FailureThreshold == 0 {
		c.Guardian.FailureThreshold = 3
	}
	if c.Liveness.Path == "" {
		c.Liveness.Path = "liveness.pulse"
	}
	if c.Liveness.IntervalSec == 0 {
		c.Liveness.IntervalSec = 10
	}
	if c.Liveness.MaxStaleSec == 0 {
		c.Liveness.MaxStaleSec = 60
	}
	if c.Bus.QueueSize == 0 {
		c.Bus.QueueSize = 256
	}
	if c.Blackbox.Path == "" {
		c.Blackbox.Path = "blackbox.jsonl"
	}
	if c.Patterns.Path == "" {
		c.Patterns.Path = "message_patterns.json"
	}
	if c.Logging.File == "" {
		c.Logging.File = "betflow.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.Bookmaker.BaseURL == "" {
		missing = append(missing, "bookmaker.base_url")
	}
	if c.Browser.Mode != "attached" && c.Browser.Mode != "standalone" {
		return fmt.Errorf("browser.mode must be \"attached\" or \"standalone\", got %q", c.Browser.Mode)
	}
	if c.Browser.Mode == "attached" && c.Browser.RemoteURL == "" {
		missing = append(missing, "browser.remote_url (required in attached mode)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	return nil
}

func (s *Secrets) merge(over *Secrets) {
	if over.TelegramBotToken != "" {
		s.TelegramBotToken = over.TelegramBotToken
	}
	if over.TelegramChatID != "" {
		s.TelegramChatID = over.TelegramChatID
	}
	if over.GeminiAPIKey != "" {
		s.GeminiAPIKey = over.GeminiAPIKey
	}
	if over.BookmakerUser != "" {
		s.BookmakerUser = over.BookmakerUser
	}
	if over.BookmakerPass != "" {
		s.BookmakerPass = over.BookmakerPass
	}
	if over.BookmakerPIN != "" {
		s.BookmakerPIN = over.BookmakerPIN
	}
}

// Mask returns a value safe for logging: only the last 4 characters.
func Mask(v string) string {
	if len(v) <= 4 {
		return "***"
	}
	return "***" + v[len(v)-4:]
}

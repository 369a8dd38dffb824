package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the bot. Loaded from YAML once at startup;
// secrets are overridden from the environment afterwards.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Broker struct {
		// Mode selects the brokerage backend: "live" hits the remote REST
		// API, "paper" runs the in-memory simulator.
		Mode      string `yaml:"mode"`
		BaseURL   string `yaml:"base_url"`
		StreamURL string `yaml:"stream_url"`
		Token     string `yaml:"token"` // overridden by INVEST_TOKEN
		AccountID string `yaml:"account_id"`
		Currency  string `yaml:"currency"`
		ClassCode string `yaml:"class_code"`

		RetryTries      int     `yaml:"retry_tries"`
		RetrySleepMinMS int     `yaml:"retry_sleep_min_ms"`
		RetrySleepMaxMS int     `yaml:"retry_sleep_max_ms"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
		RateBurst       int     `yaml:"rate_burst"`
	} `yaml:"broker"`

	Universe struct {
		Tickers    []string `yaml:"tickers"`
		MaxLotCost float64  `yaml:"max_lot_cost"`
	} `yaml:"universe"`

	Schedule struct {
		TZ             string `yaml:"tz"`
		StartTrade     string `yaml:"start_trade"`      // "HH:MM"
		StopNewEntries string `yaml:"stop_new_entries"` // "HH:MM"
		FlattenTime    string `yaml:"flatten_time"`     // "HH:MM"
	} `yaml:"schedule"`

	Execution struct {
		// KBuyTicks/KSellTicks control aggressive pricing: the execution
		// price chases the last traded price by this many ticks.
		KBuyTicks  int `yaml:"k_buy_ticks"`
		KSellTicks int `yaml:"k_sell_ticks"`
		// OrderTTLSec is the maximum age of an unresolved order before it
		// is proactively cancelled.
		OrderTTLSec int `yaml:"order_ttl_sec"`
		// CashBufferPct widens the estimated cost precheck to absorb
		// slippage and fees, e.g. 1.0 means cost*1.01 must fit free cash.
		CashBufferPct float64 `yaml:"cash_buffer_pct"`
		// LostConfirmations is how many consecutive NOT_FOUND status polls
		// an order survives before it is declared lost.
		LostConfirmations int `yaml:"lost_confirmations"`
	} `yaml:"execution"`

	Strategy struct {
		KATR            float64 `yaml:"k_atr"`
		TakeProfitPct   float64 `yaml:"take_profit_pct"`
		StopLossPct     float64 `yaml:"stop_loss_pct"`
		LookbackMinutes int     `yaml:"lookback_minutes"`
		MaxHoldMinutes  int     `yaml:"max_hold_minutes"`
	} `yaml:"strategy"`

	Risk struct {
		MaxDayLoss           float64 `yaml:"max_day_loss"`
		MaxTradesPerDay      int     `yaml:"max_trades_per_day"`
		MaxPositions         int     `yaml:"max_positions"`
		MaxPendingBuysTotal  int     `yaml:"max_pending_buys_total"`
		MaxActiveOrdersTotal int     `yaml:"max_active_orders_total"`
	} `yaml:"risk"`

	Runtime struct {
		TickIntervalSec int `yaml:"tick_interval_sec"`
		ErrorSleepSec   int `yaml:"error_sleep_sec"`
	} `yaml:"runtime"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		Token   string `yaml:"token"`   // overridden by TG_BOT_TOKEN
		ChatID  string `yaml:"chat_id"` // overridden by TG_CHAT_ID
	} `yaml:"telegram"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv pulls secrets from the environment so they never have to
// live in the config file.
func overrideWithEnv(cfg *Config) {
	if v := os.Getenv("INVEST_TOKEN"); v != "" {
		cfg.Broker.Token = v
	}
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TG_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
}

func (c *Config) applyDefaults() {
	if c.Broker.Mode == "" {
		c.Broker.Mode = "paper"
	}
	if c.Broker.Currency == "" {
		c.Broker.Currency = "rub"
	}
	if c.Broker.RetryTries == 0 {
		c.Broker.RetryTries = 3
	}
	if c.Broker.RetrySleepMinMS == 0 {
		c.Broker.RetrySleepMinMS = 1000
	}
	if c.Broker.RetrySleepMaxMS == 0 {
		c.Broker.RetrySleepMaxMS = 10000
	}
	if c.Broker.RateLimitPerSec == 0 {
		c.Broker.RateLimitPerSec = 10
	}
	if c.Broker.RateBurst == 0 {
		c.Broker.RateBurst = 5
	}
	if c.Schedule.TZ == "" {
		c.Schedule.TZ = "Europe/Moscow"
	}
	if c.Execution.KBuyTicks == 0 {
		c.Execution.KBuyTicks = 1
	}
	if c.Execution.KSellTicks == 0 {
		c.Execution.KSellTicks = 1
	}
	if c.Execution.OrderTTLSec == 0 {
		c.Execution.OrderTTLSec = 60
	}
	if c.Execution.CashBufferPct == 0 {
		c.Execution.CashBufferPct = 1.0
	}
	if c.Execution.LostConfirmations == 0 {
		c.Execution.LostConfirmations = 2
	}
	if c.Runtime.TickIntervalSec == 0 {
		c.Runtime.TickIntervalSec = 55
	}
	if c.Runtime.ErrorSleepSec == 0 {
		c.Runtime.ErrorSleepSec = 10
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "logs/trades.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Broker.Mode != "paper" && c.Broker.Mode != "live" {
		return fmt.Errorf("broker.mode must be \"paper\" or \"live\", got %q", c.Broker.Mode)
	}
	if c.Broker.Mode == "live" {
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in live mode")
		}
		if c.Broker.Token == "" {
			return fmt.Errorf("broker token missing: set INVEST_TOKEN or broker.token")
		}
	}
	if len(c.Universe.Tickers) == 0 {
		return fmt.Errorf("universe.tickers must not be empty")
	}
	if _, err := time.LoadLocation(c.Schedule.TZ); err != nil {
		return fmt.Errorf("schedule.tz: %w", err)
	}
	for _, f := range []struct {
		name, val string
	}{
		{"schedule.start_trade", c.Schedule.StartTrade},
		{"schedule.stop_new_entries", c.Schedule.StopNewEntries},
		{"schedule.flatten_time", c.Schedule.FlattenTime},
	} {
		if _, err := time.Parse("15:04", f.val); err != nil {
			return fmt.Errorf("%s: want HH:MM, got %q", f.name, f.val)
		}
	}
	if c.Execution.KBuyTicks < 0 || c.Execution.KSellTicks < 0 {
		return fmt.Errorf("execution tick counts must not be negative")
	}
	if c.Execution.CashBufferPct < 0 {
		return fmt.Errorf("execution.cash_buffer_pct must not be negative")
	}
	if c.Execution.LostConfirmations < 1 {
		return fmt.Errorf("execution.lost_confirmations must be >= 1")
	}
	return nil
}

// OrderTTL returns the order time-to-live as a duration.
func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Execution.OrderTTLSec) * time.Second
}

// TickInterval returns the main loop cadence.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Runtime.TickIntervalSec) * time.Second
}

// RetryBackoff returns the backoff policy for remote API retries.
func (c *Config) RetryBackoff() Backoff {
	return NewBackoff(
		time.Duration(c.Broker.RetrySleepMinMS)*time.Millisecond,
		time.Duration(c.Broker.RetrySleepMaxMS)*time.Millisecond,
	)
}

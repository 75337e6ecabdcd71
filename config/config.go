// Package config loads the engine configuration from YAML, applies FXIND_*
// environment overrides and struct-tag defaults, then validates it.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"fxindicators/internal/indicator"
	"fxindicators/internal/model"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the immutable startup configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
	Symbols     []SymbolConfig    `yaml:"symbols" validate:"dive"`
	WallPeriods []string          `yaml:"wall_periods" default:"[\"M1\",\"M5\",\"M15\",\"M30\",\"H1\",\"H4\",\"D1\"]" validate:"min=1"`
	TickPeriods []TickPeriod      `yaml:"tick_periods" validate:"dive"`
	PriceMode   string            `yaml:"price_mode" default:"mid" validate:"oneof=bid ask mid"`
	Indicators  []IndicatorConfig `yaml:"indicators" validate:"dive"`

	Engine     EngineConfig     `yaml:"engine"`
	Feed       FeedConfig       `yaml:"feed"`
	Redis      RedisConfig      `yaml:"redis"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	HTTP       HTTPConfig       `yaml:"http"`
}

type SymbolConfig struct {
	Name    string  `yaml:"name" validate:"required"`
	Digits  int32   `yaml:"digits" default:"5" validate:"gte=0,lte=10"`
	PipSize float64 `yaml:"pip_size" default:"0.0001" validate:"gt=0"`
}

type TickPeriod struct {
	Name  string  `yaml:"name" validate:"required"`
	Kind  string  `yaml:"kind" default:"count" validate:"oneof=count pip"`
	Count int     `yaml:"count" validate:"gte=0"`
	Pips  float64 `yaml:"pips" validate:"gte=0"`
}

type IndicatorConfig struct {
	Family    string   `yaml:"family" validate:"required"`
	Windows   []string `yaml:"windows"`
	Tolerance float64  `yaml:"tolerance" validate:"gte=0,lt=1"`
}

type EngineConfig struct {
	HoldDays        int           `yaml:"hold_days" default:"30" validate:"gte=1"`
	PruneCron       string        `yaml:"prune_cron" default:"0 30 22 * * *"`
	DeferMaxWait    time.Duration `yaml:"defer_max_wait" default:"2m"`
	DeferCheckEvery time.Duration `yaml:"defer_check_every" default:"10s" validate:"gt=0"`
	BusBuffer       int           `yaml:"bus_buffer" default:"4096" validate:"gte=16"`
	WarmupBars      int           `yaml:"warmup_bars" default:"500" validate:"gte=0"`
	MarketHours     bool          `yaml:"market_hours"`
}

type FeedConfig struct {
	URL               string        `yaml:"url" validate:"omitempty,url"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" default:"2s"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay" default:"30s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" default:"30s"`
	QueueSize         int           `yaml:"queue_size" default:"10000" validate:"gte=1"`
}

type RedisConfig struct {
	Disabled         bool          `yaml:"disabled"`
	Addr             string        `yaml:"addr" default:"localhost:6379"`
	Password         string        `yaml:"password"`
	DB               int           `yaml:"db"`
	LatestTTL        time.Duration `yaml:"latest_ttl" default:"24h"`
	StreamMaxLen     int64         `yaml:"stream_max_len" default:"10000"`
	BreakerFailures  int           `yaml:"breaker_failures" default:"5" validate:"gte=1"`
	BreakerReset     time.Duration `yaml:"breaker_reset" default:"10s"`
	BatchSize        int           `yaml:"batch_size" default:"256" validate:"gte=1"`
	FlushInterval    time.Duration `yaml:"flush_interval" default:"100ms"`
	MaxBufferedItems int           `yaml:"max_buffered" default:"10000" validate:"gte=1"`
}

type SQLiteConfig struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path" default:"data/fxind.db"`
}

type ClickHouseConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port" default:"9000"`
	Database      string        `yaml:"database" default:"default"`
	User          string        `yaml:"user" default:"default"`
	Password      string        `yaml:"password"`
	AsyncInsert   bool          `yaml:"async_insert"`
	TTLDays       int           `yaml:"ttl_days" validate:"gte=0"`
	BatchSize     int           `yaml:"batch_size" default:"1000" validate:"gte=1"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"1s"`
}

type KafkaConfig struct {
	Brokers     []string      `yaml:"brokers"`
	Topic       string        `yaml:"topic" default:"fxind.updates"`
	Compression string        `yaml:"compression" default:"snappy" validate:"oneof=gzip snappy lz4 zstd"`
	BatchSize   int           `yaml:"batch_size" default:"100" validate:"gte=1"`
	Linger      time.Duration `yaml:"linger" default:"200ms"`
}

type AlertsConfig struct {
	WebhookURL       string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id" validate:"required_with=TelegramBotToken"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr" default:":9095"`
	// ReplayDepth is the number of envelopes kept per push channel for gap
	// backfill via /api/v1/missed.
	ReplayDepth int `yaml:"replay_depth" default:"500" validate:"gte=1"`
}

var validate = validator.New()

// Load reads path (empty means built-in defaults only), applies env
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := c.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	if len(c.Symbols) == 0 {
		c.Symbols = builtinSymbols()
	}
	if len(c.Indicators) == 0 {
		c.Indicators = builtinIndicators()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func builtinSymbols() []SymbolConfig {
	return []SymbolConfig{
		{Name: "EURUSD", Digits: 5, PipSize: 0.0001},
		{Name: "GBPUSD", Digits: 5, PipSize: 0.0001},
		{Name: "USDJPY", Digits: 3, PipSize: 0.01},
	}
}

// builtinIndicators activates every family with its default windows.
func builtinIndicators() []IndicatorConfig {
	fams := []model.Family{
		model.FamilyMA, model.FamilyEMA, model.FamilyRSI, model.FamilyRCI, model.FamilyMACD,
		model.FamilyBollinger, model.FamilyBollingerEMA, model.FamilyStochastics,
		model.FamilyIchimoku, model.FamilyLinReg, model.FamilyPriceRange,
	}
	out := make([]IndicatorConfig, len(fams))
	for i, f := range fams {
		out[i] = IndicatorConfig{Family: string(f)}
	}
	return out
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("FXIND_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv("FXIND_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := getenv("FXIND_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv("FXIND_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := getenv("FXIND_SQLITE_PATH"); v != "" {
		c.SQLite.Path = v
	}
	if v := getenv("FXIND_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := getenv("FXIND_CLICKHOUSE_ADDR"); v != "" {
		host, port, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("%w: FXIND_CLICKHOUSE_ADDR: %v", ErrInvalid, err)
		}
		n, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("%w: FXIND_CLICKHOUSE_ADDR port %q", ErrInvalid, port)
		}
		c.ClickHouse.Host, c.ClickHouse.Port = host, n
	}
	if v := getenv("FXIND_HOLD_DAYS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: FXIND_HOLD_DAYS %q", ErrInvalid, v)
		}
		c.Engine.HoldDays = n
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate runs tag validation followed by the cross-field checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if seen[s.Name] {
			return fmt.Errorf("%w: duplicate symbol %q", ErrInvalid, s.Name)
		}
		seen[s.Name] = true
	}
	if _, err := c.Periods(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.FamilySpecs(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Mode returns the configured price mode.
func (c *Config) Mode() model.PriceMode {
	m, err := model.ParsePriceMode(c.PriceMode)
	if err != nil {
		return model.PriceMid
	}
	return m
}

// ModelSymbols converts the symbol section.
func (c *Config) ModelSymbols() []model.Symbol {
	out := make([]model.Symbol, len(c.Symbols))
	for i, s := range c.Symbols {
		out[i] = model.Symbol{Name: strings.ToUpper(s.Name), Digits: s.Digits, PipSize: s.PipSize}
	}
	return out
}

// Periods returns wall-clock then tick periods, sorted by rank.
func (c *Config) Periods() ([]model.Period, error) {
	names := make(map[string]bool)
	var out []model.Period
	for _, name := range c.WallPeriods {
		p, err := model.ParseWallClock(name)
		if err != nil {
			return nil, err
		}
		if names[p.Name] {
			return nil, fmt.Errorf("duplicate period %q", p.Name)
		}
		names[p.Name] = true
		out = append(out, p)
	}
	for i, tp := range c.TickPeriods {
		if names[tp.Name] {
			return nil, fmt.Errorf("duplicate period %q", tp.Name)
		}
		names[tp.Name] = true
		switch tp.Kind {
		case "count":
			if tp.Count <= 0 {
				return nil, fmt.Errorf("tick period %q: count must be positive", tp.Name)
			}
			out = append(out, model.NewTickCountPeriod(tp.Name, tp.Count, i))
		case "pip":
			if tp.Pips <= 0 {
				return nil, fmt.Errorf("tick period %q: pips must be positive", tp.Name)
			}
			out = append(out, model.NewTickPipPeriod(tp.Name, tp.Pips, i))
		default:
			return nil, fmt.Errorf("tick period %q: unknown kind %q", tp.Name, tp.Kind)
		}
	}
	model.SortByRank(out)
	return out, nil
}

// FamilySpecs converts the indicator section. Every family must have a
// built-in processor; OHLC is always computed and may not be listed.
func (c *Config) FamilySpecs() ([]indicator.FamilySpec, error) {
	known := indicator.DefaultFactories()
	seen := make(map[model.Family]bool, len(c.Indicators))
	specs := make([]indicator.FamilySpec, 0, len(c.Indicators))
	for _, ic := range c.Indicators {
		f := model.Family(strings.ToUpper(ic.Family))
		if _, ok := known[f]; !ok {
			return nil, fmt.Errorf("unknown indicator family %q", ic.Family)
		}
		if seen[f] {
			return nil, fmt.Errorf("family %s listed twice", f)
		}
		seen[f] = true
		spec := indicator.FamilySpec{Family: f, Tolerance: ic.Tolerance}
		for _, w := range ic.Windows {
			cp, err := model.ParseCalcPeriod(w)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f, err)
			}
			spec.Windows = append(spec.Windows, cp)
		}
		if _, err := known[f](spec); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

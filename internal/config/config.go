// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/thecyberginehost/moonforge/internal/curve"
	"github.com/thecyberginehost/moonforge/internal/fee"
	"github.com/thecyberginehost/moonforge/internal/graduation"
	"github.com/thecyberginehost/moonforge/internal/settlement"
	"github.com/thecyberginehost/moonforge/internal/utils/logger"
)

// EnvPrefix is prepended to every environment override, e.g. MOONFORGE_STORAGE_DSN.
const EnvPrefix = "MOONFORGE"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Curve       curve.Params      `mapstructure:"curve"`
	Fees        fee.Schedule      `mapstructure:"fees"`
	Graduation  graduation.Policy `mapstructure:"graduation"`
	Engine      settlement.Config `mapstructure:"engine"`
	Achievement AchievementConfig `mapstructure:"achievement"`
	Storage     StorageConfig     `mapstructure:"storage"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     logger.Config     `mapstructure:"logging"`
	Events      EventsConfig      `mapstructure:"events"`
}

type AchievementConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

const (
	DefaultHTTPAddr        = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultCacheTTL        = 30 * time.Second
	DefaultEventBuffer     = 1024
)

func defaults() map[string]interface{} {
	params := curve.DefaultParams()
	sched := fee.DefaultSchedule()
	engine := settlement.DefaultConfig()
	logCfg := logger.DefaultConfig()

	return map[string]interface{}{
		"curve.virtual_sol_lamports": params.VirtualSolReserves,
		"curve.virtual_token_units":  params.VirtualTokenReserves,
		"curve.curve_token_units":    params.CurveTokenReserves,
		"curve.token_supply_units":   params.TokenSupply,

		"fees.platform_bps":     sched.PlatformBps,
		"fees.creator_bps":      sched.CreatorBps,
		"fees.liquidity_bps":    sched.LiquidityBps,
		"fees.prize_pool_bps":   sched.PrizePoolBps,
		"fees.min_fee_bps":      sched.MinFeeBps,
		"fees.max_discount_bps": sched.MaxDiscountBps,

		"graduation.threshold_lamports": graduation.DefaultThresholdLamports,

		"engine.mode":               string(engine.Mode),
		"engine.max_retries":        engine.MaxRetries,
		"engine.initial_backoff":    engine.InitialBackoff,
		"engine.max_backoff":        engine.MaxBackoff,
		"engine.max_elapsed":        engine.MaxElapsed,
		"engine.mailbox_size":       engine.MailboxSize,
		"engine.actor_idle_timeout": engine.ActorIdleTimeout,
		"engine.commit_timeout":     engine.CommitTimeout,

		"achievement.cache_ttl": DefaultCacheTTL,

		"storage.driver": DriverMemory,
		"storage.dsn":    "",

		"http.addr":             DefaultHTTPAddr,
		"http.read_timeout":     DefaultReadTimeout,
		"http.write_timeout":    DefaultWriteTimeout,
		"http.shutdown_timeout": DefaultShutdownTimeout,

		"logging.level":       logCfg.Level,
		"logging.file":        logCfg.File,
		"logging.max_size":    logCfg.MaxSize,
		"logging.max_age":     logCfg.MaxAge,
		"logging.max_backups": logCfg.MaxBackups,
		"logging.compress":    logCfg.Compress,
		"logging.development": logCfg.Development,

		"events.buffer_size": DefaultEventBuffer,
	}
}

// Default returns the configuration with no file and no environment applied.
func Default() *Config {
	cfg, err := load(viper.New(), "")
	if err != nil {
		panic(fmt.Sprintf("config defaults are invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads path (optional) and applies MOONFORGE_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	bindEnvironment(v)
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	return &cfg, validateConfig(&cfg)
}

func bindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func validateConfig(cfg *Config) error {
	if err := cfg.Curve.Validate(); err != nil {
		return fmt.Errorf("curve: %w", err)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if err := cfg.Graduation.Validate(); err != nil {
		return fmt.Errorf("graduation: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	if cfg.HTTP.Addr == "" {
		return errors.New("http.addr is empty")
	}
	if cfg.HTTP.ShutdownTimeout <= 0 {
		return errors.New("invalid http.shutdown_timeout")
	}
	if cfg.Achievement.CacheTTL < 0 {
		return errors.New("invalid achievement.cache_ttl")
	}
	if cfg.Events.BufferSize <= 0 {
		return errors.New("invalid events.buffer_size")
	}
	return nil
}

func validateStorage(s StorageConfig) error {
	switch s.Driver {
	case DriverMemory:
		return nil
	case DriverSQLite:
		if s.DSN == "" {
			return errors.New("storage.dsn is required for sqlite")
		}
		return nil
	case DriverPostgres:
		if s.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
		// Key/value DSNs are accepted as is, URLs must use a postgres scheme.
		if strings.Contains(s.DSN, "://") {
			return validateURL(s.DSN, "postgres")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", s.Driver)
	}
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid storage.dsn format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid storage.dsn protocol")
	}
	return nil
}

package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// Engine modes
const (
	ModeOptimizer = "optimizer"
	ModeExecutor  = "executor"
)

// Config holds all configuration for the searcher
type Config struct {
	Engine       EngineConfig
	RPC          RPCConfig
	Feed         FeedConfig
	Contracts    ContractsConfig
	Markets      []MarketConfig
	Optimizer    OptimizerConfig
	Distribution DistributionConfig
	RefPrice     RefPriceConfig
	Detector     DetectorConfig
	Dispatch     DispatchConfig
	Reconnect    ReconnectConfig
	Metrics      MetricsConfig
	Logging      LoggingConfig
}

// EngineConfig selects the process role
type EngineConfig struct {
	Mode             string
	ChainID          *big.Int
	TestMode         bool
	ExecutionEnabled bool
}

// RPCConfig holds Ethereum RPC configuration
type RPCConfig struct {
	URL            string
	WSUrl          string
	RetryAttempts  int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// FeedConfig holds flashblock feed settings
type FeedConfig struct {
	URL              string
	Connections      int
	HandshakeTimeout time.Duration
	BufferSize       int
}

// ContractsConfig holds the on-chain addresses one market talks to
type ContractsConfig struct {
	From      common.Address
	Launcher  common.Address
	Simulator common.Address
}

// MarketConfig is one launcher, its simulator and the token pair its pools
// trade. Thresholds are basis points of one base-token unit.
type MarketConfig struct {
	Name         string
	Launcher     common.Address
	Simulator    common.Address
	Decimals0    uint8
	Decimals1    uint8
	ZeroForOne   bool
	MinProfitBps int64
	MinSwapBps   int64
	Reference    string // "ETHUSDT", or "ETHUSDT/OPUSDT" for a cross rate
	Overrides    []BalanceOverride
}

// BaseUnit returns 10^Decimals0
func (m MarketConfig) BaseUnit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(m.Decimals0)), nil)
}

// MinProfit returns MinProfitBps of one base unit
func (m MarketConfig) MinProfit() *big.Int {
	return bpsOf(m.BaseUnit(), m.MinProfitBps)
}

// MinSwapAmount returns MinSwapBps of one base unit
func (m MarketConfig) MinSwapAmount() *big.Int {
	return bpsOf(m.BaseUnit(), m.MinSwapBps)
}

// Contracts returns the addresses used to simulate and send for this market
func (m MarketConfig) Contracts(from common.Address) ContractsConfig {
	return ContractsConfig{From: from, Launcher: m.Launcher, Simulator: m.Simulator}
}

// marketEntry is one element of the markets list as written in config.
// Unset fields fall back to the flat single-market keys.
type marketEntry struct {
	Name         string            `mapstructure:"name"`
	Launcher     string            `mapstructure:"launcher"`
	Simulator    string            `mapstructure:"simulator"`
	Decimals0    *uint8            `mapstructure:"decimals0"`
	Decimals1    *uint8            `mapstructure:"decimals1"`
	ZeroForOne   *bool             `mapstructure:"zero_for_one"`
	MinProfitBps *int64            `mapstructure:"min_profit_bps"`
	MinSwapBps   *int64            `mapstructure:"min_swap_amount_bps"`
	Reference    *string           `mapstructure:"reference"`
	Overrides    []BalanceOverride `mapstructure:"overrides"`
}

// BalanceOverride credits a token balance to the simulator during simulation
type BalanceOverride struct {
	Token string `mapstructure:"token"`
	Slot  uint64 `mapstructure:"slot"`
	Value string `mapstructure:"value"`
}

// OptimizerConfig holds trade search settings shared by every market
type OptimizerConfig struct {
	Gas                  uint64
	Workers              int
	Samples              int
	BalanceRefreshBlocks uint64
	PollInterval         time.Duration
}

// DistributionConfig holds trade distribution settings
type DistributionConfig struct {
	ListenAddr   string
	URL          string
	WriteTimeout time.Duration
	NATSURL      string
	NATSSubject  string
}

// RefPriceConfig holds reference price stream settings. The symbols the
// markets reference are appended to URL as combined streams.
type RefPriceConfig struct {
	URL string
}

// DetectorConfig holds opportunity selection settings
type DetectorConfig struct {
	MaxDeviationBps int64
}

// DispatchConfig holds transaction building and submission settings
type DispatchConfig struct {
	GasLimit          uint64
	ProfitGasDivisor  int64
	TargetBlockOffset uint64
	Workers           int
	SequencerURL      string
	BundleURL         string
	BundleMethod      string
	Venues            []string
}

// ReconnectConfig is the backoff policy for long-lived connections
type ReconnectConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// MetricsConfig holds Prometheus exporter settings
type MetricsConfig struct {
	Addr string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string // "json" or "console"
}

// Load reads configuration from environment and config file
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment variable support
	v.SetEnvPrefix("SEARCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file support
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.mev-searcher")

	// Read config file (optional)
	_ = v.ReadInConfig()

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.mode", ModeExecutor)
	v.SetDefault("engine.chain_id", 8453)
	v.SetDefault("engine.test_mode", false)
	v.SetDefault("engine.execution_enabled", true)

	v.SetDefault("rpc.url", "http://localhost:8545")
	v.SetDefault("rpc.ws_url", "ws://localhost:8546")
	v.SetDefault("rpc.retry_attempts", 3)
	v.SetDefault("rpc.retry_delay", "100ms")
	v.SetDefault("rpc.request_timeout", "10s")

	v.SetDefault("feed.url", "wss://mainnet.flashblocks.base.org/ws")
	v.SetDefault("feed.connections", 2)
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.buffer_size", 256)

	v.SetDefault("contracts.from", "")

	// Single-market shorthand, used when markets is empty and as the
	// fallback for fields a markets entry leaves unset
	v.SetDefault("market.name", "default")
	v.SetDefault("market.launcher", "")
	v.SetDefault("market.simulator", "")
	v.SetDefault("market.decimals0", 18)
	v.SetDefault("market.decimals1", 6)
	v.SetDefault("market.zero_for_one", true)
	v.SetDefault("market.min_profit_bps", 10)
	v.SetDefault("market.min_swap_amount_bps", 100)
	v.SetDefault("market.reference", "ETHUSDT")
	v.SetDefault("market.overrides", []map[string]interface{}{
		{"token": "0x4200000000000000000000000000000000000006", "slot": 3, "value": "0xd3c21bcecceda1000000"},
		{"token": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "slot": 9, "value": "0xde0b6b3a7640000"},
	})
	v.SetDefault("markets", []map[string]interface{}{})

	v.SetDefault("optimizer.gas", 10_000_000)
	v.SetDefault("optimizer.workers", 8)
	v.SetDefault("optimizer.samples", 10)
	v.SetDefault("optimizer.balance_refresh_blocks", 100)
	v.SetDefault("optimizer.poll_interval", "10ms")

	v.SetDefault("distribution.listen_addr", "127.0.0.1:9944")
	v.SetDefault("distribution.url", "ws://127.0.0.1:9944")
	v.SetDefault("distribution.write_timeout", "2s")
	v.SetDefault("distribution.nats_url", "")
	v.SetDefault("distribution.nats_subject", "searcher.trades")

	v.SetDefault("refprice.url", "wss://stream.binance.com:9443/stream")

	v.SetDefault("detector.max_deviation_bps", 50)

	v.SetDefault("dispatch.gas_limit", 1_000_000)
	v.SetDefault("dispatch.profit_gas_divisor", 30_000_000)
	v.SetDefault("dispatch.target_block_offset", 1)
	v.SetDefault("dispatch.workers", 16)
	v.SetDefault("dispatch.sequencer_url", "")
	v.SetDefault("dispatch.bundle_url", "")
	v.SetDefault("dispatch.bundle_method", "eth_sendEndOfBlockBundle")
	v.SetDefault("dispatch.venues", []string{"sequencer"})

	v.SetDefault("reconnect.initial", "500ms")
	v.SetDefault("reconnect.max", "30s")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.jitter", 0.2)

	v.SetDefault("metrics.addr", ":9100")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func fromViper(v *viper.Viper) (*Config, error) {
	var badKeys []string
	parse := func(key string) time.Duration {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			badKeys = append(badKeys, key)
		}
		return d
	}

	markets, err := loadMarkets(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Engine: EngineConfig{
			Mode:             v.GetString("engine.mode"),
			ChainID:          big.NewInt(v.GetInt64("engine.chain_id")),
			TestMode:         v.GetBool("engine.test_mode"),
			ExecutionEnabled: v.GetBool("engine.execution_enabled"),
		},
		RPC: RPCConfig{
			URL:            v.GetString("rpc.url"),
			WSUrl:          v.GetString("rpc.ws_url"),
			RetryAttempts:  v.GetInt("rpc.retry_attempts"),
			RetryDelay:     parse("rpc.retry_delay"),
			RequestTimeout: parse("rpc.request_timeout"),
		},
		Feed: FeedConfig{
			URL:              v.GetString("feed.url"),
			Connections:      v.GetInt("feed.connections"),
			HandshakeTimeout: parse("feed.handshake_timeout"),
			BufferSize:       v.GetInt("feed.buffer_size"),
		},
		Contracts: ContractsConfig{
			From: common.HexToAddress(v.GetString("contracts.from")),
		},
		Markets: markets,
		Optimizer: OptimizerConfig{
			Gas:                  v.GetUint64("optimizer.gas"),
			Workers:              v.GetInt("optimizer.workers"),
			Samples:              v.GetInt("optimizer.samples"),
			BalanceRefreshBlocks: v.GetUint64("optimizer.balance_refresh_blocks"),
			PollInterval:         parse("optimizer.poll_interval"),
		},
		Distribution: DistributionConfig{
			ListenAddr:   v.GetString("distribution.listen_addr"),
			URL:          v.GetString("distribution.url"),
			WriteTimeout: parse("distribution.write_timeout"),
			NATSURL:      v.GetString("distribution.nats_url"),
			NATSSubject:  v.GetString("distribution.nats_subject"),
		},
		RefPrice: RefPriceConfig{
			URL: v.GetString("refprice.url"),
		},
		Detector: DetectorConfig{
			MaxDeviationBps: v.GetInt64("detector.max_deviation_bps"),
		},
		Dispatch: DispatchConfig{
			GasLimit:          v.GetUint64("dispatch.gas_limit"),
			ProfitGasDivisor:  v.GetInt64("dispatch.profit_gas_divisor"),
			TargetBlockOffset: v.GetUint64("dispatch.target_block_offset"),
			Workers:           v.GetInt("dispatch.workers"),
			SequencerURL:      v.GetString("dispatch.sequencer_url"),
			BundleURL:         v.GetString("dispatch.bundle_url"),
			BundleMethod:      v.GetString("dispatch.bundle_method"),
			Venues:            v.GetStringSlice("dispatch.venues"),
		},
		Reconnect: ReconnectConfig{
			Initial:    parse("reconnect.initial"),
			Max:        parse("reconnect.max"),
			Multiplier: v.GetFloat64("reconnect.multiplier"),
			Jitter:     v.GetFloat64("reconnect.jitter"),
		},
		Metrics: MetricsConfig{
			Addr: v.GetString("metrics.addr"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
	}

	if len(badKeys) > 0 {
		return nil, fmt.Errorf("invalid duration for %s: %q", badKeys[0], v.GetString(badKeys[0]))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot start with
func (c *Config) Validate() error {
	switch c.Engine.Mode {
	case ModeOptimizer, ModeExecutor:
	default:
		return fmt.Errorf("unknown engine mode %q", c.Engine.Mode)
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market is required")
	}
	names := make(map[string]bool, len(c.Markets))
	for _, m := range c.Markets {
		if names[m.Name] {
			return fmt.Errorf("duplicate market name %q", m.Name)
		}
		names[m.Name] = true
		if m.Launcher == (common.Address{}) {
			return fmt.Errorf("market %q: launcher is required", m.Name)
		}
		if c.Engine.Mode == ModeOptimizer && m.Simulator == (common.Address{}) {
			return fmt.Errorf("market %q: simulator is required in optimizer mode", m.Name)
		}
		if m.MinProfitBps < 0 || m.MinSwapBps < 0 {
			return fmt.Errorf("market %q: thresholds must not be negative", m.Name)
		}
	}
	if c.Optimizer.PollInterval <= 0 {
		return fmt.Errorf("optimizer.poll_interval must be positive")
	}
	if c.Optimizer.Samples < 1 {
		return fmt.Errorf("optimizer.samples must be at least 1")
	}
	if c.Optimizer.Workers < 1 {
		return fmt.Errorf("optimizer.workers must be at least 1")
	}
	if c.Dispatch.Workers < 1 {
		return fmt.Errorf("dispatch.workers must be at least 1")
	}
	if c.Feed.Connections < 1 {
		return fmt.Errorf("feed.connections must be at least 1")
	}
	if c.Dispatch.ProfitGasDivisor <= 0 {
		return fmt.Errorf("dispatch.profit_gas_divisor must be positive")
	}
	for _, venue := range c.Dispatch.Venues {
		if venue != "sequencer" && venue != "bundle" {
			return fmt.Errorf("unknown dispatch venue %q", venue)
		}
		if venue == "bundle" && c.Dispatch.BundleURL == "" && c.Engine.ExecutionEnabled {
			return fmt.Errorf("dispatch.bundle_url is required for the bundle venue")
		}
	}
	if c.Reconnect.Initial <= 0 || c.Reconnect.Max < c.Reconnect.Initial {
		return fmt.Errorf("reconnect policy invalid: initial=%s max=%s", c.Reconnect.Initial, c.Reconnect.Max)
	}
	return nil
}

// loadMarkets reads the markets list, or builds the single default market
// from the flat market.* keys when the list is empty
func loadMarkets(v *viper.Viper) ([]MarketConfig, error) {
	// Scalars are read key by key so that SEARCHER_MARKET_* env vars apply
	decimals0 := uint8(v.GetUint("market.decimals0"))
	decimals1 := uint8(v.GetUint("market.decimals1"))
	zeroForOne := v.GetBool("market.zero_for_one")
	minProfit := v.GetInt64("market.min_profit_bps")
	minSwap := v.GetInt64("market.min_swap_amount_bps")
	reference := v.GetString("market.reference")
	fallback := marketEntry{
		Name:         v.GetString("market.name"),
		Launcher:     v.GetString("market.launcher"),
		Simulator:    v.GetString("market.simulator"),
		Decimals0:    &decimals0,
		Decimals1:    &decimals1,
		ZeroForOne:   &zeroForOne,
		MinProfitBps: &minProfit,
		MinSwapBps:   &minSwap,
		Reference:    &reference,
	}
	if err := v.UnmarshalKey("market.overrides", &fallback.Overrides); err != nil {
		return nil, fmt.Errorf("failed to parse market.overrides: %w", err)
	}
	var entries []marketEntry
	if err := v.UnmarshalKey("markets", &entries); err != nil {
		return nil, fmt.Errorf("failed to parse markets: %w", err)
	}
	if len(entries) == 0 {
		entries = []marketEntry{fallback}
	}

	markets := make([]MarketConfig, 0, len(entries))
	for i, e := range entries {
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("market%d", i)
		}
		overrides := e.Overrides
		if overrides == nil {
			overrides = fallback.Overrides
		}
		markets = append(markets, MarketConfig{
			Name:         name,
			Launcher:     common.HexToAddress(e.Launcher),
			Simulator:    common.HexToAddress(e.Simulator),
			Decimals0:    orDefault(e.Decimals0, fallback.Decimals0),
			Decimals1:    orDefault(e.Decimals1, fallback.Decimals1),
			ZeroForOne:   orDefault(e.ZeroForOne, fallback.ZeroForOne),
			MinProfitBps: orDefault(e.MinProfitBps, fallback.MinProfitBps),
			MinSwapBps:   orDefault(e.MinSwapBps, fallback.MinSwapBps),
			Reference:    strings.ToUpper(orDefault(e.Reference, fallback.Reference)),
			Overrides:    overrides,
		})
	}
	return markets, nil
}

func orDefault[T any](v, fallback *T) T {
	if v != nil {
		return *v
	}
	return *fallback
}

// bpsOf returns bps/10000 of unit
func bpsOf(unit *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(unit, big.NewInt(bps))
	return out.Div(out, big.NewInt(10_000))
}

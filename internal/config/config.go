package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/you/dexarb/internal/dex/core"
	"github.com/you/dexarb/internal/ethaddr"
)

type ChainConfig struct {
	Network        string `yaml:"network"`
	RPCHTTP        string `yaml:"rpc_http"`
	WalletPK       string `yaml:"wallet_pk"`
	MaxGasLimit    uint64 `yaml:"max_gas_limit"`
	ConfirmTimeout int    `yaml:"confirm_timeout_sec"`
	Multicall      string `yaml:"multicall"`
}

type TradeConfig struct {
	TokenAddress    string  `yaml:"token_address"`
	BaseCurrency    string  `yaml:"base_currency"`
	AmountBase      float64 `yaml:"amount_base"`
	SlippagePct     float64 `yaml:"slippage_pct"`
	MinSpreadPct    float64 `yaml:"min_spread_pct"`
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	CooldownSec     int     `yaml:"cooldown_sec"`
	DeadlineSec     int     `yaml:"deadline_sec"`
}

type RiskConfig struct {
	// MaxLiquidityFraction bounds price impact: the trade's USD notional
	// must not exceed this fraction of either venue's reported liquidity.
	MaxLiquidityFraction float64 `yaml:"max_liquidity_fraction"`
}

type RPCConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BackoffBaseMs int `yaml:"backoff_base_ms"`
}

type RouterEntry struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Family   string `yaml:"family"` // v2 | v3 | solidly | aggregator
	Version  int    `yaml:"version"`
	Factory  string `yaml:"factory"`
	Quoter   string `yaml:"quoter"`
	Executor string `yaml:"executor"`
	// FOTSwap marks routers with a fee-on-transfer tolerant swap entry
	// point. Solidly-style routers default to true.
	FOTSwap *bool `yaml:"fot_swap"`
}

type FeedConfig struct {
	WsURL   string `yaml:"ws_url"`
	ChainID string `yaml:"chain_id"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	SnapNS   string `yaml:"snap_ns"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type Config struct {
	DryRun  bool          `yaml:"dry_run"`
	Chain   ChainConfig   `yaml:"chain"`
	Trade   TradeConfig   `yaml:"trade"`
	Risk    RiskConfig    `yaml:"risk"`
	RPC     RPCConfig     `yaml:"rpc"`
	Routers []RouterEntry `yaml:"routers"`
	Feed    FeedConfig    `yaml:"feed"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.checksumAddresses(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Inherited policy defaults; preserved for behavioral compatibility.
func (c *Config) applyDefaults() {
	if c.Chain.MaxGasLimit == 0 {
		c.Chain.MaxGasLimit = 500_000
	}
	if c.Chain.ConfirmTimeout == 0 {
		c.Chain.ConfirmTimeout = 120
	}
	if c.Trade.SlippagePct == 0 {
		c.Trade.SlippagePct = 1.0
	}
	if c.Trade.MinSpreadPct == 0 {
		c.Trade.MinSpreadPct = 1.0
	}
	if c.Trade.MinLiquidityUSD == 0 {
		c.Trade.MinLiquidityUSD = 1000
	}
	if c.Trade.CooldownSec == 0 {
		c.Trade.CooldownSec = 60
	}
	if c.Trade.DeadlineSec == 0 {
		c.Trade.DeadlineSec = 300
	}
	if c.Risk.MaxLiquidityFraction == 0 {
		c.Risk.MaxLiquidityFraction = 0.10
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = 5
	}
	if c.RPC.BackoffBaseMs == 0 {
		c.RPC.BackoffBaseMs = 500
	}
	if c.Feed.WsURL == "" {
		c.Feed.WsURL = "wss://io.dexscreener.com/dex/screener/v2/streaming/pairs/sub"
	}
	if c.Feed.ChainID == "" {
		c.Feed.ChainID = "base"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "pool:stream"
	}
	if c.Redis.SnapNS == "" {
		c.Redis.SnapNS = "pool:snap:"
	}
}

// checksumAddresses rewrites every configured address into EIP-55 form.
// A malformed address is a config error, caught at startup.
func (c *Config) checksumAddresses() error {
	fix := func(name string, addr *string) error {
		if *addr == "" {
			return nil
		}
		cs, err := ethaddr.Checksum(*addr)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*addr = cs
		return nil
	}
	if err := fix("trade.token_address", &c.Trade.TokenAddress); err != nil {
		return err
	}
	if err := fix("trade.base_currency", &c.Trade.BaseCurrency); err != nil {
		return err
	}
	if err := fix("chain.multicall", &c.Chain.Multicall); err != nil {
		return err
	}
	for i := range c.Routers {
		r := &c.Routers[i]
		if err := fix("routers."+r.Name+".address", &r.Address); err != nil {
			return err
		}
		if err := fix("routers."+r.Name+".factory", &r.Factory); err != nil {
			return err
		}
		if err := fix("routers."+r.Name+".quoter", &r.Quoter); err != nil {
			return err
		}
		if err := fix("routers."+r.Name+".executor", &r.Executor); err != nil {
			return err
		}
	}
	return nil
}

// Directory builds the venue directory in config order.
func (c *Config) Directory() (core.Directory, error) {
	d := make(core.Directory, 0, len(c.Routers))
	for _, r := range c.Routers {
		fam, err := parseFamily(r.Family)
		if err != nil {
			return nil, fmt.Errorf("router %q: %w", r.Name, err)
		}
		addr, err := ethaddr.Parse(r.Address)
		if err != nil {
			return nil, fmt.Errorf("router %q: %w", r.Name, err)
		}
		desc := core.RouterDescriptor{
			Address: addr,
			Family:  fam,
			Version: r.Version,
		}
		if r.Factory != "" {
			if desc.Factory, err = ethaddr.Parse(r.Factory); err != nil {
				return nil, fmt.Errorf("router %q factory: %w", r.Name, err)
			}
		}
		if r.Quoter != "" {
			if desc.Quoter, err = ethaddr.Parse(r.Quoter); err != nil {
				return nil, fmt.Errorf("router %q quoter: %w", r.Name, err)
			}
		}
		if r.Executor != "" {
			if desc.Executor, err = ethaddr.Parse(r.Executor); err != nil {
				return nil, fmt.Errorf("router %q executor: %w", r.Name, err)
			}
		}
		desc.FOTSwap = fam == core.FamilySolidly
		if r.FOTSwap != nil {
			desc.FOTSwap = *r.FOTSwap
		}
		d = append(d, core.DirectoryEntry{Name: r.Name, Desc: desc})
	}
	return d, nil
}

func parseFamily(s string) (core.ProtocolFamily, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "v2":
		return core.FamilyV2, nil
	case "v3":
		return core.FamilyV3, nil
	case "solidly":
		return core.FamilySolidly, nil
	case "aggregator":
		return core.FamilyAggregator, nil
	default:
		return "", fmt.Errorf("unknown protocol family %q", s)
	}
}

func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Trade.CooldownSec) * time.Second
}

func (c *Config) Deadline() time.Duration {
	return time.Duration(c.Trade.DeadlineSec) * time.Second
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.Chain.ConfirmTimeout) * time.Second
}

func (c *Config) Backoff() time.Duration {
	return time.Duration(c.RPC.BackoffBaseMs) * time.Millisecond
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/brolab-dev/x402-mcp/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Network     NetworkConfig     `mapstructure:"network"`
	Signer      SignerConfig      `mapstructure:"signer"`
	Settlement  SettlementConfig  `mapstructure:"settlement"`
	Facilitator FacilitatorConfig `mapstructure:"facilitator"`
	Market      MarketConfig      `mapstructure:"market"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Server      ServerConfig      `mapstructure:"server"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Report      ReportConfig      `mapstructure:"report"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// NetworkConfig selects the EVM network and the token used for settlement.
type NetworkConfig struct {
	Name           string        `mapstructure:"name"`
	ChainID        int64         `mapstructure:"chain_id"`
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Token          TokenConfig   `mapstructure:"token"`
}

// TokenConfig is the EIP-712 domain of the settlement token.
type TokenConfig struct {
	Address  string `mapstructure:"address"`
	Name     string `mapstructure:"name"`
	Version  string `mapstructure:"version"`
	Decimals int32  `mapstructure:"decimals"`
}

// SignerConfig holds the authorization signing key.
type SignerConfig struct {
	PrivateKey string        `mapstructure:"private_key"`
	Validity   time.Duration `mapstructure:"validity"`
}

// SettlementConfig describes what each triggered settlement pays.
type SettlementConfig struct {
	Recipient         string `mapstructure:"recipient"`
	Amount            string `mapstructure:"amount"`
	MaxTimeoutSeconds int    `mapstructure:"max_timeout_seconds"`
}

// FacilitatorConfig captures x402 facilitator connectivity.
type FacilitatorConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Version        int           `mapstructure:"version"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// MarketConfig governs market-data polling.
type MarketConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Symbols          []string      `mapstructure:"symbols"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollIntervalMS   int64         `mapstructure:"poll_interval_ms"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
}

// PolicyConfig parameterises the default policies.
type PolicyConfig struct {
	Symbol               string  `mapstructure:"symbol"`
	VolatilityThreshold  float64 `mapstructure:"volatility_threshold"`
	PriceChangeThreshold float64 `mapstructure:"price_change_threshold"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// AlertingConfig routes settlement outcome notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for notifications.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ReportConfig bounds rendered history reports.
type ReportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps config keys to the bare environment variable names
// accepted alongside the X402_ prefixed ones.
var legacyEnv = map[string]string{
	"network.name":                  "NETWORK",
	"network.rpc_url":               "RPC_URL",
	"signer.private_key":            "PRIVATE_KEY",
	"settlement.recipient":          "SETTLEMENT_RECIPIENT",
	"settlement.amount":             "SETTLEMENT_AMOUNT",
	"market.poll_interval_ms":       "POLLING_INTERVAL_MS",
	"policy.volatility_threshold":   "VOLATILITY_THRESHOLD",
	"policy.price_change_threshold": "PRICE_CHANGE_THRESHOLD",
	"server.port":                   "PORT",
}

const envPrefix = "X402"

// Load builds configuration from defaults, an optional file, a .env file
// and the environment.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return fmt.Errorf("bind env %s: %w", legacy, err)
		}
	}
	return nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "x402-settler")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("network.name", "cronos-testnet")
	v.SetDefault("network.request_timeout", "10s")

	v.SetDefault("signer.validity", "1h")

	v.SetDefault("settlement.amount", "1000000")
	v.SetDefault("settlement.max_timeout_seconds", 3600)

	v.SetDefault("facilitator.base_url", "https://facilitator.cronoslabs.org/v2/x402")
	v.SetDefault("facilitator.version", 1)
	v.SetDefault("facilitator.request_timeout", "30s")

	v.SetDefault("market.base_url", "https://api.crypto.com/v2")
	v.SetDefault("market.symbols", []string{"BTC_USDT", "ETH_USDT", "CRO_USDT"})
	v.SetDefault("market.poll_interval", "30s")
	v.SetDefault("market.poll_interval_ms", 0)
	v.SetDefault("market.request_timeout", "10s")
	v.SetDefault("market.startup_delay", "0s")

	v.SetDefault("policy.symbol", "BTC_USDT")
	v.SetDefault("policy.volatility_threshold", 5.0)
	v.SetDefault("policy.price_change_threshold", 3.0)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("report.max_data_points", 500)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalize() error {
	if err := c.Network.resolve(); err != nil {
		return err
	}
	if c.Market.PollIntervalMS > 0 {
		c.Market.PollInterval = time.Duration(c.Market.PollIntervalMS) * time.Millisecond
	}
	symbols := c.Market.Symbols[:0]
	for _, s := range c.Market.Symbols {
		if s = strings.TrimSpace(s); s != "" {
			symbols = append(symbols, s)
		}
	}
	c.Market.Symbols = symbols
	c.Signer.PrivateKey = strings.TrimSpace(c.Signer.PrivateKey)
	c.Settlement.Recipient = strings.TrimSpace(c.Settlement.Recipient)
	return nil
}

// Validate performs sanity checks on the configuration values. Any error
// here is fatal at startup.
func (c *Config) Validate() error {
	var missing []string
	if c.Signer.PrivateKey == "" {
		missing = append(missing, "PRIVATE_KEY (signer.private_key)")
	}
	if c.Settlement.Recipient == "" {
		missing = append(missing, "SETTLEMENT_RECIPIENT (settlement.recipient)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if !common.IsHexAddress(c.Settlement.Recipient) {
		return fmt.Errorf("settlement.recipient is not a valid address: %q", c.Settlement.Recipient)
	}
	if !common.IsHexAddress(c.Network.Token.Address) {
		return fmt.Errorf("network.token.address is not a valid address: %q", c.Network.Token.Address)
	}
	if _, err := c.SettlementAmount(); err != nil {
		return err
	}
	if c.Settlement.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("settlement.max_timeout_seconds must be greater than zero")
	}
	if c.Signer.Validity <= 0 {
		return fmt.Errorf("signer.validity must be greater than zero")
	}
	if c.Market.PollInterval <= 0 {
		return fmt.Errorf("market.poll_interval must be greater than zero")
	}
	if c.Market.StartupDelay < 0 {
		return fmt.Errorf("market.startup_delay cannot be negative")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols must list at least one symbol")
	}
	if c.Policy.VolatilityThreshold < 0 {
		return fmt.Errorf("policy.volatility_threshold cannot be negative")
	}
	if c.Policy.PriceChangeThreshold < 0 {
		return fmt.Errorf("policy.price_change_threshold cannot be negative")
	}
	if c.Facilitator.Version <= 0 {
		return fmt.Errorf("facilitator.version must be greater than zero")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be configured")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be configured")
		}
	}
	if c.Report.MaxDataPoints <= 1 {
		return fmt.Errorf("report.max_data_points must be greater than one")
	}
	return nil
}

// SettlementAmount parses the configured amount in the token's smallest unit.
func (c *Config) SettlementAmount() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(c.Settlement.Amount))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("settlement.amount is not a number: %w", err)
	}
	if !amount.IsInteger() || !amount.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("settlement.amount must be a positive integer of token units, got %s", amount.String())
	}
	return amount, nil
}

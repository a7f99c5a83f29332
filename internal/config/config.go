// Package config loads the service configuration from an optional YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/kaupa/barter-engine/internal/asset"
	"github.com/kaupa/barter-engine/internal/kaupa"
	"github.com/kaupa/barter-engine/internal/model"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Faucet    FaucetConfig    `mapstructure:"faucet"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// FaucetConfig enables minting into accounts over HTTP. Development only.
type FaucetConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BootstrapConfig lists resources and engines created at start-up.
type BootstrapConfig struct {
	Resources []ResourceConfig `mapstructure:"resources"`
	Engines   []EngineConfig   `mapstructure:"engines"`
}

type ResourceConfig struct {
	Address string `mapstructure:"address" json:"address"`
	Kind    string `mapstructure:"kind" json:"kind"`
}

// EngineConfig describes an engine instance. It doubles as the body of the
// instantiate request.
type EngineConfig struct {
	ID                string      `mapstructure:"id" json:"id,omitempty"`
	Owner             string      `mapstructure:"owner" json:"owner"`
	Name              string      `mapstructure:"name" json:"name"`
	Blurb             string      `mapstructure:"blurb" json:"blurb,omitempty"`
	URL               string      `mapstructure:"url" json:"url,omitempty"`
	Side1             []string    `mapstructure:"side1" json:"side1,omitempty"`
	Side2             []string    `mapstructure:"side2" json:"side2,omitempty"`
	TradingPair       bool        `mapstructure:"trading_pair" json:"trading_pair"`
	ForceAllowPartial bool        `mapstructure:"force_allow_partial" json:"force_allow_partial"`
	AllowFlashLoans   bool        `mapstructure:"allow_flash_loans" json:"allow_flash_loans"`
	Fees              *FeesConfig `mapstructure:"fees" json:"fees,omitempty"`
}

// FeesConfig uses lists rather than maps keyed by resource: viper folds map
// keys to lower case.
type FeesConfig struct {
	MakerFixed []AskConfig    `mapstructure:"maker_fixed" json:"maker_fixed,omitempty"`
	TakerFixed []AskConfig    `mapstructure:"taker_fixed" json:"taker_fixed,omitempty"`
	PaymentBps string         `mapstructure:"payment_bps" json:"payment_bps,omitempty"`
	NFTFlat    []NFTFeeConfig `mapstructure:"nft_flat" json:"nft_flat,omitempty"`
}

type AskConfig struct {
	Resource string   `mapstructure:"resource" json:"resource"`
	Type     string   `mapstructure:"type" json:"type"`
	Amount   string   `mapstructure:"amount" json:"amount,omitempty"`
	IDs      []string `mapstructure:"ids" json:"ids,omitempty"`
	Extra    uint64   `mapstructure:"extra" json:"extra,omitempty"`
}

type NFTFeeConfig struct {
	Resource string `mapstructure:"resource" json:"resource"`
	PayIn    string `mapstructure:"pay_in" json:"pay_in"`
	Amount   string `mapstructure:"amount" json:"amount"`
}

// Load reads the YAML file at path, if any, then applies environment
// overrides. PORT, DATABASE_URL and REDIS_URL are honored as-is; any other
// key can be set as KAUPA_<SECTION>_<KEY>.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("redis.cache_ttl", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("faucet.enabled", false)

	v.SetEnvPrefix("KAUPA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range map[string]string{
		"server.port":  "PORT",
		"database.url": "DATABASE_URL",
		"redis.url":    "REDIS_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Redis.URL != "" && c.Database.URL == "" {
		errs = append(errs, errors.New("redis.url requires database.url: the cache fronts PostgreSQL"))
	}

	seen := make(map[string]bool)
	for i, r := range c.Bootstrap.Resources {
		if _, err := r.Build(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap.resources[%d]: %w", i, err))
		}
		if seen[r.Address] {
			errs = append(errs, fmt.Errorf("bootstrap.resources[%d]: duplicate address %s", i, r.Address))
		}
		seen[r.Address] = true
	}
	for i, e := range c.Bootstrap.Engines {
		if _, err := e.Build(); err != nil {
			errs = append(errs, fmt.Errorf("bootstrap.engines[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Build parses the resource kind.
func (r ResourceConfig) Build() (asset.Kind, error) {
	if r.Address == "" {
		return 0, errors.New("address must be set")
	}
	var kind asset.Kind
	if err := kind.UnmarshalText([]byte(r.Kind)); err != nil {
		return 0, err
	}
	return kind, nil
}

// Build converts the description into an engine configuration. Resource
// existence is checked later, by kaupa.New.
func (e EngineConfig) Build() (kaupa.Config, error) {
	owner, err := asset.ParseGlobalID(e.Owner)
	if err != nil {
		return kaupa.Config{}, fmt.Errorf("owner: %w", err)
	}
	cfg := kaupa.Config{
		Owner:             owner,
		Name:              e.Name,
		Blurb:             e.Blurb,
		URL:               e.URL,
		Side1:             addresses(e.Side1),
		Side2:             addresses(e.Side2),
		TradingPair:       e.TradingPair,
		ForceAllowPartial: e.ForceAllowPartial,
		AllowFlashLoans:   e.AllowFlashLoans,
	}
	if e.Fees != nil {
		fees, err := e.Fees.Build()
		if err != nil {
			return kaupa.Config{}, fmt.Errorf("fees: %w", err)
		}
		cfg.Fees = fees
	}
	return cfg, nil
}

// Build converts the fee description into a schedule.
func (f FeesConfig) Build() (*model.Fees, error) {
	var errs []error
	out := &model.Fees{}

	var err error
	if out.PerTxMakerFixed, err = askingMap(f.MakerFixed); err != nil {
		errs = append(errs, fmt.Errorf("maker_fixed: %w", err))
	}
	if out.PerTxTakerFixed, err = askingMap(f.TakerFixed); err != nil {
		errs = append(errs, fmt.Errorf("taker_fixed: %w", err))
	}
	if f.PaymentBps != "" {
		bps, err := decimal.NewFromString(f.PaymentBps)
		if err != nil {
			errs = append(errs, fmt.Errorf("payment_bps: %w", err))
		} else {
			out.PerPaymentBps = &bps
		}
	}
	if len(f.NFTFlat) > 0 {
		out.PerNFTFlat = make(map[asset.ResourceAddress]model.NFTFee, len(f.NFTFlat))
		for _, rule := range f.NFTFlat {
			amount, err := decimal.NewFromString(rule.Amount)
			if err != nil {
				errs = append(errs, fmt.Errorf("nft_flat %s: %w", rule.Resource, err))
				continue
			}
			out.PerNFTFlat[asset.ResourceAddress(rule.Resource)] = model.NFTFee{
				Resource: asset.ResourceAddress(rule.PayIn),
				Amount:   amount,
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

// Ask converts one entry into an asking type.
func (a AskConfig) Ask() (model.AskingType, error) {
	var kind asset.Kind
	if err := kind.UnmarshalText([]byte(a.Type)); err != nil {
		return model.AskingType{}, err
	}
	if kind == asset.NonFungible {
		if a.Amount != "" {
			return model.AskingType{}, fmt.Errorf("%w: non-fungible ask takes ids and extra, not amount", model.ErrInvalidAsking)
		}
		ids := make([]asset.LocalID, len(a.IDs))
		for i, id := range a.IDs {
			ids[i] = asset.LocalID(id)
		}
		return model.NonFungibleAsk(a.Extra, ids...), nil
	}
	amount, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return model.AskingType{}, fmt.Errorf("%w: %w", model.ErrInvalidAsking, err)
	}
	return model.FungibleAsk(amount), nil
}

func askingMap(list []AskConfig) (model.AskingMap, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make(model.AskingMap, len(list))
	for _, a := range list {
		ask, err := a.Ask()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.Resource, err)
		}
		res := asset.ResourceAddress(a.Resource)
		if _, dup := out[res]; dup {
			return nil, fmt.Errorf("%s listed twice", a.Resource)
		}
		out[res] = ask
	}
	return out, nil
}

func addresses(list []string) []asset.ResourceAddress {
	if len(list) == 0 {
		return nil
	}
	out := make([]asset.ResourceAddress, len(list))
	for i, s := range list {
		out[i] = asset.ResourceAddress(s)
	}
	return out
}

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaupa/barter-engine/internal/asset"
)

const sample = `
server:
  port: "9090"
  read_timeout: 5s
log:
  level: debug
faucet:
  enabled: true
bootstrap:
  resources:
    - address: XRD
      kind: fungible
    - address: RaDragon
      kind: non_fungible
  engines:
    - id: market
      owner: "badge#owner"
      name: Dragon market
      side1: [XRD]
      side2: [RaDragon]
      fees:
        payment_bps: "25"
        taker_fixed:
          - resource: XRD
            type: fungible
            amount: "1"
        nft_flat:
          - resource: RaDragon
            pay_in: XRD
            amount: "0.5"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kaupa.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.False(t, cfg.Faucet.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Faucet.Enabled)

	level, err := cfg.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	require.Len(t, cfg.Bootstrap.Resources, 2)
	kind, err := cfg.Bootstrap.Resources[1].Build()
	require.NoError(t, err)
	assert.Equal(t, asset.NonFungible, kind)

	require.Len(t, cfg.Bootstrap.Engines, 1)
	eng, err := cfg.Bootstrap.Engines[0].Build()
	require.NoError(t, err)
	assert.Equal(t, asset.GlobalID{Resource: "badge", Local: "owner"}, eng.Owner)
	assert.Equal(t, []asset.ResourceAddress{"XRD"}, eng.Side1, "addresses keep their case")
	require.NotNil(t, eng.Fees)
	assert.True(t, decimal.NewFromInt(25).Equal(*eng.Fees.PerPaymentBps))
	assert.True(t, decimal.NewFromInt(1).Equal(eng.Fees.PerTxTakerFixed["XRD"].Amount))
	assert.True(t, decimal.RequireFromString("0.5").Equal(eng.Fees.PerNFTFlat["RaDragon"].Amount))
	assert.Equal(t, asset.ResourceAddress("XRD"), eng.Fees.PerNFTFlat["RaDragon"].Resource)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("DATABASE_URL", "postgres://localhost/kaupa")
	t.Setenv("KAUPA_LOG_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/kaupa", cfg.Database.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: "8080"},
		Log:    LogConfig{Level: "loud"},
		Redis:  RedisConfig{URL: "redis://localhost"},
		Bootstrap: BootstrapConfig{
			Resources: []ResourceConfig{{Address: "xrd", Kind: "gold"}, {Address: "xrd", Kind: "fungible"}},
			Engines: []EngineConfig{
				{Owner: "no-hash"},
				{Owner: "badge#o", Fees: &FeesConfig{PaymentBps: "lots"}},
			},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"log.level", "redis.url", "resources[0]", "duplicate address", "engines[0]", "engines[1]"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestAskConfig(t *testing.T) {
	ask, err := AskConfig{Type: "non_fungible", IDs: []string{"a"}, Extra: 2}.Ask()
	require.NoError(t, err)
	assert.Equal(t, asset.NonFungible, ask.Kind)
	assert.True(t, decimal.NewFromInt(3).Equal(ask.Total()))

	_, err = AskConfig{Type: "non_fungible", Amount: "1"}.Ask()
	assert.Error(t, err)
	_, err = AskConfig{Type: "fungible"}.Ask()
	assert.Error(t, err)

	_, err = askingMap([]AskConfig{
		{Resource: "xrd", Type: "fungible", Amount: "1"},
		{Resource: "xrd", Type: "fungible", Amount: "2"},
	})
	assert.Error(t, err)
}

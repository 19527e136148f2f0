package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/xmoney",
		"REDIS_URL":             "redis://localhost:6379/0",
		"XMONEY_VERIFY_TIMEOUT": "",
		"PORT":                  "",
		"KAFKA_BROKERS":         "",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, 30*time.Second, cfg.VerifyTimeout)
	require.Equal(t, "https://secure.xmoney.com/sdk/v1/xmoney.js", cfg.XMoneySDKURL)
	require.Empty(t, cfg.KafkaBrokers)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := config.LoadForTests(map[string]string{
		"DATABASE_URL":          "postgres://localhost/xmoney",
		"REDIS_URL":             "redis://localhost:6379/0",
		"PORT":                  ":9090",
		"XMONEY_VERIFY_TIMEOUT": "5s",
		"KAFKA_BROKERS":         "k1:9092, k2:9092",
		"STORE_COUNTRY":         "ro",
		"APP_ENV":               "production",
	})
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr())
	require.Equal(t, 5*time.Second, cfg.VerifyTimeout)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, "RO", cfg.StoreCountry)
	require.True(t, cfg.IsProduction())
}

func TestLoadRequiresDatabase(t *testing.T) {
	_, err := config.LoadForTests(map[string]string{
		"DATABASE_URL": "",
		"REDIS_URL":    "redis://localhost:6379/0",
	})
	require.Error(t, err)
}

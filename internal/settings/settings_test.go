package settings_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xmoney-bridge/internal/settings"
)

func TestIsLive(t *testing.T) {
	require.True(t, settings.IsLive("pk_live_xxx"))
	require.False(t, settings.IsLive("pk_test_xxx"))
	require.False(t, settings.IsLive(""))
	require.False(t, settings.IsLive("garbage"))
}

func TestEnvironment(t *testing.T) {
	require.Equal(t, settings.EnvironmentLive, settings.Environment("pk_live_1"))
	require.Equal(t, settings.EnvironmentTest, settings.Environment("pk_test_1"))
	require.Equal(t, settings.EnvironmentUnknown, settings.Environment(""))
	require.Equal(t, settings.EnvironmentUnknown, settings.Environment("sk_live_1"))
}

func TestKeyPredicates(t *testing.T) {
	require.True(t, settings.IsValidPublicKey("pk_live_a"))
	require.True(t, settings.IsValidPublicKey("pk_test_a"))
	require.False(t, settings.IsValidPublicKey("sk_test_a"))
	require.True(t, settings.IsValidSecretKey("sk_live_a"))
	require.True(t, settings.IsValidSecretKey("sk_test_a"))
	require.False(t, settings.IsValidSecretKey("pk_test_a"))
	require.False(t, settings.IsValidSecretKey(""))
}

func TestResolverReadsEveryCall(t *testing.T) {
	store := settings.NewMemoryStore(map[string]string{
		settings.OptionPublicKey: "pk_test_one",
		settings.OptionSecretKey: "sk_test_one",
	})
	r := settings.Resolver{Store: store}
	ctx := context.Background()

	cfg, err := r.GetConfiguration(ctx)
	require.NoError(t, err)
	require.Equal(t, settings.Configuration{PublicKey: "pk_test_one", SecretKey: "sk_test_one"}, cfg)
	require.True(t, cfg.Configured())

	require.NoError(t, store.SetOptions(ctx, map[string]string{settings.OptionPublicKey: "pk_live_two"}))
	cfg, err = r.GetConfiguration(ctx)
	require.NoError(t, err)
	require.True(t, cfg.IsLive)
	require.Equal(t, 2, store.Reads)
}

func TestResolverMissingKeys(t *testing.T) {
	cfg, err := settings.Resolver{Store: settings.NewMemoryStore(nil)}.GetConfiguration(context.Background())
	require.NoError(t, err)
	require.False(t, cfg.IsLive)
	require.False(t, cfg.Configured())
}

func TestKeyFamiliesDiffer(t *testing.T) {
	require.True(t, settings.KeyFamiliesDiffer("pk_live_a", "sk_test_b"))
	require.True(t, settings.KeyFamiliesDiffer("pk_test_a", "sk_live_b"))
	require.False(t, settings.KeyFamiliesDiffer("pk_test_a", "sk_test_b"))
	require.False(t, settings.KeyFamiliesDiffer("", "sk_test_b"))
}

func TestMaskSecret(t *testing.T) {
	require.Equal(t, "sk_test_******7890", settings.MaskSecret("sk_test_abcdef7890"))
	require.Equal(t, "sk_live_***", settings.MaskSecret("sk_live_abc"))
	require.Equal(t, "", settings.MaskSecret(""))
}

func TestDecodeGatewayDefaults(t *testing.T) {
	g, err := settings.DecodeGateway("")
	require.NoError(t, err)
	require.Equal(t, settings.DefaultGateway(), g)

	g, err = settings.DecodeGateway(`{"enabled":false,"theme_mode":"dark"}`)
	require.NoError(t, err)
	require.False(t, g.Enabled)
	require.Equal(t, settings.ThemeDark, g.ThemeMode)
	require.Equal(t, "xMoney", g.Title)

	_, err = settings.DecodeGateway("{")
	require.Error(t, err)
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(nil)
	seeded, err := settings.Seed(ctx, store, "pk_test_a", "sk_test_b")
	require.NoError(t, err)
	require.True(t, seeded)

	seeded, err = settings.Seed(ctx, store, "pk_live_c", "sk_live_d")
	require.NoError(t, err)
	require.False(t, seeded, "existing credentials are never overwritten")

	_, err = settings.Seed(ctx, settings.NewMemoryStore(nil), "bad", "sk_test_b")
	require.Error(t, err)
}

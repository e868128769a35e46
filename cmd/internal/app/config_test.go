package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_MailboxBackend(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{name: "auto no storage", cfg: Config{MailboxBackend: MailboxAuto}, want: MailboxMemory},
		{name: "empty means auto", cfg: Config{}, want: MailboxMemory},
		{name: "auto prefers redis", cfg: Config{MailboxBackend: MailboxAuto, RedisURL: "redis://x", DatabaseURL: "postgres://x"}, want: MailboxRedis},
		{name: "auto falls to postgres", cfg: Config{MailboxBackend: MailboxAuto, DatabaseURL: "postgres://x"}, want: MailboxPostgres},
		{name: "explicit memory ignores redis", cfg: Config{MailboxBackend: MailboxMemory, RedisURL: "redis://x"}, want: MailboxMemory},
		{name: "redis without url", cfg: Config{MailboxBackend: MailboxRedis}, wantErr: true},
		{name: "postgres without url", cfg: Config{MailboxBackend: MailboxPostgres}, wantErr: true},
		{name: "postgres with url", cfg: Config{MailboxBackend: MailboxPostgres, DatabaseURL: "postgres://x"}, want: MailboxPostgres},
		{name: "unknown", cfg: Config{MailboxBackend: "kafka"}, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.cfg.mailboxBackend()
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"FINTRACK_HTTP_ADDR", "FINTRACK_MAILBOX_BACKEND", "FINTRACK_MAILBOX_MAX",
		"FINTRACK_DB_SCHEMA", "FINTRACK_BALANCE_INTERVAL", "FINTRACK_CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	require.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	require.Equal(t, MailboxAuto, cfg.MailboxBackend)
	require.Equal(t, 1000, cfg.MailboxMax)
	require.Equal(t, "public", cfg.DBSchema)
	require.Equal(t, 10*time.Second, cfg.BalanceInterval)
	require.Empty(t, cfg.CORSAllowedOrigins)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FINTRACK_MAILBOX_BACKEND", "Redis")
	t.Setenv("FINTRACK_MAILBOX_MAX", "25")
	t.Setenv("FINTRACK_DB_MIGRATE", "true")
	t.Setenv("FINTRACK_BALANCE_INTERVAL", "3s")
	t.Setenv("FINTRACK_CORS_ALLOWED_ORIGINS", " https://app.example , ,http://localhost:* ")

	cfg := LoadConfig()
	require.Equal(t, MailboxRedis, cfg.MailboxBackend)
	require.Equal(t, 25, cfg.MailboxMax)
	require.True(t, cfg.DBMigrate)
	require.Equal(t, 3*time.Second, cfg.BalanceInterval)
	require.Equal(t, []string{"https://app.example", "http://localhost:*"}, cfg.CORSAllowedOrigins)
}

func TestEnvHelpers_InvalidFallBack(t *testing.T) {
	t.Setenv("FINTRACK_TEST_INT", "-3")
	t.Setenv("FINTRACK_TEST_INT32", "nope")
	t.Setenv("FINTRACK_TEST_DUR", "0s")
	t.Setenv("FINTRACK_TEST_BOOL", "maybe")

	require.Equal(t, 7, EnvInt("FINTRACK_TEST_INT", 7))
	require.Equal(t, int32(2), EnvInt32("FINTRACK_TEST_INT32", 2))
	require.Equal(t, time.Second, EnvDuration("FINTRACK_TEST_DUR", time.Second))
	require.True(t, EnvBool("FINTRACK_TEST_BOOL", true))
}

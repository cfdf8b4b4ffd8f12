package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func TestLoadRequiresServerAndMysql(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.yaml", "port: \"9000\"\n")

	err := Load(dir)
	require.Error(t, err)
	require.Contains(t, err.Error(), "mysql")
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "server.yaml", "port: \"9000\"\nsign_key: secret\n")
	writeFile(t, dir, "mysql.yaml", "host: db:3306\nuser: u\npassword: p\ndatabase: d\n")
	writeFile(t, dir, "commission.yaml", `
rates:
  gold: {level1: 25, level2: 4, level3: 3}
legacy_window: 5m
`)

	require.NoError(t, Load(dir))

	require.Equal(t, "9000", Server.Port)
	require.Equal(t, "secret", Server.SignKey)
	require.Equal(t, "db:3306", MySql.Host)
	require.Equal(t, 10, MySql.MaxIdleConns)

	require.Equal(t, TierRates{Level1: 25, Level2: 4, Level3: 3}, Commission.Rates["gold"])
	require.Equal(t, TierRates{Level1: 40, Level2: 5, Level3: 5}, Commission.Rates["platinum"])
	require.Equal(t, 5*time.Minute, Commission.LegacyWindow)
	require.Equal(t, 3, Commission.MaxLevels)

	require.Equal(t, 0.01, Reconcile.Epsilon)
	require.Equal(t, "info", Log.Level)
}

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	apperrors "fno-chain/internal/errors"
	"fno-chain/internal/greeks"
	"fno-chain/internal/instruments"
	"fno-chain/internal/models"
	"fno-chain/internal/session"
)

// paperConfigDir writes a config that runs the paper gateway with fast
// pacing and a throwaway instrument store.
func paperConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf(`[gateway]
provider = "paper"

[fetcher]
pacing = "1ms"
base_delay = "1ms"
max_delay = "4ms"

[instruments]
db_path = %q

[logging]
level = "error"
file = false
`, filepath.Join(dir, "instruments.db"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(cfg), 0644))
	return dir
}

func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd(zerolog.Nop())
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", dir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestChainCommandJSON(t *testing.T) {
	dir := paperConfigDir(t)

	out, err := runCLI(t, dir, "chain", "sbin", "--json")
	require.NoError(t, err, out)

	var c models.OptionChain
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	require.Equal(t, "SBIN", c.Symbol)
	require.Len(t, c.Rows, 16)
	atm, ok := c.ATMRow()
	require.True(t, ok)
	require.Equal(t, 810.0, atm.Strike)
	require.Equal(t, 32, c.Coverage.Total)
}

func TestChainCommandTable(t *testing.T) {
	dir := paperConfigDir(t)

	out, err := runCLI(t, dir, "chain", "SBIN")
	require.NoError(t, err, out)
	require.Contains(t, out, "STRIKE")
	require.Contains(t, out, "*810")
	require.Contains(t, out, "32 contracts quoted")
}

func TestChainCommandUnknownSymbol(t *testing.T) {
	dir := paperConfigDir(t)

	_, err := runCLI(t, dir, "chain", "NOSUCH")
	require.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestInstrumentsRefreshAndStatus(t *testing.T) {
	dir := paperConfigDir(t)

	out, err := runCLI(t, dir, "instruments", "refresh")
	require.NoError(t, err, out)
	require.Contains(t, out, "Loaded")

	// A new process sees the stored master.
	out, err = runCLI(t, dir, "instruments", "status", "--json")
	require.NoError(t, err, out)
	var st instruments.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, "paper", st.Provider)
	require.Positive(t, st.Loaded)
	require.NotNil(t, st.Freshness)
	require.True(t, st.Freshness.IsFresh)
}

func TestSessionCommands(t *testing.T) {
	dir := paperConfigDir(t)

	out, err := runCLI(t, dir, "session", "--json")
	require.NoError(t, err, out)
	var info session.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, session.Unauthenticated.String(), info.State)

	out, err = runCLI(t, dir, "login", "--json")
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	require.Equal(t, session.Active.String(), info.State)
	require.Equal(t, "paper", info.Provider)
}

func TestProviderFlagValidation(t *testing.T) {
	dir := paperConfigDir(t)

	_, err := runCLI(t, dir, "--provider", "nse", "session")
	require.ErrorIs(t, err, apperrors.ErrConfigInvalid)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, t.TempDir(), "version")
	require.NoError(t, err)
	require.Contains(t, out, Version)
}

func TestGreeksCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "greeks", "price", "--spot", "100", "--strike", "100", "--vol", "0.2", "--days", "30", "--json")
	require.NoError(t, err, out)
	var priced struct {
		Price  float64       `json:"price"`
		Greeks models.Greeks `json:"greeks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &priced))

	want, err := greeks.Price(100, 100, 30/365.0, 0.2, greeks.DefaultRiskFreeRate, models.Call)
	require.NoError(t, err)
	require.InDelta(t, want, priced.Price, 1e-9)
	require.InDelta(t, 0.5, priced.Greeks.Delta, 0.1)

	out, err = runCLI(t, dir, "greeks", "iv", "--spot", "100", "--strike", "100", "--days", "30",
		"--price", fmt.Sprintf("%.10f", want), "--json")
	require.NoError(t, err, out)
	var g models.Greeks
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	require.InDelta(t, 0.2, g.IV, 1e-4)

	_, err = runCLI(t, dir, "greeks", "iv", "--spot", "100", "--strike", "100", "--days", "30", "--price", "1", "--type", "XX")
	require.ErrorIs(t, err, apperrors.ErrConfigInvalid)

	_, err = runCLI(t, dir, "greeks", "price", "--spot", "100", "--strike", "100", "--vol", "0.2")
	require.True(t, err != nil && strings.Contains(err.Error(), "--expiry"))
}

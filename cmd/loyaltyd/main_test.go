package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MarkoPoloResearchLab/loyalty/internal/terminalauth"
	"github.com/MarkoPoloResearchLab/loyalty/pkg/loyalty"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testSigningKey = "loyaltyd-test-signing-key-0123456789"
	testPrograms   = `
default:
  rate: "1"
  welcome_grant: 25
  tiers:
    - name: Bronze
      min_lifetime_spend: "0"
`
)

func TestTokenCommandIssuesVerifiableToken(test *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--signing-key", testSigningKey, "--tenant", "tenant-a", "--store-id", "downtown", "--operator", "alice"})
	require.NoError(test, cmd.Execute())

	authenticator, err := terminalauth.New(terminalauth.Config{SigningKey: []byte(testSigningKey), Issuer: defaultIssuer})
	require.NoError(test, err)
	claims, err := authenticator.Verify(strings.TrimSpace(out.String()))
	require.NoError(test, err)
	require.Equal(test, "tenant-a", claims.TenantID)
	require.Equal(test, "store:downtown/operator:alice", claims.RecordedBy())
}

func TestReconcileCommandReportsAccount(test *testing.T) {
	dir := test.TempDir()
	programsFile := filepath.Join(dir, "programs.yaml")
	require.NoError(test, os.WriteFile(programsFile, []byte(testPrograms), 0o600))
	databasePath := filepath.Join(dir, "loyalty.db")

	cfg := &runtimeConfig{DatabaseURL: databasePath, Store: storeKindGorm, NodeID: 3, ProgramsFile: programsFile}
	services, cleanup, err := openServices(context.Background(), cfg, zap.NewNop())
	require.NoError(test, err)
	session := consoleSession(test, "tenant-a")
	identifier, err := loyalty.ParseIdentifier("CARD-0042")
	require.NoError(test, err)
	displayName, err := loyalty.NewDisplayName("Ada")
	require.NoError(test, err)
	account, err := services.directory.Enroll(context.Background(), session, loyalty.EnrollRequest{DisplayName: displayName, Identifier: identifier})
	require.NoError(test, err)
	cleanup()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"reconcile",
		"--database-url", databasePath,
		"--programs-file", programsFile,
		"--signing-key", testSigningKey,
		"--tenant", "tenant-a",
		"--account", account.AccountID.String(),
	})
	require.NoError(test, cmd.Execute())

	var report map[string]any
	require.NoError(test, json.Unmarshal(out.Bytes(), &report))
	require.Equal(test, true, report["consistent"])
	require.Equal(test, float64(25), report["ledger_balance"])
	require.Equal(test, float64(1), report["entry_count"])
	require.Equal(test, "Bronze", report["derived_tier"])
}

func TestLoadConfigRejectsUnknownStore(test *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"token", "--signing-key", testSigningKey, "--store", "mongo", "--tenant", "t", "--store-id", "s", "--operator", "o"})
	require.ErrorContains(test, cmd.Execute(), "unsupported store")
}

func TestResolveDriver(test *testing.T) {
	dir := test.TempDir()
	testCases := []struct {
		dsn      string
		driver   string
		expected string
	}{
		{dsn: "postgres://user@localhost/loyalty", driver: driverPostgres},
		{dsn: "postgresql://user@localhost/loyalty", driver: driverPostgres},
		{dsn: "sqlite://" + filepath.Join(dir, "a.db"), driver: driverSQLite, expected: filepath.Join(dir, "a.db")},
		{dsn: ":memory:", driver: driverSQLite, expected: ":memory:"},
		{dsn: filepath.Join(dir, "nested", "b.db"), driver: driverSQLite, expected: filepath.Join(dir, "nested", "b.db")},
	}
	for _, testCase := range testCases {
		driver, path, err := resolveDriver(testCase.dsn)
		require.NoError(test, err, testCase.dsn)
		require.Equal(test, testCase.driver, driver, testCase.dsn)
		require.Equal(test, testCase.expected, path, testCase.dsn)
	}
}

func consoleSession(test *testing.T, tenant string) loyalty.Session {
	test.Helper()
	tenantID, err := loyalty.NewTenantID(tenant)
	require.NoError(test, err)
	recordedBy, err := loyalty.NewRecordedBy(consoleRecordedBy)
	require.NoError(test, err)
	session, err := loyalty.NewSession(tenantID, recordedBy)
	require.NoError(test, err)
	return session
}

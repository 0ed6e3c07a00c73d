package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/backend/internal/config"
	"stockledger/backend/internal/domain"
	"stockledger/backend/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	assert.ErrorContains(t, err, "AUTH_SECRET")
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, AppEnv: "development"}))
}

func TestValidateSecurityConfigTightensProduction(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: strongSecret, AppEnv: "production", AllowedOrigin: "https://pos.example"})
	assert.ErrorContains(t, err, "DATABASE_URL")

	err = validateSecurityConfig(config.Config{
		AuthSecret:    strongSecret,
		AppEnv:        "production",
		DatabaseURL:   "postgres://ledger@localhost/ledger",
		AllowedOrigin: "*",
	})
	assert.ErrorContains(t, err, "ALLOWED_ORIGIN")
}

func TestRootRegistersSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "reconcile"})
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("env-file"))
}

func TestReconcileRequiresOneArgument(t *testing.T) {
	assert.Error(t, reconcileCmd.Args(reconcileCmd, nil))
	assert.Error(t, reconcileCmd.Args(reconcileCmd, []string{"a", "b"}))
	assert.NoError(t, reconcileCmd.Args(reconcileCmd, []string{"a"}))
}

func TestReconcileRejectsMalformedID(t *testing.T) {
	var out bytes.Buffer
	reconcileCmd.SetOut(&out)
	t.Cleanup(func() { reconcileCmd.SetOut(nil) })

	err := reconcileCmd.RunE(reconcileCmd, []string{"not-a-uuid"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid variant id")
	assert.Empty(t, out.String())
}

func TestReconcileSeededVariantIsConsistent(t *testing.T) {
	t.Setenv("AUTH_SECRET", strongSecret)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("APP_ENV", "development")
	t.Setenv("LOG_LEVEL", "error")
	envFile = ""
	t.Cleanup(func() { envFile = ".env" })

	var out bytes.Buffer
	reconcileCmd.SetOut(&out)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	reconcileCmd.SetContext(ctx)
	t.Cleanup(func() { reconcileCmd.SetOut(nil) })

	topi := memory.SeedVariantID(domain.VariantKey{ProductID: memory.SeedID("product/topi-baseball")})
	require.NoError(t, reconcileCmd.RunE(reconcileCmd, []string{topi.String()}))
	assert.Contains(t, out.String(), `"consistent": true`)
}

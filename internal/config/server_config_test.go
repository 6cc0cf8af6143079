package config_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/tx-signer/internal/config"
)

func TestPrintServiceEnv(t *testing.T) {
	config := config.DefaultServiceConfigFromEnv()
	_, err := json.MarshalIndent(config, "", "  ")

	if err != nil {
		t.Fatal(err)
	}
}

func TestSecretsAreNotSerialized(t *testing.T) {
	t.Setenv("KEYSTORE_PASSWORD", "hunter2")
	t.Setenv("SIGNING_BUNDLER_API_KEY", "bundler-secret")
	t.Setenv("SERVER_MANAGEMENT_API_KEYS", "key-a, key-b")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, "hunter2", cfg.Keystore.Password)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Echo.APIKeys)

	out, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.NotContains(t, string(out), "bundler-secret")
	assert.NotContains(t, string(out), "key-a")
}

func TestSigningDefaults(t *testing.T) {
	t.Setenv("SIGNING_REQUEST_TIMEOUT", "15s")
	t.Setenv("TRANSPORT_KIND", "bogus")

	cfg := config.DefaultServiceConfigFromEnv()
	assert.Equal(t, 15*time.Second, cfg.Signing.RequestTimeout)
	assert.Equal(t, 5, cfg.Signing.UserOpRetries)
	assert.Equal(t, config.TransportKafka, cfg.Transport.Kind)
}

func TestConnectionString(t *testing.T) {
	db := config.Database{
		Host:             "localhost",
		Port:             5432,
		Username:         "u",
		Password:         "p",
		Database:         "signer",
		AdditionalParams: map[string]string{"sslmode": "require", "application_name": "tx-signer"},
	}

	assert.Equal(t, "host=localhost port=5432 user=u password=p dbname=signer application_name=tx-signer sslmode=require", db.ConnectionString())
}

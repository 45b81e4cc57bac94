package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvSecretManager_GetSecret(t *testing.T) {
	t.Setenv("INTELIFY_MASTER_KEY", "s3cr3t")
	manager := &EnvSecretManager{}

	value, err := manager.GetSecret("master_key")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", value)
}

func TestEnvSecretManager_NormalizesKey(t *testing.T) {
	t.Setenv("INTELIFY_ABUSEIPDB_API_KEY", "k")
	manager := &EnvSecretManager{}

	value, err := manager.GetSecret("abuseipdb.api-key")
	require.NoError(t, err)
	assert.Equal(t, "k", value)
}

func TestEnvSecretManager_MissingSecret(t *testing.T) {
	manager := &EnvSecretManager{}

	_, err := manager.GetSecret("definitely_not_set_anywhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INTELIFY_DEFINITELY_NOT_SET_ANYWHERE")
}

func TestNewSecretManager(t *testing.T) {
	manager, err := NewSecretManager(CredentialsConfig{})
	require.NoError(t, err)
	assert.IsType(t, &EnvSecretManager{}, manager)

	manager, err = NewSecretManager(CredentialsConfig{Provider: "vault", Vault: VaultConfig{Address: "http://127.0.0.1:8200"}})
	require.NoError(t, err)
	assert.IsType(t, &VaultSecretManager{}, manager)

	_, err = NewSecretManager(CredentialsConfig{Provider: "gcp"})
	assert.Error(t, err)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Database.User = "calcstore"
	return cfg
}

func TestValidate_AcceptsDefaultedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_ServerPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "server.port")

	cfg.Server.Port = 70000
	assert.ErrorContains(t, cfg.Validate(), "server.port")
}

func TestValidate_ServerMode(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Mode = "production"
	assert.ErrorContains(t, cfg.Validate(), "server.mode")
}

func TestValidate_DatabaseRequiredFields(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Host = ""
	assert.ErrorContains(t, cfg.Validate(), "database.host")

	cfg = validConfig()
	cfg.Database.User = ""
	assert.ErrorContains(t, cfg.Validate(), "database.user")

	cfg = validConfig()
	cfg.Database.DBName = ""
	assert.ErrorContains(t, cfg.Validate(), "database.db_name")
}

func TestValidate_KafkaBrokers(t *testing.T) {
	cfg := validConfig()
	cfg.Kafka.Brokers = nil
	assert.ErrorContains(t, cfg.Validate(), "kafka.brokers")
}

func TestValidate_FingerprintBits(t *testing.T) {
	cfg := validConfig()
	cfg.Milvus.FingerprintBits = 32
	assert.ErrorContains(t, cfg.Validate(), "fingerprint_bits")
}

func TestValidate_GatewayMaxAtoms(t *testing.T) {
	cfg := validConfig()
	cfg.Gateway.MaxAtoms = 0
	assert.ErrorContains(t, cfg.Validate(), "max_atoms")
}

func TestValidate_LogLevelAndFormat(t *testing.T) {
	cfg := validConfig()
	cfg.Log.Level = "verbose"
	assert.ErrorContains(t, cfg.Validate(), "log.level")

	cfg = validConfig()
	cfg.Log.Format = "text"
	assert.ErrorContains(t, cfg.Validate(), "log.format")
}

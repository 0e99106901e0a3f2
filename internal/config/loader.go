package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix used by all calcstore settings.
const envPrefix = "CALCSTORE"

// newViper builds a pre-configured Viper instance: YAML file type, CALCSTORE_
// env prefix, automatic env binding, and a key replacer that maps "." → "_"
// so nested keys like "database.host" resolve to "CALCSTORE_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnvKeys(v)
	return v
}

// configKeys lists every dotted configuration key.  Viper's AutomaticEnv only
// surfaces environment values for keys it already knows about, so each key is
// bound explicitly; without this, env-only deployments would unmarshal an
// empty Config.
var configKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
	"server.max_body_size", "server.shutdown_timeout",

	"database.host", "database.port", "database.user", "database.password",
	"database.db_name", "database.ssl_mode", "database.max_conns",
	"database.min_conns", "database.conn_max_lifetime",
	"database.conn_max_idle_time", "database.migration_path",

	"redis.addr", "redis.password", "redis.db", "redis.pool_size",
	"redis.min_idle_conns", "redis.dial_timeout", "redis.read_timeout",
	"redis.write_timeout", "redis.default_ttl", "redis.key_prefix",

	"kafka.brokers", "kafka.group_id", "kafka.auto_offset_reset",
	"kafka.producer_retries", "kafka.batch_size", "kafka.auto_create_topics",
	"kafka.num_partitions",

	"opensearch.addresses", "opensearch.user", "opensearch.password",
	"opensearch.insecure_skip_verify", "opensearch.index_prefix",

	"milvus.addr", "milvus.db_name", "milvus.fingerprint_bits",
	"milvus.default_top_k", "milvus.collection_prefix",

	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket",
	"minio.use_ssl", "minio.presign_expiry",

	"neo4j.uri", "neo4j.user", "neo4j.password",
	"neo4j.max_connection_pool_size", "neo4j.connection_timeout",
	"neo4j.database",

	"gateway.openbabel_path", "gateway.avogadro_path", "gateway.convert_timeout",
	"gateway.cube_timeout", "gateway.gen3d_forcefield", "gateway.gen3d_steps",
	"gateway.max_atoms", "gateway.name_resolver_url",
	"gateway.name_resolver_timeout",

	"worker.concurrency", "worker.health_port", "worker.heartbeat_interval",
	"worker.max_retries", "worker.retry_backoff",

	"log.level", "log.format", "log.output_paths", "log.error_output_paths",
}

func bindEnvKeys(v *viper.Viper) {
	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
}

// Load reads the YAML file at configPath, merges any CALCSTORE_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}

	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from CALCSTORE_* environment variables,
// with no config file required.  This is the preferred strategy for
// containerised deployments.
//
// Naming convention:
//
//	CALCSTORE_<SECTION>_<FIELD>   e.g.  CALCSTORE_DATABASE_HOST, CALCSTORE_REDIS_ADDR
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  Intended for
// hot-reloading non-critical settings such as log level; callers are
// responsible for applying only the safe subset of changes at runtime.
//
// Watch is non-blocking; viper manages the background goroutine.  A changed
// file that fails to parse or validate does not trigger onChange.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)

	// Initial read. Errors are ignored here; callers should call Load first.
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad wraps Load and panics on any error.  For use in main() where a
// config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}

// Package config provides configuration loading, defaults, and validation for
// calcstore.
package config

import "time"

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerPort = 8080
	DefaultServerMode = "debug"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "calcstore"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisTTL       = 0 // cube entries never expire unless the operator sets a TTL
	DefaultRedisKeyPrefix = "calcstore"

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaGroupID = "calcstore-workers"

	DefaultMilvusAddr      = "localhost:19530"
	DefaultFingerprintBits = 1024
	DefaultTopK            = 10

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "calcstore-files"

	DefaultNeo4jURI = "bolt://localhost:7687"

	DefaultOpenBabelPath  = "obabel"
	DefaultAvogadroPath   = "avogadro"
	DefaultMaxAtoms       = 1024
	DefaultGen3DSteps     = 100
	DefaultGen3DForcefield = "mmff94"

	DefaultWorkerConcurrency = 4
	DefaultWorkerHealthPort  = 9090

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the platform default.
// Fields already set by the caller are left unchanged so that explicit
// configuration always wins.  It must run after unmarshalling and before
// Validate so that optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}

	// ── Milvus ────────────────────────────────────────────────────────────────
	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}
	if cfg.Milvus.FingerprintBits == 0 {
		cfg.Milvus.FingerprintBits = DefaultFingerprintBits
	}
	if cfg.Milvus.DefaultTopK == 0 {
		cfg.Milvus.DefaultTopK = DefaultTopK
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = 15 * time.Minute
	}

	// ── Neo4j ─────────────────────────────────────────────────────────────────
	if cfg.Neo4j.URI == "" {
		cfg.Neo4j.URI = DefaultNeo4jURI
	}
	if cfg.Neo4j.Database == "" {
		cfg.Neo4j.Database = "neo4j"
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	if cfg.Gateway.OpenBabelPath == "" {
		cfg.Gateway.OpenBabelPath = DefaultOpenBabelPath
	}
	if cfg.Gateway.AvogadroPath == "" {
		cfg.Gateway.AvogadroPath = DefaultAvogadroPath
	}
	if cfg.Gateway.ConvertTimeout == 0 {
		cfg.Gateway.ConvertTimeout = 30 * time.Second
	}
	if cfg.Gateway.CubeTimeout == 0 {
		cfg.Gateway.CubeTimeout = 5 * time.Minute
	}
	if cfg.Gateway.Gen3DForcefield == "" {
		cfg.Gateway.Gen3DForcefield = DefaultGen3DForcefield
	}
	if cfg.Gateway.Gen3DSteps == 0 {
		cfg.Gateway.Gen3DSteps = DefaultGen3DSteps
	}
	if cfg.Gateway.MaxAtoms == 0 {
		cfg.Gateway.MaxAtoms = DefaultMaxAtoms
	}
	if cfg.Gateway.NameResolverTimeout == 0 {
		cfg.Gateway.NameResolverTimeout = 10 * time.Second
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.HealthPort == 0 {
		cfg.Worker.HealthPort = DefaultWorkerHealthPort
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = 2 * time.Second
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

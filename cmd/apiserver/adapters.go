package main

import (
	"context"

	"github.com/chemcloud/calcstore/internal/application/calculation"
	"github.com/chemcloud/calcstore/internal/application/orbital"
	"github.com/chemcloud/calcstore/internal/config"
	moldomain "github.com/chemcloud/calcstore/internal/domain/molecule"
	"github.com/chemcloud/calcstore/internal/infrastructure/database/neo4j"
	"github.com/chemcloud/calcstore/internal/infrastructure/messaging/kafka"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/search/milvus"
	"github.com/chemcloud/calcstore/internal/infrastructure/search/opensearch"
	"github.com/chemcloud/calcstore/internal/infrastructure/storage/minio"
	"github.com/chemcloud/calcstore/internal/interfaces/http/handlers"
)

// optionalDeps holds the side-channel backends.  Any of them may be nil
// after setup; the accessor methods translate a nil pointer into a nil
// interface so the application services skip the feature cleanly.
type optionalDeps struct {
	files    *minio.FileStore
	search   *opensearch.Indexer
	vectors  *milvus.FingerprintIndex
	graph    *neo4j.Driver
	lineage  *neo4j.ProvenanceGraph
	producer *kafka.Producer
}

// setupOptionalDeps connects each best-effort backend, logging and skipping
// any that is unreachable.  None of them is allowed to block startup.
func setupOptionalDeps(ctx context.Context, cfg *config.Config, logger logging.Logger) *optionalDeps {
	d := &optionalDeps{}

	var err error
	if d.files, err = minio.NewFileStore(ctx, cfg.MinIO, logger); err != nil {
		logger.Warn("object storage unavailable; output files disabled", logging.Err(err))
		d.files = nil
	}
	if d.search, err = opensearch.NewIndexer(ctx, cfg.OpenSearch, logger); err != nil {
		logger.Warn("search cluster unavailable; name search disabled", logging.Err(err))
		d.search = nil
	}
	if d.vectors, err = milvus.NewFingerprintIndex(ctx, cfg.Milvus, logger); err != nil {
		logger.Warn("vector store unavailable; similarity search disabled", logging.Err(err))
		d.vectors = nil
	}
	if d.graph, err = neo4j.NewDriver(ctx, cfg.Neo4j, logger); err != nil {
		logger.Warn("graph database unavailable; provenance disabled", logging.Err(err))
		d.graph = nil
	} else {
		d.lineage = neo4j.NewProvenanceGraph(d.graph, logger)
	}

	if err = kafka.EnsureTopics(cfg.Kafka, logger); err != nil {
		logger.Warn("kafka topic creation failed", logging.Err(err))
	}
	if d.producer, err = kafka.NewProducer(cfg.Kafka, logger); err != nil {
		logger.Warn("kafka unavailable; async cube dispatch disabled", logging.Err(err))
		d.producer = nil
	}

	return d
}

func (d *optionalDeps) fileStore() calculation.OutputFileStore {
	if d.files == nil {
		return nil
	}
	return d.files
}

func (d *optionalDeps) semantic() moldomain.SemanticIndexer {
	if d.search == nil {
		return nil
	}
	return d.search
}

func (d *optionalDeps) similarity() moldomain.SimilarityIndex {
	if d.vectors == nil {
		return nil
	}
	return d.vectors
}

func (d *optionalDeps) provenance() calculation.ProvenanceRecorder {
	if d.lineage == nil {
		return nil
	}
	return d.lineage
}

func (d *optionalDeps) dispatcher() orbital.Dispatcher {
	if d.producer == nil {
		return nil
	}
	return d.producer
}

// healthCheckers exposes readiness probes for the optional backends that can
// be probed cheaply.  Unconfigured backends report nothing rather than
// failing readiness.
func (d *optionalDeps) healthCheckers() []handlers.HealthChecker {
	var checkers []handlers.HealthChecker
	if d.graph != nil {
		checkers = append(checkers, handlers.HealthCheckerFunc{
			ComponentName: "neo4j",
			Probe:         d.graph.VerifyConnectivity,
		})
	}
	return checkers
}

func (d *optionalDeps) close(ctx context.Context, logger logging.Logger) {
	if d.producer != nil {
		if err := d.producer.Close(); err != nil {
			logger.Warn("closing kafka producer", logging.Err(err))
		}
	}
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			logger.Warn("closing vector store", logging.Err(err))
		}
	}
	if d.graph != nil {
		if err := d.graph.Close(ctx); err != nil {
			logger.Warn("closing graph database", logging.Err(err))
		}
	}
}

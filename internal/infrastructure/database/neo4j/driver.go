// Package neo4j maintains the provenance graph: which geometry came from
// which calculation, and which molecule everything belongs to.  The graph is
// a best-effort side channel; the relational store remains the system of
// record.
package neo4j

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
)

// Transaction abstracts neo4j.ManagedTransaction for testability.
type Transaction interface {
	Run(ctx context.Context, cypher string, params map[string]any) (neo4j.ResultWithContext, error)
}

// Session abstracts neo4j.SessionWithContext.
type Session interface {
	ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error)
	ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error)
	Close(ctx context.Context) error
}

// SessionFactory yields sessions; production uses the real driver, tests
// inject fakes.
type SessionFactory interface {
	NewSession(ctx context.Context) Session
	Close(ctx context.Context) error
}

type stdSession struct {
	s neo4j.SessionWithContext
}

func (s *stdSession) ExecuteRead(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	return s.s.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(tx)
	})
}

func (s *stdSession) ExecuteWrite(ctx context.Context, work func(Transaction) (any, error)) (any, error) {
	return s.s.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(tx)
	})
}

func (s *stdSession) Close(ctx context.Context) error {
	return s.s.Close(ctx)
}

// Driver wraps the neo4j driver with lifecycle management.
type Driver struct {
	driver   neo4j.DriverWithContext
	database string
	logger   logging.Logger
}

var _ SessionFactory = (*Driver)(nil)

// NewDriver connects to Neo4j and verifies connectivity.
func NewDriver(ctx context.Context, cfg config.Neo4jConfig, logger logging.Logger) (*Driver, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
			}
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "failed to create neo4j driver")
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		driver.Close(ctx)
		return nil, errors.Wrap(err, errors.ErrCodeDependentService, "neo4j connection failed")
	}

	logger.Info("connected to Neo4j", logging.String("uri", cfg.URI))
	return &Driver{driver: driver, database: cfg.Database, logger: logger}, nil
}

// NewSession opens a session against the configured database.
func (d *Driver) NewSession(ctx context.Context) Session {
	return &stdSession{s: d.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: d.database,
	})}
}

// VerifyConnectivity probes the server, for readiness checks.
func (d *Driver) VerifyConnectivity(ctx context.Context) error {
	return d.driver.VerifyConnectivity(ctx)
}

// Close shuts the driver down.
func (d *Driver) Close(ctx context.Context) error {
	err := d.driver.Close(ctx)
	if err == nil {
		d.logger.Info("closed Neo4j driver")
	}
	return err
}

package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
)

// CubeJobHandler processes one cube job.  A returned error triggers a retry
// up to the configured maximum; the job is then dropped with a logged error.
type CubeJobHandler func(ctx context.Context, job CubeJob) error

// readerInterface abstracts kafka.Reader for testing.
type readerInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads cube jobs from the job topic and hands them to a handler.
type Consumer struct {
	reader       readerInterface
	handler      CubeJobHandler
	logger       logging.Logger
	maxRetries   int
	retryBackoff time.Duration
}

// NewConsumer creates a consumer in the configured consumer group.
func NewConsumer(cfg config.KafkaConfig, worker config.WorkerConfig, handler CubeJobHandler, logger logging.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "no kafka brokers configured")
	}
	if handler == nil {
		return nil, errors.New(errors.ErrCodeValidation, "cube job handler is required")
	}

	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "calcstore-workers"
	}

	startOffset := kafka.LastOffset
	if cfg.AutoOffsetReset == "earliest" {
		startOffset = kafka.FirstOffset
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		Topic:       TopicCubeJobs,
		StartOffset: startOffset,
		MinBytes:    1,
		MaxBytes:    10 << 20,
	})

	maxRetries := worker.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryBackoff := worker.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = time.Second
	}

	return &Consumer{
		reader:       reader,
		handler:      handler,
		logger:       logger.Named("kafka_consumer"),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
	}, nil
}

// Run consumes until ctx is cancelled.  Malformed payloads are committed and
// skipped; handler failures are retried with backoff before being dropped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, errors.ErrCodeDependentService, "failed to fetch kafka message")
		}

		var job CubeJob
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			c.logger.Error("dropping malformed cube job",
				logging.Err(err),
				logging.String("topic", msg.Topic),
				logging.Int64("offset", msg.Offset),
			)
			c.commit(ctx, msg)
			continue
		}

		c.process(ctx, job)
		c.commit(ctx, msg)
	}
}

func (c *Consumer) process(ctx context.Context, job CubeJob) {
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			}
		}
		if err = c.handler(ctx, job); err == nil {
			return
		}
		c.logger.Warn("cube job attempt failed",
			logging.Err(err),
			logging.String("calculation_id", string(job.CalculationID)),
			logging.Int("mo", job.MO),
			logging.Int("attempt", attempt+1),
		)
	}
	c.logger.Error("cube job dropped after retries",
		logging.Err(err),
		logging.String("calculation_id", string(job.CalculationID)),
		logging.Int("mo", job.MO),
	)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		c.logger.Error("failed to commit kafka offset", logging.Err(err))
	}
}

// Close shuts the reader down.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

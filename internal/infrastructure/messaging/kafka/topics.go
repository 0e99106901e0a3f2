// Package kafka carries the asynchronous cube-generation pipeline: the API
// server enqueues cube jobs and the worker consumes them, computes the cube,
// and fills the cache.
package kafka

import (
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// TopicCubeJobs carries orbital cube generation jobs.
const TopicCubeJobs = "calcstore.cube.jobs"

// CubeJob is the payload of a cube generation request.  MO is the resolved
// numeric orbital index; aliases like "homo" are resolved before dispatch so
// the worker never needs the electron count.  Selector preserves the
// requested form (index or alias) and RequestedBy the requesting user, for
// tracing dispatched work back to its origin.
type CubeJob struct {
	CalculationID common.ID     `json:"calculation_id"`
	MO            int           `json:"mo"`
	Selector      string        `json:"selector,omitempty"`
	RequestedBy   common.UserID `json:"requested_by,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
}

// EnsureTopics creates the cube job topic when auto-creation is enabled.
// Existing topics are left untouched.
func EnsureTopics(cfg config.KafkaConfig, logger logging.Logger) error {
	if !cfg.AutoCreateTopics {
		return nil
	}
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "no kafka brokers configured")
	}

	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to dial kafka broker")
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to resolve kafka controller")
	}
	controllerConn, err := kafka.Dial("tcp",
		net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to dial kafka controller")
	}
	defer controllerConn.Close()

	partitions := cfg.NumPartitions
	if partitions <= 0 {
		partitions = 3
	}

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             TopicCubeJobs,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDependentService, "failed to create kafka topics")
	}

	logger.Info("kafka topics ensured",
		logging.String("topic", TopicCubeJobs),
		logging.Int("partitions", partitions),
	)
	return nil
}

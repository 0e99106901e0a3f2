// Package orbital serves molecular orbital cube requests: frontier alias
// resolution, the write-once cube cache, synchronous single-flight
// computation, and asynchronous dispatch to the worker pool.
package orbital

import (
	"context"
	"strconv"
	"time"

	"github.com/chemcloud/calcstore/internal/chem"
	"github.com/chemcloud/calcstore/internal/config"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/internal/infrastructure/messaging/kafka"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/prometheus"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// cachePollInterval is how often a contended sync request re-checks the cache
// while another request computes the same cube.
const cachePollInterval = time.Second

// CubeCache is the write-once store for computed cubes.
type CubeCache interface {
	Get(ctx context.Context, calcID common.ID, mo int) (*cjson.Cube, bool, error)
	Put(ctx context.Context, calcID common.ID, mo int, cube *cjson.Cube) (bool, error)
}

// Locker guards one cube computation.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// LockFactory creates named locks.
type LockFactory interface {
	NewMutex(name string, ttl time.Duration) Locker
}

// LockFactoryFunc adapts a function to the LockFactory interface.
type LockFactoryFunc func(name string, ttl time.Duration) Locker

func (f LockFactoryFunc) NewMutex(name string, ttl time.Duration) Locker { return f(name, ttl) }

// Dispatcher publishes cube jobs for asynchronous computation.
type Dispatcher interface {
	PublishCubeJob(ctx context.Context, job kafka.CubeJob) error
}

// Service resolves and serves orbital cubes.
type Service interface {
	// Cube returns the calculation document with the requested orbital's cube
	// embedded.  mo is a literal orbital index or a frontier alias (homo,
	// lumo).  When async is set a cache miss dispatches a background job,
	// stamped with the original selector and the requesting user, and the
	// returned document carries a placeholder cube.
	Cube(ctx context.Context, calcID common.ID, mo string, async bool, user common.UserID) (cjson.Document, error)

	// ComputeAndCache evaluates the cube and stores it.  Used by the worker
	// pool to process dispatched jobs; safe to call concurrently, the cache
	// keeps whichever result lands first.
	ComputeAndCache(ctx context.Context, calcID common.ID, mo int) error
}

type service struct {
	repo    calcdomain.Repository
	cubes   chem.CubeComputer
	cache   CubeCache
	locks   LockFactory
	jobs    Dispatcher
	timeout time.Duration
	metrics *prometheus.AppMetrics
	logger  logging.Logger
}

// NewService wires the orbital cube service.  locks and jobs may be nil:
// without locks every sync request computes independently, without jobs async
// requests fail.
func NewService(
	repo calcdomain.Repository,
	cubes chem.CubeComputer,
	cache CubeCache,
	locks LockFactory,
	jobs Dispatcher,
	cfg config.GatewayConfig,
	metrics *prometheus.AppMetrics,
	logger logging.Logger,
) Service {
	if metrics == nil {
		metrics = prometheus.NewNopAppMetrics()
	}
	timeout := cfg.CubeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &service{
		repo:    repo,
		cubes:   cubes,
		cache:   cache,
		locks:   locks,
		jobs:    jobs,
		timeout: timeout,
		metrics: metrics,
		logger:  logger.Named("orbital_service"),
	}
}

func (s *service) Cube(ctx context.Context, calcID common.ID, mo string, async bool, user common.UserID) (cjson.Document, error) {
	mode := "sync"
	if async {
		mode = "async"
	}

	calc, err := s.repo.GetByID(ctx, calcID)
	if err != nil {
		return nil, err
	}
	if calc.Document == nil {
		return nil, errors.New(errors.ErrCodeCalculationPending,
			"calculation has no results to compute orbitals from").
			WithDetail("id=" + string(calcID))
	}

	orbital, err := s.resolveOrbital(calc, mo)
	if err != nil {
		return nil, err
	}

	if cube, found, err := s.cache.Get(ctx, calcID, orbital); err != nil {
		s.logger.Warn("cube cache read failed", logging.Err(err))
	} else if found {
		s.metrics.CubeRequestsTotal.WithLabelValues(mode, "hit").Inc()
		return responseDocument(calc, cube), nil
	}

	if async {
		return s.dispatchAsync(ctx, calc, orbital, mo, user)
	}
	return s.computeSync(ctx, calc, orbital)
}

// resolveOrbital accepts a literal orbital index or a frontier alias.
func (s *service) resolveOrbital(calc *calcdomain.Calculation, mo string) (int, error) {
	if n, err := strconv.Atoi(mo); err == nil {
		if n < 0 {
			return 0, errors.InvalidParam("orbital index must not be negative").
				WithDetail("mo=" + mo)
		}
		return n, nil
	}
	return calc.ResolveOrbital(mo)
}

// dispatchAsync queues the computation and answers immediately with a
// placeholder cube so clients can poll.
func (s *service) dispatchAsync(ctx context.Context, calc *calcdomain.Calculation, orbital int, selector string, user common.UserID) (cjson.Document, error) {
	if s.jobs == nil {
		return nil, errors.New(errors.ErrCodeCubeDispatchFailed,
			"asynchronous cube computation is not configured")
	}
	err := s.jobs.PublishCubeJob(ctx, kafka.CubeJob{
		CalculationID: calc.ID,
		MO:            orbital,
		Selector:      selector,
		RequestedBy:   user,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.CubeRequestsTotal.WithLabelValues("async", "placeholder").Inc()
	return responseDocument(calc, cjson.PlaceholderCube()), nil
}

// computeSync evaluates the cube in-request.  A lock keyed by calculation and
// orbital makes concurrent requests for the same cube single-flight: the loser
// polls the cache until the winner publishes its result.
func (s *service) computeSync(ctx context.Context, calc *calcdomain.Calculation, orbital int) (cjson.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.locks == nil {
		cube, err := s.compute(ctx, calc, orbital)
		if err != nil {
			return nil, err
		}
		return responseDocument(calc, cube), nil
	}

	mutex := s.locks.NewMutex(cubeLockName(calc.ID, orbital), s.timeout)
	switch acquired, err := mutex.TryLock(ctx); {
	case err != nil:
		// Lock service failure must not block the request; compute without
		// single-flight protection and leave the never-acquired mutex alone.
		s.logger.Warn("cube lock acquisition failed", logging.Err(err))
	case !acquired:
		return s.awaitCached(ctx, calc, orbital)
	default:
		defer func() {
			if err := mutex.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("cube lock release failed", logging.Err(err))
			}
		}()
	}

	cube, err := s.compute(ctx, calc, orbital)
	if err != nil {
		return nil, err
	}
	if _, err := s.cache.Put(ctx, calc.ID, orbital, cube); err != nil {
		s.logger.Warn("cube cache write failed", logging.Err(err))
	}
	s.metrics.CubeRequestsTotal.WithLabelValues("sync", "miss").Inc()
	return responseDocument(calc, cube), nil
}

// awaitCached polls the cache while another request holds the computation
// lock for the same cube.
func (s *service) awaitCached(ctx context.Context, calc *calcdomain.Calculation, orbital int) (cjson.Document, error) {
	ticker := time.NewTicker(cachePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeTimeout,
				"timed out waiting for cube computation").
				WithDetail("id=" + string(calc.ID))
		case <-ticker.C:
			cube, found, err := s.cache.Get(ctx, calc.ID, orbital)
			if err != nil {
				s.logger.Warn("cube cache poll failed", logging.Err(err))
				continue
			}
			if found {
				s.metrics.CubeRequestsTotal.WithLabelValues("sync", "hit").Inc()
				return responseDocument(calc, cube), nil
			}
		}
	}
}

func (s *service) compute(ctx context.Context, calc *calcdomain.Calculation, orbital int) (*cjson.Cube, error) {
	doc := calc.Document.Clone()
	doc.StripVibrations()

	start := time.Now()
	cube, err := s.cubes.ComputeCube(ctx, doc, orbital)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCubeComputationFailed,
			"orbital cube computation failed").
			WithDetail("id=" + string(calc.ID) + " mo=" + strconv.Itoa(orbital))
	}
	s.metrics.CubeComputeDuration.WithLabelValues().Observe(time.Since(start).Seconds())
	return cube, nil
}

// ComputeAndCache is the worker-side entry point for dispatched cube jobs.
func (s *service) ComputeAndCache(ctx context.Context, calcID common.ID, mo int) error {
	if _, found, err := s.cache.Get(ctx, calcID, mo); err == nil && found {
		return nil
	}

	calc, err := s.repo.GetByID(ctx, calcID)
	if err != nil {
		return err
	}
	if calc.Document == nil {
		return errors.New(errors.ErrCodeCalculationPending,
			"calculation has no results to compute orbitals from").
			WithDetail("id=" + string(calcID))
	}

	cube, err := s.compute(ctx, calc, mo)
	if err != nil {
		return err
	}
	stored, err := s.cache.Put(ctx, calcID, mo, cube)
	if err != nil {
		return err
	}
	if !stored {
		s.logger.Debug("cube already cached by another worker",
			logging.String("calculation_id", string(calcID)), logging.Int("mo", mo))
	}
	return nil
}

func cubeLockName(calcID common.ID, orbital int) string {
	return "cube:" + string(calcID) + ":" + strconv.Itoa(orbital)
}

// responseDocument embeds the cube into a vibration-free copy of the stored
// document.  The stored original is never mutated.
func responseDocument(calc *calcdomain.Calculation, cube *cjson.Cube) cjson.Document {
	doc := calc.Document.Clone()
	doc.StripVibrations()
	doc.SetCube(cube)
	return doc
}

package orbital

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/internal/config"
	calcdomain "github.com/chemcloud/calcstore/internal/domain/calculation"
	"github.com/chemcloud/calcstore/internal/infrastructure/messaging/kafka"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// ─────────────────────────────────────────────────────────────────────────────
// fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeCalcRepo struct {
	calcs map[common.ID]*calcdomain.Calculation
}

func (r *fakeCalcRepo) GetByID(_ context.Context, id common.ID) (*calcdomain.Calculation, error) {
	calc, ok := r.calcs[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeCalculationNotFound, "no such calculation")
	}
	return calc, nil
}

func (r *fakeCalcRepo) Create(context.Context, *calcdomain.Calculation) error { return nil }
func (r *fakeCalcRepo) Update(context.Context, *calcdomain.Calculation) error { return nil }
func (r *fakeCalcRepo) Delete(context.Context, common.ID) error               { return nil }

func (r *fakeCalcRepo) List(context.Context, calcdomain.Filter, common.Pagination) ([]*calcdomain.Calculation, int64, error) {
	return nil, 0, nil
}

func (r *fakeCalcRepo) ReplaceProperties(context.Context, common.ID, common.Metadata) error {
	return nil
}

func (r *fakeCalcRepo) AppendNotebooks(context.Context, common.ID, []string) error { return nil }

func (r *fakeCalcRepo) VibrationSummary(context.Context, common.ID) (*cjson.Vibrations, error) {
	return nil, errors.New(errors.ErrCodeVibrationsAbsent, "not implemented")
}

func (r *fakeCalcRepo) VibrationSlice(context.Context, common.ID, int) (*cjson.Vibrations, error) {
	return nil, errors.New(errors.ErrCodeVibrationsAbsent, "not implemented")
}

func (r *fakeCalcRepo) ResolveModeIndex(context.Context, common.ID, int) (int, error) {
	return 0, errors.New(errors.ErrCodeVibrationsAbsent, "not implemented")
}

type fakeCache struct {
	mu    sync.Mutex
	cubes map[string]*cjson.Cube
	gets  int
}

func cacheKey(calcID common.ID, mo int) string {
	return string(calcID) + "/" + strconv.Itoa(mo)
}

func newFakeCache() *fakeCache {
	return &fakeCache{cubes: make(map[string]*cjson.Cube)}
}

func (c *fakeCache) Get(_ context.Context, calcID common.ID, mo int) (*cjson.Cube, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	cube, ok := c.cubes[cacheKey(calcID, mo)]
	return cube, ok, nil
}

func (c *fakeCache) Put(_ context.Context, calcID common.ID, mo int, cube *cjson.Cube) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(calcID, mo)
	if _, exists := c.cubes[key]; exists {
		return false, nil
	}
	c.cubes[key] = cube
	return true, nil
}

type fakeCubeComputer struct {
	cube  *cjson.Cube
	err   error
	calls int
	lastM int
}

func (c *fakeCubeComputer) ComputeCube(_ context.Context, _ cjson.Document, mo int) (*cjson.Cube, error) {
	c.calls++
	c.lastM = mo
	return c.cube, c.err
}

type fakeLocker struct {
	acquired bool
	err      error
	unlocked bool
}

func (l *fakeLocker) TryLock(context.Context) (bool, error) { return l.acquired, l.err }
func (l *fakeLocker) Unlock(context.Context) error {
	l.unlocked = true
	return nil
}

type fakeDispatcher struct {
	jobs []kafka.CubeJob
	err  error
}

func (d *fakeDispatcher) PublishCubeJob(_ context.Context, job kafka.CubeJob) error {
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// helpers
// ─────────────────────────────────────────────────────────────────────────────

func completedCalc(t *testing.T) *calcdomain.Calculation {
	t.Helper()
	calc, err := calcdomain.New(common.NewID(), "", []string{calcdomain.TaskEnergy}, "user-1")
	require.NoError(t, err)

	doc := cjson.Document{
		"atoms": map[string]interface{}{
			"elements": map[string]interface{}{
				"number": []interface{}{float64(8), float64(1), float64(1)},
			},
		},
		"orbitals": map[string]interface{}{"electronCount": float64(10)},
		"vibrations": map[string]interface{}{
			"frequencies": []interface{}{1595.0},
		},
	}
	require.NoError(t, calc.Ingest(doc, nil))
	return calc
}

type orbitalFixture struct {
	svc        Service
	repo       *fakeCalcRepo
	cache      *fakeCache
	computer   *fakeCubeComputer
	locker     *fakeLocker
	dispatcher *fakeDispatcher
	calc       *calcdomain.Calculation
}

func newOrbitalFixture(t *testing.T) *orbitalFixture {
	t.Helper()
	calc := completedCalc(t)

	f := &orbitalFixture{
		repo:       &fakeCalcRepo{calcs: map[common.ID]*calcdomain.Calculation{calc.ID: calc}},
		cache:      newFakeCache(),
		computer:   &fakeCubeComputer{cube: &cjson.Cube{Dimensions: []int{2, 2, 2}, Scalars: []float64{1, 2, 3, 4, 5, 6, 7, 8}}},
		locker:     &fakeLocker{acquired: true},
		dispatcher: &fakeDispatcher{},
		calc:       calc,
	}
	locks := LockFactoryFunc(func(string, time.Duration) Locker { return f.locker })
	f.svc = NewService(f.repo, f.computer, f.cache, locks, f.dispatcher,
		config.GatewayConfig{CubeTimeout: 10 * time.Second}, nil, logging.NewNopLogger())
	return f
}

// ─────────────────────────────────────────────────────────────────────────────
// tests
// ─────────────────────────────────────────────────────────────────────────────

func TestCube_SyncComputesAndCaches(t *testing.T) {
	f := newOrbitalFixture(t)

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "3", false, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.computer.calls)
	assert.Equal(t, 3, f.computer.lastM)
	assert.True(t, f.locker.unlocked)

	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{2, 2, 2}, cube["dimensions"])

	_, hasVib := doc["vibrations"]
	assert.False(t, hasVib, "cube responses must not carry vibrations")

	_, cached, err := f.cache.Get(context.Background(), f.calc.ID, 3)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestCube_CacheHitSkipsComputation(t *testing.T) {
	f := newOrbitalFixture(t)
	_, err := f.cache.Put(context.Background(), f.calc.ID, 4,
		&cjson.Cube{Dimensions: []int{1, 1, 1}, Scalars: []float64{0.5}})
	require.NoError(t, err)

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "4", false, "user-1")
	require.NoError(t, err)

	assert.Zero(t, f.computer.calls)
	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{1, 1, 1}, cube["dimensions"])
}

func TestCube_FrontierAliasesResolveFromElectronCount(t *testing.T) {
	f := newOrbitalFixture(t)

	// 10 electrons: HOMO is orbital 4, LUMO is orbital 5.
	_, err := f.svc.Cube(context.Background(), f.calc.ID, "homo", false, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 4, f.computer.lastM)

	_, err = f.svc.Cube(context.Background(), f.calc.ID, "lumo", false, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 5, f.computer.lastM)
}

func TestCube_UnknownAliasRejected(t *testing.T) {
	f := newOrbitalFixture(t)

	_, err := f.svc.Cube(context.Background(), f.calc.ID, "somo", false, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCube_NegativeOrbitalRejected(t *testing.T) {
	f := newOrbitalFixture(t)

	_, err := f.svc.Cube(context.Background(), f.calc.ID, "-2", false, "user-1")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestCube_AsyncDispatchesAndReturnsPlaceholder(t *testing.T) {
	f := newOrbitalFixture(t)

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "homo", true, "user-1")
	require.NoError(t, err)

	require.Len(t, f.dispatcher.jobs, 1)
	assert.Equal(t, f.calc.ID, f.dispatcher.jobs[0].CalculationID)
	assert.Equal(t, 4, f.dispatcher.jobs[0].MO)
	assert.Equal(t, "homo", f.dispatcher.jobs[0].Selector)
	assert.Equal(t, common.UserID("user-1"), f.dispatcher.jobs[0].RequestedBy)
	assert.Zero(t, f.computer.calls)

	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{0, 0, 0}, cube["dimensions"])
	assert.Empty(t, cube["scalars"])
}

func TestCube_AsyncCacheHitSkipsDispatch(t *testing.T) {
	f := newOrbitalFixture(t)
	_, err := f.cache.Put(context.Background(), f.calc.ID, 4,
		&cjson.Cube{Dimensions: []int{1, 1, 1}, Scalars: []float64{0.5}})
	require.NoError(t, err)

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "homo", true, "user-1")
	require.NoError(t, err)

	assert.Empty(t, f.dispatcher.jobs)
	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{1, 1, 1}, cube["dimensions"])
}

func TestCube_ContendedRequestWaitsForWinner(t *testing.T) {
	f := newOrbitalFixture(t)
	f.locker.acquired = false

	winner := &cjson.Cube{Dimensions: []int{1, 1, 1}, Scalars: []float64{0.1}}
	go func() {
		time.Sleep(100 * time.Millisecond)
		f.cache.Put(context.Background(), f.calc.ID, 3, winner) //nolint:errcheck
	}()

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "3", false, "user-1")
	require.NoError(t, err)

	assert.Zero(t, f.computer.calls, "loser must not compute")
	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{1, 1, 1}, cube["dimensions"])
}

func TestCube_LockFailureComputesWithoutLock(t *testing.T) {
	f := newOrbitalFixture(t)
	f.locker.acquired = false
	f.locker.err = errors.New(errors.ErrCodeExternalService, "lock backend unreachable")

	doc, err := f.svc.Cube(context.Background(), f.calc.ID, "3", false, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.computer.calls)
	assert.False(t, f.locker.unlocked, "a mutex that was never acquired must not be released")

	cube, ok := doc["cube"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, []int{2, 2, 2}, cube["dimensions"])

	_, cached, err := f.cache.Get(context.Background(), f.calc.ID, 3)
	require.NoError(t, err)
	assert.True(t, cached)
}

func TestCube_ContendedRequestTimesOut(t *testing.T) {
	f := newOrbitalFixture(t)
	f.locker.acquired = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Cube(ctx, f.calc.ID, "3", false, "user-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeTimeout, errors.GetCode(err))
}

func TestCube_PendingCalculationRejected(t *testing.T) {
	f := newOrbitalFixture(t)
	pending, err := calcdomain.New(common.NewID(), "", []string{calcdomain.TaskEnergy}, "user-1")
	require.NoError(t, err)
	f.repo.calcs[pending.ID] = pending

	_, err = f.svc.Cube(context.Background(), pending.ID, "0", false, "user-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCalculationPending, errors.GetCode(err))
}

func TestComputeAndCache_StoresResult(t *testing.T) {
	f := newOrbitalFixture(t)

	require.NoError(t, f.svc.ComputeAndCache(context.Background(), f.calc.ID, 2))
	assert.Equal(t, 1, f.computer.calls)

	cube, found, err := f.cache.Get(context.Background(), f.calc.ID, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []int{2, 2, 2}, cube.Dimensions)
}

func TestComputeAndCache_SkipsWhenAlreadyCached(t *testing.T) {
	f := newOrbitalFixture(t)
	_, err := f.cache.Put(context.Background(), f.calc.ID, 2,
		&cjson.Cube{Dimensions: []int{1, 1, 1}, Scalars: []float64{0.5}})
	require.NoError(t, err)

	require.NoError(t, f.svc.ComputeAndCache(context.Background(), f.calc.ID, 2))
	assert.Zero(t, f.computer.calls)
}

func TestCube_ComputationFailureSurfaces(t *testing.T) {
	f := newOrbitalFixture(t)
	f.computer.cube = nil
	f.computer.err = errors.New(errors.ErrCodeExternalService, "cube tool crashed")

	_, err := f.svc.Cube(context.Background(), f.calc.ID, "0", false, "user-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCubeComputationFailed, errors.GetCode(err))
}

package avogadro

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chemcloud/calcstore/internal/config"
	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	"github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
)

func testComputer(run func(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)) *Computer {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)

	c := NewComputer(cfg.Gateway, logging.NewNopLogger())
	c.run = run
	return c
}

func TestComputeCube_ExtractsCubeBlock(t *testing.T) {
	var gotArgs []string
	c := testComputer(func(_ context.Context, _ []byte, name string, args ...string) ([]byte, error) {
		gotArgs = args
		assert.Equal(t, "avogadro", name)
		return []byte(`{
			"cube": {
				"dimensions": [2, 2, 2],
				"origin": [-1.0, -1.0, -1.0],
				"spacing": [1.0, 1.0, 1.0],
				"scalars": [0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7]
			}
		}`), nil
	})

	cube, err := c.ComputeCube(context.Background(), cjson.Document{}, 4)
	require.NoError(t, err)

	assert.Contains(t, gotArgs, "--orbital")
	assert.Contains(t, gotArgs, "4")
	assert.Equal(t, []int{2, 2, 2}, cube.Dimensions)
	assert.Len(t, cube.Scalars, 8)
	assert.Equal(t, []float64{-1, -1, -1}, cube.Origin)
}

func TestComputeCube_Deterministic(t *testing.T) {
	payload := []byte(`{"cube":{"dimensions":[1,1,1],"scalars":[0.5]}}`)
	c := testComputer(func(context.Context, []byte, string, ...string) ([]byte, error) {
		return payload, nil
	})

	a, err := c.ComputeCube(context.Background(), cjson.Document{}, 3)
	require.NoError(t, err)
	b, err := c.ComputeCube(context.Background(), cjson.Document{}, 3)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeCube_NegativeOrbital(t *testing.T) {
	c := testComputer(nil)
	_, err := c.ComputeCube(context.Background(), cjson.Document{}, -1)
	assert.True(t, errors.IsValidation(err))
}

func TestComputeCube_ToolFailure(t *testing.T) {
	c := testComputer(func(context.Context, []byte, string, ...string) ([]byte, error) {
		return nil, fmt.Errorf("avogadro: basis set missing")
	})

	_, err := c.ComputeCube(context.Background(), cjson.Document{}, 2)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCubeComputationFailed))
}

func TestComputeCube_MissingCubeBlock(t *testing.T) {
	c := testComputer(func(context.Context, []byte, string, ...string) ([]byte, error) {
		return []byte(`{"atoms":{}}`), nil
	})

	_, err := c.ComputeCube(context.Background(), cjson.Document{}, 2)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCubeComputationFailed))
}

func TestComputeCube_MalformedDimensions(t *testing.T) {
	c := testComputer(func(context.Context, []byte, string, ...string) ([]byte, error) {
		return []byte(`{"cube":{"dimensions":[2,2],"scalars":[]}}`), nil
	})

	_, err := c.ComputeCube(context.Background(), cjson.Document{}, 2)
	assert.True(t, errors.IsCode(err, errors.ErrCodeCubeComputationFailed))
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chemcloud/calcstore/internal/infrastructure/monitoring/logging"
	apperrors "github.com/chemcloud/calcstore/pkg/errors"
	"github.com/chemcloud/calcstore/pkg/types/cjson"
	"github.com/chemcloud/calcstore/pkg/types/common"
)

// CubeCache stores computed orbital cubes keyed by calculation and orbital
// index.  Entries are write-once: the first computed result for a key wins
// and later writes are ignored, so every reader observes the same cube.
type CubeCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	logger logging.Logger
}

// NewCubeCache constructs a CubeCache.  A zero ttl means entries never
// expire.
func NewCubeCache(rdb redis.UniversalClient, prefix string, ttl time.Duration, logger logging.Logger) *CubeCache {
	if prefix == "" {
		prefix = "calcstore:"
	}
	return &CubeCache{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger.Named("cube_cache")}
}

func (c *CubeCache) key(calcID common.ID, mo int) string {
	return fmt.Sprintf("%scube:%s:%d", c.prefix, calcID, mo)
}

// Get returns the cached cube for (calcID, mo), with found=false on a miss.
func (c *CubeCache) Get(ctx context.Context, calcID common.ID, mo int) (*cjson.Cube, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(calcID, mo)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeDependentService, "cube cache read failed")
	}

	var cube cjson.Cube
	if err := json.Unmarshal(data, &cube); err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "malformed cached cube")
	}
	return &cube, true, nil
}

// Put stores a cube unless one is already cached for the key.  It reports
// whether this call's cube became the cached value.
func (c *CubeCache) Put(ctx context.Context, calcID common.ID, mo int, cube *cjson.Cube) (bool, error) {
	data, err := json.Marshal(cube)
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeSerialization, "failed to encode cube")
	}

	stored, err := c.rdb.SetNX(ctx, c.key(calcID, mo), data, c.ttl).Result()
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeDependentService, "cube cache write failed")
	}
	if !stored {
		c.logger.Debug("cube already cached, keeping first write",
			logging.String("calculation_id", string(calcID)),
			logging.Int("mo", mo),
		)
	}
	return stored, nil
}

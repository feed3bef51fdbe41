package source

import (
	"context"
	"time"

	"github.com/labqc/dnamonitor/pkg/metrics"
	ttlcache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// snapshotCache keeps raw snapshot bytes per resource key for a fixed TTL.
// Concurrent misses for one key share a single fetch. Failed fetches are
// not cached.
type snapshotCache struct {
	log     logrus.FieldLogger
	cache   *ttlcache.Cache
	group   singleflight.Group
	metrics *metrics.Metrics
}

func newSnapshotCache(
	log logrus.FieldLogger, ttl time.Duration, m *metrics.Metrics,
) *snapshotCache {
	return &snapshotCache{
		log:     log,
		cache:   ttlcache.New(ttl, 2*ttl),
		metrics: m,
	}
}

// Get returns the cached bytes for f, fetching them on a miss.
func (c *snapshotCache) Get(ctx context.Context, f Fetcher) ([]byte, error) {
	key := f.Key()

	if v, ok := c.cache.Get(key); ok {
		c.metrics.CacheHit()

		return v.([]byte), nil
	}

	c.metrics.CacheMiss()

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A flight that finished since the lookup above may have filled it.
		if v, ok := c.cache.Get(key); ok {
			return v, nil
		}

		start := time.Now()

		// Waiters share this fetch, so one caller going away must not
		// cancel it for the rest. The fetcher's own timeout bounds it.
		data, err := f.Fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.cache.Set(key, data, ttlcache.DefaultExpiration)
		c.metrics.SnapshotFetched(len(data))

		c.log.WithFields(logrus.Fields{
			"resource": key,
			"bytes":    len(data),
			"duration": time.Since(start).String(),
		}).Info("Fetched snapshot")

		return data, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.log.WithField("resource", key).Debug("Shared in-flight snapshot fetch")
	}

	return v.([]byte), nil
}

// Flush drops every cached snapshot.
func (c *snapshotCache) Flush() {
	c.cache.Flush()
}

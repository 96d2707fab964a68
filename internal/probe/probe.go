// Package probe memoizes media metadata per canonical path.
package probe

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/therealutkarshpriyadarshi/montage/internal/cache"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/media"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// ProbeFunc resolves metadata for a canonical path
type ProbeFunc func(ctx context.Context, path string) (*models.ProbeInfo, error)

// Store is a second-level cache shared with other processes
type Store interface {
	GetProbe(ctx context.Context, fingerprint string) (*models.ProbeInfo, error)
	SetProbe(ctx context.Context, fingerprint string, info *models.ProbeInfo, ttl time.Duration) error
}

// Cache maps canonical paths to probe records for the lifetime of the process.
// Records are shared and must be treated as read-only.
type Cache struct {
	fast     ProbeFunc
	fallback ProbeFunc
	logger   *logging.Logger

	mu      sync.RWMutex
	entries map[string]*models.ProbeInfo
	group   singleflight.Group

	store    Store
	storeTTL time.Duration
}

// NewCache creates a probe cache that runs the external prober with the fast
// limits first and falls back to opening the file with the engine.
func NewCache(env *media.Environment, opts media.ProbeOptions, logger *logging.Logger) *Cache {
	fast := func(ctx context.Context, path string) (*models.ProbeInfo, error) {
		result, err := env.FFmpeg.Probe(ctx, path, opts)
		if err != nil {
			return nil, err
		}
		return result.Info(path)
	}
	opener := media.NewOpener(env, nil, 1, logger)
	fallback := func(ctx context.Context, path string) (*models.ProbeInfo, error) {
		src, err := opener.Open(ctx, path)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		info := src.Info()
		return &info, nil
	}
	return NewCacheWithFuncs(fast, fallback, logger)
}

// NewCacheWithFuncs creates a cache over arbitrary probe stages
func NewCacheWithFuncs(fast, fallback ProbeFunc, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Cache{
		fast:     fast,
		fallback: fallback,
		logger:   logger.WithComponent("probe"),
		entries:  make(map[string]*models.ProbeInfo),
	}
}

// WithStore adds a shared second-level cache keyed by file fingerprint
func (c *Cache) WithStore(store Store, ttl time.Duration) *Cache {
	c.store = store
	c.storeTTL = ttl
	return c
}

// Probe returns the record for path, probing it at most once however many
// callers ask concurrently.
func (c *Cache) Probe(ctx context.Context, path string) (*models.ProbeInfo, error) {
	key, err := media.Canonical(path)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	info, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	// The shared probe outlives any single caller's cancellation.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.resolve(context.WithoutCancel(ctx), key)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.ProbeInfo), nil
	}
}

func (c *Cache) resolve(ctx context.Context, key string) (*models.ProbeInfo, error) {
	c.mu.RLock()
	info, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return info, nil
	}

	fingerprint := c.fingerprint(key)
	if info := c.loadShared(ctx, fingerprint); info != nil {
		info.Path = key
		c.remember(key, info)
		return info, nil
	}

	start := time.Now()
	info, err := c.fast(ctx, key)
	if err != nil {
		c.logger.WithError(err).Debugf("Fast probe failed for %s, opening with the engine", key)
		info, err = c.fallback(ctx, key)
		if err != nil {
			return nil, err
		}
	}
	info.Path = key
	c.logger.WithFields(map[string]interface{}{
		"path":     key,
		"kind":     info.KindName,
		"width":    info.Width,
		"height":   info.Height,
		"duration": info.Duration,
		"took_ms":  time.Since(start).Milliseconds(),
	}).Debug("Probed media")

	c.remember(key, info)
	c.storeShared(ctx, fingerprint, info)
	return info, nil
}

func (c *Cache) remember(key string, info *models.ProbeInfo) {
	c.mu.Lock()
	c.entries[key] = info
	c.mu.Unlock()
}

func (c *Cache) fingerprint(key string) string {
	if c.store == nil {
		return ""
	}
	fp, err := cache.Fingerprint(key)
	if err != nil {
		return ""
	}
	return fp
}

func (c *Cache) loadShared(ctx context.Context, fingerprint string) *models.ProbeInfo {
	if fingerprint == "" {
		return nil
	}
	info, err := c.store.GetProbe(ctx, fingerprint)
	if err != nil {
		c.logger.WithError(err).Warn("Shared probe cache read failed")
		return nil
	}
	return info
}

func (c *Cache) storeShared(ctx context.Context, fingerprint string, info *models.ProbeInfo) {
	if fingerprint == "" {
		return
	}
	if err := c.store.SetProbe(ctx, fingerprint, info, c.storeTTL); err != nil {
		c.logger.WithError(err).Warn("Shared probe cache write failed")
	}
}

// Invalidate forgets the record for path so the next Probe reads the file again
func (c *Cache) Invalidate(path string) {
	key, err := media.Canonical(path)
	if err != nil {
		return
	}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

// Len returns the number of memoized records
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

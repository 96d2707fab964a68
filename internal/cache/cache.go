package cache

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Cache shares analysis results between editor processes using Redis.
// Entries are keyed by a file fingerprint, so a replaced file misses.
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Fingerprint identifies the current contents of a file by path, size and modification time
func Fingerprint(path string) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%d|%d", path, st.Size(), st.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:]), nil
}

// Probe Cache Operations

// SetProbe caches a probe record
func (c *Cache) SetProbe(ctx context.Context, fingerprint string, info *models.ProbeInfo, ttl time.Duration) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal probe info: %w", err)
	}

	key := fmt.Sprintf("probe:%s", fingerprint)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetProbe retrieves a probe record. A miss returns nil, nil.
func (c *Cache) GetProbe(ctx context.Context, fingerprint string) (*models.ProbeInfo, error) {
	key := fmt.Sprintf("probe:%s", fingerprint)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get probe from cache: %w", err)
	}

	var info models.ProbeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal probe info: %w", err)
	}
	if parsed := models.MediaKinds.Parse(info.KindName); parsed != nil {
		info.Kind = *parsed
	}

	return &info, nil
}

// Waveform Cache Operations

// SetPeaks caches waveform peaks as packed little-endian float32
func (c *Cache) SetPeaks(ctx context.Context, fingerprint string, buckets int, peaks []float32, ttl time.Duration) error {
	data := make([]byte, len(peaks)*4)
	for i, v := range peaks {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}

	key := fmt.Sprintf("peaks:%s:%d", fingerprint, buckets)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetPeaks retrieves waveform peaks. A miss returns nil, nil.
func (c *Cache) GetPeaks(ctx context.Context, fingerprint string, buckets int) ([]float32, error) {
	key := fmt.Sprintf("peaks:%s:%d", fingerprint, buckets)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get peaks from cache: %w", err)
	}
	if len(data) != buckets*2*4 {
		return nil, fmt.Errorf("cached peaks have %d bytes, want %d", len(data), buckets*8)
	}

	peaks := make([]float32, len(data)/4)
	for i := range peaks {
		peaks[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return peaks, nil
}

// Proxy Cache Operations

// SetProxy records where a finished proxy for the file lives
func (c *Cache) SetProxy(ctx context.Context, fingerprint, proxyPath string, ttl time.Duration) error {
	key := fmt.Sprintf("proxy:%s", fingerprint)
	return c.client.Set(ctx, key, proxyPath, ttl).Err()
}

// GetProxy returns the recorded proxy path, or "" on a miss
func (c *Cache) GetProxy(ctx context.Context, fingerprint string) (string, error) {
	key := fmt.Sprintf("proxy:%s", fingerprint)
	path, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil // Cache miss
		}
		return "", fmt.Errorf("failed to get proxy from cache: %w", err)
	}
	return path, nil
}

// Locking Operations

// AcquireLock attempts to acquire a lock shared by every process using the cache
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Ping checks the connection
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

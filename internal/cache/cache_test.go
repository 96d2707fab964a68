package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	// Parse host and port
	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	if cache == nil {
		t.Fatal("Cache should not be nil")
	}

	// Test ping
	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewCacheUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	host, port := mr.Host(), mr.Server().Addr().Port
	mr.Close()

	if _, err := NewCache(host, port, "", 0); err == nil {
		t.Error("Expected error connecting to a closed server")
	}
}

func TestCache_ProbeOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	info := &models.ProbeInfo{
		Path:       "/media/clip.mp4",
		Kind:       models.MediaVideo,
		KindName:   models.MediaVideo.String(),
		Width:      1920,
		Height:     1080,
		FPS:        30,
		Rotation:   0,
		Duration:   10,
		SampleRate: 48000,
		Channels:   2,
	}

	// Miss
	got, err := cache.GetProbe(ctx, "fp1")
	if err != nil {
		t.Fatalf("GetProbe failed: %v", err)
	}
	if got != nil {
		t.Error("Expected cache miss")
	}

	if err := cache.SetProbe(ctx, "fp1", info, time.Hour); err != nil {
		t.Fatalf("SetProbe failed: %v", err)
	}

	got, err = cache.GetProbe(ctx, "fp1")
	if err != nil {
		t.Fatalf("GetProbe failed: %v", err)
	}
	if got == nil {
		t.Fatal("Expected cached probe record")
	}
	if got.Width != 1920 || got.SampleRate != 48000 || got.Kind != models.MediaVideo {
		t.Errorf("Unexpected probe record: %+v", got)
	}

	// TTL
	mr.FastForward(2 * time.Hour)
	got, _ = cache.GetProbe(ctx, "fp1")
	if got != nil {
		t.Error("Expected entry to expire")
	}
}

func TestCache_PeaksOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	peaks := []float32{0.1, 0.2, 0.9, 0.8}

	if err := cache.SetPeaks(ctx, "fp", 2, peaks, time.Hour); err != nil {
		t.Fatalf("SetPeaks failed: %v", err)
	}

	got, err := cache.GetPeaks(ctx, "fp", 2)
	if err != nil {
		t.Fatalf("GetPeaks failed: %v", err)
	}
	if len(got) != 4 || got[2] != 0.9 {
		t.Errorf("Expected %v, got %v", peaks, got)
	}

	// Different bucket count is a different entry
	got, err = cache.GetPeaks(ctx, "fp", 1200)
	if err != nil || got != nil {
		t.Errorf("Expected miss for other bucket count, got %v, %v", got, err)
	}
}

func TestCache_ProxyOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	path, err := cache.GetProxy(ctx, "fp")
	if err != nil || path != "" {
		t.Errorf("Expected miss, got %q, %v", path, err)
	}

	if err := cache.SetProxy(ctx, "fp", "/proxies/a.mp4", time.Hour); err != nil {
		t.Fatalf("SetProxy failed: %v", err)
	}
	path, err = cache.GetProxy(ctx, "fp")
	if err != nil || path != "/proxies/a.mp4" {
		t.Errorf("Expected /proxies/a.mp4, got %q, %v", path, err)
	}
}

func TestCache_Locking(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	resource := "proxy:fp-123"

	// Test AcquireLock
	acquired, err := cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	if !acquired {
		t.Error("First lock acquisition should succeed")
	}

	// Test acquiring same lock again (should fail)
	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("Second AcquireLock failed: %v", err)
	}

	if acquired {
		t.Error("Second lock acquisition should fail")
	}

	// Test ReleaseLock
	err = cache.ReleaseLock(ctx, resource)
	if err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	// Should be able to acquire again
	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}

	if !acquired {
		t.Error("Lock acquisition after release should succeed")
	}
}

func TestFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.wav")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := Fingerprint(path)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}

	if err := os.WriteFile(path, []byte("three"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, _ := Fingerprint(path)
	if first == second {
		t.Error("Expected fingerprint to change when the file changes")
	}

	if _, err := Fingerprint(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func BenchmarkCache_SetPeaks(b *testing.B) {
	mr, _ := miniredis.Run()
	defer mr.Close()

	cache, _ := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	defer cache.Close()

	ctx := context.Background()
	peaks := make([]float32, 2400)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cache.SetPeaks(ctx, "bench", 1200, peaks, time.Hour)
	}
}

package media

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// EncodeProxy writes a low-resolution copy of info to output with the
// encoder picked for this host. A failed or cancelled encode leaves no file.
func (e *Environment) EncodeProxy(ctx context.Context, info *models.ProbeInfo, output string) error {
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fmt.Errorf("failed to create proxy directory: %w", err)
	}

	args := e.ProxyArgs(info, output)
	cmd := exec.CommandContext(ctx, e.FFmpeg.Path(), args...)
	tail := NewStderrTail()
	cmd.Stderr = tail

	start := time.Now()
	e.logger.WithFields(map[string]interface{}{
		"input":       info.Path,
		"output":      output,
		"accelerator": e.Accelerator().String(),
	}).Debug("Encoding proxy")

	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		if ctx.Err() != nil {
			return apperr.Cancelled(ctx.Err())
		}
		return apperr.EncoderFailure(err, tail.Tail(20))
	}

	e.logger.Debugf("Proxy for %s written in %s", info.Path, time.Since(start))
	return nil
}

// ProxyPath returns where the proxy of path is written inside dir. The name
// is derived from the full source path so equal base names do not collide.
func ProxyPath(dir, path string) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	return filepath.Join(dir, fmt.Sprintf("%s.%08x.proxy.mp4", base[:len(base)-len(ext)], fnv32(path)))
}

func fnv32(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Prober supplies metadata for a file, typically from the probe cache
type Prober interface {
	Probe(ctx context.Context, path string) (*models.ProbeInfo, error)
}

// directProbeTimeout bounds the unhurried probe used when no prober is configured
const directProbeTimeout = 30 * time.Second

// Opener creates Sources for media files
type Opener struct {
	env        *Environment
	prober     Prober
	frameCache int
	logger     *logging.Logger
}

// NewOpener creates an opener. A nil prober probes each file directly without
// the fast-path limits.
func NewOpener(env *Environment, prober Prober, frameCache int, logger *logging.Logger) *Opener {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Opener{env: env, prober: prober, frameCache: frameCache, logger: logger}
}

// Open probes path and initializes a decoder for it
func (o *Opener) Open(ctx context.Context, path string) (*Source, error) {
	path, err := Canonical(path)
	if err != nil {
		return nil, apperr.OpenFailure(path, err)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, apperr.OpenFailure(path, err)
	}

	if IsImagePath(path) {
		dec, err := openImage(path)
		if err == nil {
			return NewSource(dec, o.frameCache, o.logger), nil
		}
		o.logger.WithError(err).Debugf("In-process image decode failed for %s, trying ffmpeg", path)
	}

	probed, err := o.probe(ctx, path)
	if err != nil {
		return nil, apperr.OpenFailure(path, err)
	}
	info := *probed
	info.Path = path

	return NewSource(newFFmpegDecoder(o.env.FFmpeg, &info), o.frameCache, o.logger), nil
}

func (o *Opener) probe(ctx context.Context, path string) (*models.ProbeInfo, error) {
	if o.prober != nil {
		return o.prober.Probe(ctx, path)
	}
	return ProbeDirect(ctx, o.env.FFmpeg, path)
}

// ProbeDirect reads metadata without the fast-probe limits. It is the
// engine-level fallback when the fast probe fails.
func ProbeDirect(ctx context.Context, ff *FFmpeg, path string) (*models.ProbeInfo, error) {
	if IsImagePath(path) {
		if dec, err := openImage(path); err == nil {
			info := *dec.Info()
			_ = dec.Close()
			return &info, nil
		}
	}

	result, err := ff.Probe(ctx, path, ProbeOptions{Timeout: directProbeTimeout})
	if err != nil {
		return nil, err
	}
	return result.Info(path)
}

// Canonical returns the absolute, symlink-resolved form of path. Paths that
// do not exist yet are returned absolute and cleaned.
func Canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return filepath.Clean(abs), nil
}

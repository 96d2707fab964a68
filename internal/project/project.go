package project

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Prober resolves source metadata while loading
type Prober interface {
	Probe(ctx context.Context, path string) (*models.ProbeInfo, error)
}

// Save writes the model to path. The file is replaced atomically.
func Save(path string, model *timeline.Model) error {
	doc := FromState(model.Snapshot())

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".montage-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create project file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, doc); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write project file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace project file: %w", err)
	}
	return nil
}

// Loader reads project files into a model
type Loader struct {
	prober Prober
	logger *logging.Logger
}

// NewLoader creates a loader. With a prober, still images and source
// durations are restored from the media; without one every picture clip is
// treated as unbounded video.
func NewLoader(prober Prober, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Loader{prober: prober, logger: logger.WithComponent("project")}
}

// Load replaces the model contents with the project at path. Relative source
// references are resolved against the project directory; proxies whose file
// is gone fall back to the original.
func (l *Loader) Load(ctx context.Context, path string, model *timeline.Model) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open project: %w", err)
	}
	defer f.Close()

	doc, err := Decode(f)
	if err != nil {
		return err
	}
	state, err := doc.ToState()
	if err != nil {
		return err
	}

	base := filepath.Dir(path)
	for i := range state.Clips {
		c := &state.Clips[i]
		if !filepath.IsAbs(c.SourcePath) {
			c.SourcePath = filepath.Join(base, c.SourcePath)
		}
		if c.ProxyPath != "" {
			if _, err := os.Stat(c.ProxyPath); err != nil {
				l.logger.WithClipID(c.ID).Warnf("Proxy %s is missing", c.ProxyPath)
				c.ProxyPath = ""
				c.ProxyStatus = models.ProxyNone
			}
		}
		l.resolve(ctx, c, state.Settings.FPS)
	}

	if err := model.Restore(state); err != nil {
		return err
	}
	l.logger.WithFields(map[string]interface{}{
		"path":   path,
		"tracks": len(state.Tracks),
		"clips":  len(state.Clips),
	}).Info("Project loaded")
	return nil
}

func (l *Loader) resolve(ctx context.Context, c *models.Clip, fps float64) {
	if l.prober == nil {
		return
	}
	info, err := l.prober.Probe(ctx, c.SourcePath)
	if err != nil {
		// kept with a placeholder once the engine fails to open it
		l.logger.WithClipID(c.ID).WithError(err).Warn("Source could not be probed")
		return
	}
	if info.Kind == models.MediaImage && c.Kind == models.MediaVideo {
		c.Kind = models.MediaImage
		return
	}
	if n := info.DurationFrames(fps); n > 0 && c.SourceOffset+c.Duration <= n {
		c.SourceDuration = n
	} else if n > 0 {
		l.logger.WithClipID(c.ID).Warnf("Clip extends past its source (%d frames), leaving it unbounded", n)
	}
}

// TotalFrames is the export length of a project: the end of its last clip
func TotalFrames(model *timeline.Model) int {
	return model.MaxFrame()
}

// Package effects loads and runs per-clip frame effects.
//
// An effect reads an input frame and writes an output frame of the same size.
// Built-in effects are addressed as "builtin:<name>"; any other path is opened
// as a Go plug-in exporting
//
//	func Apply(in, out *image.RGBA, t float64, params map[string]any) error
package effects

import (
	"fmt"
	"image"
	"plugin"
	"strings"
	"sync"

	"github.com/ansel1/merry/v2"

	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// BuiltinPrefix marks effects compiled into the engine
const BuiltinPrefix = "builtin:"

// ErrLoad is returned when an effect cannot be loaded
var ErrLoad = merry.Sentinel("effect load failed", merry.WithUserMessage("An effect could not be loaded."))

// Func is the effect entry point. Frames are premultiplied RGBA.
type Func func(in, out *image.RGBA, t float64, params map[string]any) error

type loaded struct {
	fn  Func
	err error
}

// Registry resolves effect paths to entry points. Each path is loaded at most
// once per process; failures are remembered too.
type Registry struct {
	mu      sync.Mutex
	effects map[string]loaded
	open    func(path string) (Func, error)
	logger  *logging.Logger
}

// NewRegistry creates a registry holding the built-in effects
func NewRegistry(logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := &Registry{
		effects: make(map[string]loaded),
		open:    openPlugin,
		logger:  logger.WithComponent("effects"),
	}
	r.Register(BuiltinPrefix+"invert", Invert)
	r.Register(BuiltinPrefix+"grayscale", Grayscale)
	r.Register(BuiltinPrefix+"brightness", Brightness)
	return r
}

// Register adds an effect under path. Registering a path twice keeps the first.
func (r *Registry) Register(path string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.effects[path]; ok {
		return
	}
	r.effects[path] = loaded{fn: fn}
}

// Load returns the entry point for path
func (r *Registry) Load(path string) (Func, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.effects[path]; ok {
		return l.fn, l.err
	}

	var l loaded
	if strings.HasPrefix(path, BuiltinPrefix) {
		l.err = merry.Wrap(ErrLoad, merry.WithMessagef("unknown built-in effect %q", path))
	} else {
		fn, err := r.open(path)
		if err != nil {
			l.err = merry.Wrap(ErrLoad, merry.WithMessagef("load effect %s", path), merry.WithCause(err))
			r.logger.WithError(err).Warnf("Failed to load effect plug-in %s", path)
		} else {
			l.fn = fn
			r.logger.Infof("Loaded effect plug-in %s", path)
		}
	}
	r.effects[path] = l
	return l.fn, l.err
}

// Apply runs one effect on frame and returns the result. Disabled effects
// return frame unchanged.
func (r *Registry) Apply(e models.Effect, frame *image.RGBA, t float64) (*image.RGBA, error) {
	if !e.Enabled {
		return frame, nil
	}
	fn, err := r.Load(e.Path)
	if err != nil {
		return frame, err
	}
	out := image.NewRGBA(frame.Rect)
	if err := fn(frame, out, t, e.Params.ToMap()); err != nil {
		return frame, fmt.Errorf("effect %s: %w", e.Name, err)
	}
	return out, nil
}

// ApplyAll runs the enabled effects in order. A failing effect is skipped and
// its error returned alongside the best frame produced.
func (r *Registry) ApplyAll(effects []models.Effect, frame *image.RGBA, t float64) (*image.RGBA, error) {
	var firstErr error
	for _, e := range effects {
		next, err := r.Apply(e, frame, t)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		frame = next
	}
	return frame, firstErr
}

func openPlugin(path string) (Func, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	sym, err := p.Lookup("Apply")
	if err != nil {
		return nil, err
	}
	switch fn := sym.(type) {
	case func(in, out *image.RGBA, t float64, params map[string]any) error:
		return fn, nil
	case *Func:
		return *fn, nil
	default:
		return nil, fmt.Errorf("symbol Apply has type %T", sym)
	}
}

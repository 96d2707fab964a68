package media

import (
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"

	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// PlaceholderColor fills clips whose media could not be opened
var PlaceholderColor = color.RGBA{R: 64, G: 0, B: 64, A: 255}

// placeholderDecoder renders a solid color and silence
type placeholderDecoder struct {
	info  *models.ProbeInfo
	color color.RGBA
}

func (d *placeholderDecoder) Info() *models.ProbeInfo { return d.info }

func (d *placeholderDecoder) DecodeFrame(_ float64, w, h int) (*image.RGBA, error) {
	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Rect, image.NewUniform(d.color), image.Point{}, draw.Src)
	return frame, nil
}

func (d *placeholderDecoder) DecodeAudio(int64, int) ([]float32, error) { return nil, nil }

func (d *placeholderDecoder) Close() error { return nil }

// NewPlaceholder returns a source that keeps a clip editable after its media
// failed to open. It renders a solid color over the full frame and silence.
func NewPlaceholder(path string, kind models.MediaKind, logger *logging.Logger) *Source {
	info := &models.ProbeInfo{
		Path:     path,
		Kind:     kind,
		KindName: kind.String(),
		ProbedAt: time.Now(),
	}
	if kind != models.MediaAudio {
		info.Width, info.Height = 16, 9
	}
	src := NewSource(&placeholderDecoder{info: info, color: PlaceholderColor}, 1, logger)
	src.placeholder = true
	return src
}

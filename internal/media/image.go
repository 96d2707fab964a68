package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// IsImagePath reports whether the file extension names a still image format decoded in-process
func IsImagePath(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

// imageDecoder serves a still image. Time is ignored.
type imageDecoder struct {
	info   *models.ProbeInfo
	img    image.Image
	scaled *image.RGBA
}

func openImage(path string) (*imageDecoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	info := &models.ProbeInfo{
		Path:       path,
		Kind:       models.MediaImage,
		KindName:   models.MediaImage.String(),
		Width:      b.Dx(),
		Height:     b.Dy(),
		VideoCodec: format,
		ProbedAt:   time.Now(),
	}
	return &imageDecoder{info: info, img: img}, nil
}

func (d *imageDecoder) Info() *models.ProbeInfo { return d.info }

func (d *imageDecoder) DecodeFrame(_ float64, w, h int) (*image.RGBA, error) {
	if d.scaled != nil && d.scaled.Rect.Dx() == w && d.scaled.Rect.Dy() == h {
		return d.scaled, nil
	}
	d.scaled = scaleImage(d.img, w, h)
	return d.scaled, nil
}

func (d *imageDecoder) DecodeAudio(int64, int) ([]float32, error) { return nil, nil }

func (d *imageDecoder) Close() error {
	d.img, d.scaled = nil, nil
	return nil
}

// scaleImage resamples src into a new w x h frame with Catmull-Rom interpolation
func scaleImage(src image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if src.Bounds().Dx() == w && src.Bounds().Dy() == h {
		draw.Draw(dst, dst.Rect, src, src.Bounds().Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Rect, src, src.Bounds(), draw.Src, nil)
	return dst
}

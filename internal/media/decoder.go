package media

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os/exec"
	"strconv"

	"github.com/ansel1/merry/v2"
	"golang.org/x/image/draw"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// ErrEndOfStream is returned when a request lies past the last decodable frame
var ErrEndOfStream = merry.Sentinel("end of stream")

// Decoder is the per-file decoding backend behind a Source. Implementations
// need not be safe for concurrent use; Source serializes every call.
type Decoder interface {
	Info() *models.ProbeInfo
	// DecodeFrame returns the frame shown at t seconds, scaled to exactly w x h,
	// in visual orientation.
	DecodeFrame(t float64, w, h int) (*image.RGBA, error)
	// DecodeAudio returns up to frames interleaved stereo sample frames at the
	// native sample rate, starting at native sample index start.
	DecodeAudio(start int64, frames int) ([]float32, error)
	Close() error
}

// seekWindow is how far ahead, in seconds, a running pipe is read forward
// instead of being restarted at the new position.
const seekWindow = 2.0

// pipeStream is one running ffmpeg process writing fixed-size units to stdout
type pipeStream struct {
	cmd    *exec.Cmd
	out    *bufio.Reader
	closer io.Closer
	stderr *tailBuffer
	pos    int64
	unit   int
	w, h   int
}

func startStream(bin string, args []string, pos int64, unit int) (*pipeStream, error) {
	cmd := exec.Command(bin, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr := newTailBuffer(4 * 1024)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &pipeStream{
		cmd:    cmd,
		out:    bufio.NewReaderSize(stdout, 1<<20),
		closer: stdout,
		stderr: stderr,
		pos:    pos,
		unit:   unit,
	}, nil
}

// skip discards n units
func (s *pipeStream) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	discarded, err := s.out.Discard(int(n) * s.unit)
	s.pos += int64(discarded / s.unit)
	return err
}

// read fills buf with whole units and returns how many were read
func (s *pipeStream) read(buf []byte) (int, error) {
	n, err := io.ReadFull(s.out, buf)
	units := n / s.unit
	s.pos += int64(units)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return units, err
}

func (s *pipeStream) close() {
	if s == nil {
		return
	}
	_ = s.closer.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

// ffmpegDecoder decodes through long-running ffmpeg pipes. Sequential requests
// reuse the running process; backward or distant requests restart it.
type ffmpegDecoder struct {
	ff   *FFmpeg
	info *models.ProbeInfo
	fps  float64

	video     *pipeStream
	frameBuf  *image.NRGBA
	lastFrame *image.RGBA
	lastIndex int64

	audio *pipeStream
}

func newFFmpegDecoder(ff *FFmpeg, info *models.ProbeInfo) *ffmpegDecoder {
	return &ffmpegDecoder{ff: ff, info: info, fps: info.FPS, lastIndex: -1}
}

func (d *ffmpegDecoder) Info() *models.ProbeInfo { return d.info }

func (d *ffmpegDecoder) frameIndex(t float64) int64 {
	if d.fps <= 0 || t <= 0 {
		return 0
	}
	k := int64(math.Floor(t*d.fps + 1e-6))
	if last := d.lastFrameIndex(); last >= 0 && k > last {
		k = last
	}
	return k
}

func (d *ffmpegDecoder) lastFrameIndex() int64 {
	if d.fps <= 0 || d.info.Duration <= 0 {
		return -1
	}
	n := int64(math.Round(d.info.Duration * d.fps))
	if n < 1 {
		return 0
	}
	return n - 1
}

func (d *ffmpegDecoder) DecodeFrame(t float64, w, h int) (*image.RGBA, error) {
	if !d.info.HasVideo() {
		return nil, fmt.Errorf("%s has no video stream", d.info.Path)
	}

	k := d.frameIndex(t)
	if d.lastFrame != nil && d.lastIndex == k && d.lastFrame.Rect.Dx() == w && d.lastFrame.Rect.Dy() == h {
		return d.lastFrame, nil
	}

	window := int64(seekWindow * d.fps)
	if d.video == nil || d.video.w != w || d.video.h != h || k < d.video.pos || k-d.video.pos > window {
		if err := d.restartVideo(k, w, h); err != nil {
			return nil, apperr.DecodeFatal(d.info.Path, err)
		}
	}

	if err := d.video.skip(k - d.video.pos); err != nil {
		return d.endOfVideo(err)
	}
	if _, err := d.video.read(d.frameBuf.Pix); err != nil {
		return d.endOfVideo(err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(frame, frame.Rect, d.frameBuf, image.Point{}, draw.Src)
	d.lastFrame = frame
	d.lastIndex = k
	return frame, nil
}

func (d *ffmpegDecoder) endOfVideo(err error) (*image.RGBA, error) {
	tail := d.video.stderr.Tail(3)
	d.video.close()
	d.video = nil
	if errors.Is(err, io.EOF) {
		if d.lastFrame != nil {
			return d.lastFrame, merry.Wrap(ErrEndOfStream)
		}
		return nil, merry.Wrap(ErrEndOfStream)
	}
	return nil, apperr.DecodeTransient(fmt.Errorf("%w: %s", err, tail))
}

func (d *ffmpegDecoder) restartVideo(k int64, w, h int) error {
	d.video.close()
	d.video = nil

	args := []string{"-hide_banner", "-v", "error", "-nostdin"}
	if d.fps > 0 && k > 0 {
		args = append(args, "-ss", strconv.FormatFloat(float64(k)/d.fps, 'f', 6, 64))
	}
	args = append(args, "-i", d.info.Path, "-an", "-sn", "-dn",
		"-vf", fmt.Sprintf("scale=%d:%d:flags=bicubic,format=rgba", w, h))
	if d.fps > 0 {
		args = append(args, "-r", strconv.FormatFloat(d.fps, 'f', -1, 64))
	} else {
		args = append(args, "-frames:v", "1")
	}
	args = append(args, "-f", "rawvideo", "-pix_fmt", "rgba", "-")

	stream, err := startStream(d.ff.Path(), args, k, w*h*4)
	if err != nil {
		return err
	}
	stream.w, stream.h = w, h
	d.video = stream
	if d.frameBuf == nil || d.frameBuf.Rect.Dx() != w || d.frameBuf.Rect.Dy() != h {
		d.frameBuf = image.NewNRGBA(image.Rect(0, 0, w, h))
	}
	return nil
}

func (d *ffmpegDecoder) DecodeAudio(start int64, frames int) ([]float32, error) {
	rate := d.info.SampleRate
	if !d.info.HasAudio() || frames <= 0 {
		return nil, nil
	}

	window := int64(seekWindow * float64(rate))
	if d.audio == nil || start < d.audio.pos || start-d.audio.pos > window {
		d.audio.close()
		d.audio = nil

		args := []string{"-hide_banner", "-v", "error", "-nostdin"}
		if start > 0 {
			args = append(args, "-ss", strconv.FormatFloat(float64(start)/float64(rate), 'f', 6, 64))
		}
		args = append(args, "-i", d.info.Path, "-vn", "-sn", "-dn",
			"-ac", "2", "-ar", strconv.Itoa(rate), "-f", "f32le", "-")

		stream, err := startStream(d.ff.Path(), args, start, 8)
		if err != nil {
			return nil, apperr.DecodeFatal(d.info.Path, err)
		}
		d.audio = stream
	}

	if err := d.audio.skip(start - d.audio.pos); err != nil {
		return d.endOfAudio(err)
	}

	buf := make([]byte, frames*8)
	n, err := d.audio.read(buf)
	samples := bytesToFloats(buf[:n*8])
	if err != nil {
		if _, endErr := d.endOfAudio(err); !errors.Is(endErr, ErrEndOfStream) {
			return samples, endErr
		}
	}
	return samples, nil
}

func (d *ffmpegDecoder) endOfAudio(err error) ([]float32, error) {
	tail := d.audio.stderr.Tail(3)
	d.audio.close()
	d.audio = nil
	if errors.Is(err, io.EOF) {
		return nil, merry.Wrap(ErrEndOfStream)
	}
	return nil, apperr.DecodeTransient(fmt.Errorf("%w: %s", err, tail))
}

func (d *ffmpegDecoder) Close() error {
	d.video.close()
	d.audio.close()
	d.video, d.audio = nil, nil
	return nil
}

func bytesToFloats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

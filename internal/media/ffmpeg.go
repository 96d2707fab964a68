package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// FFmpeg wraps the external ffmpeg and ffprobe tools
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// Path returns the ffmpeg binary
func (f *FFmpeg) Path() string { return f.ffmpegPath }

// ProbeResult holds the parts of the ffprobe document the engine reads
type ProbeResult struct {
	Format  FormatInfo   `json:"format"`
	Streams []StreamInfo `json:"streams"`
}

// FormatInfo holds container information
type FormatInfo struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Tags       map[string]string `json:"tags"`
}

// StreamInfo holds stream information
type StreamInfo struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	FrameRate    string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	SampleRate   string            `json:"sample_rate"`
	Channels     int               `json:"channels"`
	Tags         map[string]string `json:"tags"`
	SideData     []SideData        `json:"side_data_list"`
	Disposition  struct {
		AttachedPic int `json:"attached_pic"`
	} `json:"disposition"`
}

// SideData is one entry of a stream's side data list
type SideData struct {
	Type     string  `json:"side_data_type"`
	Rotation float64 `json:"rotation"`
}

// ProbeOptions tunes a probe call. Zero values leave ffprobe defaults.
type ProbeOptions struct {
	Timeout   time.Duration
	ProbeSize int64
}

// FastProbeOptions is the short-timeout first stage of probing
func FastProbeOptions(timeout time.Duration, probeSize int64) ProbeOptions {
	return ProbeOptions{Timeout: timeout, ProbeSize: probeSize}
}

// Probe runs ffprobe on inputPath and returns the parsed document
func (f *FFmpeg) Probe(ctx context.Context, inputPath string, opts ProbeOptions) (*ProbeResult, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, probeArgs(inputPath, opts)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe %s: %w", inputPath, ctx.Err())
		}
		return nil, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	var result ProbeResult
	if err := json.Unmarshal(stdout.Bytes(), &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	return &result, nil
}

func probeArgs(inputPath string, opts ProbeOptions) []string {
	args := []string{"-v", "error"}
	if opts.ProbeSize > 0 {
		size := strconv.FormatInt(opts.ProbeSize, 10)
		args = append(args, "-probesize", size, "-analyzeduration", size)
	}
	args = append(args,
		"-print_format", "json",
		"-show_entries",
		"stream=index,codec_type,codec_name,width,height,r_frame_rate,avg_frame_rate,duration,sample_rate,channels"+
			":stream_tags:stream_side_data=side_data_type,rotation:stream_disposition=attached_pic"+
			":format=filename,format_name,duration:format_tags",
		inputPath,
	)
	return args
}

// Info converts the probe document into the engine's metadata record.
// The first video stream and the first audio stream are used.
func (r *ProbeResult) Info(path string) (*models.ProbeInfo, error) {
	info := &models.ProbeInfo{Path: path, ProbedAt: time.Now()}

	video, audio := r.firstStreams()
	if video == nil && audio == nil {
		return nil, fmt.Errorf("no audio or video stream in %s", path)
	}

	if video != nil {
		info.VideoCodec = video.CodecName
		info.Rotation = video.rotation()
		info.Width, info.Height = video.Width, video.Height
		if info.Rotation == 90 || info.Rotation == 270 {
			info.Width, info.Height = info.Height, info.Width
		}
		info.FPS = ParseFrameRate(video.FrameRate)
		if info.FPS <= 0 || info.FPS > 1000 {
			info.FPS = ParseFrameRate(video.AvgFrameRate)
		}
		info.Duration = parseSeconds(video.Duration)
	}
	if audio != nil {
		info.AudioCodec = audio.CodecName
		info.SampleRate, _ = strconv.Atoi(audio.SampleRate)
		info.Channels = audio.Channels
		if info.Duration <= 0 {
			info.Duration = parseSeconds(audio.Duration)
		}
	}
	if d := parseSeconds(r.Format.Duration); d > 0 && (info.Duration <= 0 || d > info.Duration) {
		info.Duration = d
	}

	switch {
	case video != nil && r.isStill():
		info.Kind = models.MediaImage
		info.Duration = 0
		info.FPS = 0
	case video != nil:
		info.Kind = models.MediaVideo
	default:
		info.Kind = models.MediaAudio
	}
	info.KindName = info.Kind.String()

	return info, nil
}

func (r *ProbeResult) firstStreams() (video, audio *StreamInfo) {
	for i := range r.Streams {
		s := &r.Streams[i]
		switch s.CodecType {
		case "video":
			if video == nil && s.Disposition.AttachedPic == 0 && s.Width > 0 {
				video = s
			}
		case "audio":
			if audio == nil {
				audio = s
			}
		}
	}
	return video, audio
}

func (r *ProbeResult) isStill() bool {
	name := r.Format.FormatName
	return name == "image2" || strings.HasSuffix(name, "_pipe")
}

// rotation returns the clockwise display rotation of the stream
func (s *StreamInfo) rotation() int {
	for _, sd := range s.SideData {
		if sd.Type == "Display Matrix" || sd.Rotation != 0 {
			// display matrix angles are counter-clockwise
			return models.NormalizeRotation(-int(sd.Rotation))
		}
	}
	if tag, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(tag)); err == nil {
			return models.NormalizeRotation(deg)
		}
	}
	return 0
}

// ParseFrameRate parses ffprobe rationals such as "30000/1001"
func ParseFrameRate(rate string) float64 {
	if rate == "" {
		return 0
	}
	parts := strings.Split(rate, "/")
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	if len(parts) == 1 {
		return num
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}

func parseSeconds(s string) float64 {
	if s == "" || s == "N/A" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/orsinium-labs/enum"

	"github.com/therealutkarshpriyadarshi/montage/internal/logging"
	"github.com/therealutkarshpriyadarshi/montage/pkg/models"
)

// Accelerator is the hardware encoder family used for proxies
type Accelerator enum.Member[string]

var (
	AccelVideoToolbox = Accelerator{Value: "videotoolbox"}
	AccelNVENC        = Accelerator{Value: "nvenc"}
	AccelQSV          = Accelerator{Value: "qsv"}
	AccelAMF          = Accelerator{Value: "amf"}
	AccelCPU          = Accelerator{Value: "cpu"}
	Accelerators      = enum.New(AccelVideoToolbox, AccelNVENC, AccelQSV, AccelAMF, AccelCPU)
)

func (a Accelerator) String() string { return a.Value }

// Encoder returns the ffmpeg H.264 encoder name for the accelerator
func (a Accelerator) Encoder() string {
	switch a {
	case AccelVideoToolbox:
		return "h264_videotoolbox"
	case AccelNVENC:
		return "h264_nvenc"
	case AccelQSV:
		return "h264_qsv"
	case AccelAMF:
		return "h264_amf"
	default:
		return "libx264"
	}
}

// ProxyHeight is the short side of generated proxies
const ProxyHeight = 540

// commandRunner runs a command and returns its stdout
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w, stderr: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Environment is the process-wide view of the external tools and the host.
// Construct it once at startup and pass it by reference; hardware detection
// runs on first use and is memoized.
type Environment struct {
	FFmpeg  *FFmpeg
	TempDir string

	goos     string
	run      commandRunner
	exists   func(path string) bool
	logger   *logging.Logger
	once     sync.Once
	accel    Accelerator
	encoders map[string]bool
}

// NewEnvironment creates an environment for the given tools
func NewEnvironment(ffmpeg *FFmpeg, tempDir string, logger *logging.Logger) *Environment {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Environment{
		FFmpeg:  ffmpeg,
		TempDir: tempDir,
		goos:    runtime.GOOS,
		run:     runCommand,
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		logger: logger.WithComponent("environment"),
	}
}

// Accelerator returns the detected proxy encoder family
func (e *Environment) Accelerator() Accelerator {
	e.once.Do(e.detect)
	return e.accel
}

func (e *Environment) detect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e.accel = AccelCPU

	out, err := e.run(ctx, e.FFmpeg.Path(), "-hide_banner", "-encoders")
	if err != nil {
		e.logger.Warnf("Failed to list ffmpeg encoders: %v", err)
		e.encoders = map[string]bool{}
		return
	}
	e.encoders = parseEncoders(string(out))

	for _, candidate := range e.candidates(ctx) {
		if err := e.preflight(ctx, candidate); err != nil {
			e.logger.Debugf("Encoder %s failed preflight: %v", candidate.Encoder(), err)
			continue
		}
		e.accel = candidate
		break
	}

	e.logger.WithField("accelerator", e.accel.String()).Info("Hardware detection complete")
}

// candidates lists the hardware families worth testing on this host, in preference order
func (e *Environment) candidates(ctx context.Context) []Accelerator {
	var out []Accelerator
	if e.goos == "darwin" && e.encoders[AccelVideoToolbox.Encoder()] {
		out = append(out, AccelVideoToolbox)
	}
	if e.encoders[AccelNVENC.Encoder()] {
		if _, err := e.run(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader"); err == nil {
			out = append(out, AccelNVENC)
		}
	}
	if e.encoders[AccelQSV.Encoder()] && (e.goos != "linux" || e.exists("/dev/dri/renderD128")) {
		out = append(out, AccelQSV)
	}
	if e.goos == "windows" && e.encoders[AccelAMF.Encoder()] {
		out = append(out, AccelAMF)
	}
	return out
}

// preflight encodes a few synthetic frames to prove the encoder works on this host
func (e *Environment) preflight(ctx context.Context, accel Accelerator) error {
	_, err := e.run(ctx, e.FFmpeg.Path(),
		"-hide_banner", "-v", "error",
		"-f", "lavfi",
		"-i", "testsrc=duration=0.2:size=320x240:rate=25",
		"-c:v", accel.Encoder(),
		"-frames:v", "5",
		"-f", "null", "-",
	)
	return err
}

func parseEncoders(out string) map[string]bool {
	encoders := make(map[string]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		// " V....D libx264  libx264 H.264 ..."
		if len(fields) < 2 || len(fields[0]) != 6 || fields[1] == "=" {
			continue
		}
		encoders[fields[1]] = true
	}
	return encoders
}

// ProxyArgs builds the ffmpeg arguments that write a low-resolution copy of info to output.
// Frames are scaled in native orientation so the short side becomes 540 lines, and the
// rotation metadata is carried over so the visual orientation survives.
func (e *Environment) ProxyArgs(info *models.ProbeInfo, output string) []string {
	return proxyArgs(e.Accelerator(), info, output)
}

func proxyArgs(accel Accelerator, info *models.ProbeInfo, output string) []string {
	scale := fmt.Sprintf("scale=-2:%d,setsar=1", ProxyHeight)
	if nw, nh := info.NativeSize(); nw < nh {
		scale = fmt.Sprintf("scale=%d:-2,setsar=1", ProxyHeight)
	}

	args := []string{
		"-hide_banner", "-v", "error", "-y",
		"-noautorotate",
		"-i", info.Path,
		"-vf", scale,
		"-map", "0:v:0", "-map", "0:a:0?",
	}

	switch accel {
	case AccelVideoToolbox:
		args = append(args, "-c:v", "h264_videotoolbox", "-b:v", "3M", "-allow_sw", "1")
	case AccelNVENC:
		args = append(args, "-c:v", "h264_nvenc", "-preset", mapPresetToNVENC("veryfast"), "-rc", "vbr", "-cq", "28", "-b:v", "0")
	case AccelQSV:
		args = append(args, "-c:v", "h264_qsv", "-preset", "veryfast", "-global_quality", "28")
	case AccelAMF:
		args = append(args, "-c:v", "h264_amf", "-quality", "speed", "-rc", "cqp", "-qp_i", "28", "-qp_p", "28")
	default:
		args = append(args, "-c:v", "libx264", "-preset", "veryfast", "-crf", "28")
	}

	args = append(args,
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-map_metadata", "0",
		"-metadata:s:v:0", fmt.Sprintf("rotate=%d", info.Rotation),
		output,
	)
	return args
}

// mapPresetToNVENC maps x264 preset names to NVENC presets
func mapPresetToNVENC(preset string) string {
	mapping := map[string]string{
		"ultrafast": "p1",
		"superfast": "p2",
		"veryfast":  "p3",
		"faster":    "p4",
		"fast":      "p5",
		"medium":    "p6",
		"slow":      "p6",
		"slower":    "p7",
		"veryslow":  "p7",
	}

	if nvencPreset, ok := mapping[preset]; ok {
		return nvencPreset
	}

	return "p6"
}

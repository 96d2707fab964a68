package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/therealutkarshpriyadarshi/montage/internal/apperr"
	"github.com/therealutkarshpriyadarshi/montage/internal/config"
	"github.com/therealutkarshpriyadarshi/montage/internal/export"
	"github.com/therealutkarshpriyadarshi/montage/internal/playback"
	"github.com/therealutkarshpriyadarshi/montage/internal/project"
	"github.com/therealutkarshpriyadarshi/montage/internal/timeline"
)

var (
	cfgFile    string
	outputPath string
	analyze    bool
	save       bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", apperr.UserMessage(err))
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:           "montage",
	Short:         "montage - non-linear video editing engine",
	Long:          "Opens, analyses and renders montage projects with the playback engine.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CONFIG_PATH"), "config file (default: defaults and environment only)")

	openCmd.Flags().BoolVar(&analyze, "analyze", true, "run waveform, thumbnail and proxy workers until idle")
	openCmd.Flags().BoolVar(&save, "save", false, "write the project back, including generated proxies")
	renderCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: project path with .mp4)")

	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(renderCmd)
}

// start loads the configuration and brings up the engine. Failures are fatal
// init errors.
func start(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fatalInit(err)
	}
	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return nil, fatalInit(err)
	}
	return a, nil
}

var openCmd = &cobra.Command{
	Use:   "open PATH",
	Short: "Open a project and report its contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := start(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(cmd.Context()); cerr != nil {
				a.logger.WithError(cerr).Warn("Shutdown incomplete")
			}
		}()

		ctx := cmd.Context()
		s := a.session
		if err := s.Open(ctx, args[0]); err != nil {
			if !apperr.Is(err, apperr.ErrOpenFailure) {
				return fatalInit(err)
			}
			a.logger.LogUserError("Some media could not be opened", err)
		}

		if analyze {
			if err := s.Analyze(); err != nil {
				return fatalInit(err)
			}
			if err := s.WaitIdle(ctx, 50*time.Millisecond); err != nil {
				return err
			}
		}

		m := s.Model
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n  tracks:   %d\n  clips:    %d\n  duration: %s\n  proxies:  %s\n",
			args[0], m.TrackCount(), m.ClipCount(),
			timeline.FormatTime(project.TotalFrames(m), m.FPS(), m.TimeFormat()),
			s.Dispatcher.Indicator())

		if save {
			if err := s.Save(""); err != nil {
				return err
			}
		}
		return nil
	},
}

var renderCmd = &cobra.Command{
	Use:   "render PATH WxH CODEC",
	Short: "Render a project through the external encoder",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		w, h, err := parseSize(args[1])
		if err != nil {
			return fatalInit(err)
		}
		if _, err := export.VideoCodec(args[2]); err != nil {
			return fatalInit(err)
		}

		a, err := start(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.close(cmd.Context()); cerr != nil {
				a.logger.WithError(cerr).Warn("Shutdown incomplete")
			}
		}()

		ctx := cmd.Context()
		s := a.session
		if err := s.Open(ctx, args[0]); err != nil {
			if !apperr.Is(err, apperr.ErrOpenFailure) {
				return fatalInit(err)
			}
			a.logger.LogUserError("Rendering with placeholders for missing media", err)
		}

		output := outputPath
		if output == "" {
			output = defaultOutput(args[0])
		}

		total := project.TotalFrames(s.Model)
		bar := progressbar.NewOptions(total,
			progressbar.OptionSetDescription("Rendering"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
		)
		progress := playback.ProgressFunc(func(done, _ int) {
			_ = bar.Set(done)
		})

		res, err := s.Export(ctx, export.Request{
			Output: output,
			Width:  w,
			Height: h,
			Codec:  args[2],
		}, progress)
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
		if err != nil {
			if apperr.IsCancelled(err) {
				log.Warn().Msg("render cancelled")
			}
			return renderFailure(err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d, %d frames, %s)\n",
			res.Path, res.Width, res.Height, res.Frames, res.Elapsed.Round(time.Millisecond))
		if res.URL != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.URL)
		}
		return nil
	},
}

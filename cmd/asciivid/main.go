package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/asciivid/internal/config"
	"github.com/genricoloni/asciivid/internal/domain"
	"github.com/genricoloni/asciivid/internal/engine"
	"github.com/genricoloni/asciivid/internal/monitor"
	"github.com/genricoloni/asciivid/internal/processor"
	"github.com/genricoloni/asciivid/internal/source"
	"github.com/genricoloni/asciivid/internal/terminal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// cliArgs carries the command line into the fx graph
type cliArgs struct {
	MediaPath string
	Overrides config.Overrides
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "asciivid:", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "asciivid [flags] <video-or-image>",
		Short: "Play a video or image as ASCII art in the terminal",
		Long: "Play a video or image as ASCII art in the terminal.\n\n" +
			"Keys: space pause, r restart, +/- speed, f status line, p performance, q quit.\n" +
			"Settings are read from ~/.config/asciivid/config.yaml (or $ASCIIVID_CONFIG),\n" +
			"then ASCIIVID_* environment variables, then flags.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cliArgs{
				MediaPath: args[0],
				Overrides: collectOverrides(cmd.Flags()),
			})
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

// registerFlags declares one flag per setting. Defaults are shown in the
// help text only; unset flags never override the file or environment.
func registerFlags(flags *pflag.FlagSet) {
	d := config.DefaultSettings()

	flags.String("preset", d.Preset, fmt.Sprintf("settings preset: %v", config.Presets()))
	flags.StringP("algorithm", "a", d.Algorithm, "enhancement: luminance, average, lightness, custom, adaptive_4k, neural_upscale, super_resolution, edge_enhanced")
	flags.StringP("quality", "q", d.Quality, "quality ceiling: standard, auto, 4k, 6k, 8k")
	flags.StringP("style", "s", d.Style, "character style")
	flags.IntP("width", "w", d.Width, "grid width in columns (0 = terminal width)")
	flags.Int("height", d.Height, "grid height in rows (0 = terminal height)")
	flags.Float64("target-fps", d.TargetFPS, "playback rate (0 = media rate)")
	flags.Float64("speed", d.Speed, "initial speed multiplier")
	flags.Int("buffer-size", d.BufferSize, "decoded frames held ahead of processing")
	flags.IntP("workers", "j", d.Workers, "enhancement workers")
	flags.String("drop-policy", d.DropPolicy, "full buffer policy: drop-oldest, block")
	flags.Int("reorder-window", d.ReorderWindow, "processed frames held for in-order delivery")
	flags.Int("max-decode-width", d.MaxDecodeWidth, "downscale decoded video wider than this")
	flags.BoolP("fullscreen", "f", d.Fullscreen, "hide the status line")
	flags.Bool("no-ui", d.NoUI, "hide the status line")
	flags.Bool("no-performance", d.NoPerformance, "hide fps and cpu in the status line")
	flags.BoolP("verbose", "v", d.Verbose, "debug logging")
	flags.String("log-file", d.LogFile, "log destination")
	flags.Duration("adapt-interval", d.AdaptInterval, "adaptive quality tick")
	flags.Duration("sample-interval", d.SampleInterval, "cpu and memory sampling period")
	flags.Float64("cpu-threshold", d.CPUThreshold, "cpu percent above which workers are shed")
	flags.Float64("memory-threshold", d.MemoryThreshold, "memory percent above which the buffer is flushed")
	flags.Float64("frame-drop-threshold", d.FrameDropThreshold, "fraction of the target fps below which quality drops")
	flags.Int("debounce-ticks", d.DebounceTicks, "slow ticks before quality drops")
	flags.Int("upgrade-ticks", d.UpgradeTicks, "healthy ticks before quality rises")
	flags.Bool("edge-pre-blur", d.EdgePreBlur, "blur before edge detection")
	flags.Bool("exit-on-end", d.ExitOnEnd, "quit when the video ends")
	flags.Bool("pause-on-lock", d.PauseOnLock, "pause while the screen is locked")
}

// collectOverrides returns the flags set on the command line
func collectOverrides(flags *pflag.FlagSet) config.Overrides {
	overrides := config.Overrides{}
	flags.Visit(func(f *pflag.Flag) {
		overrides[f.Name] = f.Value.String()
	})
	return overrides
}

func run(args cliArgs) error {
	if err := terminal.CheckTTY(); err != nil {
		return err
	}

	var player *engine.Engine
	app := fx.New(AppOptions(args), fx.Populate(&player))
	if err := app.Err(); err != nil {
		return err
	}

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, cancelStart := context.WithTimeout(ctx, app.StartTimeout())
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	// Wait for a signal or the end of playback
	select {
	case <-ctx.Done():
	case <-player.Done():
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	return multierr.Append(player.Err(), app.Stop(stopCtx))
}

// AppOptions builds the dependency graph for one media file
func AppOptions(args cliArgs) fx.Option {
	return fx.Options(
		fx.Supply(args),

		// Logger configuration
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),

		// Provide dependencies
		fx.Provide(
			newConfig,
			newLogger,
			newSource,
			newRenderer,
			newEnhancer,
			newMonitor,
			fx.Annotate(
				terminal.NewKeyboardInput,
				fx.As(new(domain.InputSource)),
				fx.ResultTags(`group:"inputs"`),
			),
			newLockInputs,
			newEngine,
		),

		// Lifecycle hooks
		fx.Invoke(registerHooks),
	)
}

// newConfig resolves settings before the logger exists; the result is
// logged once the logger is built.
func newConfig(args cliArgs) (*config.AppConfig, error) {
	return config.NewAppConfig(zap.NewNop(), args.MediaPath, args.Overrides)
}

// newLogger writes JSON logs to the configured file so the terminal display
// stays clean.
func newLogger(cfg *config.AppConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{cfg.LogFile}
	zc.ErrorOutputPaths = []string{cfg.LogFile}
	if cfg.Verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("log file %s: %w", cfg.LogFile, err)
	}
	return logger, nil
}

func newSource(logger *zap.Logger, cfg *config.AppConfig) (domain.FrameSource, error) {
	return source.Open(logger, cfg.MediaPath, cfg.MaxDecodeWidth)
}

func newRenderer(logger *zap.Logger) domain.Renderer {
	return terminal.NewRenderer(logger)
}

func newEnhancer(logger *zap.Logger, cfg *config.AppConfig) (domain.Enhancer, error) {
	return processor.NewEnhancer(logger, processor.Options{
		Algorithm:   cfg.Algorithm,
		EdgePreBlur: cfg.EdgePreBlur,
	})
}

// newMonitor falls back to a probe-less monitor when the process cannot be
// inspected; fps is still measured.
func newMonitor(logger *zap.Logger, cfg *config.AppConfig) domain.SampleSource {
	var probe monitor.Probe
	if p, err := monitor.NewProcessProbe(); err != nil {
		logger.Warn("Process probe unavailable", zap.Error(err))
	} else {
		probe = p
	}
	return monitor.NewPerformanceMonitor(logger, probe, cfg.SampleInterval)
}

type lockInputs struct {
	fx.Out

	Inputs []domain.InputSource `group:"inputs,flatten"`
}

// newLockInputs adds the screen lock watcher when pausing on lock is enabled
func newLockInputs(logger *zap.Logger, cfg *config.AppConfig) lockInputs {
	if !cfg.PauseOnLock {
		return lockInputs{}
	}
	return lockInputs{Inputs: []domain.InputSource{monitor.NewScreenLockWatcher(logger)}}
}

type engineParams struct {
	fx.In

	Logger   *zap.Logger
	Config   *config.AppConfig
	Source   domain.FrameSource
	Renderer domain.Renderer
	Enhancer domain.Enhancer
	Monitor  domain.SampleSource
	Inputs   []domain.InputSource `group:"inputs"`
}

func newEngine(p engineParams) (*engine.Engine, error) {
	return engine.NewEngine(engine.Params{
		Logger:   p.Logger,
		Config:   p.Config,
		Source:   p.Source,
		Renderer: p.Renderer,
		Enhancer: p.Enhancer,
		Monitor:  p.Monitor,
		Inputs:   p.Inputs,
	})
}

// registerHooks sets up application lifecycle hooks
func registerHooks(lc fx.Lifecycle, logger *zap.Logger, cfg *config.AppConfig, player *engine.Engine) {
	logger.Info("Configuration loaded",
		zap.String("media", cfg.MediaPath),
		zap.String("preset", cfg.Preset),
		zap.Stringer("algorithm", cfg.Algorithm),
		zap.Stringer("quality", cfg.Quality),
		zap.String("style", cfg.Style.Name),
		zap.Int("workers", cfg.Workers),
		zap.Stringer("dropPolicy", cfg.DropPolicy))

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := player.Start(ctx); err != nil {
				// OnStop is not called for a failed hook
				return multierr.Append(err, player.Stop(ctx))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := player.Stop(ctx)
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Error("Shutdown timed out", zap.Error(err))
			}
			return err
		},
	})
}

// Command fontcache warms, inspects and clears the font preview cache
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/wowfontmanager/fontcache/internal/buffer"
	"github.com/wowfontmanager/fontcache/internal/cache"
	"github.com/wowfontmanager/fontcache/internal/config"
	"github.com/wowfontmanager/fontcache/internal/fonts"
	"github.com/wowfontmanager/fontcache/internal/metrics"
	"github.com/wowfontmanager/fontcache/pkg/health"
	"github.com/wowfontmanager/fontcache/pkg/types"
	"github.com/wowfontmanager/fontcache/pkg/utils"
)

const usage = `Usage: fontcache [-config file] [-json] <command> [arguments]

Commands:
  warm [-root dir] [-thumbnails=false]   prefetch metadata and thumbnails
  stats                                  show disk cache usage
  invalidate <path>...                   drop cached artifacts of font files
  clear                                  empty the whole cache

Flags:
`

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("fontcache", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to a YAML configuration file")
	jsonOutput := flags.Bool("json", false, "print results as JSON")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() == 0 {
		flags.Usage()
		return exitUsage
	}

	command, rest := flags.Arg(0), flags.Args()[1:]
	switch command {
	case "warm", "stats", "invalidate", "clear":
	default:
		fmt.Fprintf(stderr, "fontcache: unknown command %q\n", command)
		flags.Usage()
		return exitUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "fontcache: %v\n", err)
		return exitError
	}

	a, err := newApp(ctx, cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "fontcache: %v\n", err)
		return exitError
	}
	defer a.close()

	out := printer{w: stdout, json: *jsonOutput}
	switch command {
	case "warm":
		err = a.warm(ctx, rest, out, stderr)
	case "stats":
		err = a.stats(out)
	case "invalidate":
		if len(rest) == 0 {
			fmt.Fprintln(stderr, "fontcache: invalidate needs at least one path")
			return exitUsage
		}
		err = a.invalidate(rest, out)
	case "clear":
		err = a.clear(out)
	}

	if err != nil {
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		a.logger.Error("Command failed", map[string]interface{}{
			"command": command,
			"error":   err,
		})
		fmt.Fprintf(stderr, "fontcache: %v\n", err)
		return exitError
	}
	return exitOK
}

var errUsage = errors.New("usage error")

// loadConfig layers the file and environment over the defaults
func loadConfig(path string) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// app owns everything a command needs
type app struct {
	cfg       *config.Configuration
	logger    *utils.StructuredLogger
	logCloser io.Closer
	collector *metrics.Collector
	pool      *buffer.BitmapPool
	disk      *cache.DiskStore
	cache     *cache.ArtifactCache
}

func newApp(ctx context.Context, cfg *config.Configuration, stderr io.Writer) (*app, error) {
	a := &app{cfg: cfg, pool: buffer.NewBitmapPool()}

	logger, closer, err := newLogger(cfg.Global, stderr)
	if err != nil {
		return nil, err
	}
	a.logger, a.logCloser = logger, closer

	a.collector, err = metrics.NewCollector(&cfg.Monitoring.Metrics, logger)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	tracker := health.NewTracker(health.DefaultConfig())
	tracker.AddStateChangeCallback(health.StateReadOnly, a.logStateChange)
	tracker.AddStateChangeCallback(health.StateUnavailable, a.logStateChange)
	a.collector.SetHealthTracker(tracker)
	if err := a.collector.Start(ctx); err != nil {
		_ = closer.Close()
		return nil, err
	}

	if cfg.Cache.PersistThumbnails || cfg.Cache.PersistMetadata {
		a.disk, err = cache.OpenDiskStore(cfg.Cache.Directory)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.cache, err = cache.New(cache.Options{
		TypefaceCapacity:  cfg.Cache.TypefaceCapacity,
		ThumbnailCapacity: cfg.Cache.ThumbnailCapacity,
		MetadataCapacity:  cfg.Cache.MetadataCapacity,
		Disk:              a.disk,
		PersistThumbnails: cfg.Cache.PersistThumbnails,
		PersistMetadata:   cfg.Cache.PersistMetadata,
		OnThumbnailEvict: func(_ string, img image.Image) {
			a.pool.Put(img)
		},
		Logger: logger,
		Recorder: types.Recorders{
			a.collector,
			health.NewDiskRecorder(tracker, cache.KindThumbnail, cache.KindMetadata),
		},
	})
	if err != nil {
		a.close()
		return nil, err
	}

	return a, nil
}

func newLogger(cfg config.GlobalConfig, stderr io.Writer) (*utils.StructuredLogger, io.Closer, error) {
	level, err := utils.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	format, err := utils.ParseLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	componentLevels := make(map[string]utils.LogLevel, len(cfg.ComponentLevels))
	for component, name := range cfg.ComponentLevels {
		if componentLevels[component], err = utils.ParseLogLevel(name); err != nil {
			return nil, nil, err
		}
	}

	var output io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		if output, closer, err = utils.OpenLogOutput(cfg.LogFile); err != nil {
			return nil, nil, err
		}
	}

	logger, err := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:           level,
		Output:          output,
		Format:          format,
		ComponentLevels: componentLevels,
	})
	if err != nil {
		_ = closer.Close()
		return nil, nil, err
	}
	return logger, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (a *app) logStateChange(component string, oldState, newState health.HealthState, err error) {
	fields := map[string]interface{}{
		"tier": component,
		"from": oldState.String(),
		"to":   newState.String(),
	}
	if err != nil {
		fields["error"] = err
	}
	a.logger.Warn("Disk cache tier health changed", fields)
}

// close flushes the cache and stops the metrics server
func (a *app) close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.collector.Stop(ctx); err != nil {
			a.logger.Warn("Failed to stop metrics server", map[string]interface{}{"error": err})
		}
		cancel()
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// renderOptions applies the preview configuration to the default render options
func (a *app) renderOptions() fonts.RenderOptions {
	opts := fonts.DefaultRenderOptions()
	opts.SampleText = a.cfg.Preview.SampleText
	opts.PointSize = a.cfg.Preview.PointSize
	opts.Width = a.cfg.Preview.Width
	opts.Height = a.cfg.Preview.Height
	return opts
}

type warmReport struct {
	Root   string           `json:"root"`
	Result fonts.WarmResult `json:"result"`
	Cache  cache.Statistics `json:"cache"`
	Pool   buffer.PoolStats `json:"pool"`
}

func (a *app) warm(ctx context.Context, args []string, out printer, stderr io.Writer) error {
	flags := flag.NewFlagSet("warm", flag.ContinueOnError)
	flags.SetOutput(stderr)
	root := flags.String("root", a.cfg.Fonts.Root, "fonts directory to scan")
	thumbnails := flags.Bool("thumbnails", true, "render thumbnails as well as metadata")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	files, err := fonts.Discover(ctx, *root, a.cfg.Fonts.Extensions)
	if err != nil {
		return err
	}

	warmer := fonts.NewWarmer(a.cache, fonts.WarmerOptions{
		Concurrency: a.cfg.Fonts.Concurrency,
		Thumbnails:  *thumbnails,
		Render:      a.renderOptions(),
		Pool:        a.pool,
		Logger:      a.logger,
	})
	result, err := warmer.Warm(ctx, files)
	a.cache.Flush()
	if err != nil {
		return err
	}

	report := warmReport{
		Root:   *root,
		Result: result,
		Cache:  a.cache.Statistics(),
		Pool:   a.pool.GetStats(),
	}
	return out.print(report, func(w io.Writer) {
		fmt.Fprintf(w, "Scanned %s: %d font files in %s\n", report.Root, result.Files, result.Duration.Round(time.Millisecond))
		fmt.Fprintf(w, "  metadata:   %d cached\n", result.Metadata)
		fmt.Fprintf(w, "  thumbnails: %d cached\n", result.Thumbnails)
		fmt.Fprintf(w, "  skipped:    %d\n", result.Skipped)
		fmt.Fprintf(w, "  failed:     %d\n", result.Failed)
		fmt.Fprintf(w, "  disk hits:  %d metadata, %d thumbnails\n", report.Cache.MetadataDiskHits, report.Cache.ThumbnailDiskHits)
	})
}

type statsReport struct {
	Directory  string                 `json:"directory"`
	Persistent bool                   `json:"persistent"`
	Categories map[string]cache.Usage `json:"categories"`
}

func (a *app) stats(out printer) error {
	report := statsReport{
		Directory:  a.cfg.Cache.Directory,
		Persistent: a.disk != nil,
		Categories: map[string]cache.Usage{},
	}
	if a.disk != nil {
		usage, err := a.disk.Usage()
		if err != nil {
			return err
		}
		report.Categories = usage
	}

	return out.print(report, func(w io.Writer) {
		if !report.Persistent {
			fmt.Fprintln(w, "Disk cache disabled")
			return
		}
		fmt.Fprintf(w, "Cache directory %s\n", report.Directory)
		names := make([]string, 0, len(report.Categories))
		for name := range report.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			u := report.Categories[name]
			fmt.Fprintf(w, "  %-11s %d files, %s\n", name+":", u.Files, utils.FormatBytes(u.Bytes))
		}
	})
}

func (a *app) invalidate(paths []string, out printer) error {
	render := a.renderOptions()
	for _, path := range paths {
		if err := a.cache.InvalidateFile(path); err != nil {
			return err
		}

		// A fresh process only knows the thumbnail key of the configured preview.
		if a.disk != nil && a.cfg.Cache.PersistThumbnails {
			opts := render
			if opts.SampleText == "" {
				opts.SampleText = fonts.SampleTextForPath(path)
			}
			if err := a.disk.Delete(cache.CategoryThumbnails, opts.ThumbnailKey(path)); err != nil {
				a.logger.Warn("Failed to delete cached thumbnail", map[string]interface{}{
					"path":  path,
					"error": err,
				})
			}
		}
	}

	return out.print(map[string]interface{}{"invalidated": paths}, func(w io.Writer) {
		fmt.Fprintf(w, "Invalidated %d font files\n", len(paths))
	})
}

func (a *app) clear(out printer) error {
	if err := a.cache.ClearAll(); err != nil {
		return err
	}
	return out.print(map[string]interface{}{"cleared": a.cfg.Cache.Directory}, func(w io.Writer) {
		fmt.Fprintln(w, "Cache cleared")
	})
}

// printer writes a result as indented JSON or as text
type printer struct {
	w    io.Writer
	json bool
}

func (p printer) print(v interface{}, text func(io.Writer)) error {
	if !p.json {
		text(p.w)
		return nil
	}
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

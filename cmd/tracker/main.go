package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/campustrack/tracker/internal/config"
	"github.com/campustrack/tracker/internal/database"
	"github.com/campustrack/tracker/internal/logging"
	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/internal/store/gormstore"
	"github.com/campustrack/tracker/internal/store/memory"
)

// Version can be set at build time via ldflags.
var (
	Version   string = "0.1.0"
	BuildDate string = "unknown"
)

// global services
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger feeds the zerolog-based managers (database, influx)
	ZLogger zerolog.Logger

	SessionStartTime time.Time = time.Now()
)

// command line flags shared across modes
var (
	flagConfigDir = flag.String("config", ".", "directory containing tracker.cfg.json")
	flagDemo      = flag.Bool("demo", false, "use the in-memory store instead of the database")
	flagVersion   = flag.Bool("version", false, "print version and exit")

	flagPublisher = flag.String("publisher", "", "publisher identity (drive mode, or watch mode with -demo)")
	flagEmail     = flag.String("email", "", "driver email to resolve (watch mode)")
	flagBus       = flag.String("bus", "", "bus number to resolve (watch mode)")
	flagStudent   = flag.String("student", "", "student email whose allocation picks the bus (watch mode)")
	flagAt        = flag.String("at", "", `own "lat,lon" position used as the route origin (watch mode)`)
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: tracker [flags] <mode>

modes:
  serve   run the shared store and realtime hub
  drive   publish a simulated driver location
  watch   follow a driver and print state transitions

flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *flagVersion {
		fmt.Printf("tracker %s (built %s)\n", Version, BuildDate)
		return
	}

	mode := flag.Arg(0)
	if mode == "" {
		usage()
		os.Exit(2)
	}

	if err := config.Load(*flagConfigDir); err != nil {
		// Defaults are in place even when the file is absent or broken.
		fmt.Fprintf(os.Stderr, "config: %v (continuing with defaults)\n", err)
	}

	setupLogging(mode)
	defer SlogManager.Close()

	Logger.Info("Starting tracker",
		"version", Version,
		"buildDate", BuildDate,
		"mode", mode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case "serve":
		err = runServe(ctx)
	case "drive":
		err = runDrive(ctx)
	case "watch":
		err = runWatch(ctx)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		Logger.Error("Tracker exited with error", "mode", mode, "error", err)
		os.Exit(1)
	}
	Logger.Info("Tracker shut down", "mode", mode)
}

func setupLogging(mode string) {
	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logs dir %s: %v\n", logsDir, err)
	}

	var logFile io.Writer
	logPath := logging.LogFilePath(logsDir, "tracker", SessionStartTime)
	f, err := os.Create(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file %s: %v\n", logPath, err)
	} else {
		logFile = f
	}

	var gelfWriter io.WriteCloser
	if config.GetBool("graylog.enabled") {
		gelfWriter, err = logging.NewGraylogWriter(config.GetString("graylog.address"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to graylog: %v\n", err)
			gelfWriter = nil
		}
	}

	SlogManager = logging.NewSlogManager()
	SlogManager.SetContextProvider(func() []slog.Attr {
		return []slog.Attr{
			slog.String("mode", mode),
			slog.String("uptime", time.Since(SessionStartTime).Truncate(time.Second).String()),
		}
	})
	SlogManager.Setup(logFile, config.GetString("logLevel"), gelfWriter)
	Logger = SlogManager.Logger()

	zlogOut := io.Writer(os.Stdout)
	if logFile != nil {
		zlogOut = io.MultiWriter(os.Stdout, logFile)
	}
	ZLogger = zerolog.New(zlogOut).With().Timestamp().Logger()
}

// openStore builds the configured store. The gorm path connects through
// the database manager, which falls back to SQLite when Postgres is
// unreachable.
func openStore() (store.Store, *database.Manager, error) {
	storeType := config.GetString("storage.type")
	if *flagDemo {
		storeType = "memory"
	}

	if storeType == "memory" {
		st := memory.New()
		return st, nil, st.Init()
	}

	mgr := database.NewManager(ZLogger)
	if err := mgr.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := mgr.Setup(); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	st, err := store.NewStore(storeType, mgr.DB)
	if err != nil {
		return nil, nil, err
	}
	return st, mgr, st.Init()
}

// openDirectory returns the roster lookups when a database is available.
func openDirectory(mgr *database.Manager) store.Directory {
	if mgr == nil || mgr.DB == nil {
		return nil
	}
	return gormstore.New(mgr.DB)
}

func statusDir() string {
	return config.GetString("logsDir")
}

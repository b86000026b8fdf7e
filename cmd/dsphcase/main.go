package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/designsph/dsphcase/internal/config"
	"github.com/designsph/dsphcase/internal/dispatcher"
	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/influx"
	"github.com/designsph/dsphcase/internal/logging"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/monitor"
	intOtel "github.com/designsph/dsphcase/internal/otel"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/publish/websocket"
	"github.com/designsph/dsphcase/internal/session"
	"github.com/designsph/dsphcase/internal/watch"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"

	AppName string = "dsphcase"
)

// file paths
var (
	// ConfigDir is the directory holding dsphcase.cfg.json.
	ConfigDir string = "."

	LogFilePath string
	LogFile     *os.File
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	// Services
	sess           *session.Session
	eventLoop      *dispatcher.Dispatcher
	monitorService *monitor.Service
	influxManager  *influx.Manager
	streamer       *websocket.Publisher
	documents      *hostdoc.Static
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet(AppName, pflag.ContinueOnError)
	flags.StringVar(&ConfigDir, "config-dir", ConfigDir, "directory containing "+config.FileName)
	flags.String("log-level", "", "override the configured log level")
	flags.Bool("version", false, "print the version and exit")
	flags.Usage = func() { usage(flags) }
	return flags
}

func main() {
	flags := newFlags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if v, _ := flags.GetBool("version"); v {
		fmt.Printf("%s %s (%s)\n", AppName, Version, BuildDate)
		return
	}

	args := flags.Args()
	if len(args) == 0 {
		usage(flags)
		os.Exit(2)
	}

	initLogging(flags)
	code := 0
	if err := start(); err != nil {
		Logger.Error("Failed to start session", "error", err)
		fmt.Fprintln(os.Stderr, err)
		code = 1
	} else {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		code = runCommand(ctx, args)
		stop()
	}
	shutdown()
	os.Exit(code)
}

// initLogging loads the configuration and opens the session log file. A
// missing config file is not fatal; the defaults are used instead.
func initLogging(flags *pflag.FlagSet) {
	var err error

	// Initialize slog manager with console output until the log file exists
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "warn", logging.Sinks{})
	Logger = SlogManager.Logger()

	err = config.Load(ConfigDir)
	if err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	}
	if f := flags.Lookup("log-level"); f != nil && f.Changed {
		_ = viper.BindPFlag("logLevel", f)
	}

	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)

	// keep the log of a previous session started in the same second
	if _, err := os.Stat(LogFilePath); err == nil {
		os.Rename(LogFilePath, LogFilePath+".old")
	}

	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	}

	// Initialize OTel provider if enabled (after log file is created)
	otelCfg := config.GetOTelConfig()
	var otelWriter io.Writer = io.Discard
	if LogFile != nil {
		otelWriter = LogFile
	}
	OTelProvider, err = intOtel.New(intOtel.FromSettings(otelCfg, otelWriter))
	if err != nil {
		Logger.Error("Failed to initialize OTel provider", "error", err)
		OTelProvider = nil
	} else if OTelProvider.Enabled() {
		Logger.Info("OTel provider initialized", "file", LogFilePath, "endpoint", otelCfg.Endpoint)
	}

	// Re-setup logging with file output and the optional sinks
	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	gelfWriter, err := logging.NewGELFWriter(config.GetGraylogConfig())
	if err != nil {
		Logger.Error("Failed to connect Graylog sink", "error", err)
	}
	sinks := logging.Sinks{
		Provider: otelLogProvider,
		Case: func() logging.CaseInfo {
			st := snapshot()
			return logging.CaseInfo{Project: st.Project, Run: st.RunState}
		},
	}
	if gelfWriter != nil {
		sinks.GELF = gelfWriter
	}

	var out io.Writer
	if LogFile != nil {
		out = LogFile
	}
	SlogManager.Setup(out, viper.GetString("logLevel"), sinks)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", Version, "buildDate", BuildDate)
}

func snapshot() monitor.Status {
	if sess == nil {
		return monitor.Status{}
	}
	return sess.Snapshot()
}

// dbLogger returns the zerolog logger handed to the database and influx
// managers. It writes to the session log file.
func dbLogger(component string) zerolog.Logger {
	var w io.Writer = os.Stderr
	if LogFile != nil {
		w = LogFile
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// start builds the store, the sinks and the session and starts the event
// loop, the fill-box guard and the status writer.
func start() error {
	var err error

	storeCfg := config.GetStoreConfig()
	backend, err := createStoreBackend(storeCfg)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	eventLoop, err = dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		backend.Close()
		return fmt.Errorf("create event loop: %w", err)
	}

	var sinks []session.ProgressSink

	influxManager = influx.NewManager(config.GetInfluxConfig(), dbLogger("influx"),
		filepath.Join(viper.GetString("logsDir"), fmt.Sprintf("%s.%s.influx.gz", AppName, SessionStartTime.Format("20060102_150405"))))
	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = influxManager.Connect(connectCtx)
	cancel()
	switch {
	case errors.Is(err, influx.ErrDisabled):
		influxManager = nil
	case err != nil:
		Logger.Error("Failed to set up InfluxDB, progress metrics disabled", "error", err)
		influxManager = nil
	default:
		sinks = append(sinks, influxManager)
	}

	streamCfg := config.GetStreamConfig()
	if streamCfg.Enabled {
		streamer = websocket.New(websocket.FromSettings(streamCfg), Logger)
		if err := streamer.Connect(); err != nil {
			Logger.Error("Failed to connect progress stream", "error", err, "url", streamCfg.URL)
			streamer = nil
		} else {
			sinks = append(sinks, streamer)
		}
	}

	runCfg := config.GetRunConfig()
	exe := config.GetExecutablesConfig()
	documents = hostdoc.NewStatic(hostdoc.NewCaseDocument())
	sess = session.New(session.Config{
		Store:      backend,
		Documents:  documents,
		Launcher:   process.NewExecLauncher(),
		Watcher:    watch.NewFS(Logger),
		Dispatcher: eventLoop,
		Sinks:      sinks,
		Executables: model.Executables{
			GenCase:      exe.GenCase,
			DualSPHysics: exe.DualSPHysics,
			PartVTK:      exe.PartVTK,
		},
		Processor:      model.Processor(runCfg.Processor),
		NativeDocument: storeCfg.NativeDocument,
		GuardInterval:  runCfg.GuardInterval,
		GuardBackoff:   runCfg.GuardBackoff,
		Logger:         Logger,
	})

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := eventLoop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			Logger.Error("Event loop stopped", "error", err)
		}
	}()
	go sess.RunGuard(loopCtx)
	stopServices = func() {
		stopLoop()
		<-loopDone
	}

	statusCfg := config.GetStatusConfig()
	if statusCfg.Enabled {
		monitorService = monitor.NewService(monitor.Dependencies{
			Snapshot: sess.Snapshot,
			Dir:      viper.GetString("logsDir"),
			Interval: statusCfg.Interval,
			Logger:   Logger,
		})
		if err := monitorService.Start(); err != nil {
			Logger.Error("Failed to start status monitor", "error", err)
			monitorService = nil
		}
	}

	Logger.Info("Session started", "store", storeCfg.Type, "sinks", len(sinks))
	return nil
}

var stopServices = func() {}

// shutdown closes the session and every service in reverse start order.
func shutdown() {
	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := sess.Do(ctx, sess.Close)
		cancel()
		if err != nil {
			Logger.Error("Failed to close session", "error", err)
		}
	}
	stopServices()
	if monitorService != nil {
		monitorService.Stop()
	}
	if streamer != nil {
		if err := streamer.Close(); err != nil {
			Logger.Warn("Failed to close progress stream", "error", err)
		}
	}
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB manager", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down OTel: %v\n", err)
		}
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

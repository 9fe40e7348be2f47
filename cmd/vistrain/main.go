package main

import (
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/ayusman/vistrain/internal/app"
	"github.com/ayusman/vistrain/internal/capture"
	"github.com/ayusman/vistrain/internal/config"
	"github.com/ayusman/vistrain/internal/pipeline"
	"github.com/ayusman/vistrain/internal/server"
	"github.com/ayusman/vistrain/internal/sink"
	"github.com/ayusman/vistrain/internal/tray"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

type errorLogger interface {
	Errorf(format string, a ...any)
}

// reportUsage logs the usage text verbatim; help strings may contain '%'.
func reportUsage(l errorLogger, parser *argparse.Parser, err error) {
	l.Errorf("%s", parser.Usage(err))
}

func main() {
	logger, err := logs.NewLog()
	check(err)

	home, _ := os.UserHomeDir()

	parser := argparse.NewParser("vistrain", "Train and run interactive video pattern classifiers")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Settings file (.json or .hujson)"})
	dataDir := parser.String("d", "data", &argparse.Options{Help: "Data directory", Default: filepath.Join(home, ".vistrain")})
	device := parser.Int("", "device", &argparse.Options{Help: "Camera device index", Default: 0})
	videoFile := parser.String("f", "file", &argparse.Options{Help: "Process a recorded video instead of the camera"})
	addr := parser.String("a", "addr", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	webDir := parser.String("w", "web", &argparse.Options{Help: "Static web UI directory"})
	flip := parser.Flag("", "flip", &argparse.Options{Help: "Source delivers bottom-up frames"})
	record := parser.String("r", "record", &argparse.Options{Help: "Record the annotated output to this .avi file"})
	withTray := parser.Flag("t", "tray", &argparse.Options{Help: "Show the system tray menu"})
	start := parser.Flag("s", "start", &argparse.Options{Help: "Start processing immediately"})
	activate := parser.StringList("", "classifier", &argparse.Options{Help: "Activate a saved classifier by id (repeatable)"})
	if err := parser.Parse(os.Args); err != nil {
		reportUsage(logger, parser, err)
		os.Exit(1)
	}

	settings := config.Default()
	if *configFile != "" {
		if settings, err = config.Load(*configFile); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}

	a, err := app.New(app.Config{
		Settings: settings,
		DataDir:  *dataDir,
		Log:      logger,
	})
	if err != nil {
		logger.Errorf("Failed to open data directory %s: %v", *dataDir, err)
		os.Exit(1)
	}
	defer a.Close()

	a.AddOutput(sink.NewLogSink(logger))
	a.AddOutput(sink.NewStoreSink(a.Store(), logger, sink.DefaultFlushFrames))
	if *record != "" {
		a.AddOutput(sink.NewRecorderSink(settings, logger, *record, capture.DefaultFPS))
	}
	hub := server.NewEventHub(logger)
	defer hub.Close()
	a.AddOutput(hub)

	for _, id := range *activate {
		if _, err := a.Activate(id); err != nil {
			logger.Errorf("Cannot activate classifier %s: %v", id, err)
			os.Exit(1)
		}
	}

	newSource := func() capture.Source {
		opts := capture.Options{BottomUp: *flip}
		if *videoFile != "" {
			return capture.NewFile(*videoFile, opts)
		}
		return capture.NewDevice(*device, opts)
	}

	var t *tray.Tray
	startProcessing := func() error {
		if err := a.Start(newSource()); err != nil {
			return err
		}
		if t != nil {
			t.SetRunning(true)
			done := a.Pipeline().Done()
			go func() {
				<-done
				t.SetRunning(false)
			}()
		}
		return nil
	}

	if *webDir == "" {
		*webDir = findWebDir(*dataDir)
	}
	if *webDir != "" {
		logger.Infof("Serving static files from %s", *webDir)
	}
	srv := server.New(server.Config{StaticDir: *webDir, App: a, Events: hub})
	go func() {
		logger.Infof("Listening on %s", *addr)
		if err := srv.ListenAndServe(*addr); err != nil {
			logger.Errorf("Server failed: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	if *withTray {
		t = tray.New()
		a.AddOutput(t)
		t.OnToggle(func(running bool) {
			if running {
				if err := startProcessing(); err != nil {
					logger.Errorf("Failed to start processing: %v", err)
					t.SetRunning(false)
				}
				return
			}
			if err := a.Stop(); err != nil && !errors.Is(err, pipeline.ErrNotRunning) {
				logger.Warnf("Failed to stop processing: %v", err)
			}
		})
		t.OnSettings(func() {
			logger.Infof("Trainer available at http://localhost%s/", *addr)
		})
		t.OnQuit(func() {
			logger.Infof("Quit requested from the tray")
		})
	}

	if *start || *videoFile != "" {
		if err := startProcessing(); err != nil {
			logger.Errorf("Failed to start processing: %v", err)
			os.Exit(1)
		}
	}

	if t != nil {
		go func() {
			<-quit
			t.Quit()
		}()
		// The tray owns the main thread until Quit.
		t.Run()
		return
	}
	<-quit
	logger.Infof("Shutting down")
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <data>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}
	return ""
}

package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/videocore/pipeline/internal/config"
	"github.com/videocore/pipeline/internal/logging"
	"github.com/videocore/pipeline/pipeline"
)

var (
	version    = "0.1.0"
	cfgFile    string
	source     string
	sourceMode string
	opMode     string
)

var log = logging.L("main")

var rootCmd = &cobra.Command{
	Use:   "videocore",
	Short: "Real-time video analysis core",
	Long:  `videocore ingests a video source, gates it on motion, detects and tracks objects, and narrates significant activity via a vision-language model and an LLM noise filter.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a video analysis session",
	Run: func(cmd *cobra.Command, args []string) {
		runSession()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("videocore v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/videocore/videocore.yaml)")
	runCmd.Flags().StringVar(&source, "source", "", "override source_uri from config")
	runCmd.Flags().StringVar(&sourceMode, "source-mode", "", "override source_mode from config (rtsp|hls|http|webcam|screen|file)")
	runCmd.Flags().StringVar(&opMode, "mode", "", "override operating mode from config (track|diff|full|count)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initLogging sets up structured logging from config. Call after config.Load().
func initLogging(cfg *config.Config) {
	var output io.Writer = os.Stdout
	logFileFallback := false

	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v (logging to stdout)\n", cfg.LogFile, err)
			logFileFallback = true
		} else {
			output = logging.TeeWriter(os.Stdout, rw)
		}
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, output)
	log = logging.L("main")

	if logFileFallback {
		log.Warn("log file fallback active, logging to stdout only", "requestedFile", cfg.LogFile)
	}
}

// runSession loads configuration, starts a pipeline session, and blocks
// until SIGINT/SIGTERM, at which point it stops the session within its
// configured shutdown grace period.
func runSession() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if source != "" {
		cfg.SourceURI = source
	}
	if sourceMode != "" {
		cfg.SourceMode = sourceMode
	}
	if opMode != "" {
		cfg.Mode = opMode
	}

	initLogging(cfg)
	log.Info("starting videocore", "version", version, "sourceMode", cfg.SourceMode, "sourceUri", cfg.SourceURI)

	handle, err := pipeline.StartSession(cfg)
	if err != nil {
		log.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	go logEvents(handle)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down videocore")

	handle.StopSession(time.Duration(cfg.ShutdownGraceMS) * time.Millisecond)

	if err := handle.Err(); err != nil {
		log.Error("session ended with error", "error", err)
		os.Exit(1)
	}
	log.Info("videocore stopped", "counters", fmt.Sprintf("%+v", handle.Counters()))
}

// logEvents drains the session's event subscription for the process
// lifetime, logging every event at info level; this is the minimal
// in-process observer every session gets regardless of which sinks are
// configured.
func logEvents(handle *pipeline.SessionHandle) {
	for ev := range handle.SubscribeEvents() {
		log.Info("event", "kind", ev.Kind, "frameSeq", ev.FrameSeq, "summary", ev.Summary)
	}
}

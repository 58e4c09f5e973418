package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"jordanella.com/scenario-detector/internal/adb"
	"jordanella.com/scenario-detector/internal/capture"
	"jordanella.com/scenario-detector/internal/cv"
	"jordanella.com/scenario-detector/internal/database"
	"jordanella.com/scenario-detector/internal/debug"
	"jordanella.com/scenario-detector/internal/detection"
	"jordanella.com/scenario-detector/internal/detector"
	"jordanella.com/scenario-detector/internal/events"
	"jordanella.com/scenario-detector/internal/logging"
	"jordanella.com/scenario-detector/internal/scenario"
)

var runOpts struct {
	framesDir string
	loop      bool
	size      string
	timeout   time.Duration
	report    bool
	persist   bool
	dryRun    bool
}

var runCmd = &cobra.Command{
	Use:   "run SCENARIO.yaml",
	Short: "Run a scenario until its end conditions are reached",
	Long: `Run loads a scenario file, starts capturing the device screen and runs the
scenario until its end conditions are reached, the timeout expires or the process
is interrupted.

With --frames the screen is replaced by the images of a directory, replayed in
name order. Gestures are still sent to the device unless --dry-run is set.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScenario(cmd.Context(), cmd.OutOrStdout(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVar(&runOpts.framesDir, "frames", "", "Replay the images of this directory instead of capturing the device")
	runCmd.Flags().BoolVar(&runOpts.loop, "loop", false, "Replay --frames forever")
	runCmd.Flags().StringVar(&runOpts.size, "size", "", "Capture size WIDTHxHEIGHT (default: device screen size)")
	runCmd.Flags().DurationVar(&runOpts.timeout, "timeout", 0, "Stop after this duration (0 = no limit)")
	runCmd.Flags().BoolVar(&runOpts.report, "report", false, "Print a debug report when the session stops")
	runCmd.Flags().BoolVar(&runOpts.persist, "persist", false, "Save the debug report to the database")
	runCmd.Flags().BoolVar(&runOpts.dryRun, "dry-run", false, "Do not send gestures, intents or notifications")
}

func runScenario(parent context.Context, out io.Writer, path string) error {
	logger := logging.NewLogger("run")

	sc, err := scenario.LoadFromFile(path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runOpts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runOpts.timeout)
		defer cancel()
	}

	bus := events.NewEventBus(256, logging.NewLogger("EventBus"))
	defer bus.Stop()
	eventLogger := logging.NewEventLogger(bus)
	defer eventLogger.Close()

	var device *adb.Controller
	if runOpts.framesDir == "" || !runOpts.dryRun {
		device, err = adb.ConnectADB(ctx, cfg.ADB.Path, cfg.ADB.Serial)
		if err != nil {
			return err
		}
		defer device.Disconnect(context.Background())
	}

	size, err := captureSize(ctx, device)
	if err != nil {
		return err
	}

	var source cv.FrameSource
	var replay *capture.DirectorySource
	if runOpts.framesDir != "" {
		replay = capture.NewDirectorySource(runOpts.framesDir, cv.NewFileImageLoader(), runOpts.loop)
		source = replay
	} else {
		source = capture.NewADBSource(device, cfg.ADB.ScreencapInterval)
	}

	var sinks detection.Sinks
	if device != nil && !runOpts.dryRun {
		sinks = detection.Sinks{Gestures: device, Intents: device, Notifications: device}
	}

	method, err := cv.ParseMatchMethod(cfg.Detection.MatchMethod)
	if err != nil {
		return err
	}

	engineCfg := detector.Config{
		Matcher:           cv.NewTemplateMatcher(cv.WithMethod(method)),
		Loader:            cv.NewFileImageLoader(),
		Sinks:             sinks,
		Bus:               bus,
		ReferenceBudget:   cfg.Cache.ReferenceBudgetBytes(),
		DefaultQuality:    cfg.Detection.DetectionQuality,
		FramePollInterval: cfg.Detection.FramePollInterval,
		MaxFPS:            cfg.Detection.MaxFPS,
		ReportBuffer:      cfg.Detection.ReportBuffer,
	}

	flags := detector.DebugFlags{Report: runOpts.report, Persist: runOpts.persist || cfg.Database.Enabled}
	if flags.Persist {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()
		engineCfg.Store = db
	}

	engine := detector.NewEngine(engineCfg)
	defer engine.Destroy()

	if err := engine.StartScreenRecord(ctx, detector.RecordRequest{Source: source, Size: size}); err != nil {
		return err
	}
	if err := engine.StartDetection(ctx, sc, flags); err != nil {
		return err
	}

	waitForSession(ctx, engine, replay)

	if engine.State() == detector.StateDetecting {
		if err := engine.StopDetection(); err != nil {
			logger.Warn("Failed to stop detection", zap.Error(err))
		}
	}

	if report, ok := engine.LastReport(); ok && runOpts.report {
		printReport(out, report)
	}
	return nil
}

// waitForSession blocks until the session stops by itself, a replay is exhausted or ctx
// is done
func waitForSession(ctx context.Context, engine *detector.Engine, replay *capture.DirectorySource) {
	states := engine.WatchState()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case state, ok := <-states:
			if !ok || state == detector.StateRecording {
				return
			}
		case <-ticker.C:
			if replay != nil && replay.Exhausted() {
				// Let the worker finish the last frame
				time.Sleep(cfg.Detection.FramePollInterval * 2)
				return
			}
		}
	}
}

func captureSize(ctx context.Context, device *adb.Controller) (image.Point, error) {
	if runOpts.size != "" {
		return parseSize(runOpts.size)
	}
	if device == nil {
		return image.Point{}, fmt.Errorf("--size is required with --frames and --dry-run")
	}
	return device.ScreenSize(ctx)
}

func openDatabase() (*database.DB, error) {
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func printReport(out io.Writer, report debug.Report) {
	fmt.Fprintf(out, "Session %s (%s)\n", report.SessionID, report.ScenarioName)
	fmt.Fprintf(out, "  Frames:      %d\n", report.Frames)
	fmt.Fprintf(out, "  Pass time:   min %v / avg %v / max %v\n", report.MinDuration, report.AvgDuration, report.MaxDuration)
	fmt.Fprintf(out, "  End reached: %t\n", report.EndReached)
	fmt.Fprintf(out, "  Actions:     %d failed, %d skipped\n", report.ActionFailures, report.ActionSkips)
	if report.DroppedReports > 0 {
		fmt.Fprintf(out, "  Dropped:     %d reports\n", report.DroppedReports)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nEVENT\tNAME\tEVALUATIONS\tTRIGGERS")
	for _, e := range report.Events {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", e.EventID, e.Name, e.Evaluations, e.Triggers)
	}
	fmt.Fprintln(w, "\nCONDITION\tEVALUATIONS\tDETECTIONS\tRATE\tBEST")
	for _, c := range report.Conditions {
		fmt.Fprintf(w, "%d\t%d\t%d\t%.1f%%\t%.3f\n", c.ConditionID, c.Evaluations, c.Detections, c.DetectionRate(), c.BestConfidence)
	}
	w.Flush()
}

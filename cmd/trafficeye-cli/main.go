// Command trafficeye-cli runs one batch session over a video or an image set
// and prints a summary of the violations found.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"trafficeye/internal/config"
	"trafficeye/internal/database"
	"trafficeye/internal/engine"
	"trafficeye/internal/evidence"
	"trafficeye/internal/pipeline"
	"trafficeye/internal/pipeline/detectors"
	"trafficeye/internal/pipeline/strategies"
	"trafficeye/internal/sink"
	"trafficeye/internal/timeutil"
)

type options struct {
	configPath string
	video      string
	images     string
	skip       int
	profile    string
	dbPath     string
	outDir     string
	yolo       string
	jsonOut    bool
	verbose    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to JSON configuration file")
	flag.StringVar(&opts.video, "video", "", "Video file or directory of extracted frames")
	flag.StringVar(&opts.images, "images", "", "Image file or directory of images")
	flag.IntVar(&opts.skip, "skip", 30, "Process every Nth video frame")
	flag.StringVar(&opts.profile, "profile", "", "Threshold profile (default: video or image)")
	flag.StringVar(&opts.dbPath, "db", "", "Violations database (overrides config)")
	flag.StringVar(&opts.outDir, "out", "", "Evidence output directory (overrides config)")
	flag.StringVar(&opts.yolo, "yolo", "", "YOLO service endpoint (overrides config)")
	flag.BoolVar(&opts.jsonOut, "json", false, "Print the summary as JSON")
	flag.BoolVar(&opts.verbose, "v", false, "Log every violation as it is found")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, stdout io.Writer) error {
	if (opts.video == "") == (opts.images == "") {
		return errors.New("exactly one of -video or -images is required")
	}
	if opts.skip < 1 {
		return fmt.Errorf("-skip must be at least 1, got %d", opts.skip)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.dbPath != "" {
		cfg.DBPath = opts.dbPath
	}
	if opts.outDir != "" {
		cfg.OutputDir = opts.outDir
	}
	if opts.yolo != "" {
		cfg.YOLOEndpoints = []string{opts.yolo}
	}

	clock := timeutil.RealClock{}

	kind, source := database.SessionVideo, opts.video
	defaultProfile := engine.ProfileVideo
	if opts.images != "" {
		kind, source = database.SessionImage, opts.images
		defaultProfile = engine.ProfileImage
	}
	if opts.profile == "" {
		opts.profile = defaultProfile
	}

	engCfg, err := cfg.Profile(opts.profile)
	if err != nil {
		return err
	}

	src, strategy, err := openSource(ctx, kind, source, opts.skip, clock)
	if err != nil {
		return err
	}
	defer src.Close()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	detector, err := detectors.NewYOLORegistry(cfg.YOLOEndpoints, float32(cfg.DetectorConfidence), cfg.DetectorTimeout)
	if err != nil {
		return err
	}
	defer detector.Close()
	if !detector.IsHealthy() {
		return fmt.Errorf("no YOLO service is reachable at %v", cfg.YOLOEndpoints)
	}

	var publisher sink.Publisher
	if opts.verbose {
		publisher = sink.PublisherFunc(func(e *sink.Event) {
			log.Printf("[CLI] frame %d: %s %s (%.2f) -> %s", e.Frame, e.ViolationType, e.VehicleID, e.Confidence, e.ImagePath)
		})
	}
	violationSink := sink.New(db, evidence.NewCapturer(cfg.OutputDir, clock), publisher, clock)

	processor := pipeline.NewProcessor(engine.NewEngine(engCfg, clock), detector, violationSink)
	runner := pipeline.NewBatchRunner(processor, db, clock)

	summary, runErr := runner.Run(ctx, src, pipeline.BatchOptions{
		Kind:     kind,
		Source:   source,
		Strategy: strategy,
	})
	if summary != nil {
		if err := printSummary(stdout, summary, cfg.OutputDir, opts.jsonOut); err != nil {
			return err
		}
	}
	return runErr
}

// openSource picks the frame source and sampling for a batch kind. Image
// sets process every image; videos process every skip-th frame.
func openSource(ctx context.Context, kind, path string, skip int, clock timeutil.Clock) (pipeline.FrameSource, pipeline.SamplingStrategy, error) {
	if kind == database.SessionImage {
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open images: %w", err)
		}
		if !info.IsDir() {
			if !pipeline.IsImageFile(path) {
				return nil, nil, fmt.Errorf("%s is not a supported image", path)
			}
			return pipeline.NewFileSource([]string{path}, clock), strategies.NewEveryFrameStrategy(0, clock), nil
		}
		src, err := pipeline.NewDirSource(path, clock)
		if err != nil {
			return nil, nil, err
		}
		return src, strategies.NewEveryFrameStrategy(0, clock), nil
	}

	src, err := pipeline.OpenSource(ctx, path, clock)
	if err != nil {
		return nil, nil, err
	}
	return src, strategies.NewEveryNthStrategy(skip), nil
}

func printSummary(w io.Writer, s *pipeline.BatchSummary, outDir string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(w, "Session:    %s (%s)\n", s.SessionID, s.Kind)
	fmt.Fprintf(w, "Source:     %s\n", filepath.Base(s.Source))
	fmt.Fprintf(w, "Profile:    %s\n", s.Profile)
	fmt.Fprintf(w, "Frames:     %d read, %d processed, %d failed, %d skipped\n", s.Frames, s.Processed, s.Failed, s.Skipped)
	fmt.Fprintf(w, "Violations: %d (%d persisted)\n", s.Violations, s.Persisted)
	fmt.Fprintf(w, "Duration:   %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Evidence:   %s\n", outDir)

	if len(s.ByType) == 0 {
		return nil
	}

	types := make([]engine.ViolationType, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		pi, pj := types[i].Category().Priority(), types[j].Category().Priority()
		if pi != pj {
			return pi < pj
		}
		return types[i] < types[j]
	})

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tCATEGORY\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", t.Label(), t.Category(), s.ByType[t])
	}
	return tw.Flush()
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/pipeline"
	"example.com/repcount/internal/pose"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/report"
	"example.com/repcount/internal/session"
	"example.com/repcount/internal/video"
	"example.com/repcount/internal/video/opencv"
)

func main() {
	if err := newRootCmd(opencv.Opener()).Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(videos video.Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "repcount",
		Short:         "Offline exercise video analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newAnalyzeCmd(videos))
	root.AddCommand(newSummaryCmd())
	return root
}

type analyzeOptions struct {
	exercise   string
	outDir     string
	chartPath  string
	worker     string
	workerArgs []string
}

func newAnalyzeCmd(videos video.Opener) *cobra.Command {
	var opts analyzeOptions
	cmd := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Count repetitions in a video and write its dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			detectors := func(ctx context.Context) (pose.Detector, error) {
				return pose.Open(ctx, pose.Config{Command: opts.worker, Args: opts.workerArgs})
			}
			return runAnalyze(ctx, cmd.OutOrStdout(), videos, detectors, args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.exercise, "exercise", string(exercise.KindPushUp), "exercise: pushup|pullup|situp|jumping_jack|plank")
	cmd.Flags().StringVar(&opts.outDir, "out", "datasets", "directory for the CSV dataset")
	cmd.Flags().StringVar(&opts.chartPath, "chart", "", "write the angle chart PNG to this path (optional)")
	cmd.Flags().StringVar(&opts.worker, "pose-worker", os.Getenv("POSE_WORKER_COMMAND"), "landmark worker executable; empty runs basic mode")
	cmd.Flags().StringSliceVar(&opts.workerArgs, "pose-worker-arg", nil, "extra worker arguments")
	return cmd
}

func runAnalyze(ctx context.Context, out io.Writer, videos video.Opener, detectors func(context.Context) (pose.Detector, error), path string, opts analyzeOptions) error {
	source, err := videos.Open(ctx, path)
	if err != nil {
		return err
	}

	detector, err := detectors(ctx)
	if err != nil {
		if !errors.Is(err, pose.ErrUnavailable) {
			_ = source.Close()
			return err
		}
		detector = nil
	}

	kind := exercise.ParseKind(opts.exercise)
	sess := session.New(uuid.NewString(), "local", "local", kind, path, time.Now().UTC())
	if err := sess.Begin(detector == nil, time.Now().UTC()); err != nil {
		return err
	}

	p := pipeline.New(sess, source, detector, pipeline.WithDatasetDir(opts.outDir))
	frames := make(chan []byte, 8)
	go func() {
		for range frames {
		}
	}()
	res := p.Run(ctx, frames)
	if res.Err != nil && res.End != pipeline.EndCancelled {
		return fmt.Errorf("analysis stopped after %d frames: %w", res.FramesRead, res.Err)
	}

	outcome := res.Outcome
	if opts.chartPath != "" {
		png, err := report.AngleChart(fmt.Sprintf("%s %s", kind, filepath.Base(path)), outcome.Records)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.chartPath, png, 0o644); err != nil {
			return fmt.Errorf("write chart: %w", err)
		}
	}

	_, _ = fmt.Fprintf(out, "exercise=%s mode=%s end=%s frames=%d no_detection=%d reps=%d\n",
		kind, res.Mode, res.End, res.FramesRead, res.NoDetection, outcome.Summary.TotalReps)
	if outcome.DatasetPath != "" {
		_, _ = fmt.Fprintf(out, "dataset=%s\n", outcome.DatasetPath)
	}
	return writeSummary(out, outcome.Summary)
}

func newSummaryCmd() *cobra.Command {
	var chartPath string
	cmd := &cobra.Command{
		Use:   "summary <dataset.csv>",
		Short: "Summarize a previously written dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()

			records, err := recorder.ReadDataset(file)
			if err != nil {
				return err
			}
			if chartPath != "" {
				title := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				png, err := report.AngleChart(title, records)
				if err != nil {
					return err
				}
				if err := os.WriteFile(chartPath, png, 0o644); err != nil {
					return fmt.Errorf("write chart: %w", err)
				}
			}
			return writeSummary(cmd.OutOrStdout(), recorder.Summarize(records))
		},
	}
	cmd.Flags().StringVar(&chartPath, "chart", "", "write the angle chart PNG to this path (optional)")
	return cmd
}

func writeSummary(out io.Writer, summary recorder.Summary) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

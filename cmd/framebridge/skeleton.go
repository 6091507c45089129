package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/open-beagle/framebridge/internal/skeleton"
)

func skeletonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skeleton",
		Short: "Inspect and generate skeleton recordings",
	}
	cmd.AddCommand(skeletonDumpCmd(), skeletonSynthCmd())
	return cmd
}

// dumpedFrame is one line of `skeleton dump` output.
type dumpedFrame struct {
	At    time.Time       `json:"at"`
	Frame *skeleton.Frame `json:"frame"`
}

func skeletonDumpCmd() *cobra.Command {
	var (
		limit  int
		pretty bool
	)

	cmd := &cobra.Command{
		Use:   "dump <recording>",
		Short: "Print a skeleton recording as JSON, one frame per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			frames, err := skeleton.LoadRecording(args[0])
			if err != nil {
				return err
			}
			if limit > 0 && len(frames) > limit {
				frames = frames[:limit]
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if pretty {
				enc.SetIndent("", "  ")
			}
			for _, tf := range frames {
				if err := enc.Encode(dumpedFrame{At: tf.At, Frame: tf.Frame}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Print at most n frames")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func skeletonSynthCmd() *cobra.Command {
	var (
		hands    int
		period   time.Duration
		duration time.Duration
		rate     int
	)

	cmd := &cobra.Command{
		Use:   "synth <recording>",
		Short: "Write a recording of the synthetic hand animation",
		Long: `Write a recording of the synthetic hand animation, for replay with
tracking.source: replay.

Examples:
  framebridge skeleton synth hands.skel
  framebridge skeleton synth one-hand.skel --hands 1 --duration 30s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hands < 1 || hands > 2 {
				return fmt.Errorf("hands must be 1 or 2, got %d", hands)
			}
			if rate <= 0 || duration <= 0 {
				return fmt.Errorf("rate and duration must be positive")
			}
			n, err := writeSynthetic(args[0], hands, period, duration, rate)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d frames to %s\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().IntVar(&hands, "hands", 2, "Number of hands (1 or 2)")
	cmd.Flags().DurationVar(&period, "period", 4*time.Second, "Animation period")
	cmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "Recording length")
	cmd.Flags().IntVar(&rate, "rate", 60, "Frames per second")
	return cmd
}

func writeSynthetic(path string, hands int, period, duration time.Duration, rate int) (int, error) {
	rec, err := skeleton.CreateRecording(path)
	if err != nil {
		return 0, err
	}

	tracker := skeleton.NewSyntheticTracker(nil, hands, period)
	step := time.Second / time.Duration(rate)
	start := time.Now()

	n := 0
	for elapsed := time.Duration(0); elapsed <= duration; elapsed += step {
		at := start.Add(elapsed)
		n++
		if err := rec.Record(at, tracker.FrameAt(int64(n), elapsed, at)); err != nil {
			_ = rec.Close()
			return n - 1, err
		}
	}
	return n, rec.Close()
}

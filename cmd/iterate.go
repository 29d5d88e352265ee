package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"asr-datamodule/internal/checkpoint"
	"asr-datamodule/internal/datamodule"
	"asr-datamodule/internal/dataset"
	"asr-datamodule/internal/loader"
	"asr-datamodule/internal/metrics"
	"asr-datamodule/internal/sampling"
)

type iterateOptions struct {
	split      string
	maxBatches int
	epoch      int
	runID      string
	resume     bool
}

func newIterateCommand(ctx *commandContext) *cobra.Command {
	var opts iterateOptions

	cmd := &cobra.Command{
		Use:   "iterate",
		Short: "Run a loader over one split and report batch statistics",
		Args:  cobra.NoArgs,
		Long: "Run the train, dev or test loader and report batch statistics.\n" +
			"For the train split the sampler state is saved under --run-id, and --resume\n" +
			"continues from the saved state.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIterate(cmd, ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.split, "split", "train", "Split to iterate: train, dev or test")
	flags.IntVar(&opts.maxBatches, "max-batches", 0, "Stop after this many batches (0 for a full pass)")
	flags.IntVar(&opts.epoch, "epoch", 0, "Sampler epoch")
	flags.StringVar(&opts.runID, "run-id", "", "Checkpoint id for the train sampler state (generated when empty)")
	flags.BoolVar(&opts.resume, "resume", false, "Resume the train sampler from the state saved under --run-id")
	return cmd
}

func runIterate(cmd *cobra.Command, ctx *commandContext, opts iterateOptions) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger := ctx.log()
	dm := datamodule.New(cfg.Data, logger.Named("datamodule"))

	var (
		l       *loader.DataLoader
		store   checkpoint.Store
		resumed int
	)
	switch strings.ToLower(opts.split) {
	case "train":
		if opts.resume && opts.runID == "" {
			return errors.New("--resume needs --run-id")
		}
		if opts.runID == "" {
			opts.runID = checkpoint.NewRunID()
		}
		store, err = ctx.checkpointStore()
		if err != nil {
			return err
		}

		var state *sampling.State
		if opts.resume {
			state, err = store.Load(cmd.Context(), opts.runID)
			if err != nil {
				return fmt.Errorf("resume %s: %w", opts.runID, err)
			}
			resumed = state.BatchesYielded
			logger.Info("Resuming", zap.String("run_id", opts.runID), zap.Stringer("state", state))
		}

		cuts, err := dm.TrainCuts()
		if err != nil {
			return err
		}
		l, err = dm.TrainDataLoaders(cuts, state)
		if err != nil {
			return err
		}
		if state == nil || (cmd.Flags().Changed("epoch") && state.Epoch != opts.epoch) {
			l.Sampler().SetEpoch(opts.epoch)
			resumed = 0
		}
	case "dev":
		cuts, err := dm.DevCuts()
		if err != nil {
			return err
		}
		if l, err = dm.ValidDataLoaders(cuts); err != nil {
			return err
		}
	case "test":
		cuts, err := dm.TestCuts()
		if err != nil {
			return err
		}
		if l, err = dm.TestDataLoaders(cuts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown split %q (want train, dev or test)", opts.split)
	}

	frameShift := 0.0
	if ds, ok := l.Dataset().(*dataset.DiscretizedInputSpeechRecognitionDataset); ok {
		frameShift = ds.FrameShift()
	}
	stats := metrics.NewBatchStats(frameShift)

	consumed := 0
	var iterErr error
	for b, err := range l.Iter(cmd.Context()) {
		if err != nil {
			iterErr = err
			break
		}
		stats.Observe(b)
		consumed++
		if ce := logger.Check(zap.DebugLevel, "Batch"); ce != nil {
			ce.Write(
				zap.Int("index", resumed+consumed-1),
				zap.Int("cuts", len(b.Inputs)),
				zap.Int("frequency_size", b.FrequencySize),
				zap.Float64("seconds", b.Duration(frameShift)),
				zap.Int("cuts_attached", len(b.Supervisions.Cuts)))
		}
		if opts.maxBatches > 0 && consumed >= opts.maxBatches {
			break
		}
	}

	if store != nil {
		// the loader prefetches, so the sampler may be ahead of what was consumed
		st := l.Sampler().StateDict()
		st.BatchesYielded = resumed + consumed
		if err := store.Save(cmd.Context(), opts.runID, st); err != nil {
			return errors.Join(iterErr, fmt.Errorf("save sampler state: %w", err))
		}
		logger.Info("Saved sampler state", zap.String("run_id", opts.runID), zap.Stringer("state", st))
	}

	snap := stats.Snapshot()
	rows := [][]string{
		{"split", opts.split},
		{"batches", humanize.Comma(snap.Batches)},
		{"cuts", humanize.Comma(snap.Cuts)},
		{"hours", fmt.Sprintf("%.3f", snap.Seconds/3600)},
		{"max batch size", strconv.Itoa(snap.MaxBatchSize)},
		{"padding", fmt.Sprintf("%.1f%%", snap.PaddingRatio*100)},
	}
	if store != nil {
		rows = append(rows, []string{"run id", opts.runID})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	return iterErr
}

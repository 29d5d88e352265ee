package main

import (
	"fmt"
	"maps"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"

	"asr-datamodule/internal/datamodule"
	"asr-datamodule/internal/loader"
	"asr-datamodule/internal/scanner"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Show the resolved data options and the manifests they select",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			d := cfg.Data

			options := [][]string{
				{"manifest-dir", d.ManifestDir},
				{"max-duration", strconv.Itoa(d.MaxDuration)},
				{"bucketing-sampler", strconv.FormatBool(d.BucketingSampler)},
				{"num-buckets", strconv.Itoa(d.NumBuckets)},
				{"shuffle", strconv.FormatBool(d.Shuffle)},
				{"drop-last", strconv.FormatBool(d.DropLast)},
				{"return-cuts", strconv.FormatBool(d.ReturnCuts)},
				{"num-workers", fmt.Sprintf("%d (%d resolved)", d.NumWorkers, loader.ResolveWorkers(d.NumWorkers))},
				{"enable-spec-aug", strconv.FormatBool(d.EnableSpecAug)},
				{"spec-aug-time-warp-factor", strconv.Itoa(d.SpecAugTimeWarpFactor)},
				{"enable-gaussian-noise", strconv.FormatBool(d.EnableGaussianNoise)},
				{"input-strategy", d.InputStrategy},
				{"subset", d.Subset},
				{"small-dev", strconv.FormatBool(d.SmallDev)},
			}
			fmt.Fprintln(out, renderTable([]string{"Option", "Value"}, options, nil))
			fmt.Fprintf(out, "CPU: %s, %d physical cores, %d logical\n",
				cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, runtime.NumCPU())

			used := map[string]bool{}
			if paths, err := datamodule.New(d, ctx.log()).ManifestPaths(); err == nil {
				for _, p := range paths {
					used[filepath.Base(p)] = true
				}
			} else {
				fmt.Fprintf(out, "Warning: %v\n", err)
			}

			manifests, err := scanner.ScanManifests(d.ManifestDir)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(manifests))
			var total int64
			for _, m := range manifests {
				total += m.Size
				mark := ""
				if used[m.Name] {
					mark = "yes"
					delete(used, m.Name)
				}
				rows = append(rows, []string{
					m.Name,
					m.Split,
					m.Part,
					strconv.FormatFloat(m.Speed, 'f', -1, 64),
					humanize.Bytes(uint64(m.Size)),
					mark,
				})
			}
			fmt.Fprintln(out, renderTableWithFooter(
				[]string{"Manifest", "Split", "Part", "Speed", "Size", "Used"},
				rows,
				[]string{fmt.Sprintf("%d manifests", len(manifests)), "", "", "", humanize.Bytes(uint64(total)), ""},
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))

			for _, name := range slices.Sorted(maps.Keys(used)) {
				fmt.Fprintf(out, "Missing: %s\n", name)
			}
			return nil
		},
	}
}

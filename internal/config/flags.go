package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

// ParseBool accepts yes/no, true/false, t/f, y/n and 1/0 in any case.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "t", "y", "1":
		return true, nil
	case "no", "false", "f", "n", "0":
		return false, nil
	}
	return false, fmt.Errorf("boolean value expected, got %q", s)
}

type boolValue struct{ p *bool }

func (b *boolValue) Set(s string) error {
	v, err := ParseBool(s)
	if err != nil {
		return err
	}
	*b.p = v
	return nil
}

func (b *boolValue) String() string { return strconv.FormatBool(*b.p) }
func (b *boolValue) Type() string   { return "bool" }

// boolVar registers a flag that always takes a value, so both
// "--shuffle no" and "--shuffle=no" work.
func boolVar(fs *pflag.FlagSet, p *bool, name, usage string) {
	fs.Var(&boolValue{p: p}, name, usage)
}

// DataFlags holds the data-module command line options.
type DataFlags struct {
	fs     *pflag.FlagSet
	values DataConfig
}

// AddDataFlags registers the data-module options on fs.
func AddDataFlags(fs *pflag.FlagSet) *DataFlags {
	f := &DataFlags{fs: fs, values: Default().Data}
	v := &f.values

	fs.StringVar(&v.ManifestDir, "manifest-dir", v.ManifestDir,
		"Path to directory with train/valid/test cuts.")
	fs.IntVar(&v.MaxDuration, "max-duration", v.MaxDuration,
		"Maximum pooled recordings duration (seconds) in a single batch. You can reduce it if it causes OOM.")
	boolVar(fs, &v.BucketingSampler, "bucketing-sampler",
		"When enabled, the batches will come from buckets of similar duration (saves padding frames).")
	fs.IntVar(&v.NumBuckets, "num-buckets", v.NumBuckets,
		"The number of buckets for the DynamicBucketingSampler (you might want to increase it for larger datasets).")
	boolVar(fs, &v.Shuffle, "shuffle",
		"When enabled (=default), the examples will be shuffled for each epoch.")
	boolVar(fs, &v.DropLast, "drop-last",
		"Whether to drop last batch. Used by sampler.")
	boolVar(fs, &v.ReturnCuts, "return-cuts",
		"When enabled, each batch will carry the cuts that were used to construct it.")
	fs.IntVar(&v.NumWorkers, "num-workers", v.NumWorkers,
		"The number of training dataloader workers that collect the batches (-1 for one per physical core).")
	boolVar(fs, &v.EnableSpecAug, "enable-spec-aug",
		"When enabled, use SpecAugment for training dataset.")
	fs.IntVar(&v.SpecAugTimeWarpFactor, "spec-aug-time-warp-factor", v.SpecAugTimeWarpFactor,
		"Used only when --enable-spec-aug is true. Larger values mean more warping. A value less than 1 disables time warp.")
	boolVar(fs, &v.EnableGaussianNoise, "enable-gaussian-noise",
		"Accepted for compatibility; discrete token inputs carry no waveform to add noise to.")
	fs.StringVar(&v.InputStrategy, "input-strategy", v.InputStrategy,
		"AudioSamples or PrecomputedFeatures")
	fs.StringVar(&v.Subset, "subset", v.Subset,
		"Select the GigaSpeech subset (XS|S|M|L|XL)")
	boolVar(fs, &v.SmallDev, "small-dev",
		"Should we use only 1000 utterances for dev (speeds up training)")
	return f
}

// Apply copies the flags that were set on the command line into dst.
func (f *DataFlags) Apply(dst *DataConfig) {
	v := &f.values
	setters := map[string]func(){
		"manifest-dir":              func() { dst.ManifestDir = v.ManifestDir },
		"max-duration":              func() { dst.MaxDuration = v.MaxDuration },
		"bucketing-sampler":         func() { dst.BucketingSampler = v.BucketingSampler },
		"num-buckets":               func() { dst.NumBuckets = v.NumBuckets },
		"shuffle":                   func() { dst.Shuffle = v.Shuffle },
		"drop-last":                 func() { dst.DropLast = v.DropLast },
		"return-cuts":               func() { dst.ReturnCuts = v.ReturnCuts },
		"num-workers":               func() { dst.NumWorkers = v.NumWorkers },
		"enable-spec-aug":           func() { dst.EnableSpecAug = v.EnableSpecAug },
		"spec-aug-time-warp-factor": func() { dst.SpecAugTimeWarpFactor = v.SpecAugTimeWarpFactor },
		"enable-gaussian-noise":     func() { dst.EnableGaussianNoise = v.EnableGaussianNoise },
		"input-strategy":            func() { dst.InputStrategy = v.InputStrategy },
		"subset":                    func() { dst.Subset = v.Subset },
		"small-dev":                 func() { dst.SmallDev = v.SmallDev },
	}
	// Changed is tracked on the flag itself, so this also works when fs
	// holds persistent flags parsed by a subcommand.
	f.fs.VisitAll(func(fl *pflag.Flag) {
		if set, ok := setters[fl.Name]; ok && fl.Changed {
			set()
		}
	})
}

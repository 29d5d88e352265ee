// Package datamodule assembles the GigaSpeech data pipeline: manifest
// selection, augmentation, samplers and loaders for training, validation and
// testing.
package datamodule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"asr-datamodule/internal/augment"
	"asr-datamodule/internal/config"
	"asr-datamodule/internal/cut"
	"asr-datamodule/internal/dataset"
	"asr-datamodule/internal/loader"
	"asr-datamodule/internal/sampling"
)

const (
	tokenField    = "discrete_tokens"
	numTokens     = 2000
	frequencySize = 80
	tokenType     = "wavlm"

	// WorkerSeed is the base seed of the training loader workers.
	WorkerSeed = 42

	validWorkers   = 2
	evalNumBuckets = 10
	smallDevCuts   = 1000
	muxSeed        = 0
)

// ErrUnsupportedSubset is returned for subsets without training manifests.
var ErrUnsupportedSubset = errors.New("unsupported subset")

// trainSubset lists the unperturbed, 0.9x and 1.1x speed-perturbed manifests
// of a training subset. Weights are the cut counts of each manifest.
type trainSubset struct {
	manifests [3]string
	weights   [3]float64
}

var trainSubsets = map[string]trainSubset{
	"M": {
		manifests: [3]string{
			"gigaspeech_cuts_M_future.jsonl.gz",
			"gigaspeech_cuts_M-sp0_9_future.jsonl.gz",
			"gigaspeech_cuts_M-sp1_1_future.jsonl.gz",
		},
		weights: [3]float64{909401, 909401, 909401},
	},
	"XL": {
		manifests: [3]string{
			"gigaspeech_cuts_XL.jsonl.gz",
			"gigaspeech_cuts_XL-sp0_9.jsonl.gz",
			"gigaspeech_cuts_XL-sp1_1.jsonl.gz",
		},
		weights: [3]float64{8277188, 8277188, 8277188},
	},
}

const (
	devManifest  = "gigaspeech_cuts_DEV_future.jsonl.gz"
	testManifest = "gigaspeech_cuts_TEST_future.jsonl.gz"
)

type memo struct {
	once sync.Once
	cuts *cut.CutSet
	err  error
}

func (m *memo) get(load func() (*cut.CutSet, error)) (*cut.CutSet, error) {
	m.once.Do(func() { m.cuts, m.err = load() })
	return m.cuts, m.err
}

// DataModule turns the data options into loaders. It assumes one train and
// one valid loader, and any number of test loaders.
type DataModule struct {
	cfg    config.DataConfig
	logger *zap.Logger

	train memo
	dev   memo
	test  memo
}

func New(cfg config.DataConfig, logger *zap.Logger) *DataModule {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DataModule{cfg: cfg, logger: logger}
}

// Config returns the options the module was built with.
func (dm *DataModule) Config() config.DataConfig {
	return dm.cfg
}

// numFrameMasks keeps the masking strength stable across augmentation
// defaults: a policy defaulting to a single frame mask gets 2, otherwise 10.
func numFrameMasks(defaultMasks int) int {
	if defaultMasks == 1 {
		return 2
	}
	return 10
}

func (dm *DataModule) trainTransforms() ([]augment.Transform, error) {
	if !dm.cfg.EnableSpecAug {
		dm.logger.Info("Disable DiscretizedInputAugment")
		return nil, nil
	}
	dm.logger.Info("Enable DiscretizedInputAugment",
		zap.Int("time_warp_factor", dm.cfg.SpecAugTimeWarpFactor))

	masks := numFrameMasks(augment.DefaultNumFrameMasks)
	dm.logger.Info("Num frame mask", zap.Int("num_frame_masks", masks))

	a := &augment.DiscretizedInputAugment{
		TokenType:             tokenType,
		TimeWarpFactor:        dm.cfg.SpecAugTimeWarpFactor,
		NumFrameMasks:         masks,
		FramesMaskSize:        100,
		MaxFramesMaskFraction: augment.DefaultMaxFramesMaskFraction,
		NumTokenMasks:         4,
		TokensMaskSize:        27,
		NumTokens:             numTokens,
		MaskID:                numTokens,
		P:                     augment.DefaultP,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return []augment.Transform{a}, nil
}

func (dm *DataModule) newDataset(transforms []augment.Transform) (*dataset.DiscretizedInputSpeechRecognitionDataset, error) {
	return dataset.New(dataset.DiscretizedInputSpeechRecognitionDataset{
		Field:         tokenField,
		NumTokens:     numTokens,
		FrequencySize: frequencySize,
		TokenType:     tokenType,
		InputStrategy: dm.cfg.InputStrategy,
		Transforms:    transforms,
		ReturnCuts:    dm.cfg.ReturnCuts,
	})
}

// TrainDataLoaders builds the training loader over cuts. A non-nil state
// resumes the sampler where a previous run stopped.
func (dm *DataModule) TrainDataLoaders(cuts *cut.CutSet, state *sampling.State) (*loader.DataLoader, error) {
	if dm.cfg.EnableGaussianNoise {
		dm.logger.Debug("Gaussian noise has no effect on discrete token inputs")
	}
	transforms, err := dm.trainTransforms()
	if err != nil {
		return nil, fmt.Errorf("train augmentation: %w", err)
	}

	dm.logger.Info("About to create train dataset")
	ds, err := dm.newDataset(transforms)
	if err != nil {
		return nil, fmt.Errorf("train dataset: %w", err)
	}

	var sampler sampling.Sampler
	if dm.cfg.BucketingSampler {
		dm.logger.Info("Using DynamicBucketingSampler.")
		sampler, err = sampling.NewDynamicBucketingSampler(cuts, sampling.BucketingOptions{
			Options: sampling.Options{
				MaxDuration: float64(dm.cfg.MaxDuration),
				Shuffle:     dm.cfg.Shuffle,
				DropLast:    dm.cfg.DropLast,
			},
			NumBuckets: dm.cfg.NumBuckets,
		})
	} else {
		dm.logger.Info("Using SimpleCutSampler.")
		sampler, err = sampling.NewSimpleCutSampler(cuts, sampling.Options{
			MaxDuration: float64(dm.cfg.MaxDuration),
			Shuffle:     dm.cfg.Shuffle,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("train sampler: %w", err)
	}

	dm.logger.Info("About to create train dataloader")
	if state != nil {
		dm.logger.Info("Loading sampler state dict", zap.Stringer("state", state))
		if err := sampler.LoadStateDict(*state); err != nil {
			return nil, fmt.Errorf("restore train sampler: %w", err)
		}
	}

	return loader.New(ds, sampler, loader.Options{
		NumWorkers: dm.cfg.NumWorkers,
		WorkerInit: &loader.SeedWorkers{Seed: WorkerSeed},
	}), nil
}

// ValidDataLoaders builds the validation loader: no augmentation, no
// shuffling, two workers.
func (dm *DataModule) ValidDataLoaders(cuts *cut.CutSet) (*loader.DataLoader, error) {
	dm.logger.Info("About to create dev dataset")
	l, err := dm.evalLoader(cuts, validWorkers)
	if err != nil {
		return nil, fmt.Errorf("valid loader: %w", err)
	}
	dm.logger.Info("About to create dev dataloader")
	return l, nil
}

// TestDataLoaders builds a test loader with the configured worker count.
func (dm *DataModule) TestDataLoaders(cuts *cut.CutSet) (*loader.DataLoader, error) {
	dm.logger.Debug("About to create test dataset")
	l, err := dm.evalLoader(cuts, dm.cfg.NumWorkers)
	if err != nil {
		return nil, fmt.Errorf("test loader: %w", err)
	}
	dm.logger.Debug("About to create test dataloader")
	return l, nil
}

func (dm *DataModule) evalLoader(cuts *cut.CutSet, workers int) (*loader.DataLoader, error) {
	ds, err := dm.newDataset(nil)
	if err != nil {
		return nil, err
	}
	sampler, err := sampling.NewDynamicBucketingSampler(cuts, sampling.BucketingOptions{
		Options: sampling.Options{
			MaxDuration: float64(dm.cfg.MaxDuration),
			Shuffle:     false,
		},
		NumBuckets: evalNumBuckets,
	})
	if err != nil {
		return nil, err
	}
	return loader.New(ds, sampler, loader.Options{NumWorkers: workers}), nil
}

// TrainCuts returns the training cuts of the configured subset: the original
// and both speed-perturbed manifests, multiplexed by their cut counts. The
// result is loaded once per module.
func (dm *DataModule) TrainCuts() (*cut.CutSet, error) {
	return dm.train.get(func() (*cut.CutSet, error) {
		subset, ok := trainSubsets[dm.cfg.Subset]
		if !ok {
			return nil, fmt.Errorf("%w %q: train manifests exist for M and XL", ErrUnsupportedSubset, dm.cfg.Subset)
		}

		labels := [3]string{"train", "train sp0.9", "train sp1.1"}
		sets := make([]*cut.CutSet, 0, len(subset.manifests))
		for i, name := range subset.manifests {
			dm.logger.Info("About to get " + labels[i] + " cuts")
			set, err := dm.manifest(name)
			if err != nil {
				return nil, err
			}
			sets = append(sets, set)
		}
		return cut.Mux(muxSeed, sets, subset.weights[:])
	})
}

// DevCuts returns the dev cuts, only the first 1000 when SmallDev is set.
func (dm *DataModule) DevCuts() (*cut.CutSet, error) {
	return dm.dev.get(func() (*cut.CutSet, error) {
		dm.logger.Info("About to get dev cuts")
		set, err := dm.manifest(devManifest)
		if err != nil {
			return nil, err
		}
		if dm.cfg.SmallDev {
			return set.Subset(smallDevCuts), nil
		}
		return set, nil
	})
}

// TestCuts returns the test cuts.
func (dm *DataModule) TestCuts() (*cut.CutSet, error) {
	return dm.test.get(func() (*cut.CutSet, error) {
		dm.logger.Info("About to get test cuts")
		return dm.manifest(testManifest)
	})
}

// ManifestPaths lists every manifest the module reads for its subset.
func (dm *DataModule) ManifestPaths() ([]string, error) {
	subset, ok := trainSubsets[dm.cfg.Subset]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedSubset, dm.cfg.Subset)
	}
	var paths []string
	for _, name := range subset.manifests {
		paths = append(paths, filepath.Join(dm.cfg.ManifestDir, name))
	}
	return append(paths,
		filepath.Join(dm.cfg.ManifestDir, devManifest),
		filepath.Join(dm.cfg.ManifestDir, testManifest),
	), nil
}

func (dm *DataModule) manifest(name string) (*cut.CutSet, error) {
	path := filepath.Join(dm.cfg.ManifestDir, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", name, err)
	}
	return cut.LoadManifestLazy(path), nil
}

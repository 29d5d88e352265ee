package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"asr-datamodule/internal/cut"
	"asr-datamodule/internal/db"
	"asr-datamodule/internal/scanner"
)

type CountStatus struct {
	Running   bool    `json:"running"`
	Total     int64   `json:"total"`
	Processed int64   `json:"processed"`
	Skipped   int64   `json:"skipped"`
	Errors    int64   `json:"errors"`
	Percent   float64 `json:"percent"`
	Rate      float64 `json:"rate"`
	Elapsed   string  `json:"elapsed"`
	LastError string  `json:"last_error,omitempty"`
}

// Counter counts cuts and pooled duration of every manifest in a directory.
// With a database, results are stored and manifests whose fingerprint did
// not change since the last count are skipped.
type Counter struct {
	db             *db.DB
	manifestDir    string
	defaultWorkers int
	logger         *zap.Logger

	running   int32
	stopFlag  int32
	processed int64
	skipped   int64
	errors    int64
	total     int64
	startTime time.Time
	lastError string
	results   []db.ManifestStats
	mu        sync.Mutex
}

func NewCounter(database *db.DB, manifestDir string, defaultWorkers int, logger *zap.Logger) *Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{
		db:             database,
		manifestDir:    manifestDir,
		defaultWorkers: defaultWorkers,
		logger:         logger,
	}
}

// Start runs a count in the background.
func (c *Counter) Start(ctx context.Context, workers int) error {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return errors.New("count already running")
	}
	c.reset()
	go func() {
		defer atomic.StoreInt32(&c.running, 0)
		c.run(ctx, workers)
	}()
	return nil
}

// Run counts synchronously and returns the stats sorted by path.
func (c *Counter) Run(ctx context.Context, workers int) ([]db.ManifestStats, error) {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		return nil, errors.New("count already running")
	}
	defer atomic.StoreInt32(&c.running, 0)
	c.reset()

	if err := c.run(ctx, workers); err != nil {
		return nil, err
	}
	if n := atomic.LoadInt64(&c.errors); n > 0 {
		return c.Results(), errors.New("count failed: " + c.Status().LastError)
	}
	return c.Results(), ctx.Err()
}

func (c *Counter) Stop() {
	atomic.StoreInt32(&c.stopFlag, 1)
}

func (c *Counter) reset() {
	atomic.StoreInt64(&c.processed, 0)
	atomic.StoreInt64(&c.skipped, 0)
	atomic.StoreInt64(&c.errors, 0)
	atomic.StoreInt64(&c.total, 0)
	atomic.StoreInt32(&c.stopFlag, 0)
	c.mu.Lock()
	c.lastError = ""
	c.results = nil
	c.startTime = time.Now()
	c.mu.Unlock()
}

func (c *Counter) setLastError(err string) {
	c.mu.Lock()
	c.lastError = err
	c.mu.Unlock()
}

// Results returns the stats gathered so far, sorted by path.
func (c *Counter) Results() []db.ManifestStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]db.ManifestStats(nil), c.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (c *Counter) Status() CountStatus {
	p := atomic.LoadInt64(&c.processed)
	sk := atomic.LoadInt64(&c.skipped)
	e := atomic.LoadInt64(&c.errors)
	t := atomic.LoadInt64(&c.total)

	c.mu.Lock()
	lastErr := c.lastError
	elapsed := time.Since(c.startTime)
	c.mu.Unlock()

	var pct, rate float64
	if t > 0 {
		pct = float64(p+sk+e) / float64(t) * 100
	}
	if elapsed.Seconds() > 0 {
		rate = float64(p) / elapsed.Seconds()
	}

	return CountStatus{
		Running:   atomic.LoadInt32(&c.running) == 1,
		Total:     t,
		Processed: p,
		Skipped:   sk,
		Errors:    e,
		Percent:   pct,
		Rate:      rate,
		Elapsed:   elapsed.Round(time.Second).String(),
		LastError: lastErr,
	}
}

func (c *Counter) run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = c.defaultWorkers
	}
	if workers <= 0 {
		workers = 1
	}

	manifests, err := scanner.ScanManifests(c.manifestDir)
	if err != nil {
		c.setLastError(err.Error())
		return err
	}
	atomic.StoreInt64(&c.total, int64(len(manifests)))
	c.logger.Info("Counting manifests",
		zap.String("dir", c.manifestDir),
		zap.Int("manifests", len(manifests)),
		zap.Int("workers", workers))

	tasks := make(chan scanner.Manifest, len(manifests))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go c.worker(ctx, &wg, tasks)
	}

	for _, m := range manifests {
		if atomic.LoadInt32(&c.stopFlag) == 1 || ctx.Err() != nil {
			break
		}
		tasks <- m
	}
	close(tasks)

	wg.Wait()
	c.logger.Info("Count complete",
		zap.Int64("processed", atomic.LoadInt64(&c.processed)),
		zap.Int64("skipped", atomic.LoadInt64(&c.skipped)),
		zap.Int64("errors", atomic.LoadInt64(&c.errors)))
	return nil
}

func (c *Counter) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan scanner.Manifest) {
	defer wg.Done()

	for m := range tasks {
		if atomic.LoadInt32(&c.stopFlag) == 1 || ctx.Err() != nil {
			return
		}

		hash, err := m.Fingerprint()
		if err != nil {
			c.fail(m, "hash", err)
			continue
		}

		if c.db != nil {
			stored, err := c.db.GetManifestStats(ctx, m.Path)
			if err == nil && stored.FileHash == hash {
				c.addResult(*stored)
				atomic.AddInt64(&c.skipped, 1)
				continue
			}
			if err != nil && !errors.Is(err, db.ErrNotFound) {
				c.fail(m, "lookup", err)
				continue
			}
		}

		stats := db.ManifestStats{Path: m.Path, FileHash: hash}
		for cu, err := range cut.LoadManifestLazy(m.Path).All() {
			if err != nil {
				c.fail(m, "read", err)
				stats.FileHash = ""
				break
			}
			stats.NumCuts++
			stats.TotalDuration += cu.Duration
		}
		if stats.FileHash == "" {
			continue
		}
		stats.CountedAt = time.Now()

		if c.db != nil {
			if err := c.db.UpsertManifestStats(ctx, &stats); err != nil {
				c.fail(m, "store", err)
				continue
			}
		}
		c.addResult(stats)
		atomic.AddInt64(&c.processed, 1)
	}
}

func (c *Counter) fail(m scanner.Manifest, stage string, err error) {
	c.setLastError(stage + " " + m.Name + ": " + err.Error())
	c.logger.Warn("Count failed", zap.String("manifest", m.Name), zap.String("stage", stage), zap.Error(err))
	atomic.AddInt64(&c.errors, 1)
}

func (c *Counter) addResult(ms db.ManifestStats) {
	c.mu.Lock()
	c.results = append(c.results, ms)
	c.mu.Unlock()
}

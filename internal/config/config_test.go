package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchDataModuleOptions(t *testing.T) {
	d := Default().Data
	assert.Equal(t, "data/fbank", d.ManifestDir)
	assert.Equal(t, 1000, d.MaxDuration)
	assert.True(t, d.BucketingSampler)
	assert.Equal(t, 30, d.NumBuckets)
	assert.True(t, d.Shuffle)
	assert.True(t, d.DropLast)
	assert.True(t, d.ReturnCuts)
	assert.Equal(t, 2, d.NumWorkers)
	assert.True(t, d.EnableSpecAug)
	assert.Equal(t, 80, d.SpecAugTimeWarpFactor)
	assert.True(t, d.EnableGaussianNoise)
	assert.Equal(t, "AudioSamples", d.InputStrategy)
	assert.Equal(t, "M", d.Subset)
	assert.False(t, d.SmallDev)

	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadLayersFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "data.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[data]
manifest_dir = "/corpora/gigaspeech"
max_duration = 600
subset = "XL"

[logging]
level = "debug"
`), 0o644))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("DATA_MAX_DURATION=300\nDATA_SMALL_DEV=yes\n"), 0o644))
	t.Setenv("DATA_MAX_DURATION", "")
	t.Setenv("DATA_SMALL_DEV", "")
	os.Unsetenv("DATA_MAX_DURATION")
	os.Unsetenv("DATA_SMALL_DEV")

	cfg, err := Load(envPath, cfgPath)
	require.NoError(t, err)

	assert.Equal(t, "/corpora/gigaspeech", cfg.Data.ManifestDir)
	assert.Equal(t, "XL", cfg.Data.Subset)
	assert.Equal(t, 300, cfg.Data.MaxDuration)
	assert.True(t, cfg.Data.SmallDev)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Data.NumBuckets, "unset keys keep defaults")
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data:\n  num_buckets: 50\n  shuffle: false\ndatabase:\n  driver: sqlite\n  name: stats\n"), 0o644))

	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Data.NumBuckets)
	assert.False(t, cfg.Data.Shuffle)
	assert.Equal(t, "stats.db", cfg.Database.DataSourceName())
}

func TestLoadRejectsUnknownKeysAndFormats(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[data]\nmax_durration = 1\n"), 0o644))
	_, err := Load("", bad)
	assert.Error(t, err)

	ini := filepath.Join(dir, "data.ini")
	require.NoError(t, os.WriteFile(ini, []byte(""), 0o644))
	_, err = Load("", ini)
	assert.ErrorContains(t, err, "unsupported format")

	_, err = Load("", filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.env"), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Data.Subset, cfg.Data.Subset)
}

func TestDataFlagsOverrideOnlyWhenSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := AddDataFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--max-duration=200",
		"--shuffle=no",
		"--small-dev=true",
		"--bucketing-sampler=False",
		"--subset", "XL",
	}))

	dst := Default().Data
	dst.ManifestDir = "/from/file"
	flags.Apply(&dst)

	assert.Equal(t, "/from/file", dst.ManifestDir)
	assert.Equal(t, 200, dst.MaxDuration)
	assert.False(t, dst.Shuffle)
	assert.True(t, dst.SmallDev)
	assert.Equal(t, "XL", dst.Subset)
	assert.False(t, dst.BucketingSampler)
	assert.True(t, dst.DropLast)
	assert.Empty(t, fs.Args())
}

func TestDataFlagsSpaceSeparatedBools(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := AddDataFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--small-dev", "false",
		"--shuffle", "no",
		"--drop-last", "0",
		"--return-cuts", "y",
	}))

	dst := Default().Data
	dst.SmallDev = true
	flags.Apply(&dst)

	assert.False(t, dst.SmallDev)
	assert.False(t, dst.Shuffle)
	assert.False(t, dst.DropLast)
	assert.True(t, dst.ReturnCuts)
	assert.Empty(t, fs.Args())
}

func TestDataBoolFlagNeedsValue(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	AddDataFlags(fs)
	assert.Error(t, fs.Parse([]string{"--shuffle"}))
	assert.Error(t, fs.Parse([]string{"--shuffle", "maybe"}))
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"yes", "TRUE", "t", "y", "1"} {
		v, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"no", "False", "f", "n", "0"} {
		v, err := ParseBool(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := ParseBool("maybe")
	assert.Error(t, err)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Data.MaxDuration = 0
	cfg.Data.Subset = "XXL"
	cfg.Data.InputStrategy = "Waveform"
	cfg.Checkpoint.Backend = "db"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "max_duration")
	assert.Contains(t, msg, "subset")
	assert.Contains(t, msg, "input_strategy")
	assert.Contains(t, msg, "database.driver")
}

func TestMySQLDataSourceName(t *testing.T) {
	db := Default().Database
	db.Driver = "mysql"
	db.Password = "secret"
	assert.Equal(t, "root:secret@tcp(127.0.0.1:3306)/asr_data?charset=utf8mb4&parseTime=true", db.DataSourceName())

	db.DSN = "custom"
	assert.Equal(t, "custom", db.DataSourceName())
}

func TestServerAddrFromEnv(t *testing.T) {
	assert.Equal(t, ":8082", Default().Server.Addr)
	t.Setenv("SERVER_ADDR", "127.0.0.1:9000")
	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

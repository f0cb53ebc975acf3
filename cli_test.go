package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/krau/mlaxios/interceptors"
	"github.com/krau/mlaxios/service"
	"github.com/krau/mlaxios/tensor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPredictionResult(t *testing.T) {
	logits, err := tensor.NewDense(tensor.Shape{1, 3}, []float32{0.1, 0.7, 0.2})
	require.NoError(t, err)
	data, err := interceptors.TopK(2)(context.Background(), tensor.Single(logits))
	require.NoError(t, err)
	res := &service.Result{Data: data, Latency: 1500 * time.Microsecond, Device: "onnxruntime-cpu"}
	defer res.Dispose()

	got, err := toPredictionResult("cat.jpg", res, []string{"dog", "cat"})
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "2"}, got.PredictedTags)
	assert.Equal(t, map[string]float32{"cat": 0.7, "2": 0.2}, got.Scores)
	assert.Equal(t, 1.5, got.LatencyMS)
	assert.Equal(t, "onnxruntime-cpu", got.Device)
}

func TestToPredictionResultRequiresIndices(t *testing.T) {
	d, err := tensor.NewDense(tensor.Shape{1}, []float32{1})
	require.NoError(t, err)
	_, err = toPredictionResult("x", &service.Result{Data: tensor.Single(d)}, nil)
	assert.ErrorContains(t, err, "has no")
}

func TestSetupLogLevel(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte("log_level: warn\n"), 0o644))

	cfg, log, err := (&rootOptions{configPath: p}).setup()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, zerolog.WarnLevel, log.GetLevel())

	_, log, err = (&rootOptions{configPath: p, logLevel: "debug"}).setup()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, log.GetLevel())

	_, _, err = (&rootOptions{configPath: filepath.Join(dir, "missing.toml"), logLevel: "loud"}).setup()
	assert.ErrorContains(t, err, "invalid log level")
}

func TestPredictCommandArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"predict", "only-model"})
	cmd.SetOut(os.Stderr)
	cmd.SetErr(os.Stderr)
	assert.Error(t, cmd.Execute())
}

package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/krau/mlaxios/config"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

// LibEnv overrides the shared library location when the config leaves it empty.
const LibEnv = "MLAXIOS_LIBONNX"

var (
	ErrLibraryNotFound = errors.New("ONNX Runtime library path could not be determined for this OS")
	ErrNotInitialized  = errors.New("ONNX Runtime not initialized: call onnx.Init first")
)

var statFile = os.Stat

// LibPath resolves the ONNX Runtime shared library: the configured path, then
// $MLAXIOS_LIBONNX, then the first per-OS default that exists on disk.
func LibPath(cfg config.Config) string {
	if cfg.Libonnx != "" {
		return cfg.Libonnx
	}
	if p := os.Getenv(LibEnv); p != "" {
		return p
	}
	for _, p := range defaultLibPaths(runtime.GOOS) {
		if _, err := statFile(p); err == nil {
			return p
		}
	}
	return ""
}

func defaultLibPaths(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime-linux-x64.so.1.23.2"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{"onnxruntime.dll"}
	default:
		return nil
	}
}

// Init loads the shared library and creates the process-wide ONNX Runtime
// environment. Calling it again after a successful call is a no-op.
func Init(cfg config.Config, log zerolog.Logger) error {
	if ort.IsInitialized() {
		return nil
	}
	path := LibPath(cfg)
	if path == "" {
		return ErrLibraryNotFound
	}
	log.Info().Str("path", path).Msg("Using ONNX Runtime library")

	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
	}
	return nil
}

// Shutdown destroys the environment created by Init.
func Shutdown() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

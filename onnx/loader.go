package onnx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/krau/mlaxios/config"
	"github.com/krau/mlaxios/service"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	ModelFileName = "model.onnx"

	maxModelBytes int64 = 4 << 30
)

// LabelFileNames are probed next to a hub export, in order.
var LabelFileNames = []string{"labels.txt", "top_tags.txt"}

var errNotExport = errors.New("url names a single model file, not a hub export")

// Loader fetches models from local paths, file:// or http(s):// URLs.
// Relative locations are resolved against the configured base URL.
type Loader struct {
	cfg    config.Config
	client *http.Client
	log    zerolog.Logger
}

func NewLoader(cfg config.Config, log zerolog.Logger) *Loader {
	return &Loader{cfg: cfg, client: http.DefaultClient, log: log}
}

// Service adapts l to the graph-then-layers fallback of service.Loader.
func (l *Loader) Service() service.Loader {
	return service.Loader{
		Graph: func(ctx context.Context, u string) (service.Model, error) {
			return l.Graph(ctx, u)
		},
		Layers: func(ctx context.Context, u string) (service.Model, error) {
			return l.Layers(ctx, u)
		},
		Logger: l.log,
	}
}

// Graph loads a hub-style export: a directory or URL holding model.onnx and,
// optionally, a labels file.
func (l *Loader) Graph(ctx context.Context, location string) (*Session, error) {
	base := l.resolve(location)
	if strings.EqualFold(path.Ext(stripQuery(base)), ".onnx") {
		return nil, errNotExport
	}
	data, err := l.fetch(ctx, joinLocation(base, ModelFileName))
	if err != nil {
		return nil, err
	}
	var labels []string
	for _, name := range LabelFileNames {
		b, err := l.fetch(ctx, joinLocation(base, name))
		if err != nil {
			l.log.Debug().Err(err).Str("file", name).Msg("no labels file")
			continue
		}
		labels = service.SplitLines(b)
		break
	}
	return newSession(l.cfg, data, labels)
}

// Layers loads a single self-contained model file.
func (l *Loader) Layers(ctx context.Context, location string) (*Session, error) {
	data, err := l.fetch(ctx, l.resolve(location))
	if err != nil {
		return nil, err
	}
	return newSession(l.cfg, data, nil)
}

// Inspect returns the declared inputs and outputs of a model file.
func (l *Loader) Inspect(ctx context.Context, location string) ([]ort.InputOutputInfo, []ort.InputOutputInfo, error) {
	data, err := l.fetch(ctx, l.resolve(location))
	if err != nil {
		return nil, nil, err
	}
	if !ort.IsInitialized() {
		return nil, nil, ErrNotInitialized
	}
	return ort.GetInputOutputInfoWithONNXData(data)
}

func (l *Loader) resolve(location string) string {
	if l.cfg.BaseURL == "" || isAbsolute(location) {
		return location
	}
	base, err := url.Parse(l.cfg.BaseURL)
	if err != nil || base.Scheme == "" {
		return filepath.Join(l.cfg.BaseURL, location)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(location)
	if err != nil {
		return location
	}
	return base.ResolveReference(ref).String()
}

func isAbsolute(location string) bool {
	if filepath.IsAbs(location) {
		return true
	}
	u, err := url.Parse(location)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file")
}

func stripQuery(location string) string {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		return location[:i]
	}
	return location
}

func joinLocation(base, name string) string {
	u, err := url.Parse(base)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "file") {
		return u.JoinPath(name).String()
	}
	return filepath.Join(base, name)
}

func (l *Loader) fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			return l.download(ctx, location)
		case "file":
			return os.ReadFile(u.Path)
		}
	}
	return os.ReadFile(location)
}

func (l *Loader) download(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", location, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: %s", location, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	if int64(len(data)) > maxModelBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", location, maxModelBytes)
	}
	return data, nil
}

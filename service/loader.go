package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// LoadFunc loads the model found at url.
type LoadFunc func(ctx context.Context, url string) (Model, error)

// Loader tries the graph loader first and falls back to the layers loader.
// Nothing is cached: every call loads afresh.
type Loader struct {
	Graph  LoadFunc
	Layers LoadFunc
	Logger zerolog.Logger
}

// Load returns the first model that loads. When both attempts fail the error
// from the layers attempt is returned unchanged.
func (l Loader) Load(ctx context.Context, url string) (Model, error) {
	if l.Graph == nil && l.Layers == nil {
		return nil, errors.New("no model loader configured")
	}
	if l.Graph != nil {
		m, err := l.Graph(ctx, url)
		if err == nil {
			return m, nil
		}
		if l.Layers == nil {
			return nil, err
		}
		l.Logger.Debug().Err(err).Str("url", url).Msg("graph model load failed, trying layers model")
	}
	return l.Layers(ctx, url)
}

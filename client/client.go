// Package client is the public entry point: a Client holds configuration and
// interceptors, loads models and runs predictions.
//
//	c := client.New(cfg, client.WithBackend(onnx.NewBackend(cfg)))
//	c.UseResponse(interceptors.Softmax(), interceptors.TopK(5))
//	model, err := c.Load(ctx, "https://hub.example.com/mobilenet")
//	...
//	res, err := c.Predict(ctx, model, service.EncodedInput{Data: jpeg})
//	...
//	defer res.Dispose()
package client

import (
	"context"
	"slices"
	"sync"

	"github.com/krau/mlaxios/config"
	"github.com/krau/mlaxios/onnx"
	"github.com/krau/mlaxios/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Client is safe for concurrent use. Each Client has its own configuration
// and interceptor lists.
type Client struct {
	cfg          config.Config
	backend      service.Allocator
	loader       *service.Loader
	materializer service.Materializer
	log          zerolog.Logger
	metrics      *metrics

	mu       sync.RWMutex
	request  []service.RequestInterceptor
	response []service.ResponseInterceptor
}

type Option func(*Client)

// WithBackend sets the allocator for materialized input. Defaults to host
// memory.
func WithBackend(b service.Allocator) Option {
	return func(c *Client) { c.backend = b }
}

// WithLoader replaces the ONNX Runtime graph/layers loader.
func WithLoader(l service.Loader) Option {
	return func(c *Client) { c.loader = &l }
}

func WithMaterializer(m service.Materializer) Option {
	return func(c *Client) { c.materializer = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRegisterer registers prediction metrics on r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = newMetrics(r) }
}

// New creates a Client. cfg is stored as is and is never validated.
func New(cfg config.Config, opts ...Option) *Client {
	c := &Client{
		cfg: cfg.Clone(),
		log: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.loader == nil {
		l := onnx.NewLoader(c.cfg, c.log).Service()
		c.loader = &l
	}
	return c
}

// Default is a ready-made Client with an empty configuration. It is an
// ordinary instance: nothing else refers to it.
var Default = New(config.Config{})

// Defaults returns a copy of the configuration the client was created with.
func (c *Client) Defaults() config.Config {
	return c.cfg.Clone()
}

// UseRequest appends interceptors run before inference, in order.
func (c *Client) UseRequest(fns ...service.RequestInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.request = append(c.request, fns...)
}

// UseResponse appends interceptors run after inference, in order.
func (c *Client) UseResponse(fns ...service.ResponseInterceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.response = append(c.response, fns...)
}

// Load loads a model, trying a hub-style graph export first and a single
// model file second.
func (c *Client) Load(ctx context.Context, modelURL string) (service.Model, error) {
	return c.loader.Load(ctx, modelURL)
}

// Predict runs input through the request interceptors, the model and the
// response interceptors. The caller owns the returned Result.Data.
func (c *Client) Predict(ctx context.Context, model service.Model, input service.Input) (*service.Result, error) {
	c.mu.RLock()
	o := &service.Orchestrator{
		Request:      slices.Clone(c.request),
		Response:     slices.Clone(c.response),
		Allocator:    c.backend,
		Materializer: c.materializer,
		Logger:       c.log,
	}
	c.mu.RUnlock()

	res, err := o.Predict(ctx, model, input)
	c.metrics.observe(res, err)
	return res, err
}

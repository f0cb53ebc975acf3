package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/krau/mlaxios/client"
	"github.com/krau/mlaxios/config"
	"github.com/krau/mlaxios/interceptors"
	"github.com/krau/mlaxios/onnx"
	"github.com/krau/mlaxios/service"
	"github.com/krau/mlaxios/tensor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type TagScore struct {
	Tag   string  `json:"tag"`
	Score float32 `json:"score"`
}

type PredictionResult struct {
	File          string             `json:"file"`
	PredictedTags []string           `json:"predicted_tags"`
	Scores        map[string]float32 `json:"scores"`
	LatencyMS     float64            `json:"latency_ms"`
	Device        string             `json:"device"`
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "mlaxios",
		Short:        "Run ONNX image models with request/response interceptors",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.toml", "config file (.toml, .yaml, .json); ignored if missing")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	cmd.AddCommand(newPredictCmd(opts), newInspectCmd(opts))
	return cmd
}

func (o *rootOptions) setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadOptional(o.configPath)
	if err != nil {
		return cfg, zerolog.Nop(), err
	}
	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if lvl, err = zerolog.ParseLevel(level); err != nil {
			return cfg, zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()
	return cfg, log, nil
}

type predictOptions struct {
	top       int
	threshold float32
	activate  string
	pad       bool
	clip      bool
	labels    string
}

func newPredictCmd(root *rootOptions) *cobra.Command {
	opts := &predictOptions{}
	cmd := &cobra.Command{
		Use:   "predict MODEL IMAGE...",
		Short: "Classify images and print the top tags as JSON",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return runPredict(ctx, cfg, log, opts, args[0], args[1:], cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.top, "top", 5, "number of tags to report when --threshold is not set")
	f.Float32Var(&opts.threshold, "threshold", 0, "report every tag scoring above this value")
	f.StringVar(&opts.activate, "activation", "softmax", "activation applied to logits: softmax, sigmoid or none")
	f.BoolVar(&opts.pad, "pad", false, "pad images to a square white canvas before resizing")
	f.BoolVar(&opts.clip, "clip", false, "feed NCHW input normalized with CLIP mean/std")
	f.StringVar(&opts.labels, "labels", "", "labels file, one per line; defaults to the labels shipped with the model")
	return cmd
}

func runPredict(ctx context.Context, cfg config.Config, log zerolog.Logger, opts *predictOptions, modelURL string, images []string, out io.Writer) error {
	log.Info().Msg("Starting mlaxios")
	if err := onnx.Init(cfg, log); err != nil {
		return err
	}
	defer onnx.Shutdown()

	var m service.Materializer
	if opts.clip {
		m = service.Materializer{Layout: service.NCHW, Normalize: service.ClipNormalization}
	}
	c := client.New(cfg,
		client.WithBackend(onnx.NewBackend(cfg)),
		client.WithMaterializer(m),
		client.WithLogger(log),
	)
	if opts.pad {
		c.UseRequest(interceptors.PadSquare(color.White))
	}
	switch opts.activate {
	case "softmax":
		c.UseResponse(interceptors.Softmax())
	case "sigmoid":
		c.UseResponse(interceptors.Sigmoid())
	case "none", "":
	default:
		return fmt.Errorf("unknown activation %q", opts.activate)
	}
	if opts.threshold > 0 {
		c.UseResponse(interceptors.Threshold(opts.threshold))
	} else {
		c.UseResponse(interceptors.TopK(opts.top))
	}

	model, err := c.Load(ctx, modelURL)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}

	labels, err := loadLabels(opts.labels, model)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for _, path := range images {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		res, err := c.Predict(ctx, model, service.EncodedInput{Data: data})
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Prediction failed")
			return err
		}
		result, err := toPredictionResult(path, res, labels)
		res.Dispose()
		if err != nil {
			return err
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return nil
}

func loadLabels(path string, model service.Model) ([]string, error) {
	if path != "" {
		labels, err := service.ReadLines(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read labels: %w", err)
		}
		return labels, nil
	}
	if l, ok := model.(interface{ Labels() []string }); ok {
		return l.Labels(), nil
	}
	return nil, nil
}

func toPredictionResult(file string, res *service.Result, labels []string) (*PredictionResult, error) {
	idx, ok := res.Data.Get(interceptors.IndicesName)
	if !ok {
		return nil, fmt.Errorf("prediction has no %q output", interceptors.IndicesName)
	}
	scoreHandle, _ := res.Data.Get(interceptors.ScoresName)
	scores, err := tensor.Float32s(scoreHandle)
	if err != nil {
		return nil, err
	}
	indices, ok := idx.(*tensor.Dense[int64])
	if !ok {
		return nil, fmt.Errorf("unexpected index tensor %T", idx)
	}

	// first row only
	n := len(scores)
	if shape := idx.Shape(); len(shape) == 2 {
		n = int(shape[1])
	}
	items := make([]TagScore, 0, n)
	for i, classIdx := range indices.Data()[:n] {
		items = append(items, TagScore{Tag: labelFor(labels, classIdx), Score: scores[i]})
	}

	predicted := make([]string, 0, len(items))
	scoreMap := make(map[string]float32, len(items))
	for _, it := range items {
		predicted = append(predicted, it.Tag)
		scoreMap[it.Tag] = it.Score
	}
	return &PredictionResult{
		File:          file,
		PredictedTags: predicted,
		Scores:        scoreMap,
		LatencyMS:     float64(res.Latency.Microseconds()) / 1000,
		Device:        res.Device,
	}, nil
}

func labelFor(labels []string, idx int64) string {
	if idx >= 0 && int(idx) < len(labels) {
		return labels[idx]
	}
	return strconv.FormatInt(idx, 10)
}

func newInspectCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect MODEL",
		Short: "Print the inputs and outputs a model file declares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.setup()
			if err != nil {
				return err
			}
			if err := onnx.Init(cfg, log); err != nil {
				return err
			}
			defer onnx.Shutdown()

			inputs, outputs, err := onnx.NewLoader(cfg, log).Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, in := range inputs {
				fmt.Fprintf(w, "input  %s %v %v\n", in.Name, in.DataType, in.Dimensions)
			}
			for _, o := range outputs {
				fmt.Fprintf(w, "output %s %v %v\n", o.Name, o.DataType, o.Dimensions)
			}
			return nil
		},
	}
}

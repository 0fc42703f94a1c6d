package commands

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Endpoint string
	Timeout  time.Duration
	Log      *logrus.Logger
}

type optionsKey struct{}

func WithOptions(ctx context.Context, opts Options) context.Context {
	return context.WithValue(ctx, optionsKey{}, opts)
}

// OptionsFromContext returns the global options, with a discarding logger
// when none was set.
func OptionsFromContext(ctx context.Context) Options {
	opts, _ := ctx.Value(optionsKey{}).(Options)
	if opts.Log == nil {
		opts.Log = logrus.New()
		opts.Log.SetOutput(io.Discard)
	}
	return opts
}

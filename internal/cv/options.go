package cv

import "golang.org/x/image/draw"

// Option configures a TemplateMatcher
type Option func(*matcherOptions)

type matcherOptions struct {
	method MatchMethod
	scaler draw.Scaler
}

// WithMethod sets the matching algorithm
func WithMethod(m MatchMethod) Option {
	return func(opts *matcherOptions) {
		opts.method = m
	}
}

// WithScaler sets the interpolator used to shrink frames and references
func WithScaler(s draw.Scaler) Option {
	return func(opts *matcherOptions) {
		opts.scaler = s
	}
}

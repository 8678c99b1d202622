package pb

// Option applies a configuration option to the Aggregator.
type Option func(*Aggregator)

// WithConcurrency bounds how many charts are processed at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// WithTopN sets how many PBs feed a profile rating.
func WithTopN(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.topN = n
		}
	}
}

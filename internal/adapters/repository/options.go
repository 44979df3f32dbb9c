package repository

import "github.com/okian/chartsnap/pkg/logger"

// Option applies a configuration option to the Instrumented store.
type Option func(*Instrumented)

// WithLogger sets the logger used to report failed operations.
func WithLogger(l logger.Logger) Option {
	return func(s *Instrumented) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBackendName labels log lines with the backend name (memory, sqlite, ...).
func WithBackendName(name string) Option {
	return func(s *Instrumented) {
		if name != "" {
			s.backend = name
		}
	}
}

package store

import (
	"time"

	"go.uber.org/zap"
)

// Option alters the default configuration of a Database during construction
type Option interface {
	apply(*options)
}

type optionFunc func(o *options)

func (f optionFunc) apply(o *options) { f(o) }

type options struct {
	logger      *zap.SugaredLogger
	lockTimeout time.Duration
	busyTimeout time.Duration
}

func defaultOptions() options {
	return options{
		logger:      zap.NewNop().Sugar(),
		busyTimeout: 5 * time.Second,
	}
}

// WithLogger sets the logger used for statement and lifecycle logging
func WithLogger(logger *zap.SugaredLogger) Option {
	return optionFunc(func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	})
}

// LockTimeout bounds how long StartTransaction waits for the transaction lock.
// Zero means wait until the caller's context is done.
func LockTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.lockTimeout = d
	})
}

// BusyTimeout sets how long the driver retries when the database file is locked
func BusyTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.busyTimeout = d
	})
}

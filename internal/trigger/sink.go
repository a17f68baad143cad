// Package trigger drives the devices under test: it fires trigger sinks,
// broadcasts a timestamped marker per trial, and waits for the keyboard
// reference channel to acknowledge the trial.
package trigger

import (
	"go.uber.org/multierr"
)

// Sink is anything that emits a trigger when fired.
type Sink interface {
	Fire() error
}

// Releaser is implemented by sinks that hold a level until released, like an
// output pin pulled high for the pulse width.
type Releaser interface {
	Release() error
}

// Resetter is implemented by sinks that buffer device input which must be
// discarded once a trial has been acknowledged.
type Resetter interface {
	Reset() error
}

// MultiSink fires several sinks in order, as one trigger.
type MultiSink []Sink

// Fire fires every sink even when an earlier one fails.
func (m MultiSink) Fire() error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Fire())
	}
	return err
}

func (m MultiSink) Release() error {
	var err error
	for _, s := range m {
		if r, ok := s.(Releaser); ok {
			err = multierr.Append(err, r.Release())
		}
	}
	return err
}

func (m MultiSink) Reset() error {
	var err error
	for _, s := range m {
		if r, ok := s.(Resetter); ok {
			err = multierr.Append(err, r.Reset())
		}
	}
	return err
}

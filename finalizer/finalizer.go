// Package finalizer collects closers and runs them in reverse order during
// teardown.
package finalizer

import (
	"context"
	"fmt"
	"io"
)

// Finalizer accumulates resources that must be released on shutdown or when
// constructor-style setup fails partway.
type Finalizer struct {
	closers []io.Closer
}

// NewFinalizer returns a new Finalizer.
func NewFinalizer() *Finalizer {
	return &Finalizer{}
}

// Add one or more closers.
func (f *Finalizer) Add(c ...io.Closer) {
	f.closers = append(f.closers, c...)
}

// Cleanup closes all closers in reverse order, returning err combined with
// any close failures.
func (f *Finalizer) Cleanup(err error) error {
	for i := len(f.closers) - 1; i >= 0; i-- {
		if cerr := f.closers[i].Close(); cerr != nil {
			if err == nil {
				err = cerr
			} else {
				err = fmt.Errorf("%v; %v", err, cerr)
			}
		}
	}
	return err
}

// Cleanupf is Cleanup with error wrapping, for use in constructors.
func (f *Finalizer) Cleanupf(format string, err error) error {
	if err != nil {
		err = fmt.Errorf(format, err)
	}
	return f.Cleanup(err)
}

type contextCloser struct {
	cancel context.CancelFunc
}

func (c *contextCloser) Close() error {
	c.cancel()
	return nil
}

// NewContextCloser wraps a context cancel func as a closer.
func NewContextCloser(cancel context.CancelFunc) io.Closer {
	return &contextCloser{cancel: cancel}
}

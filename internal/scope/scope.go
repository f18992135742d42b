// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package scope guarantees release of registered resources on every exit
// path of a tool invocation.
package scope

import (
	"cloudeng.io/errors"
)

// Scope collects release functions and runs them all, last registered
// first, when Close is called. Every release runs even if earlier ones
// fail; their errors are aggregated.
type Scope struct {
	releases []func() error
	closed   bool
}

// New returns an empty Scope.
func New() *Scope {
	return &Scope{}
}

// Defer registers a release function.
func (s *Scope) Defer(fn func() error) {
	s.releases = append(s.releases, fn)
}

// Close runs all registered release functions in LIFO order. It is safe
// to call more than once; releases run exactly once.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	errs := &errors.M{}
	for i := len(s.releases) - 1; i >= 0; i-- {
		errs.Append(s.releases[i]())
	}
	s.releases = nil
	return errs.Err()
}

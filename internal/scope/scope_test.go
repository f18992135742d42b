// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package scope

import (
	"fmt"
	"strings"
	"testing"
)

func TestCloseOrder(t *testing.T) {
	s := New()
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Defer(func() error {
			order = append(order, i)
			return nil
		})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got, want := fmt.Sprint(order), "[2 1 0]"; got != want {
		t.Errorf("release order: got %v, want %v", got, want)
	}
}

func TestCloseAggregatesErrors(t *testing.T) {
	s := New()
	var released bool
	s.Defer(func() error { released = true; return nil })
	s.Defer(func() error { return fmt.Errorf("first failure") })
	s.Defer(func() error { return fmt.Errorf("second failure") })
	err := s.Close()
	if err == nil {
		t.Fatalf("expected aggregated error")
	}
	for _, want := range []string{"first failure", "second failure"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
	if !released {
		t.Errorf("later failure prevented earlier release")
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := New()
	var n int
	s.Defer(func() error { n++; return nil })
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if n != 1 {
		t.Errorf("release ran %v times", n)
	}
}

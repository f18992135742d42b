// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package testutil generates deterministic inputs for codec tests.
package testutil

import (
	"math/rand"
)

// Seed for the pseudorandom generator so that test inputs are stable
// across runs.
const Seed = 0x1234

// Zeros returns n zero bytes.
func Zeros(n int) []byte {
	return make([]byte, n)
}

// Data returns n deterministic bytes guaranteed to be non-zero, so every
// sector they fully cover classifies as data.
func Data(n int) []byte {
	gen := rand.New(rand.NewSource(Seed))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(1 + gen.Intn(255))
	}
	return out
}

// Concat joins its arguments into a single fresh slice.
func Concat(bufs ...[]byte) []byte {
	var out []byte
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

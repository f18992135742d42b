// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package sparsefile zeroes ranges of a destination file, punching
// filesystem holes when the destination supports it and falling back to
// explicit zero writes when it does not.
package sparsefile

import (
	"fmt"
	"io"
	"log"
	"os"
)

// maxZeroChunk bounds a single fallback zero write.
const maxZeroChunk = 256 << 20

// Zeroer advances a file's cursor over ranges that must read back as
// zeros. Hole punching is assumed supported until a request fails, after
// which all remaining ranges of the run are zeroed explicitly.
type Zeroer struct {
	f     *os.File
	punch bool
	zeros []byte
}

// NewZeroer returns a Zeroer for f. The file cursor is owned by the
// caller between calls.
func NewZeroer(f *os.File) *Zeroer {
	return &Zeroer{f: f, punch: true}
}

// PunchSupported reports whether hole punching is still believed to work
// on the destination.
func (z *Zeroer) PunchSupported() bool {
	return z.punch
}

// Advance zeroes the next n bytes of the file, leaving the cursor n bytes
// forward. Ranges are expected to be sector aligned when punching;
// punching keeps the file size and does not move the cursor, so the
// cursor is repositioned afterwards.
func (z *Zeroer) Advance(n uint64) error {
	if n == 0 {
		return nil
	}
	if z.punch {
		start, err := z.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("unable to get current position on destination: %v", err)
		}
		if err := punchHole(z.f, start, int64(n)); err != nil {
			log.Printf("hole punching failed on range [%d, %d), probably not supported on destination: %v; falling back on explicit zeroing, perf will be degraded",
				start, start+int64(n), err)
			z.punch = false
		} else {
			_, err := z.f.Seek(int64(n), io.SeekCurrent)
			return err
		}
	}
	return z.Fill(n)
}

// Fill writes n literal zero bytes at the cursor, in chunks drawn from a
// reusable buffer.
func (z *Zeroer) Fill(n uint64) error {
	for n > 0 {
		chunk := n
		if chunk > maxZeroChunk {
			chunk = maxZeroChunk
		}
		if uint64(len(z.zeros)) < chunk {
			z.zeros = make([]byte, chunk)
		}
		if _, err := z.f.Write(z.zeros[:chunk]); err != nil {
			return fmt.Errorf("explicit zeroing: unable to write to file correctly: %v", err)
		}
		n -= chunk
	}
	return nil
}

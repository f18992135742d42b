// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package sfs

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
)

type scannerOpts struct {
	verbose bool
}

// ScannerOption represents an option to NewScanner.
type ScannerOption func(*scannerOpts)

// ScanVerbose controls verbose logging while scanning.
func ScanVerbose(v bool) ScannerOption {
	return func(o *scannerOpts) {
		o.verbose = v
	}
}

// Block is one parsed atomic block. Payload holds the packed non-zero
// sector contents; Boundaries alternates sparse and data lengths, the
// first pair always beginning with a zero sparse length. Both slices are
// reused by the scanner and are only valid until the next call to Scan.
type Block struct {
	Payload    []byte
	Boundaries []uint64
}

// Scanner splits an encoded stream into atomic blocks, validating each
// against the format's sanity bounds. The stream preamble is consumed on
// the first call to Scan; once the sentinel is seen the trailing footer
// is read and cross-checked against the scanner's own byte and block
// counts, after which Scan returns false with a nil Err.
type Scanner struct {
	rd      io.Reader
	err     error
	first   bool
	done    bool
	verbose bool

	randomSize uint64
	discard    []byte

	payload    []byte
	boundaries []uint64
	meta       []byte
	block      Block

	bytesRead uint64
	blocks    uint64
	footer    *Footer
}

// NewScanner returns a new instance of Scanner reading from rd.
func NewScanner(rd io.Reader, opts ...ScannerOption) *Scanner {
	o := scannerOpts{}
	for _, fn := range opts {
		fn(&o)
	}
	return &Scanner{
		rd:      rd,
		first:   true,
		verbose: o.verbose,
	}
}

func (sc *Scanner) trace(format string, args ...interface{}) {
	if sc.verbose {
		log.Printf(format, args...)
	}
}

// Scan returns true if there is a block to be returned.
func (sc *Scanner) Scan(ctx context.Context) bool {
	if sc.err != nil || sc.done {
		return false
	}
	select {
	case <-ctx.Done():
		sc.err = ctx.Err()
		return false
	default:
	}
	if sc.first {
		sc.first = false
		if !sc.scanPreamble() {
			return false
		}
	}

	payloadSize, err := sc.readWord()
	if err != nil {
		sc.err = fmt.Errorf("read atomic block size: %v", err)
		return false
	}
	if payloadSize == Sentinel {
		sc.trace("all atomic blocks read, footer remaining")
		return sc.scanFooter()
	}
	if payloadSize == 0 || payloadSize > MaxBlockSize {
		sc.err = fmt.Errorf("unexpected atomic block size %d, should be > 0 and at most %d", payloadSize, uint64(MaxBlockSize))
		return false
	}

	if sc.randomSize > 0 {
		if _, err := io.ReadFull(sc.rd, sc.discard); err != nil {
			sc.err = fmt.Errorf("discard random pad: %v", err)
			return false
		}
		sc.bytesRead += sc.randomSize
	}

	if uint64(cap(sc.payload)) < payloadSize {
		sc.trace("extending atomic block buffer to %d bytes", payloadSize)
		sc.payload = make([]byte, payloadSize)
	}
	sc.payload = sc.payload[:payloadSize]
	if _, err := io.ReadFull(sc.rd, sc.payload); err != nil {
		sc.err = fmt.Errorf("read atomic block payload (%d bytes): %v", payloadSize, err)
		return false
	}
	sc.bytesRead += payloadSize

	count, err := sc.readWord()
	if err != nil {
		sc.err = fmt.Errorf("read boundary vector length: %v", err)
		return false
	}
	if upper := maxBoundaryCount(payloadSize); count == 0 || count%2 != 0 || count > upper {
		sc.err = fmt.Errorf("inconsistent data: boundary count %d is not a positive even integer at most %d", count, upper)
		return false
	}

	if uint64(cap(sc.meta)) < count*wordSize {
		sc.trace("extending boundary vector buffer to %d bytes", count*wordSize)
		sc.meta = make([]byte, count*wordSize)
	}
	sc.meta = sc.meta[:count*wordSize]
	if _, err := io.ReadFull(sc.rd, sc.meta); err != nil {
		sc.err = fmt.Errorf("read boundary vector: %v", err)
		return false
	}
	sc.bytesRead += count * wordSize

	if uint64(cap(sc.boundaries)) < count {
		sc.boundaries = make([]uint64, count)
	}
	sc.boundaries = sc.boundaries[:count]
	for i := range sc.boundaries {
		sc.boundaries[i] = binary.LittleEndian.Uint64(sc.meta[i*wordSize:])
	}
	if sc.boundaries[0] != 0 {
		sc.err = fmt.Errorf("inconsistent data: boundary vector starts with sparse length %d, expected 0", sc.boundaries[0])
		return false
	}

	sc.blocks++
	sc.block = Block{Payload: sc.payload, Boundaries: sc.boundaries}
	return true
}

func (sc *Scanner) scanPreamble() bool {
	size, err := sc.readWord()
	if err != nil {
		sc.err = fmt.Errorf("read random pad size from stream preamble: %v", err)
		return false
	}
	sc.randomSize = size
	if size > 0 {
		if size > MaxRandomPad {
			sc.err = fmt.Errorf("unexpected random pad size %d, at most %d supported", size, uint64(MaxRandomPad))
			return false
		}
		sc.trace("random pads active, allocating %d byte discard buffer", size)
		sc.discard = make([]byte, size)
	}
	return true
}

func (sc *Scanner) scanFooter() bool {
	sc.done = true
	foot, err := ReadFooter(sc.rd)
	if err != nil {
		sc.err = fmt.Errorf("extract footer: %v", err)
		return false
	}
	sc.bytesRead += FooterSize
	if foot.Written != sc.bytesRead {
		sc.err = fmt.Errorf("inconsistent data: footer written total (%d) differs from what was really read (%d)", foot.Written, sc.bytesRead)
		return false
	}
	if foot.AtomicBlocks != sc.blocks {
		sc.err = fmt.Errorf("inconsistent data: footer atomic blocks (%d) differs from observed (%d)", foot.AtomicBlocks, sc.blocks)
		return false
	}
	sc.footer = foot
	return false
}

func (sc *Scanner) readWord() (uint64, error) {
	var word [wordSize]byte
	if _, err := io.ReadFull(sc.rd, word[:]); err != nil {
		return 0, err
	}
	sc.bytesRead += wordSize
	return binary.LittleEndian.Uint64(word[:]), nil
}

// Block returns the most recently scanned atomic block.
func (sc *Scanner) Block() Block {
	return sc.block
}

// Err returns the first error encountered, if any. A stream that ended
// cleanly at its footer leaves Err nil.
func (sc *Scanner) Err() error {
	return sc.err
}

// Footer returns the stream footer, or nil if the sentinel has not been
// reached yet.
func (sc *Scanner) Footer() *Footer {
	return sc.footer
}

// BytesRead returns the total bytes consumed from the stream, the footer
// included once it has been read.
func (sc *Scanner) BytesRead() uint64 {
	return sc.bytesRead
}

// Blocks returns the number of atomic blocks scanned so far.
func (sc *Scanner) Blocks() uint64 {
	return sc.blocks
}

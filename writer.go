// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package sfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math/rand"
)

type writerOpts struct {
	blockSize  uint64
	keepalive  uint64
	randomPad  uint64
	verbose    bool
	progressCh chan<- Progress
}

// WriterOption represents an option to NewWriter.
type WriterOption func(*writerOpts)

// BlockSize sets the atomic block payload target in bytes. It must be a
// positive multiple of SectorSize and no larger than MaxBlockSize.
func BlockSize(n int64) WriterOption {
	return func(o *writerOpts) {
		o.blockSize = uint64(n)
	}
}

// Keepalive forces an atomic block flush whenever n input bytes have been
// consumed since the previous flush, bounding silences on the output even
// across large sparse regions. Zero disables the keepalive.
func Keepalive(n int64) WriterOption {
	return func(o *writerOpts) {
		o.keepalive = uint64(n)
	}
}

// RandomPad prepends a discardable pad of roughly n random bytes to every
// atomic block (n is floored to a multiple of the generator word size and
// must not exceed MaxRandomPad). The pad keeps downstream general-purpose
// compressors from coalescing the otherwise identical keepalive blocks,
// which would undo the keepalive effect. The generator is deterministic
// and is not meant to be cryptographically strong.
func RandomPad(n int64) WriterOption {
	return func(o *writerOpts) {
		o.randomPad = uint64(n)
	}
}

// WriteVerbose controls verbose logging for compression.
func WriteVerbose(v bool) WriterOption {
	return func(o *writerOpts) {
		o.verbose = v
	}
}

// SendUpdates sets the channel over which per-flush progress updates are
// sent. The channel must be drained by the caller.
func SendUpdates(ch chan<- Progress) WriterOption {
	return func(o *writerOpts) {
		o.progressCh = ch
	}
}

// Writer compresses the byte stream written to it into the sfs encoded
// format. Close must be called to flush the final block and emit the
// sentinel and footer.
type Writer struct {
	wr   io.Writer
	opts writerOpts

	buf        []byte // payload accumulator, len == blockSize
	bufOff     int
	boundaries []uint64
	relOff     uint64
	sparseOn   bool
	sinceFlush uint64

	sector    []byte // staging for Write calls smaller than a sector
	sectorLen int

	rng  *rand.Rand
	pad  []byte
	meta []byte // wire staging for words and the boundary vector

	footer Footer
	closed bool
	err    error
}

// NewWriter returns a Writer emitting the encoded stream to wr. The stream
// preamble is written immediately; configuration errors are reported
// before any I/O takes place.
func NewWriter(wr io.Writer, opts ...WriterOption) (*Writer, error) {
	o := writerOpts{
		blockSize: DefaultBlockSize,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.blockSize == 0 || o.blockSize > MaxBlockSize {
		return nil, fmt.Errorf("atomic block size must be greater than 0 and at most %d bytes", MaxBlockSize)
	}
	if o.blockSize%SectorSize != 0 {
		return nil, fmt.Errorf("atomic block size must be a multiple of %d bytes", SectorSize)
	}
	if o.randomPad > MaxRandomPad {
		return nil, fmt.Errorf("random pad size must be at most %d bytes", MaxRandomPad)
	}
	if pad := o.randomPad; pad > 0 && pad < randWordSize {
		log.Printf("random pad size must be at least %d bytes to take effect, ignoring", randWordSize)
	}
	o.randomPad = o.randomPad / randWordSize * randWordSize

	w := &Writer{
		wr:     wr,
		opts:   o,
		buf:    make([]byte, o.blockSize),
		sector: make([]byte, SectorSize),
		// Worst case: data and sparse regions alternating every sector,
		// plus the reserved leading pair.
		boundaries: make([]uint64, 1, maxBoundaryCount(o.blockSize)),
	}
	if o.randomPad > 0 {
		// Repeatable runs matter more than random quality here, so the
		// seed is fixed.
		w.rng = rand.New(rand.NewSource(1))
		w.pad = make([]byte, o.randomPad)
	}
	if err := w.writeWord(o.randomPad); err != nil {
		return nil, err
	}
	w.footer.Written += wordSize
	return w, nil
}

func (w *Writer) trace(format string, args ...interface{}) {
	if w.opts.verbose {
		log.Printf(format, args...)
	}
}

// Write implements io.Writer. Data is consumed a sector at a time; a
// trailing partial sector is held back until Close.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, fmt.Errorf("sfs: write on closed writer")
	}
	total := len(p)
	for len(p) > 0 {
		if w.sectorLen == 0 && len(p) >= SectorSize {
			if err := w.consumeSector(p[:SectorSize], false); err != nil {
				w.err = err
				return total - len(p), err
			}
			p = p[SectorSize:]
			continue
		}
		n := copy(w.sector[w.sectorLen:], p)
		w.sectorLen += n
		p = p[n:]
		if w.sectorLen == SectorSize {
			if err := w.consumeSector(w.sector, false); err != nil {
				w.err = err
				return total - len(p), err
			}
			w.sectorLen = 0
		}
	}
	return total, nil
}

// consumeSector advances the sparse/copy state machine by one sector.
// short marks the final partial sector, which is always copied and always
// forces a flush.
func (w *Writer) consumeSector(src []byte, short bool) error {
	rb := uint64(len(src))
	w.sinceFlush += rb

	var copyMode, forceFlush bool
	switch {
	case short:
		w.trace("less than %d bytes read (%d bytes), unaligned so not skipping data", SectorSize, rb)
		copyMode, forceFlush = true, true
	case w.opts.keepalive > 0 && w.sinceFlush >= w.opts.keepalive:
		w.trace("%d bytes read since last flush, forcing copy and flush (keepalive)", w.sinceFlush)
		copyMode, forceFlush = true, true
	default:
		copyMode = !bytes.Equal(src, zeroSector[:])
	}

	if !copyMode {
		if !w.sparseOn {
			// End the data range, start a new sparse range.
			w.boundaries = append(w.boundaries, w.relOff)
			w.relOff = 0
			w.sparseOn = true
		}
		w.relOff += rb
		w.footer.Read += rb
		return nil
	}

	if w.sparseOn {
		// End the sparse range, start a new data range.
		w.boundaries = append(w.boundaries, w.relOff)
		w.relOff = 0
		w.sparseOn = false
	}
	copy(w.buf[w.bufOff:], src)
	w.bufOff += len(src)
	w.relOff += rb
	w.footer.Read += rb
	if forceFlush || w.bufOff == len(w.buf) {
		return w.flush()
	}
	return nil
}

// flush emits one atomic block: payload size, optional random pad, the
// packed payload, then the boundary vector. An odd boundary index means
// the block ends inside a data run, which the current relative offset
// closes.
func (w *Writer) flush() error {
	if len(w.boundaries)%2 != 0 {
		w.boundaries = append(w.boundaries, w.relOff)
	}
	w.trace("flushing block with %d payload bytes, %d boundaries", w.bufOff, len(w.boundaries))

	if err := w.writeWord(uint64(w.bufOff)); err != nil {
		return fmt.Errorf("write next block size: %v", err)
	}
	w.footer.Written += wordSize

	if len(w.pad) > 0 {
		for i := 0; i < len(w.pad); i += randWordSize {
			binary.LittleEndian.PutUint64(w.pad[i:], w.rng.Uint64())
		}
		if _, err := w.wr.Write(w.pad); err != nil {
			return fmt.Errorf("write block random pad: %v", err)
		}
		w.footer.Written += uint64(len(w.pad))
	}

	if _, err := w.wr.Write(w.buf[:w.bufOff]); err != nil {
		return fmt.Errorf("write block payload: %v", err)
	}
	w.footer.Written += uint64(w.bufOff)

	if err := w.writeWord(uint64(len(w.boundaries))); err != nil {
		return fmt.Errorf("write boundary count: %v", err)
	}
	w.footer.Written += wordSize

	w.meta = w.meta[:0]
	for _, b := range w.boundaries {
		var word [wordSize]byte
		binary.LittleEndian.PutUint64(word[:], b)
		w.meta = append(w.meta, word[:]...)
	}
	if _, err := w.wr.Write(w.meta); err != nil {
		return fmt.Errorf("write boundary vector: %v", err)
	}
	w.footer.Written += uint64(len(w.meta))

	w.footer.AtomicBlocks++

	// Reset for the next atomic block; boundaries[0] stays 0 and the
	// state machine resumes on the copy side.
	w.bufOff = 0
	w.sinceFlush = 0
	w.relOff = 0
	w.boundaries = w.boundaries[:1]

	if w.opts.progressCh != nil {
		w.opts.progressCh <- Progress{
			Block:   w.footer.AtomicBlocks,
			Read:    w.footer.Read,
			Written: w.footer.Written,
		}
	}
	return nil
}

// Close flushes any pending data, then emits the sentinel and the footer.
// The footer's written field accounts for the sentinel and the footer
// itself before being serialized.
func (w *Writer) Close() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return nil
	}
	w.closed = true
	w.err = w.finish()
	return w.err
}

func (w *Writer) finish() error {
	if w.sectorLen > 0 {
		if err := w.consumeSector(w.sector[:w.sectorLen], true); err != nil {
			return err
		}
		w.sectorLen = 0
	}
	if w.bufOff > 0 {
		// If the stream ended inside a sparse run, the current relative
		// offset holds the trailing zero count; it is redundant with the
		// footer's read total, so the flush simply leaves it unrecorded.
		w.trace("flushing last buffer to output")
		if err := w.flush(); err != nil {
			return err
		}
	}
	if w.footer.Read > 0 {
		w.footer.Ratio = float64(w.footer.Written) / float64(w.footer.Read)
	}
	if err := w.writeWord(Sentinel); err != nil {
		return fmt.Errorf("declare final footer: %v", err)
	}
	w.footer.Written += wordSize

	w.footer.Written += FooterSize
	if _, err := w.wr.Write(appendFooter(nil, &w.footer)); err != nil {
		return fmt.Errorf("write final footer: %v", err)
	}
	w.trace("read %d, written %d, ratio %.5f, atomic blocks %d",
		w.footer.Read, w.footer.Written, w.footer.Ratio, w.footer.AtomicBlocks)
	return nil
}

// Footer returns the footer emitted by Close. Its fields are only final
// once Close has returned successfully.
func (w *Writer) Footer() Footer {
	return w.footer
}

func (w *Writer) writeWord(v uint64) error {
	var word [wordSize]byte
	binary.LittleEndian.PutUint64(word[:], v)
	_, err := w.wr.Write(word[:])
	return err
}

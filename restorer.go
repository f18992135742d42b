// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package sfs

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/ovh/sparse-file-stripper/internal/sparsefile"
)

type restorerOpts struct {
	verbose    bool
	progressCh chan<- Progress
}

// RestorerOption represents an option to NewRestorer.
type RestorerOption func(*restorerOpts)

// RestoreVerbose controls verbose logging for restoration.
func RestoreVerbose(v bool) RestorerOption {
	return func(o *restorerOpts) {
		o.verbose = v
	}
}

// RestoreUpdates sets the channel over which per-block progress updates
// are sent. The channel must be drained by the caller.
func RestoreUpdates(ch chan<- Progress) RestorerOption {
	return func(o *restorerOpts) {
		o.progressCh = ch
	}
}

// Restorer rebuilds the original file from an encoded stream, replaying
// each block's boundary vector against its payload. Sparse regions are
// hole punched when the destination supports it.
type Restorer struct {
	opts restorerOpts
}

// NewRestorer returns a new Restorer.
func NewRestorer(opts ...RestorerOption) *Restorer {
	o := restorerOpts{}
	for _, fn := range opts {
		fn(&o)
	}
	return &Restorer{opts: o}
}

func (r *Restorer) trace(format string, args ...interface{}) {
	if r.opts.verbose {
		log.Printf(format, args...)
	}
}

// Restore reads the encoded stream from src and reconstructs it into dst,
// which must be positioned at its start and support positional I/O. The
// destination is expected to have been opened without truncation. On
// success the validated stream footer is returned; the destination being
// shorter than the reconstructed size is reported as a warning only,
// since fixed-capacity block devices cannot grow.
func (r *Restorer) Restore(ctx context.Context, src io.Reader, dst *os.File) (*Footer, error) {
	sc := NewScanner(src, ScanVerbose(r.opts.verbose))
	zr := sparsefile.NewZeroer(dst)
	var inflated uint64

	for sc.Scan(ctx) {
		n, err := r.replay(sc.Block(), zr, dst)
		if err != nil {
			return nil, err
		}
		inflated += n
		if r.opts.progressCh != nil {
			r.opts.progressCh <- Progress{
				Block:   sc.Blocks(),
				Read:    sc.BytesRead(),
				Written: inflated,
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	foot := sc.Footer()
	if foot == nil {
		return nil, fmt.Errorf("truncated stream: no footer found")
	}
	r.trace("all non-zero data written, footer checked, inflated %d", inflated)

	// An inflated volume beyond the footer's read total means the offsets
	// and the footer disagree.
	if foot.Read < inflated {
		return nil, fmt.Errorf("inconsistent data: inflated volume (%d) bigger than what is reported in footer (%d)", inflated, foot.Read)
	}

	tail := foot.Read - inflated
	cursor, err := dst.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("unable to get current position on destination: %v", err)
	}

	if tail > 0 {
		// Punching operates on sector-aligned ranges; the unaligned
		// remainder is written explicitly so the file length lands
		// exactly on the reconstructed size.
		r.trace("remaining number of zeros to write: %d bytes", tail)
		bulk := (tail - 1) / SectorSize * SectorSize
		if bulk > 0 {
			if err := zr.Advance(bulk); err != nil {
				return nil, err
			}
		}
		if rem := (tail-1)%SectorSize + 1; rem > 0 {
			if err := zr.Fill(rem); err != nil {
				return nil, fmt.Errorf("unable to write end of file: %v", err)
			}
		}
	}

	end, err := dst.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("unable to position self at the end of destination: %v", err)
	}
	if uint64(end) < uint64(cursor)+tail {
		log.Printf("warning: destination file was smaller than source, %d zeros could not be written, ignoring",
			uint64(cursor)+tail-uint64(end))
	}
	return foot, nil
}

// replay applies one block's boundary vector to the destination and
// returns the number of destination bytes the block covers.
func (r *Restorer) replay(b Block, zr *sparsefile.Zeroer, dst *os.File) (uint64, error) {
	payloadSize := uint64(len(b.Payload))
	var consumed, covered uint64
	for i := 0; i < len(b.Boundaries); i += 2 {
		sparseLen, dataLen := b.Boundaries[i], b.Boundaries[i+1]
		covered += sparseLen + dataLen

		if consumed+dataLen > payloadSize {
			return 0, fmt.Errorf("inconsistent data: boundary vector item falls out of payload bounds (%d > %d)", consumed+dataLen, payloadSize)
		}
		if sparseLen == 0 || dataLen == 0 {
			// Only the reserved leading pair may hold zero lengths.
			if i > 0 {
				return 0, fmt.Errorf("inconsistent data: zero length sparse or data region at pair %d (sparse %d, data %d)", i/2, sparseLen, dataLen)
			}
			if dataLen == 0 {
				continue
			}
		}
		if sparseLen > 0 {
			if err := zr.Advance(sparseLen); err != nil {
				return 0, err
			}
		}
		if _, err := dst.Write(b.Payload[consumed : consumed+dataLen]); err != nil {
			return 0, fmt.Errorf("unable to write data correctly on destination: %v", err)
		}
		consumed += dataLen
	}
	if consumed != payloadSize {
		return 0, fmt.Errorf("inconsistent data: payload consumed (%d) differs from expected (%d)", consumed, payloadSize)
	}
	return covered, nil
}

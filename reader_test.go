// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package sfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ovh/sparse-file-stripper/internal/testutil"
)

// streamBuilder assembles arbitrary, possibly malformed, encoded streams.
type streamBuilder struct {
	buf bytes.Buffer
}

func newStream() *streamBuilder {
	sb := &streamBuilder{}
	sb.word(0) // no random pads
	return sb
}

func (sb *streamBuilder) word(v uint64) *streamBuilder {
	var b [wordSize]byte
	binary.LittleEndian.PutUint64(b[:], v)
	sb.buf.Write(b[:])
	return sb
}

func (sb *streamBuilder) raw(p []byte) *streamBuilder {
	sb.buf.Write(p)
	return sb
}

func (sb *streamBuilder) block(payload []byte, boundaries ...uint64) *streamBuilder {
	sb.word(uint64(len(payload)))
	sb.raw(payload)
	sb.word(uint64(len(boundaries)))
	for _, b := range boundaries {
		sb.word(b)
	}
	return sb
}

// finish appends the sentinel and a footer that is consistent with the
// stream built so far, then applies mutate to corrupt it if non-nil.
func (sb *streamBuilder) finish(read, blocks uint64, mutate func(*Footer)) []byte {
	sb.word(Sentinel)
	foot := Footer{
		Read:         read,
		Written:      uint64(sb.buf.Len()) + FooterSize,
		AtomicBlocks: blocks,
	}
	if read > 0 {
		foot.Ratio = float64(foot.Written) / float64(read)
	}
	if mutate != nil {
		mutate(&foot)
	}
	return appendFooter(sb.buf.Bytes(), &foot)
}

func (sb *streamBuilder) bytes() []byte {
	return sb.buf.Bytes()
}

func restoreErr(t *testing.T, enc []byte) error {
	t.Helper()
	name := filepath.Join(t.TempDir(), "restored")
	dst, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		t.Fatalf("open destination: %v", err)
	}
	defer dst.Close()
	_, err = NewRestorer().Restore(context.Background(), bytes.NewReader(enc), dst)
	return err
}

func TestRestoreRejectsCorruptStreams(t *testing.T) {
	sector := testutil.Data(SectorSize)
	for _, tc := range []struct {
		name string
		enc  []byte
		want string
	}{
		{
			name: "odd-boundary-count",
			enc: newStream().
				word(SectorSize).raw(sector).word(3).
				bytes(),
			want: "positive even integer",
		},
		{
			name: "boundary-count-over-bound",
			enc: newStream().
				word(SectorSize).raw(sector).word(6).
				bytes(),
			want: "positive even integer",
		},
		{
			name: "zero-payload-size",
			enc:  newStream().word(0).bytes(),
			want: "unexpected atomic block size",
		},
		{
			name: "oversized-payload",
			enc:  newStream().word(MaxBlockSize + 1).bytes(),
			want: "unexpected atomic block size",
		},
		{
			name: "nonzero-first-boundary",
			enc: newStream().
				block(sector, SectorSize, SectorSize).
				bytes(),
			want: "expected 0",
		},
		{
			name: "zero-pair-beyond-first",
			enc: newStream().
				block(testutil.Data(2*SectorSize), 0, SectorSize, 0, SectorSize).
				finish(2*SectorSize, 1, nil),
			want: "zero length sparse or data region",
		},
		{
			name: "payload-overrun",
			enc: newStream().
				block(sector, 0, 2*SectorSize).
				finish(2*SectorSize, 1, nil),
			want: "out of payload bounds",
		},
		{
			name: "payload-underrun",
			enc: newStream().
				block(testutil.Data(2*SectorSize), 0, SectorSize).
				finish(2*SectorSize, 1, nil),
			want: "payload consumed",
		},
		{
			name: "truncated-payload",
			enc:  newStream().word(SectorSize).raw(sector[:100]).bytes(),
			want: "read atomic block payload",
		},
		{
			name: "missing-footer",
			enc:  newStream().bytes(),
			want: "read atomic block size",
		},
		{
			name: "footer-written-mismatch",
			enc: newStream().
				block(sector, 0, SectorSize).
				finish(SectorSize, 1, func(f *Footer) { f.Written++ }),
			want: "differs from what was really read",
		},
		{
			name: "footer-block-count-mismatch",
			enc: newStream().
				block(sector, 0, SectorSize).
				finish(SectorSize, 1, func(f *Footer) { f.AtomicBlocks = 2 }),
			want: "footer atomic blocks",
		},
		{
			name: "footer-read-below-inflated",
			enc: newStream().
				block(sector, 0, SectorSize).
				finish(100, 1, nil),
			want: "inflated volume",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := restoreErr(t, tc.enc)
			if err == nil {
				t.Fatalf("corrupt stream accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestScannerBlocks(t *testing.T) {
	ctx := context.Background()
	input := testutil.Concat(
		testutil.Zeros(SectorSize),
		testutil.Data(2*SectorSize),
		testutil.Zeros(3*SectorSize),
	)
	enc, foot := encode(t, input)

	sc := NewScanner(bytes.NewReader(enc))
	var blocks int
	for sc.Scan(ctx) {
		blk := sc.Block()
		if got, want := len(blk.Payload), 2*SectorSize; got != want {
			t.Errorf("payload: got %v bytes, want %v", got, want)
		}
		if got, want := blk.Boundaries, []uint64{0, 0, SectorSize, 2 * SectorSize}; !equalU64(got, want) {
			t.Errorf("boundaries: got %v, want %v", got, want)
		}
		blocks++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("Err: %v", err)
	}
	if blocks != 1 {
		t.Fatalf("blocks scanned: got %v, want 1", blocks)
	}
	if got := sc.Footer(); got == nil || *got != foot {
		t.Errorf("scanner footer: got %+v, want %+v", got, foot)
	}
	if got, want := sc.BytesRead(), uint64(len(enc)); got != want {
		t.Errorf("bytes read: got %v, want %v", got, want)
	}
}

func TestScannerContextCancellation(t *testing.T) {
	enc, _ := encode(t, testutil.Data(SectorSize))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sc := NewScanner(bytes.NewReader(enc))
	if sc.Scan(ctx) {
		t.Fatalf("Scan succeeded after cancellation")
	}
	if err := sc.Err(); err != context.Canceled {
		t.Errorf("Err: got %v, want %v", err, context.Canceled)
	}
}

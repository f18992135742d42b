// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package sfs implements a sparse-file aware stream codec. The compressor
// scans its input in fixed 4096-byte sectors and emits only the non-zero
// ones, packed into atomic blocks; a boundary vector per block records the
// alternating sparse/data layout so that the decompressor can rebuild a
// byte-identical file, punching filesystem holes for the sparse regions
// whenever the destination supports it.
//
// Stream layout (all integers little-endian unsigned 64-bit):
//
//	stream := random_size_bytes:u64
//	          block*
//	          sentinel:u64        // == 2^64 - 1
//	          footer
//	block  := payload_size:u64
//	          random_pad[random_size_bytes]   (only if random_size_bytes > 0)
//	          payload[payload_size]
//	          boundary_count:u64
//	          boundaries[boundary_count]      (each u64)
//	footer := read:u64 written:u64 ratio:f64 atomic_blocks:u64
package sfs

import (
	"encoding/binary"
	"math"
)

const (
	// SectorSize is the zero-detection granularity: a sector is sparse
	// iff all of its SectorSize bytes are zero.
	SectorSize = 4096

	// DefaultBlockSize is the default atomic block payload target.
	DefaultBlockSize = 256 << 20

	// MaxBlockSize bounds the payload of a single atomic block. Block
	// sizes above this are rejected both when compressing and when
	// decoding a stream.
	MaxBlockSize = 4 << 30

	// MaxRandomPad bounds the per-block discardable random pad.
	MaxRandomPad = 10 << 20

	// Sentinel takes the place of the next payload_size once all atomic
	// blocks have been emitted; the footer follows immediately.
	Sentinel = ^uint64(0)

	wordSize = 8

	// randWordSize is the fill granularity of the random pad generator;
	// requested pad sizes are floored to a multiple of it.
	randWordSize = 8

	// FooterSize is the wire size of the trailing footer record.
	FooterSize = 4 * wordSize
)

// Footer is the fixed trailing record of an encoded stream. Written counts
// every byte of the stream, the footer itself included.
type Footer struct {
	Read         uint64
	Written      uint64
	Ratio        float64
	AtomicBlocks uint64
}

func appendFooter(dst []byte, f *Footer) []byte {
	var buf [FooterSize]byte
	binary.LittleEndian.PutUint64(buf[0:], f.Read)
	binary.LittleEndian.PutUint64(buf[8:], f.Written)
	binary.LittleEndian.PutUint64(buf[16:], math.Float64bits(f.Ratio))
	binary.LittleEndian.PutUint64(buf[24:], f.AtomicBlocks)
	return append(dst, buf[:]...)
}

func parseFooter(buf []byte) Footer {
	return Footer{
		Read:         binary.LittleEndian.Uint64(buf[0:]),
		Written:      binary.LittleEndian.Uint64(buf[8:]),
		Ratio:        math.Float64frombits(binary.LittleEndian.Uint64(buf[16:])),
		AtomicBlocks: binary.LittleEndian.Uint64(buf[24:]),
	}
}

// maxBoundaryCount is the upper bound on a block's boundary vector length:
// alternating one-sector sparse and data runs, plus a leading sparse pair.
// A partial final sector counts as a whole sector.
func maxBoundaryCount(payloadSize uint64) uint64 {
	return 2 * ((payloadSize+SectorSize-1)/SectorSize + 1)
}

// Progress reports cumulative codec totals after each atomic block. Read
// and Written are from the point of view of the component reporting: the
// Writer counts input bytes consumed and encoded bytes emitted, the
// Restorer counts encoded bytes consumed and destination bytes
// materialized.
type Progress struct {
	Block   uint64
	Read    uint64
	Written uint64
}

var zeroSector [SectorSize]byte

// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package sfs

import (
	"fmt"
	"io"
)

// ReadFooter reads the footer record at the current position of rd. The
// caller guarantees the cursor already sits on the footer; the decoder
// uses this after consuming the sentinel.
func ReadFooter(rd io.Reader) (*Footer, error) {
	var buf [FooterSize]byte
	n, err := io.ReadFull(rd, buf[:])
	if err != nil {
		return nil, fmt.Errorf("unexpected number of bytes read (expected %d, actual %d): %v", FooterSize, n, err)
	}
	foot := parseFooter(buf[:])
	return &foot, nil
}

// ExtractFooter repositions rs to the footer at the end of the stream and
// reads it.
func ExtractFooter(rs io.ReadSeeker) (*Footer, error) {
	if _, err := rs.Seek(-FooterSize, io.SeekEnd); err != nil {
		return nil, fmt.Errorf("unable to position to %d bytes before end of source: %v", FooterSize, err)
	}
	return ReadFooter(rs)
}

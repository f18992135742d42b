// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.
package sfs

import (
	"bytes"
	"testing"

	"github.com/ovh/sparse-file-stripper/internal/testutil"
)

func TestExtractFooter(t *testing.T) {
	enc, foot := encode(t, testutil.Concat(testutil.Data(SectorSize), testutil.Zeros(SectorSize)))
	got, err := ExtractFooter(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("ExtractFooter: %v", err)
	}
	if *got != foot {
		t.Errorf("footer: got %+v, want %+v", got, foot)
	}
}

func TestExtractFooterShortStream(t *testing.T) {
	if _, err := ExtractFooter(bytes.NewReader(make([]byte, FooterSize-1))); err == nil {
		t.Errorf("expected error on stream shorter than a footer")
	}
}

func TestReadFooterInPlace(t *testing.T) {
	enc, foot := encode(t, testutil.Data(SectorSize))
	rd := bytes.NewReader(enc[len(enc)-FooterSize:])
	got, err := ReadFooter(rd)
	if err != nil {
		t.Fatalf("ReadFooter: %v", err)
	}
	if *got != foot {
		t.Errorf("footer: got %+v, want %+v", got, foot)
	}
}

// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

//go:build !linux
// +build !linux

package sparsefile

import (
	"errors"
	"os"
)

var errPunchUnsupported = errors.New("hole punching not supported on this platform")

func punchHole(f *os.File, off, length int64) error {
	return errPunchUnsupported
}

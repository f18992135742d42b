// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command sfs-stats prints the summary footer of an sfs encoded stream.
//
//	sfs-stats filename
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"cloudeng.io/cmdutil"
	"cloudeng.io/errors"

	sfs "github.com/ovh/sparse-file-stripper"
	"github.com/ovh/sparse-file-stripper/internal/fileurl"
	"github.com/ovh/sparse-file-stripper/internal/scope"
)

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("sfs-stats: %v", err)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: sfs-stats filename")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)

	sc := scope.New()
	errs := &errors.M{}

	rs, cleanup, err := fileurl.OpenSeeker(ctx, args[0])
	if err != nil {
		return err
	}
	sc.Defer(func() error { return cleanup(ctx) })

	foot, err := sfs.ExtractFooter(rs)
	errs.Append(err)
	errs.Append(sc.Close())
	if err := errs.Err(); err != nil {
		return err
	}
	fmt.Printf("read=%d, written=%d, ratio=%.5f, atomic_blocks=%d\n",
		foot.Read, foot.Written, foot.Ratio, foot.AtomicBlocks)
	return nil
}

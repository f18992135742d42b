// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command sfsuz reconstructs a file from an sfs encoded stream, punching
// filesystem holes for the sparse regions when the destination supports
// it.
//
//	sfsuz src_path dst_path
//
// "-" as src_path selects standard input; the source may also be a local
// file, an s3:// object or an http(s) URL. The destination must be a
// regular path supporting positional I/O; it is opened without
// truncation, so a preallocated file or block device keeps its length.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"cloudeng.io/cmdutil"
	"cloudeng.io/cmdutil/flags"
	"cloudeng.io/errors"
	"github.com/schollz/progressbar/v2"
	"golang.org/x/crypto/ssh/terminal"

	sfs "github.com/ovh/sparse-file-stripper"
	"github.com/ovh/sparse-file-stripper/internal/fileurl"
	"github.com/ovh/sparse-file-stripper/internal/scope"
)

type restoreFlags struct {
	Progress bool `subcmd:"progress,true,'display a progress bar when the source size is known'"`
	Verbose  bool `subcmd:"verbose,false,'verbose debug/trace information'"`
}

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("sfsuz: %v", err)
	}
}

func progressBar(wr io.Writer, ch <-chan sfs.Progress, size int64) {
	bar := progressbar.NewOptions64(size,
		progressbar.OptionSetBytes64(size),
		progressbar.OptionSetWriter(wr),
		progressbar.OptionSetPredictTime(true))
	bar.RenderBlank()
	var prev uint64
	for p := range ch {
		bar.Add(int(p.Read - prev))
		prev = p.Read
	}
	fmt.Fprintf(wr, "\n")
}

func run(ctx context.Context, args []string) error {
	cl := &restoreFlags{}
	fs := flag.NewFlagSet("sfsuz", flag.ExitOnError)
	if err := flags.RegisterFlagsInStruct(fs, "subcmd", cl, nil, nil); err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: sfsuz src_path dst_path")
	}
	srcName, dstName := fs.Arg(0), fs.Arg(1)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	cmdutil.HandleSignals(cancel, os.Interrupt)

	sc := scope.New()
	errs := &errors.M{}
	fail := func(err error) error {
		errs.Append(err)
		errs.Append(sc.Close())
		return errs.Err()
	}

	rd, size, rdCleanup, err := fileurl.Open(ctx, srcName)
	if err != nil {
		return fail(err)
	}
	sc.Defer(func() error { return rdCleanup(ctx) })

	// No truncation: the destination may be a block device or a
	// preallocated file whose length matters.
	dst, err := os.OpenFile(dstName, os.O_WRONLY|os.O_CREATE, 0600)
	if err != nil {
		return fail(fmt.Errorf("unable to open destination file for writing: %v", err))
	}
	sc.Defer(dst.Close)

	opts := []sfs.RestorerOption{sfs.RestoreVerbose(cl.Verbose)}

	var (
		barWg sync.WaitGroup
		ch    chan sfs.Progress
	)
	if cl.Progress && size > 0 && terminal.IsTerminal(int(os.Stderr.Fd())) {
		ch = make(chan sfs.Progress, 1)
		opts = append(opts, sfs.RestoreUpdates(ch))
		barWg.Add(1)
		go func() {
			defer barWg.Done()
			progressBar(os.Stderr, ch, size)
		}()
	}

	_, err = sfs.NewRestorer(opts...).Restore(ctx, rd, dst)
	if ch != nil {
		close(ch)
		barWg.Wait()
	}
	if err != nil {
		return fail(err)
	}
	return sc.Close()
}

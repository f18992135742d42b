// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command sfsz compresses a byte stream into the sfs sparse-file format.
//
//	sfsz [-b atomic_block_size_bytes] [-k read_bytes_keepalive] [-r random_size_bytes] src_path dst_path
//
// "-" as src_path or dst_path selects standard input or output. The
// source may also be a local file, an s3:// object or an http(s) URL.
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

type stripFlags struct {
	BlockSize int64 `subcmd:"b,268435456,'atomic block payload size in bytes, a positive multiple of 4096'"`
	Keepalive int64 `subcmd:"k,0,'force an atomic block flush after this many input bytes, 0 disables'"`
	RandomPad int64 `subcmd:"r,0,'discardable random pad size per atomic block, in bytes'"`
	Progress  bool  `subcmd:"progress,true,'display a progress bar when the input size is known'"`
	Verbose   bool  `subcmd:"verbose,false,'verbose debug/trace information'"`
}

func main() {
	log.SetFlags(0)
	if err := run(context.Background(), os.Args[1:]); err != nil {
		log.Fatalf("sfsz: %v", err)
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
	cl := &stripFlags{}
	fs := flag.NewFlagSet("sfsz", flag.ExitOnError)
	if err := flags.RegisterFlagsInStruct(fs, "subcmd", cl, nil, nil); err != nil {
		return err
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("usage: sfsz [-b atomic_block_size_bytes] [-k read_bytes_keepalive] [-r random_size_bytes] src_path dst_path")
	}
	if cl.BlockSize < 0 || cl.Keepalive < 0 || cl.RandomPad < 0 {
		return fmt.Errorf("option values must not be negative")
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

	wr, wrCleanup, err := fileurl.Create(ctx, dstName)
	if err != nil {
		return fail(err)
	}
	sc.Defer(func() error { return wrCleanup(ctx) })

	opts := []sfs.WriterOption{
		sfs.BlockSize(cl.BlockSize),
		sfs.Keepalive(cl.Keepalive),
		sfs.RandomPad(cl.RandomPad),
		sfs.WriteVerbose(cl.Verbose),
	}

	var (
		barWg sync.WaitGroup
		ch    chan sfs.Progress
	)
	if cl.Progress && size > 0 && dstName != "-" && terminal.IsTerminal(int(os.Stderr.Fd())) {
		ch = make(chan sfs.Progress, 1)
		opts = append(opts, sfs.SendUpdates(ch))
		barWg.Add(1)
		go func() {
			defer barWg.Done()
			progressBar(os.Stderr, ch, size)
		}()
	}
	finishBar := func() {
		if ch != nil {
			close(ch)
			barWg.Wait()
			ch = nil
		}
	}

	w, err := sfs.NewWriter(wr, opts...)
	if err != nil {
		finishBar()
		return fail(err)
	}
	if _, err := io.Copy(w, fileurl.ContextReader(ctx, rd)); err != nil {
		finishBar()
		return fail(err)
	}
	if err := w.Close(); err != nil {
		finishBar()
		return fail(err)
	}
	finishBar()

	if err := sc.Close(); err != nil {
		return err
	}
	foot := w.Footer()
	fmt.Fprintf(os.Stderr, "read=%d, written=%d, ratio=%.5f, atomic_blocks=%d\n",
		foot.Read, foot.Written, foot.Ratio, foot.AtomicBlocks)
	return nil
}

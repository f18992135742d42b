// Copyright 2022 OVHcloud. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package fileurl opens the stream endpoints accepted by the sfs tools:
// local paths, s3:// objects, http(s) URLs and the "-" stdio convention.
package fileurl

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

func noopCleanup(context.Context) error { return nil }

// Open returns a reader for name, the stream size if known (-1 otherwise)
// and a cleanup function. "-" means standard input.
func Open(ctx context.Context, name string) (io.Reader, int64, func(context.Context) error, error) {
	if name == "-" {
		return os.Stdin, -1, noopCleanup, nil
	}
	if strings.HasPrefix(name, "http") {
		resp, err := http.Get(name)
		if err != nil {
			return nil, 0, nil, err
		}
		return resp.Body,
			resp.ContentLength,
			func(context.Context) error {
				return resp.Body.Close()
			},
			nil
	}
	info, err := file.Stat(ctx, name)
	if err != nil {
		return nil, 0, nil, err
	}
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, 0, nil, err
	}
	return f.Reader(ctx), info.Size(), f.Close, nil
}

// OpenSeeker opens name for positional reads; stdio and URL forms are not
// supported here.
func OpenSeeker(ctx context.Context, name string) (io.ReadSeeker, func(context.Context) error, error) {
	f, err := file.Open(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Reader(ctx), f.Close, nil
}

// Create returns a writer for name and a cleanup function. "-" means
// standard output.
func Create(ctx context.Context, name string) (io.Writer, func(context.Context) error, error) {
	if name == "-" {
		return os.Stdout, noopCleanup, nil
	}
	f, err := file.Create(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	return f.Writer(ctx), f.Close, nil
}

type ctxReader struct {
	ctx context.Context
	rd  io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-c.ctx.Done():
		return 0, c.ctx.Err()
	default:
	}
	return c.rd.Read(p)
}

// ContextReader wraps rd so that reads fail once ctx is cancelled, giving
// serial copy loops a cancellation point.
func ContextReader(ctx context.Context, rd io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, rd: rd}
}

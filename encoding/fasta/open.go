// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fasta

import (
	"bytes"
	"context"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// File is a Fasta backed by an open file.  It must be closed after use.
type File struct {
	Fasta
	in file.File
}

// Open opens the FASTA file at path.  If path.fai exists it is used for
// random access.  Otherwise an uncompressed file is indexed on the fly and
// gzipped files are loaded into memory.
func Open(ctx context.Context, path string) (_ *File, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "fasta.Open %s", path)
	}
	defer func() {
		if err != nil {
			in.Close(ctx) // nolint: errcheck
		}
	}()
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(in.Reader(ctx))
		if err != nil {
			return nil, errors.Wrapf(err, "fasta.Open %s", path)
		}
		fa, err := New(gz)
		if err != nil {
			return nil, errors.Wrapf(err, "fasta.Open %s", path)
		}
		if err := in.Close(ctx); err != nil {
			return nil, err
		}
		return &File{Fasta: fa}, nil
	}

	var index bytes.Buffer
	if idx, ierr := file.Open(ctx, path+".fai"); ierr == nil {
		_, err = io.Copy(&index, idx.Reader(ctx))
		if cerr := idx.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			return nil, errors.Wrapf(err, "fasta.Open %s.fai", path)
		}
	} else {
		log.Debug.Printf("fasta.Open: no index for %s, building one", path)
		if err = GenerateIndex(&index, in.Reader(ctx)); err != nil {
			return nil, errors.Wrapf(err, "fasta.Open %s", path)
		}
	}
	fa, err := NewIndexed(in.Reader(ctx), &index)
	if err != nil {
		return nil, errors.Wrapf(err, "fasta.Open %s", path)
	}
	return &File{Fasta: fa, in: in}, nil
}

// Close releases the underlying file.
func (f *File) Close(ctx context.Context) error {
	if f.in == nil {
		return nil
	}
	return f.in.Close(ctx)
}

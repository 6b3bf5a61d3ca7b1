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

package geli

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/grailbio/hts/bgzf"
)

// Binary layout, inside a bgzf stream, all integers little-endian:
//   magic "GELI\x01"
//   uint32 number of references, then per reference:
//     uint32 name length, name, uint32 reference length
//   records until EOF, each binaryRecordLen bytes:
//     [0..4): reference index
//     [4..8): 1-based position
//     8: reference base
//     [9..13): number of reads
//     13: maximum mapping quality
//     [14..54): float32 log10 likelihoods
var binaryMagic = []byte("GELI\x01")

const binaryRecordLen = 14 + 4*NGenotype

// Reference is one entry of the sequence dictionary.
type Reference struct {
	Name string
	Len  int
}

// BinaryWriter writes the binary GELI format.
type BinaryWriter struct {
	bw       *bgzf.Writer
	refs     []Reference
	refIndex map[string]int
	buf      [binaryRecordLen]byte
}

// NewBinaryWriter writes the file header, including the sequence dictionary
// refs, to w.  Records may only name references in refs.  parallelism is
// passed to the bgzf compressor.  Close must be called to finish the
// stream; it does not close w.
func NewBinaryWriter(w io.Writer, refs []Reference, parallelism int) (*BinaryWriter, error) {
	bw := &BinaryWriter{
		bw:       bgzf.NewWriter(w, parallelism),
		refs:     refs,
		refIndex: make(map[string]int, len(refs)),
	}
	var hdr bytes.Buffer
	hdr.Write(binaryMagic)
	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(refs)))
	hdr.Write(u32[:])
	for i, ref := range refs {
		bw.refIndex[ref.Name] = i
		binary.LittleEndian.PutUint32(u32[:], uint32(len(ref.Name)))
		hdr.Write(u32[:])
		hdr.WriteString(ref.Name)
		binary.LittleEndian.PutUint32(u32[:], uint32(ref.Len))
		hdr.Write(u32[:])
	}
	if _, err := bw.bw.Write(hdr.Bytes()); err != nil {
		return nil, err
	}
	return bw, nil
}

// Write writes one record.
func (w *BinaryWriter) Write(r *Record) error {
	idx, ok := w.refIndex[r.Chrom]
	if !ok {
		return fmt.Errorf("geli: reference %s is not in the sequence dictionary", r.Chrom)
	}
	b := w.buf[:]
	binary.LittleEndian.PutUint32(b[0:4], uint32(idx))
	binary.LittleEndian.PutUint32(b[4:8], uint32(r.Pos))
	b[8] = r.Ref
	binary.LittleEndian.PutUint32(b[9:13], uint32(r.NumReads))
	mapQ := r.MaxMapQ
	if mapQ > 255 {
		mapQ = 255
	}
	b[13] = byte(mapQ)
	for g, l := range r.Likelihoods {
		binary.LittleEndian.PutUint32(b[14+4*g:18+4*g], math.Float32bits(float32(l)))
	}
	_, err := w.bw.Write(b)
	return err
}

// Close flushes and terminates the bgzf stream.
func (w *BinaryWriter) Close() error {
	return w.bw.Close()
}

// BinaryReader reads the binary GELI format.
type BinaryReader struct {
	br   *bgzf.Reader
	refs []Reference
	buf  [binaryRecordLen]byte
}

// NewBinaryReader reads the file header from r.
func NewBinaryReader(r io.Reader) (*BinaryReader, error) {
	br, err := bgzf.NewReader(r, 1)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, len(binaryMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, binaryMagic) {
		return nil, fmt.Errorf("geli: bad magic %q", magic)
	}
	readU32 := func() (uint32, error) {
		var u32 [4]byte
		if _, err := io.ReadFull(br, u32[:]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint32(u32[:]), nil
	}
	n, err := readU32()
	if err != nil {
		return nil, err
	}
	refs := make([]Reference, n)
	for i := range refs {
		nameLen, err := readU32()
		if err != nil {
			return nil, err
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(br, name); err != nil {
			return nil, err
		}
		refLen, err := readU32()
		if err != nil {
			return nil, err
		}
		refs[i] = Reference{Name: string(name), Len: int(refLen)}
	}
	return &BinaryReader{br: br, refs: refs}, nil
}

// Refs returns the sequence dictionary.
func (r *BinaryReader) Refs() []Reference {
	return r.refs
}

// Read returns the next record, or io.EOF after the last one.
func (r *BinaryReader) Read() (Record, error) {
	b := r.buf[:]
	if _, err := io.ReadFull(r.br, b); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("geli: truncated record")
		}
		return Record{}, err
	}
	idx := int(binary.LittleEndian.Uint32(b[0:4]))
	if idx >= len(r.refs) {
		return Record{}, fmt.Errorf("geli: reference index %d out of range", idx)
	}
	rec := Record{
		Chrom:    r.refs[idx].Name,
		Pos:      int(binary.LittleEndian.Uint32(b[4:8])),
		Ref:      b[8],
		NumReads: int(binary.LittleEndian.Uint32(b[9:13])),
		MaxMapQ:  int(b[13]),
	}
	for g := range rec.Likelihoods {
		rec.Likelihoods[g] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[14+4*g : 18+4*g])))
	}
	return rec, nil
}

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

// Package glf reads and writes single-sample SNP genotype likelihoods in the
// GLF version 3 binary format.
//
// A GLF file is a bgzf stream holding the magic "GLF\x03" and a header
// text, then one block per reference: the reference name and length,
// followed by records, ending with an end-of-reference record.  Each record
// starts with a byte holding the 4-bit reference base in its high nibble and
// the record type in its low nibble.  SNP records store their position as an
// offset from the previous record of the block, and their ten genotype
// likelihoods as phred-scaled values relative to the most likely genotype.
package glf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/grailbio/hts/bgzf"
)

var magic = []byte("GLF\x03")

// Record types.
const (
	typeEnd = 0
	typeSNP = 1
)

const (
	// NGenotype is the number of genotypes, ordered AA, AC, AG, AT, CC, CG,
	// CT, GG, GT, TT.
	NGenotype = 10
	// MaxLikelihood caps the stored phred-scaled likelihoods.
	MaxLikelihood = 255
	maxDepth      = 1<<24 - 1
	snpRecordLen  = 1 + 4 + 4 + 1 + NGenotype
)

// nt16 codes, indexed by ASCII base.
var nt16Table = [256]byte{}

var nt16ToASCII = [16]byte{'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V', 'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N'}

func init() {
	for i := range nt16Table {
		nt16Table[i] = 15
	}
	for code, base := range nt16ToASCII {
		nt16Table[base] = byte(code)
		nt16Table[base|0x20] = byte(code)
	}
}

// SNPRecord is one site.
type SNPRecord struct {
	// Pos is 0-based.
	Pos uint32
	// Ref is an ASCII base.
	Ref     byte
	Depth   uint32
	RMSMapQ byte
	// MinLikelihood is the phred-scaled likelihood of the most likely
	// genotype, capped at MaxLikelihood.
	MinLikelihood byte
	// Likelihoods are phred-scaled, relative to MinLikelihood.
	Likelihoods [NGenotype]byte
}

// SetLog10Likelihoods fills MinLikelihood and Likelihoods from log10
// genotype likelihoods.
func (r *SNPRecord) SetLog10Likelihoods(l [NGenotype]float64) {
	var phred [NGenotype]float64
	min := math.Inf(1)
	for g, v := range l {
		phred[g] = math.Round(-10 * v)
		if phred[g] < min {
			min = phred[g]
		}
	}
	r.MinLikelihood = capLikelihood(min)
	for g := range phred {
		r.Likelihoods[g] = capLikelihood(phred[g] - min)
	}
}

func capLikelihood(v float64) byte {
	if v > MaxLikelihood || math.IsNaN(v) {
		return MaxLikelihood
	}
	if v < 0 {
		return 0
	}
	return byte(v)
}

// Reference is one reference block header.
type Reference struct {
	Name string
	Len  uint32
}

// Writer writes a GLF file.
type Writer struct {
	bw      *bgzf.Writer
	inRef   bool
	lastPos uint32
	buf     bytes.Buffer
}

// NewWriter writes the file header, with header text text, to w.
// parallelism is passed to the bgzf compressor.  Close must be called to
// finish the stream; it does not close w.
func NewWriter(w io.Writer, text string, parallelism int) (*Writer, error) {
	gw := &Writer{bw: bgzf.NewWriter(w, parallelism)}
	gw.buf.Write(magic)
	gw.putUint32(uint32(len(text)))
	gw.buf.WriteString(text)
	if err := gw.flushBuf(); err != nil {
		return nil, err
	}
	return gw, nil
}

func (w *Writer) putUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) flushBuf() error {
	_, err := w.bw.Write(w.buf.Bytes())
	w.buf.Reset()
	return err
}

// StartReference ends the current reference block, if any, and starts a new
// one.
func (w *Writer) StartReference(ref Reference) error {
	if w.inRef {
		w.buf.WriteByte(typeEnd)
	}
	// The name is stored NUL-terminated, and its length includes the NUL.
	w.putUint32(uint32(len(ref.Name) + 1))
	w.buf.WriteString(ref.Name)
	w.buf.WriteByte(0)
	w.putUint32(ref.Len)
	w.inRef = true
	w.lastPos = 0
	return w.flushBuf()
}

// WriteSNP writes one record in the current reference block.  Positions must
// be nondecreasing within a block.
func (w *Writer) WriteSNP(r *SNPRecord) error {
	if !w.inRef {
		return fmt.Errorf("glf: record at %d outside a reference block", r.Pos)
	}
	if r.Pos < w.lastPos {
		return fmt.Errorf("glf: position %d after %d", r.Pos, w.lastPos)
	}
	depth := r.Depth
	if depth > maxDepth {
		depth = maxDepth
	}
	w.buf.WriteByte(nt16Table[r.Ref]<<4 | typeSNP)
	w.putUint32(r.Pos - w.lastPos)
	w.putUint32(depth | uint32(r.MinLikelihood)<<24)
	w.buf.WriteByte(r.RMSMapQ)
	w.buf.Write(r.Likelihoods[:])
	w.lastPos = r.Pos
	return w.flushBuf()
}

// Close ends the current reference block and terminates the bgzf stream.
func (w *Writer) Close() error {
	if w.inRef {
		w.buf.WriteByte(typeEnd)
		w.inRef = false
		if err := w.flushBuf(); err != nil {
			return err
		}
	}
	return w.bw.Close()
}

// Reader reads a GLF file.
type Reader struct {
	br      *bgzf.Reader
	text    string
	ref     Reference
	inRef   bool
	lastPos uint32
}

// NewReader reads the file header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br, err := bgzf.NewReader(r, 1)
	if err != nil {
		return nil, err
	}
	m := make([]byte, len(magic))
	if _, err := io.ReadFull(br, m); err != nil {
		return nil, err
	}
	if !bytes.Equal(m, magic) {
		return nil, fmt.Errorf("glf: bad magic %q", m)
	}
	gr := &Reader{br: br}
	n, err := gr.uint32()
	if err != nil {
		return nil, err
	}
	text := make([]byte, n)
	if _, err := io.ReadFull(br, text); err != nil {
		return nil, err
	}
	gr.text = string(text)
	return gr, nil
}

func (r *Reader) uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.br, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// Text returns the header text.
func (r *Reader) Text() string {
	return r.text
}

// Read returns the next SNP record and the reference block it belongs to.
// It returns io.EOF after the last block.
func (r *Reader) Read() (Reference, SNPRecord, error) {
	for {
		if !r.inRef {
			nameLen, err := r.uint32()
			if err != nil {
				return Reference{}, SNPRecord{}, err
			}
			if nameLen == 0 {
				return Reference{}, SNPRecord{}, fmt.Errorf("glf: empty reference name")
			}
			name := make([]byte, nameLen)
			if _, err := io.ReadFull(r.br, name); err != nil {
				return Reference{}, SNPRecord{}, err
			}
			refLen, err := r.uint32()
			if err != nil {
				return Reference{}, SNPRecord{}, err
			}
			r.ref = Reference{Name: string(name[:nameLen-1]), Len: refLen}
			r.inRef = true
			r.lastPos = 0
		}
		var typ [1]byte
		if _, err := io.ReadFull(r.br, typ[:]); err != nil {
			return Reference{}, SNPRecord{}, fmt.Errorf("glf: reference %s: missing end-of-reference record", r.ref.Name)
		}
		switch typ[0] & 0xf {
		case typeEnd:
			r.inRef = false
			continue
		case typeSNP:
		default:
			return Reference{}, SNPRecord{}, fmt.Errorf("glf: unsupported record type %d", typ[0]&0xf)
		}
		var b [snpRecordLen - 1]byte
		if _, err := io.ReadFull(r.br, b[:]); err != nil {
			return Reference{}, SNPRecord{}, fmt.Errorf("glf: truncated record")
		}
		packed := binary.LittleEndian.Uint32(b[4:8])
		rec := SNPRecord{
			Pos:           r.lastPos + binary.LittleEndian.Uint32(b[0:4]),
			Ref:           nt16ToASCII[typ[0]>>4],
			Depth:         packed & maxDepth,
			MinLikelihood: byte(packed >> 24),
			RMSMapQ:       b[8],
		}
		copy(rec.Likelihoods[:], b[9:])
		r.lastPos = rec.Pos
		return r.ref, rec, nil
	}
}

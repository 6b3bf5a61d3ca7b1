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

package vcf

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/tsv"
)

// InfoField is one key[=value] entry of the INFO column.  Value is empty for
// Flag fields.
type InfoField struct {
	Key   string
	Value string
}

// Record is one data line.  Pos is 1-based.  A NaN Qual is written as ".".
type Record struct {
	Chrom  string
	Pos    int
	ID     string
	Ref    string
	Alt    []string
	Qual   float64
	Filter string
	Info   []InfoField
	// Format names the per-sample fields, and Samples[i][j] is the value of
	// Format[j] for sample i.
	Format  []string
	Samples [][]string
}

// Writer writes records against a fixed header.  Every INFO and FORMAT key
// written must have been declared in the header.
type Writer struct {
	h   *Header
	w   *tsv.Writer
	buf strings.Builder
}

// NewWriter writes h to w, and returns a writer for the records.
func NewWriter(w io.Writer, h *Header) (*Writer, error) {
	if err := h.Write(w); err != nil {
		return nil, err
	}
	return &Writer{h: h, w: tsv.NewWriter(w)}, nil
}

func orDot(s string) string {
	if s == "" {
		return "."
	}
	return s
}

// FormatFloat renders v with at most prec digits after the decimal point,
// dropping trailing zeros.
func FormatFloat(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.IndexByte(s, '.') >= 0 {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

func (w *Writer) info(r *Record) (string, error) {
	if len(r.Info) == 0 {
		return ".", nil
	}
	w.buf.Reset()
	for i, f := range r.Info {
		l, ok := w.h.Lookup(Info, f.Key)
		if !ok {
			return "", fmt.Errorf("vcf: %s:%d: INFO field %s is not declared in the header", r.Chrom, r.Pos, f.Key)
		}
		if i > 0 {
			w.buf.WriteByte(';')
		}
		w.buf.WriteString(f.Key)
		if l.Type() == Flag {
			if f.Value != "" {
				return "", fmt.Errorf("vcf: %s:%d: flag %s has a value", r.Chrom, r.Pos, f.Key)
			}
			continue
		}
		w.buf.WriteByte('=')
		w.buf.WriteString(f.Value)
	}
	return w.buf.String(), nil
}

// Write writes one record.
func (w *Writer) Write(r *Record) error {
	if len(r.Samples) != len(w.h.samples) {
		return fmt.Errorf("vcf: %s:%d: %d sample columns, header has %d", r.Chrom, r.Pos, len(r.Samples), len(w.h.samples))
	}
	for _, key := range r.Format {
		if _, ok := w.h.Lookup(Format, key); !ok {
			return fmt.Errorf("vcf: %s:%d: FORMAT field %s is not declared in the header", r.Chrom, r.Pos, key)
		}
	}
	for i, values := range r.Samples {
		if len(values) != len(r.Format) {
			return fmt.Errorf("vcf: %s:%d: sample %s has %d values for %d FORMAT fields",
				r.Chrom, r.Pos, w.h.samples[i], len(values), len(r.Format))
		}
	}
	info, err := w.info(r)
	if err != nil {
		return err
	}
	w.w.WriteString(r.Chrom)
	w.w.WriteInt64(int64(r.Pos))
	w.w.WriteString(orDot(r.ID))
	w.w.WriteString(r.Ref)
	w.w.WriteString(orDot(strings.Join(r.Alt, ",")))
	if math.IsNaN(r.Qual) {
		w.w.WriteString(".")
	} else {
		w.w.WriteString(FormatFloat(r.Qual, 2))
	}
	w.w.WriteString(orDot(r.Filter))
	w.w.WriteString(info)
	if len(w.h.samples) > 0 {
		w.w.WriteString(strings.Join(r.Format, ":"))
		for _, values := range r.Samples {
			w.w.WriteString(strings.Join(values, ":"))
		}
	}
	return w.w.EndLine()
}

// Flush flushes buffered records.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
)

// fixedColumns are the leading columns of the #CHROM line.
var fixedColumns = []string{"CHROM", "POS", "ID", "REF", "ALT", "QUAL", "FILTER", "INFO"}

// MetaLine is an unstructured "##key=value" header line.
type MetaLine struct {
	Key, Value string
}

// Header is the header section of a VCF file.
type Header struct {
	version Version
	meta    []MetaLine
	lines   []HeaderLine
	index   [2]map[string]int
	samples []string
}

// NewHeader returns an empty header of the given version.
func NewHeader(version Version) *Header {
	return &Header{
		version: version,
		index:   [2]map[string]int{make(map[string]int), make(map[string]int)},
	}
}

// Version returns the header's format version.
func (h *Header) Version() Version {
	return h.version
}

// AddMeta appends a "##key=value" line.  The fileformat line is always
// written first, and cannot be added.
func (h *Header) AddMeta(key, value string) error {
	if key == "" || key == "fileformat" || key == "INFO" || key == "FORMAT" || strings.ContainsAny(key+value, "\n\r") {
		return errors.E(errors.Invalid, fmt.Sprintf("vcf: bad meta line %q=%q", key, value))
	}
	h.meta = append(h.meta, MetaLine{key, value})
	return nil
}

// Meta returns the meta lines, in order.
func (h *Header) Meta() []MetaLine {
	return h.meta
}

// Add declares a field.  The line must have the header's version, and its
// name must not already be declared in the same category.
func (h *Header) Add(l HeaderLine) error {
	if l.version != h.version {
		return errors.E(errors.Invalid, fmt.Sprintf("vcf: %v line %s has version %v, header has %v", l.category, l.name, l.version, h.version))
	}
	if _, ok := h.index[l.category][l.name]; ok {
		return errors.E(errors.Invalid, fmt.Sprintf("vcf: %v %s declared twice", l.category, l.name))
	}
	h.index[l.category][l.name] = len(h.lines)
	h.lines = append(h.lines, l)
	return nil
}

// Lines returns the declared fields, in order.
func (h *Header) Lines() []HeaderLine {
	return h.lines
}

// Lookup returns the declaration of the named field.
func (h *Header) Lookup(category Category, name string) (HeaderLine, bool) {
	i, ok := h.index[category][name]
	if !ok {
		return HeaderLine{}, false
	}
	return h.lines[i], true
}

// SetSamples sets the sample columns.
func (h *Header) SetSamples(samples []string) {
	h.samples = append([]string(nil), samples...)
}

// Samples returns the sample column names.
func (h *Header) Samples() []string {
	return h.samples
}

// Write writes the header, ending with the #CHROM line.  INFO lines are
// written before FORMAT lines.
func (h *Header) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "##fileformat=%v\n", h.version)
	for _, m := range h.meta {
		fmt.Fprintf(bw, "##%s=%s\n", m.Key, m.Value)
	}
	for _, category := range []Category{Info, Format} {
		for _, l := range h.lines {
			if l.category == category {
				fmt.Fprintf(bw, "##%v\n", l)
			}
		}
	}
	bw.WriteString("#" + strings.Join(fixedColumns, "\t"))
	if len(h.samples) > 0 {
		bw.WriteString("\tFORMAT")
		for _, s := range h.samples {
			bw.WriteString("\t" + s)
		}
	}
	bw.WriteByte('\n')
	return bw.Flush()
}

// ParseHeader reads a header written by Header.Write, up to and including
// the #CHROM line.
func ParseHeader(r *bufio.Reader) (*Header, error) {
	var h *Header
	for lineno := 1; ; lineno++ {
		line, err := r.ReadString('\n')
		if err == io.EOF && line == "" {
			return nil, errors.E(errors.Invalid, "vcf: header has no #CHROM line")
		}
		if err != nil && err != io.EOF {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if lineno == 1 {
			if !strings.HasPrefix(line, "##fileformat=") {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: first line %q is not ##fileformat", line))
			}
			version, err := ParseVersion(strings.TrimPrefix(line, "##fileformat="))
			if err != nil {
				return nil, err
			}
			h = NewHeader(version)
			continue
		}
		switch {
		case strings.HasPrefix(line, "##INFO=") || strings.HasPrefix(line, "##FORMAT="):
			l, err := ParseHeaderLine(line, h.version)
			if err != nil {
				return nil, errors.E(fmt.Sprintf("vcf: line %d", lineno), err)
			}
			if err := h.Add(l); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "##"):
			kv := strings.SplitN(line[2:], "=", 2)
			if len(kv) != 2 {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: line %d: malformed meta line %q", lineno, line))
			}
			if err := h.AddMeta(kv[0], kv[1]); err != nil {
				return nil, err
			}
		case strings.HasPrefix(line, "#"):
			cols := strings.Split(line[1:], "\t")
			if len(cols) < len(fixedColumns) {
				return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: line %d: short #CHROM line", lineno))
			}
			for i, c := range fixedColumns {
				if cols[i] != c {
					return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: line %d: column %d is %q, expected %q", lineno, i+1, cols[i], c))
				}
			}
			if len(cols) > len(fixedColumns) {
				if cols[len(fixedColumns)] != "FORMAT" {
					return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: line %d: expected FORMAT column", lineno))
				}
				h.SetSamples(cols[len(fixedColumns)+1:])
			}
			return h, nil
		default:
			return nil, errors.E(errors.Invalid, fmt.Sprintf("vcf: line %d: unexpected line in header", lineno))
		}
	}
}

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
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/grailbio/base/tsv"
	"github.com/pkg/errors"
)

// faiEntry is one line of a *.fai index.
type faiEntry struct {
	name      string
	length    int64
	offset    int64
	lineBases int64
	lineWidth int64
}

func (e *faiEntry) write(w *tsv.Writer) error {
	w.WriteString(e.name)
	w.WriteInt64(e.length)
	w.WriteInt64(e.offset)
	w.WriteInt64(e.lineBases)
	w.WriteInt64(e.lineWidth)
	return w.EndLine()
}

// GenerateIndex writes the samtools faidx index (*.fai) of the FASTA data in
// in.  See http://www.htslib.org/doc/faidx.html.  Every line of a sequence
// except the last must have the same length, else NewIndexed could not
// address it.
func GenerateIndex(out io.Writer, in io.Reader) error {
	var (
		w     = tsv.NewWriter(out)
		r     = bufio.NewReader(in)
		seen  = map[string]bool{}
		cur   *faiEntry
		short bool // cur has a line shorter than lineBases
		off   int64
	)
	for {
		fullLine, err := r.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "couldn't read FASTA data")
		}
		off += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) > 0 {
			if line[0] == '>' {
				if cur != nil {
					if err := cur.write(w); err != nil {
						return err
					}
				}
				name := strings.Split(string(line[1:]), " ")[0]
				if seen[name] {
					return errors.Errorf("malformed FASTA file: duplicate sequence %s", name)
				}
				seen[name] = true
				cur, short = &faiEntry{name: name, offset: off}, false
			} else {
				switch {
				case cur == nil:
					return errors.Errorf("malformed FASTA file: sequence data before the first header")
				case cur.lineWidth == 0:
					cur.lineBases, cur.lineWidth = int64(len(line)), int64(len(fullLine))
				case short || int64(len(line)) > cur.lineBases:
					return errors.Errorf("malformed FASTA file: sequence %s has uneven line lengths", cur.name)
				case int64(len(line)) < cur.lineBases:
					short = true
				}
				cur.length += int64(len(line))
			}
		}
		if err == io.EOF {
			break
		}
	}
	if off == 0 {
		return errors.Errorf("empty FASTA file")
	}
	if cur != nil {
		if err := cur.write(w); err != nil {
			return err
		}
	}
	return w.Flush()
}

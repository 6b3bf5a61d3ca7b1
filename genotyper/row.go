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

package genotyper

import (
	"encoding/binary"
	"fmt"
	"math"
)

// cutAndAdvance returns s[offset:offset+pieceLen], and increments offset by
// pieceLen.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

const (
	siteCallFixedLen   = 52
	sampleCallFixedLen = 13 + 8*NGenotype

	siteFlagNotConverged = 1
)

// Serialized format:
//   [0..4): refID
//   [4..8): pos
//   8: ref
//   9: alt
//   10: flags
//   11: rmsMapQ
//   12: maxMapQ
//   [13..16): reserved
//   [16..24): qual
//   [24..32): log10PRef
//   [32..36): altCount
//   [36..40): depth
//   [40..48): alleleFreq
//   [48..52): number of samples n
//   then n 93-byte sample records:
//     0: genotype
//     [1..9): GQ
//     [9..13): depth
//     [13..93): likelihoods
// All integers and float64 bit patterns are little-endian.
func marshalSiteCall(scratch []byte, p interface{}) ([]byte, error) {
	c := p.(*SiteCall)
	bytesReq := siteCallFixedLen + sampleCallFixedLen*len(c.Samples)
	t := scratch
	if cap(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]
	offset := 0
	h := cutAndAdvance(&offset, t, siteCallFixedLen)
	binary.LittleEndian.PutUint32(h[0:4], c.RefID)
	binary.LittleEndian.PutUint32(h[4:8], c.Pos)
	h[8] = c.Ref
	h[9] = c.Alt
	var flags byte
	if c.NotConverged {
		flags |= siteFlagNotConverged
	}
	h[10] = flags
	h[11] = c.RMSMapQ
	h[12] = c.MaxMapQ
	h[13], h[14], h[15] = 0, 0, 0
	binary.LittleEndian.PutUint64(h[16:24], math.Float64bits(c.Qual))
	binary.LittleEndian.PutUint64(h[24:32], math.Float64bits(c.Log10PRef))
	binary.LittleEndian.PutUint32(h[32:36], uint32(c.AltCount))
	binary.LittleEndian.PutUint32(h[36:40], c.Depth)
	binary.LittleEndian.PutUint64(h[40:48], math.Float64bits(c.AlleleFreq))
	binary.LittleEndian.PutUint32(h[48:52], uint32(len(c.Samples)))
	for i := range c.Samples {
		s := &c.Samples[i]
		dst := cutAndAdvance(&offset, t, sampleCallFixedLen)
		dst[0] = byte(s.Genotype)
		binary.LittleEndian.PutUint64(dst[1:9], math.Float64bits(s.GQ))
		binary.LittleEndian.PutUint32(dst[9:13], s.Depth)
		lik := dst[13:]
		for g, l := range s.Likelihoods {
			binary.LittleEndian.PutUint64(lik[8*g:8*g+8], math.Float64bits(l))
		}
	}
	return t, nil
}

func unmarshalSiteCall(in []byte) (out interface{}, err error) {
	if len(in) < siteCallFixedLen {
		return nil, fmt.Errorf("unmarshalSiteCall: record too short (%d bytes)", len(in))
	}
	offset := 0
	h := cutAndAdvance(&offset, in, siteCallFixedLen)
	c := &SiteCall{
		RefID:        binary.LittleEndian.Uint32(h[0:4]),
		Pos:          binary.LittleEndian.Uint32(h[4:8]),
		Ref:          h[8],
		Alt:          h[9],
		NotConverged: h[10]&siteFlagNotConverged != 0,
		RMSMapQ:      h[11],
		MaxMapQ:      h[12],
		Qual:         math.Float64frombits(binary.LittleEndian.Uint64(h[16:24])),
		Log10PRef:    math.Float64frombits(binary.LittleEndian.Uint64(h[24:32])),
		AltCount:     int(binary.LittleEndian.Uint32(h[32:36])),
		Depth:        binary.LittleEndian.Uint32(h[36:40]),
		AlleleFreq:   math.Float64frombits(binary.LittleEndian.Uint64(h[40:48])),
	}
	n := int(binary.LittleEndian.Uint32(h[48:52]))
	if len(in) != siteCallFixedLen+n*sampleCallFixedLen {
		return nil, fmt.Errorf("unmarshalSiteCall: %d bytes for %d samples", len(in), n)
	}
	if n > 0 {
		c.Samples = make([]SampleCall, n)
	}
	for i := range c.Samples {
		src := cutAndAdvance(&offset, in, sampleCallFixedLen)
		s := &c.Samples[i]
		s.Genotype = Genotype(src[0])
		s.GQ = math.Float64frombits(binary.LittleEndian.Uint64(src[1:9]))
		s.Depth = binary.LittleEndian.Uint32(src[9:13])
		lik := src[13:]
		for g := range s.Likelihoods {
			s.Likelihoods[g] = math.Float64frombits(binary.LittleEndian.Uint64(lik[8*g : 8*g+8]))
		}
	}
	return c, nil
}

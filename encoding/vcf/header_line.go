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

// Package vcf writes Variant Call Format files, and models the typed INFO
// and FORMAT header lines that declare their fields.
package vcf

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
)

// Version is a VCF format version.
type Version int

const (
	// V3_3 is VCFv3.3.
	V3_3 Version = iota
	// V4_0 is VCFv4.0.
	V4_0
)

var versionNames = [...]string{"VCFv3.3", "VCFv4.0"}

func (v Version) String() string {
	if v < 0 || int(v) >= len(versionNames) {
		return "unknown"
	}
	return versionNames[v]
}

// ParseVersion parses a ##fileformat value such as "VCFv4.0".
func ParseVersion(s string) (Version, error) {
	for i, name := range versionNames {
		if s == name {
			return Version(i), nil
		}
	}
	return 0, errors.E(errors.Invalid, fmt.Sprintf("vcf: unsupported version %q", s))
}

// Category says whether a header line declares a site-level INFO field or a
// per-sample FORMAT field.
type Category int

const (
	// Info declares a site-level field.
	Info Category = iota
	// Format declares a per-sample field.
	Format
)

func (c Category) String() string {
	if c == Format {
		return "FORMAT"
	}
	return "INFO"
}

// Type is the value type of a declared field.
type Type int

const (
	Integer Type = iota
	Float
	Character
	String
	// Flag fields carry no value; their presence is the value.
	Flag
)

var typeNames = [...]string{"Integer", "Float", "Character", "String", "Flag"}

func (t Type) String() string {
	if t < 0 || int(t) >= len(typeNames) {
		return "unknown"
	}
	return typeNames[t]
}

func parseType(s string) (Type, error) {
	for i, name := range typeNames {
		if s == name {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

type countKind byte

const (
	fixedCount countKind = iota
	variableCount
	perAltAlleleCount
	perGenotypeCount
)

// Count is the number of values a field carries: a fixed number, or one of
// the symbolic counts.
type Count struct {
	kind countKind
	n    int
}

var (
	// Variable is a count that is unknown or varies (".").
	Variable = Count{kind: variableCount}
	// PerAltAllele is one value per alternate allele ("A").  VCFv4.0 only.
	PerAltAllele = Count{kind: perAltAlleleCount}
	// PerGenotype is one value per possible genotype ("G").  VCFv4.0 only.
	PerGenotype = Count{kind: perGenotypeCount}
)

// FixedCount returns a count of exactly n values.
func FixedCount(n int) Count {
	return Count{kind: fixedCount, n: n}
}

// Fixed returns the number of values and true if c is a fixed count.
func (c Count) Fixed() (int, bool) {
	return c.n, c.kind == fixedCount
}

func (c Count) String() string {
	switch c.kind {
	case variableCount:
		return "."
	case perAltAlleleCount:
		return "A"
	case perGenotypeCount:
		return "G"
	}
	return strconv.Itoa(c.n)
}

// ParseCount parses "0", "1", ..., ".", "A" or "G".
func ParseCount(s string) (Count, error) {
	switch s {
	case ".":
		return Variable, nil
	case "A":
		return PerAltAllele, nil
	case "G":
		return PerGenotype, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return Count{}, fmt.Errorf("bad field count %q", s)
	}
	return FixedCount(n), nil
}

var idRE = regexp.MustCompile(`^[A-Za-z_][0-9A-Za-z_.]*$`)

// HeaderLine declares one INFO or FORMAT field.  It can only be obtained
// from NewHeaderLine or ParseHeaderLine, so every HeaderLine value is valid.
// HeaderLines are immutable.
type HeaderLine struct {
	name        string
	count       Count
	typ         Type
	description string
	category    Category
	version     Version
}

// NewHeaderLine validates its arguments and returns the header line.  Flag is
// only allowed for INFO fields, with a fixed count of 0.  The A and G counts
// do not exist in VCFv3.3.
func NewHeaderLine(category Category, name string, count Count, typ Type, description string, version Version) (HeaderLine, error) {
	if category != Info && category != Format {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: unknown header line category %d", int(category)))
	}
	if version != V3_3 && version != V4_0 {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: unknown version %d", int(version)))
	}
	if !idRE.MatchString(name) {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: bad %s field name %q", category, name))
	}
	if typ < Integer || typ > Flag {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: %s %s: unknown type %d", category, name, typ))
	}
	if count.kind > perGenotypeCount || (count.kind == fixedCount && count.n < 0) {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: %s %s: bad count", category, name))
	}
	if typ == Flag {
		if category != Info {
			return HeaderLine{}, errors.E(errors.Invalid,
				fmt.Sprintf("vcf: FORMAT %s: Flag type is only allowed in INFO lines", name))
		}
		if n, ok := count.Fixed(); !ok || n != 0 {
			return HeaderLine{}, errors.E(errors.Invalid,
				fmt.Sprintf("vcf: INFO %s: Flag fields must have count 0, not %v", name, count))
		}
	}
	if version == V3_3 && (count.kind == perAltAlleleCount || count.kind == perGenotypeCount) {
		return HeaderLine{}, errors.E(errors.Invalid,
			fmt.Sprintf("vcf: %s %s: count %v is not defined in %v", category, name, count, version))
	}
	if strings.ContainsAny(description, "\n\r") {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: %s %s: description contains a newline", category, name))
	}
	return HeaderLine{
		name:        name,
		count:       count,
		typ:         typ,
		description: description,
		category:    category,
		version:     version,
	}, nil
}

// MustHeaderLine is like NewHeaderLine, but panics on error.  It is meant for
// fixed declarations.
func MustHeaderLine(category Category, name string, count Count, typ Type, description string, version Version) HeaderLine {
	l, err := NewHeaderLine(category, name, count, typ, description, version)
	if err != nil {
		panic(err)
	}
	return l
}

func (l HeaderLine) Name() string        { return l.name }
func (l HeaderLine) Count() Count        { return l.count }
func (l HeaderLine) Type() Type          { return l.typ }
func (l HeaderLine) Description() string { return l.description }
func (l HeaderLine) Category() Category  { return l.category }
func (l HeaderLine) Version() Version    { return l.version }

func quoteDescription(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func unquoteDescription(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("description %s is not quoted", s)
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			i++
			c = s[i]
		} else if c == '"' {
			return "", fmt.Errorf("unescaped quote in description")
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}

// String renders the line without the leading "##".  VCFv4.0 lines look like
//   INFO=<ID=DP,Number=1,Type=Integer,Description="Total depth">
// and VCFv3.3 lines like
//   INFO=DP,1,Integer,"Total depth"
func (l HeaderLine) String() string {
	if l.version == V3_3 {
		return fmt.Sprintf("%v=%s,%v,%v,%s", l.category, l.name, l.count, l.typ, quoteDescription(l.description))
	}
	return fmt.Sprintf("%v=<ID=%s,Number=%v,Type=%v,Description=%s>", l.category, l.name, l.count, l.typ, quoteDescription(l.description))
}

// splitFields splits s at commas outside double quotes.
func splitFields(s string) []string {
	var fields []string
	start := 0
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	return append(fields, s[start:])
}

// ParseHeaderLine parses the output of HeaderLine.String, with or without the
// leading "##", and validates it like NewHeaderLine.
func ParseHeaderLine(line string, version Version) (HeaderLine, error) {
	line = strings.TrimPrefix(line, "##")
	eq := strings.IndexByte(line, '=')
	if eq < 0 {
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: malformed header line %q", line))
	}
	var category Category
	switch line[:eq] {
	case "INFO":
		category = Info
	case "FORMAT":
		category = Format
	default:
		return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: %q is not an INFO or FORMAT line", line))
	}
	body := line[eq+1:]
	var name, countStr, typeStr, descStr string
	if version == V3_3 {
		fields := splitFields(body)
		if len(fields) != 4 {
			return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: malformed header line %q", line))
		}
		name, countStr, typeStr, descStr = fields[0], fields[1], fields[2], fields[3]
	} else {
		if len(body) < 2 || body[0] != '<' || body[len(body)-1] != '>' {
			return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: malformed header line %q", line))
		}
		kv := make(map[string]string)
		for _, f := range splitFields(body[1 : len(body)-1]) {
			i := strings.IndexByte(f, '=')
			if i < 0 {
				return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: malformed header line %q", line))
			}
			kv[f[:i]] = f[i+1:]
		}
		for _, key := range []string{"ID", "Number", "Type", "Description"} {
			if _, ok := kv[key]; !ok {
				return HeaderLine{}, errors.E(errors.Invalid, fmt.Sprintf("vcf: header line %q has no %s", line, key))
			}
		}
		name, countStr, typeStr, descStr = kv["ID"], kv["Number"], kv["Type"], kv["Description"]
	}
	count, err := ParseCount(countStr)
	if err != nil {
		return HeaderLine{}, errors.E(errors.Invalid, err)
	}
	typ, err := parseType(typeStr)
	if err != nil {
		return HeaderLine{}, errors.E(errors.Invalid, err)
	}
	desc, err := unquoteDescription(descStr)
	if err != nil {
		return HeaderLine{}, errors.E(errors.Invalid, err)
	}
	return NewHeaderLine(category, name, count, typ, desc, version)
}

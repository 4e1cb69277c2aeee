package emver

import (
	"strings"
)

type op int

const (
	opEQ op = iota
	opNE
	opGT
	opGE
	opLT
	opLE
	opCaret
)

type comparator struct {
	op op
	v  Version
}

func (c comparator) matches(v Version) bool {
	cmp := Compare(v, c.v)
	switch c.op {
	case opEQ:
		return cmp == 0
	case opNE:
		return cmp != 0
	case opGT:
		return cmp > 0
	case opGE:
		return cmp >= 0
	case opLT:
		return cmp < 0
	case opLE:
		return cmp <= 0
	case opCaret:
		return v.Major == c.v.Major && cmp >= 0
	}
	return false
}

// Range is a predicate over versions: a disjunction of conjunctions of
// comparators. The zero Range matches nothing; Any matches everything.
type Range struct {
	raw  string
	alts [][]comparator
	any  bool
}

// Any returns the wildcard range.
func Any() Range {
	return Range{raw: "*", any: true}
}

// Exactly returns a range satisfied only by v.
func Exactly(v Version) Range {
	return Range{raw: "=" + v.String(), alts: [][]comparator{{{op: opEQ, v: v}}}}
}

// AtLeast returns a range satisfied by v and every later version.
func AtLeast(v Version) Range {
	return Range{raw: ">=" + v.String(), alts: [][]comparator{{{op: opGE, v: v}}}}
}

var opPrefixes = []struct {
	prefix string
	op     op
}{
	// longest prefixes first
	{">=", opGE},
	{"<=", opLE},
	{"!=", opNE},
	{">", opGT},
	{"<", opLT},
	{"=", opEQ},
	{"^", opCaret},
}

// ParseRange reads a range expression such as "*", ">=0.1.4 <0.2.0",
// ">=0.1.4 && <0.2.0" or "=0.1.0 || ^0.2.0". A bare version means exact match.
func ParseRange(s string) (Range, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "*" {
		return Any(), nil
	}
	if trimmed == "" {
		return Range{}, parseErr(s, "empty range")
	}

	r := Range{raw: trimmed}
	for _, alt := range strings.Split(trimmed, "||") {
		fields := strings.Fields(strings.ReplaceAll(alt, "&&", " "))
		if len(fields) == 0 {
			return Range{}, parseErr(s, "empty alternative")
		}
		conj := make([]comparator, 0, len(fields))
		for _, f := range fields {
			if f == "*" {
				conj = append(conj, comparator{op: opGE, v: NewPre(0, 0, 0, 0)})
				continue
			}
			c, err := parseComparator(f)
			if err != nil {
				return Range{}, err
			}
			conj = append(conj, c)
		}
		r.alts = append(r.alts, conj)
	}
	return r, nil
}

func parseComparator(f string) (comparator, error) {
	o := opEQ
	rest := f
	for _, p := range opPrefixes {
		if strings.HasPrefix(f, p.prefix) {
			o = p.op
			rest = f[len(p.prefix):]
			break
		}
	}
	v, err := Parse(rest)
	if err != nil {
		return comparator{}, err
	}
	return comparator{op: o, v: v}, nil
}

// Satisfies reports whether v is inside r.
func (v Version) Satisfies(r Range) bool {
	if r.any {
		return true
	}
	for _, conj := range r.alts {
		ok := true
		for _, c := range conj {
			if !c.matches(v) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// String returns the range expression as written.
func (r Range) String() string {
	return r.raw
}

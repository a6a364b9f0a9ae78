package probe

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Kind is the ABI category of a probed class as declared in the probe.
type Kind string

const (
	KindWidget        Kind = "Widget"
	KindFacet         Kind = "Facet"
	KindValue         Kind = "Value"
	KindEvent         Kind = "Event"
	KindLayout        Kind = "Layout"
	KindQObjectIntree Kind = "QObject_Intree"
	KindQObjectOther  Kind = "QObject_Other"
	KindMisc          Kind = "Misc"
	// KindInline marks classes whose special members are intentionally
	// inline, for example because the type must be usable in constant
	// expressions.
	KindInline Kind = "Inline"
)

// Kinds lists every kind in the order the probe enumerates them.
var Kinds = []Kind{KindWidget, KindFacet, KindValue, KindEvent, KindLayout, KindQObjectIntree, KindQObjectOther, KindMisc, KindInline}

// Valid returns true if k is one of Kinds.
func (k Kind) Valid() bool {
	for _, x := range Kinds {
		if x == k {
			return true
		}
	}
	return false
}

// Expectation is a special member symbol the probe expects the library to
// define out of line.
type Expectation struct {
	Class       string
	Symbol      string
	Description string
	// Origin is the kind of the class the expectation belongs to.
	Origin Kind
}

// ClassBlock groups the expectations of one class.
type ClassBlock struct {
	Name string
	Kind Kind
	// Signature is the special member summary of the class, for example
	// "DCMcmd" (see SignatureDescription).
	Signature    string
	Expectations []Expectation
}

// Report is the parsed standard output of a probe run.
type Report struct {
	Classes []ClassBlock
	// Errors holds ERROR lines verbatim.
	Errors []string
	// Unexpected holds lines that are not part of the report format.
	Unexpected []string
}

// Expectations returns the number of EXPECT records.
func (r *Report) Expectations() int {
	n := 0
	for i := range r.Classes {
		n += len(r.Classes[i].Expectations)
	}
	return n
}

// ParseReport parses the record stream written by a probe:
//
//	CLASS <name> kind=<Kind>
//	EXPECT <mangled symbol> <description>
//	CLASS-SIG <signature> <name>
//	ERROR <text>
func ParseReport(r io.Reader) (*Report, error) {
	rep := &Report{}
	var cur *ClassBlock

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for s.Scan() {
		lineno++
		line := strings.TrimSuffix(s.Text(), "\r")
		switch {
		case line == "":

		case strings.HasPrefix(line, "CLASS "):
			fields := strings.SplitN(line, " ", 3)
			if len(fields) != 3 || !strings.HasPrefix(fields[2], "kind=") {
				rep.Unexpected = append(rep.Unexpected, line)
				continue
			}
			rep.Classes = append(rep.Classes, ClassBlock{Name: fields[1], Kind: Kind(strings.TrimPrefix(fields[2], "kind="))})
			cur = &rep.Classes[len(rep.Classes)-1]

		case strings.HasPrefix(line, "EXPECT "):
			if cur == nil {
				return nil, fmt.Errorf("line %d: EXPECT outside of a CLASS block", lineno)
			}
			fields := strings.SplitN(line, " ", 3)
			if fields[1] == "" {
				return nil, fmt.Errorf("line %d: EXPECT without a symbol", lineno)
			}
			e := Expectation{Class: cur.Name, Symbol: fields[1], Origin: cur.Kind}
			if len(fields) == 3 {
				e.Description = fields[2]
			}
			cur.Expectations = append(cur.Expectations, e)

		case strings.HasPrefix(line, "ERROR "):
			rep.Errors = append(rep.Errors, line)

		case strings.HasPrefix(line, "CLASS-SIG "):
			fields := strings.SplitN(line, " ", 3)
			if cur != nil && len(fields) == 3 && strings.TrimSpace(fields[2]) == cur.Name {
				cur.Signature = fields[1]
			}

		default:
			rep.Unexpected = append(rep.Unexpected, line)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return rep, nil
}

var signatureDescriptions = map[string]string{
	"DCMcmd": "movable value",
	"D----v": "id with default ctor",
	"-----v": "id",
	"-C-c-d": "value without default",
	"DC-c-d": "value with default",
	"-CMcmd": "movable value without default",
	"-CMcmv": "movable value without default virtual dtor",
	"DCMcmv": "movable value with default, virtual dtor",
	"-C---v": "copy only virtual dtor",
	"D----d": "default + dtor",
}

// SignatureDescription names the shape of a class from its signature.
// The signature has one position each for default ctor (D), copy ctor
// (C), move ctor (M), copy assignment (c), move assignment (m) and
// destructor (v for virtual, d otherwise), with '-' for absent members.
func SignatureDescription(sig string) string {
	if d, ok := signatureDescriptions[sig]; ok {
		return d
	}
	return "?????"
}

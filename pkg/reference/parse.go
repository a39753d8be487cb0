package reference

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2"

	"github.com/foiacquire/muckrake/pkg/apierr"
)

// Reference is a parsed reference string: either a bare path or a
// structured scope/tag/glob expression.
type Reference struct {
	Raw        string
	Bare       string
	Structured *Structured
}

// IsBare reports whether the reference is a plain path.
func (r Reference) IsBare() bool { return r.Structured == nil }

// Structured is the parsed form of a reference starting with ":".
type Structured struct {
	// Workspace is set by a leading "." and forces the first level to be
	// read as a project name.
	Workspace bool
	// Levels holds one entry per dot-separated level; a brace group yields
	// several alternatives.
	Levels [][]string
	// TagGroups are ANDed; tags within a group are ORed.
	TagGroups [][]string
	HasGlob   bool
	Glob      string
}

// HasTagFilter reports whether any tag group is present.
func (s *Structured) HasTagFilter() bool { return len(s.TagGroups) > 0 }

// Parse parses a reference string.
func Parse(input string) (Reference, error) {
	if !strings.HasPrefix(input, ":") {
		bare := strings.TrimPrefix(input, "./")
		if bare == "" {
			return Reference{}, &ParseError{Code: apierr.CodeParse, Input: input, Message: "empty reference"}
		}
		return Reference{Raw: input, Bare: bare}, nil
	}

	ast, err := refParser.ParseString("", input)
	if err != nil {
		return Reference{}, toParseError(input, err)
	}

	s := &Structured{Workspace: ast.Workspace, HasGlob: ast.Slash, Glob: ast.Glob}
	for _, l := range ast.Levels {
		s.Levels = append(s.Levels, l.alternatives())
	}
	for _, g := range ast.Tags {
		s.TagGroups = append(s.TagGroups, g.Tags)
	}
	return Reference{Raw: input, Structured: s}, nil
}

func toParseError(input string, err error) *ParseError {
	pe := &ParseError{Code: apierr.CodeParse, Input: input, Offset: len(input), Message: err.Error()}
	var perr participle.Error
	if errors.As(err, &perr) {
		pe.Offset = perr.Position().Offset
		pe.Message = perr.Message()
	}
	if pe.Offset < len(input) {
		r, _ := utf8.DecodeRuneInString(input[pe.Offset:])
		pe.Char = string(r)
	}
	return pe
}

// Expanded is one brace-free variant of a structured reference.
type Expanded struct {
	Workspace bool
	Chain     []string
	TagGroups [][]string
	HasGlob   bool
	Glob      string
}

// Expand returns the cross product of every brace group, in order. A
// reference without braces expands to itself.
func (s *Structured) Expand() []Expanded {
	chains := [][]string{{}}
	for _, alts := range s.Levels {
		next := make([][]string, 0, len(chains)*len(alts))
		for _, prefix := range chains {
			for _, alt := range alts {
				chain := make([]string, len(prefix), len(prefix)+1)
				copy(chain, prefix)
				next = append(next, append(chain, alt))
			}
		}
		chains = next
	}

	out := make([]Expanded, len(chains))
	for i, chain := range chains {
		out[i] = Expanded{
			Workspace: s.Workspace,
			Chain:     chain,
			TagGroups: s.TagGroups,
			HasGlob:   s.HasGlob,
			Glob:      s.Glob,
		}
	}
	return out
}

// String renders an expanded reference back into reference syntax.
func (e Expanded) String() string {
	var b strings.Builder
	b.WriteString(":")
	if e.Workspace {
		b.WriteString(".")
	}
	b.WriteString(strings.Join(e.Chain, "."))
	for _, g := range e.TagGroups {
		b.WriteString("!")
		b.WriteString(strings.Join(g, ","))
	}
	if e.HasGlob {
		b.WriteString("/")
		b.WriteString(e.Glob)
	}
	return b.String()
}

package reference

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// The structured form, after the leading colon:
//
//	reference := ":" "."? ( level ( "." level )* )? ( "!" tag ( "," tag )* )* ( "/" glob? )?
//	level     := ident | "{" ident ( "," ident )* "}"
//
// Everything after the first "/" is taken verbatim as a glob, so globs may
// use characters that are reserved elsewhere.
var refLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Colon", Pattern: `:`},
		{Name: "Dot", Pattern: `\.`},
		{Name: "Bang", Pattern: `!`},
		{Name: "Comma", Pattern: `,`},
		{Name: "LBrace", Pattern: `\{`},
		{Name: "RBrace", Pattern: `\}`},
		{Name: "Slash", Pattern: `/`, Action: lexer.Push("Glob")},
		{Name: "Ident", Pattern: `[^:./!{},\s]+`},
	},
	"Glob": {
		{Name: "Pattern", Pattern: `.+`},
	},
})

type structuredAST struct {
	Workspace bool           `":" @"."?`
	Levels    []*levelAST    `( @@ ( "." @@ )* )?`
	Tags      []*tagGroupAST `@@*`
	Slash     bool           `( @"/"`
	Glob      string         `  @Pattern? )?`
}

type levelAST struct {
	Names []string `  "{" @Ident ( "," @Ident )* "}"`
	Name  string   `| @Ident`
}

func (l *levelAST) alternatives() []string {
	if len(l.Names) > 0 {
		return l.Names
	}
	return []string{l.Name}
}

type tagGroupAST struct {
	Tags []string `"!" @Ident ( "," @Ident )*`
}

var refParser = participle.MustBuild[structuredAST](
	participle.Lexer(refLexer),
)

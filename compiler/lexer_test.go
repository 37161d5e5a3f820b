package compiler

import (
	"testing"
)

func TestLexerBasicTokens(t *testing.T) {
	input := "( ) ' ` , ."
	expected := []struct {
		typ TokenType
		lit string
	}{
		{TokenLParen, "("},
		{TokenRParen, ")"},
		{TokenQuote, "'"},
		{TokenQuasiquote, "`"},
		{TokenUnquote, ","},
		{TokenDot, "."},
		{TokenEOF, ""},
	}

	l := NewLexer(input)
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Type != exp.typ {
			t.Errorf("token[%d] type = %v, want %v", i, tok.Type, exp.typ)
		}
		if tok.Literal != exp.lit {
			t.Errorf("token[%d] literal = %q, want %q", i, tok.Literal, exp.lit)
		}
	}
}

func TestLexerNumbers(t *testing.T) {
	tests := []struct {
		input string
		typ   TokenType
		want  string
	}{
		{"42", TokenInteger, "42"},
		{"0", TokenInteger, "0"},
		{"-123", TokenInteger, "-123"},
		{"3.14", TokenFloat, "3.14"},
		{"-0.5", TokenFloat, "-0.5"},
		{"1e10", TokenFloat, "1e10"},
		{"2.5e-3", TokenFloat, "2.5e-3"},
		{"1E+2", TokenFloat, "1E+2"},
	}

	for _, tc := range tests {
		l := NewLexer(tc.input)
		tok := l.NextToken()
		if tok.Type != tc.typ {
			t.Errorf("Lexer(%q): type = %v, want %v", tc.input, tok.Type, tc.typ)
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%q): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerMalformedNumbers(t *testing.T) {
	// A number running into symbol characters is one malformed token,
	// not two adjacent ones.
	tests := []string{"12abc", "1.2.3", "3x", "1e", "5e+"}

	for _, input := range tests {
		l := NewLexer(input)
		tok := l.NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR (literal %q)", input, tok.Type, tok.Literal)
		}
	}
}

func TestLexerSymbols(t *testing.T) {
	tests := []string{
		"foo", "foo-bar", "list->vector", "+", "-", "*", "/", "<=", "=",
		"empty?", "set!", "%", "_",
	}

	for _, input := range tests {
		l := NewLexer(input)
		tok := l.NextToken()
		if tok.Type != TokenSymbol {
			t.Errorf("Lexer(%q): type = %v, want SYMBOL", input, tok.Type)
			continue
		}
		if tok.Literal != input {
			t.Errorf("Lexer(%q): literal = %q", input, tok.Literal)
		}
	}
}

func TestLexerReservedWords(t *testing.T) {
	l := NewLexer("true false")
	if tok := l.NextToken(); tok.Type != TokenTrue {
		t.Errorf("true: type = %v, want TRUE", tok.Type)
	}
	if tok := l.NextToken(); tok.Type != TokenFalse {
		t.Errorf("false: type = %v, want FALSE", tok.Type)
	}
}

func TestLexerStrings(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"hello"`, "hello"},
		{`""`, ""},
		{`"a\nb"`, "a\nb"},
		{`"tab\there"`, "tab\there"},
		{`"quote\"inside"`, `quote"inside`},
		{`"back\\slash"`, `back\slash`},
	}

	for _, tc := range tests {
		l := NewLexer(tc.input)
		tok := l.NextToken()
		if tok.Type != TokenString {
			t.Errorf("Lexer(%s): type = %v, want STRING", tc.input, tok.Type)
			continue
		}
		if tok.Literal != tc.want {
			t.Errorf("Lexer(%s): literal = %q, want %q", tc.input, tok.Literal, tc.want)
		}
	}
}

func TestLexerStringErrors(t *testing.T) {
	tests := []string{`"unterminated`, `"bad\q"`, `"trailing\`}

	for _, input := range tests {
		l := NewLexer(input)
		tok := l.NextToken()
		if tok.Type != TokenError {
			t.Errorf("Lexer(%q): type = %v, want ERROR", input, tok.Type)
		}
	}
}

func TestLexerComments(t *testing.T) {
	input := "; a comment\n42 ; trailing\n; final"
	l := NewLexer(input)
	tok := l.NextToken()
	if tok.Type != TokenInteger || tok.Literal != "42" {
		t.Fatalf("got %v %q, want INTEGER 42", tok.Type, tok.Literal)
	}
	if tok := l.NextToken(); tok.Type != TokenEOF {
		t.Errorf("after comments: type = %v, want EOF", tok.Type)
	}
}

func TestLexerPositions(t *testing.T) {
	input := "(foo\n  bar)"
	l := NewLexer(input)

	expected := []struct {
		line, col int
	}{
		{1, 1}, // (
		{1, 2}, // foo
		{2, 3}, // bar
		{2, 6}, // )
	}
	for i, exp := range expected {
		tok := l.NextToken()
		if tok.Pos.Line != exp.line || tok.Pos.Column != exp.col {
			t.Errorf("token[%d] %q at %d:%d, want %d:%d",
				i, tok.Literal, tok.Pos.Line, tok.Pos.Column, exp.line, exp.col)
		}
	}
}

func TestLexerDotVersusFloat(t *testing.T) {
	// In (a . b) the dot is a pair separator; in 1.5 it is part of the
	// number.
	toks := Tokenize("(a . b)")
	types := []TokenType{TokenLParen, TokenSymbol, TokenDot, TokenSymbol, TokenRParen, TokenEOF}
	if len(toks) != len(types) {
		t.Fatalf("got %d tokens, want %d", len(toks), len(types))
	}
	for i, typ := range types {
		if toks[i].Type != typ {
			t.Errorf("token[%d] = %v, want %v", i, toks[i].Type, typ)
		}
	}
}

func TestLexerNegativeVersusMinus(t *testing.T) {
	// -5 is a literal; - followed by a space is the subtraction symbol.
	l := NewLexer("(- -5 x)")
	l.NextToken() // (
	if tok := l.NextToken(); tok.Type != TokenSymbol || tok.Literal != "-" {
		t.Errorf("got %v %q, want SYMBOL -", tok.Type, tok.Literal)
	}
	if tok := l.NextToken(); tok.Type != TokenInteger || tok.Literal != "-5" {
		t.Errorf("got %v %q, want INTEGER -5", tok.Type, tok.Literal)
	}
}

package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the Calyx lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Literals
	TokenInteger // 42, -7
	TokenFloat   // 3.14, 1.5e10
	TokenString  // "hello\n"
	TokenSymbol  // foo, +, empty?

	// Reserved literals
	TokenTrue  // true
	TokenFalse // false

	// Delimiters and reader markers
	TokenLParen     // (
	TokenRParen     // )
	TokenQuote      // '
	TokenQuasiquote // `
	TokenUnquote    // ,
	TokenDot        // . (dotted-pair separator)
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenInteger:    "INTEGER",
	TokenFloat:      "FLOAT",
	TokenString:     "STRING",
	TokenSymbol:     "SYMBOL",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenLParen:     "(",
	TokenRParen:     ")",
	TokenQuote:      "'",
	TokenQuasiquote: "`",
	TokenUnquote:    ",",
	TokenDot:        ".",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Position is a location in the source text.
type Position struct {
	Offset int // byte offset, 0-based
	Line   int // line number, 1-based
	Column int // column number, 1-based
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text (string tokens hold the unescaped value)
	Pos     Position // start position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// Reserved words mapped to their token types.
var reservedWords = map[string]TokenType{
	"true":  TokenTrue,
	"false": TokenFalse,
}

// IsSymbolChar returns true if r may appear inside a symbol.
func IsSymbolChar(r rune) bool {
	switch r {
	case '+', '-', '*', '/', '%', '<', '>', '=', '!', '?', '_', '&':
		return true
	}
	return isLetter(r) || isDigit(r)
}

// IsSymbolStart returns true if r may begin a symbol.
func IsSymbolStart(r rune) bool {
	return IsSymbolChar(r) && !isDigit(r)
}

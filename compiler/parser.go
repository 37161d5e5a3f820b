package compiler

import (
	"fmt"
	"strconv"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent over tokens producing S-expression nodes
// ---------------------------------------------------------------------------

// Parser builds AST nodes from a token stream.
type Parser struct {
	lexer *Lexer
	tok   Token // current token
}

// NewParser creates a parser over the given source text.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.advance()
	return p
}

// Parse reads every top-level form from the input.
func Parse(input string) ([]*Node, error) {
	p := NewParser(input)
	var forms []*Node
	for p.tok.Type != TokenEOF {
		form, err := p.ParseForm()
		if err != nil {
			return nil, err
		}
		forms = append(forms, form)
	}
	return forms, nil
}

// ParseOne reads exactly one form and rejects trailing input.
func ParseOne(input string) (*Node, error) {
	p := NewParser(input)
	form, err := p.ParseForm()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenEOF {
		return nil, &ParseError{Pos: p.tok.Pos, Msg: fmt.Sprintf("unexpected %s after form", p.tok)}
	}
	return form, nil
}

func (p *Parser) advance() {
	p.tok = p.lexer.NextToken()
}

// ParseForm parses a single form.
func (p *Parser) ParseForm() (*Node, error) {
	tok := p.tok

	switch tok.Type {
	case TokenError:
		return nil, &LexError{Pos: tok.Pos, Msg: tok.Literal}

	case TokenEOF:
		return nil, &ParseError{Pos: tok.Pos, Msg: "unexpected end of input"}

	case TokenInteger:
		p.advance()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return nil, &LexError{Pos: tok.Pos, Msg: fmt.Sprintf("invalid integer literal: %q", tok.Literal)}
		}
		return NewInteger(v, tok.Pos), nil

	case TokenFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, &LexError{Pos: tok.Pos, Msg: fmt.Sprintf("invalid float literal: %q", tok.Literal)}
		}
		return NewFloat(v, tok.Pos), nil

	case TokenString:
		p.advance()
		return NewString(tok.Literal, tok.Pos), nil

	case TokenTrue:
		p.advance()
		return NewBool(true, tok.Pos), nil

	case TokenFalse:
		p.advance()
		return NewBool(false, tok.Pos), nil

	case TokenSymbol:
		p.advance()
		return NewSymbol(tok.Literal, tok.Pos), nil

	case TokenQuote:
		return p.parseReaderSugar("quote")

	case TokenQuasiquote:
		return p.parseReaderSugar("quasiquote")

	case TokenUnquote:
		return p.parseReaderSugar("unquote")

	case TokenLParen:
		return p.parseList()

	case TokenRParen:
		return nil, &ParseError{Pos: tok.Pos, Msg: "unbalanced parentheses: unexpected )"}

	case TokenDot:
		return nil, &ParseError{Pos: tok.Pos, Msg: "unexpected . outside a list"}

	default:
		return nil, &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf("unexpected token %s", tok)}
	}
}

// parseReaderSugar desugars ', ` and , into their wrapper forms.
func (p *Parser) parseReaderSugar(head string) (*Node, error) {
	pos := p.tok.Pos
	p.advance()
	inner, err := p.ParseForm()
	if err != nil {
		return nil, err
	}
	return NewForm(head, pos, inner), nil
}

// parseList parses a proper or dotted list. A single . before the
// final element makes the list dotted; more than one element after
// the dot is malformed.
func (p *Parser) parseList() (*Node, error) {
	open := p.tok.Pos
	p.advance() // consume (

	var elems []*Node
	var tail *Node

	for {
		switch p.tok.Type {
		case TokenEOF:
			return nil, &ParseError{Pos: open, Msg: "unbalanced parentheses: missing )"}

		case TokenError:
			return nil, &LexError{Pos: p.tok.Pos, Msg: p.tok.Literal}

		case TokenRParen:
			p.advance()
			return &Node{Kind: NodeList, List: elems, Tail: tail, Pos: open}, nil

		case TokenDot:
			dotPos := p.tok.Pos
			if len(elems) == 0 {
				return nil, &ParseError{Pos: dotPos, Msg: "malformed dotted pair: no elements before ."}
			}
			if tail != nil {
				return nil, &ParseError{Pos: dotPos, Msg: "malformed dotted pair: more than one ."}
			}
			p.advance()
			t, err := p.ParseForm()
			if err != nil {
				return nil, err
			}
			tail = t
			if p.tok.Type != TokenRParen {
				return nil, &ParseError{Pos: p.tok.Pos, Msg: "malformed dotted pair: more than one element after ."}
			}
			// A dotted proper-list tail normalizes away: (a . (b c))
			// reads as (a b c).
			if tail.Kind == NodeList {
				elems = append(elems, tail.List...)
				tail = tail.Tail
			}

		default:
			elem, err := p.ParseForm()
			if err != nil {
				return nil, err
			}
			if tail != nil {
				return nil, &ParseError{Pos: elem.Pos, Msg: "malformed dotted pair: more than one element after ."}
			}
			elems = append(elems, elem)
		}
	}
}

package workflowdsl

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString
	tokRegister // $ident
	tokSymbol   // punctuation / operators, literal text in Text
	tokKeyword
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var keywords = map[string]bool{
	"workflow": true, "step": true, "if": true, "for": true, "in": true, "call": true,
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

// Lex tokenizes workflow DSL source into a flat token stream.
func Lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		l.toks = append(l.toks, tok)
		if tok.kind == tokEOF {
			break
		}
	}
	return l.toks, nil
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := rune(l.src[l.pos])

	switch {
	case c == '$':
		l.pos++
		idStart := l.pos
		for l.pos < len(l.src) && isIdentRune(rune(l.src[l.pos])) {
			l.pos++
		}
		if l.pos == idStart {
			return token{}, fmt.Errorf("workflowdsl: expected identifier after '$' at %d", start)
		}
		return token{kind: tokRegister, text: l.src[idStart:l.pos], pos: start}, nil

	case c == '"':
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			if l.src[l.pos] == '\\' && l.pos+1 < len(l.src) {
				l.pos++
			}
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("workflowdsl: unterminated string at %d", start)
		}
		l.pos++ // closing quote
		return token{kind: tokString, text: sb.String(), pos: start}, nil

	case unicode.IsDigit(c) || (c == '-' && l.pos+1 < len(l.src) && unicode.IsDigit(rune(l.src[l.pos+1]))):
		l.pos++
		for l.pos < len(l.src) && unicode.IsDigit(rune(l.src[l.pos])) {
			l.pos++
		}
		return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil

	case isIdentStartRune(c):
		for l.pos < len(l.src) && isIdentRune(rune(l.src[l.pos])) {
			l.pos++
		}
		// Version literals like "v0.1" lex as a single identifier token so
		// the parser doesn't need to special-case the dot.
		for l.pos+1 < len(l.src) && l.src[l.pos] == '.' && unicode.IsDigit(rune(l.src[l.pos+1])) {
			l.pos++
			for l.pos < len(l.src) && unicode.IsDigit(rune(l.src[l.pos])) {
				l.pos++
			}
		}
		text := l.src[start:l.pos]
		if keywords[text] {
			return token{kind: tokKeyword, text: text, pos: start}, nil
		}
		return token{kind: tokIdent, text: text, pos: start}, nil

	default:
		// Multi-char operators first.
		for _, op := range []string{"..=", "==", "!=", "<=", ">="} {
			if strings.HasPrefix(l.src[l.pos:], op) {
				l.pos += len(op)
				return token{kind: tokSymbol, text: op, pos: start}, nil
			}
		}
		l.pos++
		return token{kind: tokSymbol, text: string(c), pos: start}, nil
	}
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			l.pos++
			continue
		}
		if c == '/' && l.pos+1 < len(l.src) && l.src[l.pos+1] == '/' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
			continue
		}
		break
	}
}

func isIdentStartRune(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

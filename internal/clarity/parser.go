package clarity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed reports input that does not match the tuple notation.
// Parsing fails closed: callers get this error and an empty Tuple,
// never a partially populated one.
var ErrMalformed = errors.New("malformed tuple representation")

// ParseTuple decodes the textual representation the explorer API
// returns for contract event values:
//
//	(tuple (event "bet-placed") (amount u5000000) (outcome true))
//
// Keys are bare identifiers permitting hyphens. Values are uint
// literals (u123), signed integers, double-quoted strings, booleans,
// principal literals, or nested parenthesized structures. A value may
// itself contain balanced sub-terms, so spans are extracted by depth
// counting, never by splitting on the next closing paren.
func ParseTuple(repr string) (Tuple, error) {
	p := &parser{src: repr}
	p.skipSpace()
	t, err := p.parseTuple()
	if err != nil {
		return Tuple{}, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Tuple{}, fmt.Errorf("%w: trailing input at offset %d", ErrMalformed, p.pos)
	}
	return t, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) parseTuple() (Tuple, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}
	p.skipSpace()
	if atom := p.readAtom(); atom != "tuple" {
		return nil, fmt.Errorf("%w: expected tuple, got %q", ErrMalformed, atom)
	}

	out := Tuple{}
	for {
		p.skipSpace()
		if p.eof() {
			return nil, fmt.Errorf("%w: unterminated tuple", ErrMalformed)
		}
		if p.src[p.pos] == ')' {
			p.pos++
			return out, nil
		}
		key, val, err := p.parseEntry()
		if err != nil {
			return nil, err
		}
		out[key] = val
	}
}

// parseEntry reads one (key value) pair.
func (p *parser) parseEntry() (string, Value, error) {
	if err := p.expect('('); err != nil {
		return "", Value{}, err
	}
	p.skipSpace()
	key := p.readAtom()
	if key == "" {
		return "", Value{}, fmt.Errorf("%w: missing key at offset %d", ErrMalformed, p.pos)
	}
	p.skipSpace()
	span, err := p.readValueSpan()
	if err != nil {
		return "", Value{}, err
	}
	p.skipSpace()
	if err := p.expect(')'); err != nil {
		return "", Value{}, err
	}
	val, err := p.classify(span)
	if err != nil {
		return "", Value{}, err
	}
	return key, val, nil
}

// readValueSpan extracts the raw text of one value. Parenthesized
// values are read to their matching close paren with quoted strings
// opaque to the depth count.
func (p *parser) readValueSpan() (string, error) {
	if p.eof() {
		return "", fmt.Errorf("%w: missing value", ErrMalformed)
	}
	start := p.pos
	switch p.src[p.pos] {
	case '(':
		depth := 0
		for ; p.pos < len(p.src); p.pos++ {
			switch p.src[p.pos] {
			case '"':
				if err := p.skipString(); err != nil {
					return "", err
				}
				p.pos-- // loop increment compensates
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					p.pos++
					return p.src[start:p.pos], nil
				}
			}
		}
		return "", fmt.Errorf("%w: unbalanced parentheses", ErrMalformed)
	case '"':
		if err := p.skipString(); err != nil {
			return "", err
		}
		return p.src[start:p.pos], nil
	default:
		for p.pos < len(p.src) {
			c := p.src[p.pos]
			if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == ')' || c == '(' {
				break
			}
			p.pos++
		}
		if p.pos == start {
			return "", fmt.Errorf("%w: missing value", ErrMalformed)
		}
		return p.src[start:p.pos], nil
	}
}

// skipString advances past a double-quoted string, honoring backslash escapes.
func (p *parser) skipString() error {
	if p.eof() || p.src[p.pos] != '"' {
		return fmt.Errorf("%w: expected string at offset %d", ErrMalformed, p.pos)
	}
	p.pos++
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			p.pos++
			return nil
		default:
			p.pos++
		}
	}
	return fmt.Errorf("%w: unterminated string", ErrMalformed)
}

// classify turns one extracted span into a typed Value. A span that
// matches no known literal form is retained as a raw string; that is
// the documented best-effort fallback for forward compatibility, not
// a silent error.
func (p *parser) classify(span string) (Value, error) {
	span = strings.TrimSpace(span)
	switch {
	case span == "":
		return Value{}, fmt.Errorf("%w: empty value span", ErrMalformed)
	case span[0] == '"':
		s, err := unquote(span)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindString, Str: s}, nil
	case span == "true" || span == "false":
		return Value{Kind: KindBool, Bool: span == "true"}, nil
	case span == "none":
		return Value{Kind: KindRaw, Str: "none"}, nil
	case span[0] == 'u' && len(span) > 1 && isDigits(span[1:]):
		n, err := strconv.ParseUint(span[1:], 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: uint literal %q: %v", ErrMalformed, span, err)
		}
		return Value{Kind: KindUint, Uint: n}, nil
	case isDigits(strings.TrimPrefix(span, "-")) && span != "-":
		n, err := strconv.ParseInt(span, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: int literal %q: %v", ErrMalformed, span, err)
		}
		return Value{Kind: KindInt, Int: n}, nil
	case isPrincipal(span):
		return Value{Kind: KindPrincipal, Str: strings.TrimPrefix(span, "'")}, nil
	case span[0] == '(':
		return p.classifyGroup(span)
	default:
		return Value{Kind: KindRaw, Str: span}, nil
	}
}

// classifyGroup handles parenthesized values: nested tuples, optional
// wrappers, and anything else as raw text.
func (p *parser) classifyGroup(span string) (Value, error) {
	inner := strings.TrimSpace(span[1 : len(span)-1])
	switch {
	case hasKeyword(inner, "tuple"):
		sub, err := ParseTuple(span)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: KindTuple, Tuple: sub}, nil
	case hasKeyword(inner, "some"):
		// (some v) unwraps to v
		return p.classify(strings.TrimSpace(strings.TrimPrefix(inner, "some")))
	case hasKeyword(inner, "ok"):
		return p.classify(strings.TrimSpace(strings.TrimPrefix(inner, "ok")))
	default:
		return Value{Kind: KindRaw, Str: span}, nil
	}
}

// hasKeyword matches kw as a whole atom at the start of s, so that
// (something u1) is not mistaken for a (some ...) wrapper.
func hasKeyword(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	rest := s[len(kw):]
	if rest == "" {
		return true
	}
	switch rest[0] {
	case ' ', '\t', '\n', '\r', '(', ')':
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if p.eof() || p.src[p.pos] != c {
		return fmt.Errorf("%w: expected %q at offset %d", ErrMalformed, string(c), p.pos)
	}
	p.pos++
	return nil
}

// readAtom reads a bare identifier (letters, digits, hyphens, underscores, ?, !).
func (p *parser) readAtom() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '?' || c == '!' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func unquote(span string) (string, error) {
	if len(span) < 2 || span[0] != '"' || span[len(span)-1] != '"' {
		return "", fmt.Errorf("%w: bad string literal %q", ErrMalformed, span)
	}
	var b strings.Builder
	body := span[1 : len(span)-1]
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' && i+1 < len(body) {
			i++
		}
		b.WriteByte(body[i])
	}
	return b.String(), nil
}

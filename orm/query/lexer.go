package query

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokParam
	tokSymbol
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of query"
	case tokString:
		return "'" + t.text + "'"
	case tokParam:
		return ":" + t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// is 判断关键字或符号（关键字大小写不敏感）
func (t token) is(word string) bool {
	switch t.kind {
	case tokIdent:
		return strings.EqualFold(t.text, word)
	case tokSymbol:
		return t.text == word
	default:
		return false
	}
}

func tokenize(src string) ([]token, error) {
	var out []token
	i := 0
	for i < len(src) {
		ch := rune(src[i])
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '\'':
			var sb strings.Builder
			start := i
			i++
			closed := false
			for i < len(src) {
				if src[i] == '\'' {
					if i+1 < len(src) && src[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at %d", start)
			}
			out = append(out, token{kind: tokString, text: sb.String(), pos: start})
		case ch == ':':
			start := i
			i++
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			if i == start+1 {
				return nil, fmt.Errorf("empty parameter name at %d", start)
			}
			out = append(out, token{kind: tokParam, text: src[start+1 : i], pos: start})
		case ch >= '0' && ch <= '9':
			start := i
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			out = append(out, token{kind: tokNumber, text: src[start:i], pos: start})
		case isIdentStart(ch):
			start := i
			for i < len(src) && (isIdentPart(rune(src[i])) || src[i] == '.') {
				i++
			}
			text := src[start:i]
			if strings.HasSuffix(text, ".") || strings.Contains(text, "..") {
				return nil, fmt.Errorf("malformed path %q at %d", text, start)
			}
			out = append(out, token{kind: tokIdent, text: text, pos: start})
		default:
			start := i
			two := ""
			if i+1 < len(src) {
				two = src[i : i+2]
			}
			switch two {
			case "<>", "!=", "<=", ">=":
				out = append(out, token{kind: tokSymbol, text: two, pos: start})
				i += 2
				continue
			}
			switch ch {
			case '(', ')', ',', '=', '<', '>', '*', '-':
				out = append(out, token{kind: tokSymbol, text: string(ch), pos: start})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q at %d", ch, start)
			}
		}
	}
	out = append(out, token{kind: tokEOF, pos: len(src)})
	return out, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

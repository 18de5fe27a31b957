package influxql

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokQuotedIdent
	tokString
	tokNumber
	tokOp
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

func (t token) String() string {
	switch t.kind {
	case tokString:
		return "'" + t.text + "'"
	case tokQuotedIdent:
		return `"` + t.text + `"`
	}
	return t.text
}

// tokenize splits an InfluxQL statement. Quoted identifiers and string
// literals are returned unescaped.
func tokenize(input string) ([]token, error) {
	var tokens []token
	rs := []rune(input)

	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '"' || r == '\'':
			text, n, err := readQuoted(rs[i:], r)
			if err != nil {
				return nil, err
			}
			kind := tokString
			if r == '"' {
				kind = tokQuotedIdent
			}
			tokens = append(tokens, token{kind: kind, text: text})
			i += n

		case r == ',' || r == '(' || r == ')' || r == '*' || r == ';':
			tokens = append(tokens, token{kind: tokPunct, text: string(r)})
			i++

		case r == '=' || r == '!' || r == '<' || r == '>':
			op := string(r)
			if i+1 < len(rs) {
				two := string(rs[i : i+2])
				if two == "!=" || two == "<>" || two == "<=" || two == ">=" {
					op = two
				}
			}
			if op == "!" {
				return nil, fmt.Errorf("unexpected %q at offset %d", r, i)
			}
			i += len(op)
			if op == "<>" {
				op = "!="
			}
			tokens = append(tokens, token{kind: tokOp, text: op})

		case r == '+' || r == '-':
			tokens = append(tokens, token{kind: tokOp, text: string(r)})
			i++

		case unicode.IsDigit(r) || (r == '.' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '.' || rs[j] == 'µ') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(rs[i:j])})
			i = j

		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.' || rs[j] == ':') {
				j++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(rs[i:j])})
			i = j

		default:
			return nil, fmt.Errorf("unexpected %q at offset %d", r, i)
		}
	}
	return tokens, nil
}

// readQuoted reads a quoted run starting at rs[0] and returns the unescaped
// text and the number of runes consumed.
func readQuoted(rs []rune, quote rune) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(rs); i++ {
		switch rs[i] {
		case '\\':
			if i+1 < len(rs) {
				i++
				b.WriteRune(rs[i])
			}
		case quote:
			return b.String(), i + 1, nil
		default:
			b.WriteRune(rs[i])
		}
	}
	return "", 0, fmt.Errorf("unterminated %c", quote)
}

package pinsql

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// --------------------------------
// Lexer
// --------------------------------

type pieceKind uint8

const (
	pieceText  pieceKind = iota // raw SQL, copied through untouched
	pieceToken                  // :name, text holds the bare name
	pieceSemi                   // statement separator outside quotes/comments
)

type piece struct {
	kind pieceKind
	text string
}

// lex walks q and splits it into raw text, :name tokens and top-level
// semicolons. Quoted strings, quoted identifiers, comments and dollar-quoted
// bodies are never scanned for tokens, and '::' casts are left alone.
func lex(dialect Dialect, q string) []piece {
	var out []piece
	start := 0
	flush := func(end int) {
		if end > start {
			out = append(out, piece{kind: pieceText, text: q[start:end]})
		}
	}

	var dqTag string // active dollar-quoted tag (Postgres-like)

	const (
		sText = iota
		sSQ   // '...'
		sDQ   // "..."
		sBT   // `...` (MySQL/SQLite)
		sBR   // [...] (SQL Server)
		sLC   // line comment -- or # (MySQL only)
		sBC   // block comment /* ... */
		sDQD  // $tag$ ... $tag$
	)
	state := sText

	for i := 0; i < len(q); {
		c := q[i]

		switch state {
		case sText:
			switch {
			case c == '-' && i+1 < len(q) && q[i+1] == '-':
				state = sLC
				i += 2
			case c == '#' && dialect == MySQL:
				state = sLC
				i++
			case c == '/' && i+1 < len(q) && q[i+1] == '*':
				state = sBC
				i += 2
			case c == '\'':
				state = sSQ
				i++
			case c == '"':
				state = sDQ
				i++
			case c == '`' && (dialect == MySQL || dialect == SQLite):
				state = sBT
				i++
			case c == '[' && dialect == SQLServer:
				state = sBR
				i++
			case c == '$':
				if tag, ok := readDollarTag(q[i:]); ok {
					state = sDQD
					dqTag = tag
					i += len(tag)
				} else {
					i++
				}
			case c == ';':
				flush(i)
				out = append(out, piece{kind: pieceSemi, text: ";"})
				i++
				start = i
			case c == ':' && i+1 < len(q) && q[i+1] != ':' && !(i > 0 && q[i-1] == ':') && isAlphaUnderscore(q[i+1]):
				k := i + 2
				for k < len(q) && isAlphaNumUnderscore(q[k]) {
					k++
				}
				flush(i)
				out = append(out, piece{kind: pieceToken, text: q[i+1 : k]})
				i = k
				start = i
			default:
				i++
			}

		case sSQ, sDQ:
			quote := byte('\'')
			if state == sDQ {
				quote = '"'
			}
			if c == '\\' {
				i += 2
				continue
			}
			i++
			if c == quote {
				if i < len(q) && q[i] == quote {
					i++
				} else {
					state = sText
				}
			}

		case sBT, sBR:
			closing := byte('`')
			if state == sBR {
				closing = ']'
			}
			i++
			if c == closing {
				if i < len(q) && q[i] == closing {
					i++
				} else {
					state = sText
				}
			}

		case sLC:
			i++
			if c == '\n' || c == '\r' {
				state = sText
			}

		case sBC:
			i++
			if c == '*' && i < len(q) && q[i] == '/' {
				i++
				state = sText
			}

		case sDQD:
			p := strings.Index(q[i:], dqTag)
			if p < 0 {
				i = len(q)
			} else {
				i += p + len(dqTag)
				dqTag = ""
				state = sText
			}
		}
	}
	if start < len(q) {
		out = append(out, piece{kind: pieceText, text: q[start:]})
	}
	return out
}

// --------------------------------
// Templates
// --------------------------------

// template is a query compiled for one dialect: the SQL with every :name
// replaced by a driver placeholder, plus the token behind each placeholder.
type template struct {
	sql   string
	slots []string // token name per placeholder, in order
	names []string // distinct token names, in order of first occurrence
}

// has reports whether the template carries the token name.
func (t *template) has(name string) bool {
	return slices.Contains(t.names, name)
}

// compile renders q for the dialect. Repeated tokens get one placeholder per
// occurrence so positional dialects see the value once per slot.
func compile(dialect Dialect, q string, maxNameLen int) (*template, error) {
	pieces := lex(dialect, q)
	t := &template{}
	var buf strings.Builder
	buf.Grow(len(q) + 16)
	seen := make(map[string]bool)

	for _, p := range pieces {
		switch p.kind {
		case pieceText, pieceSemi:
			buf.WriteString(p.text)
		case pieceToken:
			if maxNameLen > 0 && len(p.text) > maxNameLen {
				return nil, fmt.Errorf("%w: %q (%d > %d)", ErrParamNameTooLong, p.text, len(p.text), maxNameLen)
			}
			t.slots = append(t.slots, p.text)
			writePlaceholder(&buf, dialect, len(t.slots))
			if !seen[p.text] {
				seen[p.text] = true
				t.names = append(t.names, p.text)
			}
		}
	}
	t.sql = buf.String()
	return t, nil
}

// writePlaceholder emits a dialect-specific placeholder token for argument idx.
func writePlaceholder(b *strings.Builder, d Dialect, idx int) {
	switch d {
	case Postgres:
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(idx))
	case SQLServer:
		b.WriteString("@p")
		b.WriteString(strconv.Itoa(idx))
	default: // MySQL, SQLite
		b.WriteByte('?')
	}
}

// splitStatements cuts q at top-level semicolons. Blank statements are
// dropped and the separators themselves are not kept.
func splitStatements(dialect Dialect, q string) []string {
	var out []string
	var cur strings.Builder
	emit := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for _, p := range lex(dialect, q) {
		switch p.kind {
		case pieceText:
			cur.WriteString(p.text)
		case pieceToken:
			cur.WriteByte(':')
			cur.WriteString(p.text)
		case pieceSemi:
			emit()
		}
	}
	emit()
	return out
}

// --------------------------------
// Token verification
// --------------------------------

// MatchKind classifies the outcome of reconciling tokens with parameters.
type MatchKind uint8

const (
	// Matched means every token has a parameter and vice versa.
	Matched MatchKind = iota
	// ExtraParameters means some parameters have no token. They are dropped
	// before binding; the call proceeds.
	ExtraParameters
	// MissingParameters means some tokens have no parameter. This is fatal.
	MissingParameters
)

func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case ExtraParameters:
		return "extra"
	case MissingParameters:
		return "missing"
	default:
		return "unknown"
	}
}

// TokenMatch is the result of Verify. Missing holds bare token names; Extra
// holds parameter keys exactly as the caller wrote them. Kind reports the
// dominant condition: missing wins over extra.
type TokenMatch struct {
	Kind    MatchKind
	Missing []string
	Extra   []string
}

// Tokens returns the distinct :name tokens of q, without the colon, in order
// of first occurrence.
func Tokens(dialect Dialect, q string) []string {
	var names []string
	for _, p := range lex(dialect, q) {
		if p.kind == pieceToken && !slices.Contains(names, p.text) {
			names = append(names, p.text)
		}
	}
	return names
}

// Verify reconciles the tokens of query with params. A parameter matches a
// token whether or not its key carries the leading colon.
//
// Token names are limited to the default of 64 bytes; use Session.Verify to
// check against a session's Config.MaxNameLen.
func Verify(dialect Dialect, query string, params P) (TokenMatch, error) {
	t, err := compile(dialect, query, defaultMaxNameLen)
	if err != nil {
		return TokenMatch{}, err
	}
	return matchTokens(t.names, params)
}

// matchTokens is Verify over an already extracted token list.
func matchTokens(names []string, params P) (TokenMatch, error) {
	bare, err := normalizeParams(params)
	if err != nil {
		return TokenMatch{}, err
	}

	var m TokenMatch
	for _, name := range names {
		if _, ok := bare[name]; !ok {
			m.Missing = append(m.Missing, name)
		}
	}
	for _, key := range sortedKeys(params) {
		if !slices.Contains(names, strings.TrimPrefix(key, ":")) {
			m.Extra = append(m.Extra, key)
		}
	}

	switch {
	case len(m.Missing) > 0:
		m.Kind = MissingParameters
	case len(m.Extra) > 0:
		m.Kind = ExtraParameters
	}
	return m, nil
}

// DropExtra returns a copy of params without the given keys, each removed in
// both its prefixed and bare form.
func DropExtra(params P, extra []string) P {
	out := make(P, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, k := range extra {
		bare := strings.TrimPrefix(k, ":")
		delete(out, bare)
		delete(out, ":"+bare)
	}
	return out
}

// normalizeParams maps every key to its bare form and rejects sets that name
// the same token twice.
func normalizeParams(params P) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		bare := strings.TrimPrefix(k, ":")
		if _, dup := out[bare]; dup {
			return nil, fmt.Errorf("%w: %s", ErrParamDuplicate, bare)
		}
		out[bare] = v
	}
	return out, nil
}

// sortedKeys returns the keys of params in lexical order.
func sortedKeys(params P) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// --------------------------------
// Utils
// --------------------------------

// isAlphaUnderscore reports whether b is [A-Za-z_] .
func isAlphaUnderscore(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || b == '_'
}

// isAlphaNumUnderscore reports whether b is [A-Za-z0-9_] .
func isAlphaNumUnderscore(b byte) bool {
	return isAlphaUnderscore(b) || (b >= '0' && b <= '9')
}

// readDollarTag detects a dollar-quoted opening tag ("$tag$") at the start of s.
// It returns the full tag (e.g. "$tag$") and true if found.
func readDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	j := 1
	for j < len(s) && isAlphaNumUnderscore(s[j]) {
		j++
	}
	if j < len(s) && s[j] == '$' {
		return s[:j+1], true
	}
	return "", false
}

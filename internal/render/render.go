package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const indentWidth = 2

// Render renders m as a YAML document.
//
// Nil values, empty maps and empty lists are omitted entirely, including maps
// whose every value is itself omitted. An empty document renders as "{}".
// Render panics on value types it does not know; the generators only build
// trees from supported types, so that is a programming error.
func Render(m *Map) []byte {
	var buf bytes.Buffer
	if isEmpty(m) {
		buf.WriteString("{}\n")
		return buf.Bytes()
	}
	writeMap(&buf, m, 0)
	return buf.Bytes()
}

func writeMap(buf *bytes.Buffer, m *Map, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, k := range m.keys {
		v := m.values[k]
		if isEmpty(v) {
			continue
		}
		buf.WriteString(pad)
		buf.WriteString(Scalar(k))
		buf.WriteByte(':')
		switch val := v.(type) {
		case *Map:
			buf.WriteByte('\n')
			writeMap(buf, val, indent+indentWidth)
		default:
			if items, ok := listItems(val); ok {
				buf.WriteByte('\n')
				writeList(buf, items, indent+indentWidth)
				continue
			}
			buf.WriteByte(' ')
			buf.WriteString(Scalar(val))
			buf.WriteByte('\n')
		}
	}
}

func writeList(buf *bytes.Buffer, items []any, indent int) {
	pad := strings.Repeat(" ", indent)
	for _, item := range items {
		if isEmpty(item) {
			continue
		}
		switch val := item.(type) {
		case *Map:
			// The first key shares the line with the dash; the rest align under it.
			var nested bytes.Buffer
			writeMap(&nested, val, indent+indentWidth)
			body := nested.Bytes()
			buf.WriteString(pad)
			buf.WriteString("- ")
			buf.Write(body[indent+indentWidth:])
		default:
			if sub, ok := listItems(val); ok {
				buf.WriteString(pad)
				buf.WriteString("-\n")
				writeList(buf, sub, indent+indentWidth)
				continue
			}
			buf.WriteString(pad)
			buf.WriteString("- ")
			buf.WriteString(Scalar(val))
			buf.WriteByte('\n')
		}
	}
}

// listItems converts the supported slice types into []any.
func listItems(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out, true
	case []*Map:
		out := make([]any, len(val))
		for i, m := range val {
			out[i] = m
		}
		return out, true
	case []int:
		out := make([]any, len(val))
		for i, n := range val {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case *Map:
		if val == nil {
			return true
		}
		for _, k := range val.keys {
			if !isEmpty(val.values[k]) {
				return false
			}
		}
		return true
	}
	if items, ok := listItems(v); ok {
		for _, item := range items {
			if !isEmpty(item) {
				return false
			}
		}
		return true
	}
	return false
}

// Scalar renders a single scalar value.
func Scalar(v any) string {
	switch val := v.(type) {
	case string:
		if needsQuoting(val) {
			return Quote(val)
		}
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case fmt.Stringer:
		return Scalar(val.String())
	}
	panic(fmt.Sprintf("render: unsupported scalar type %T", v))
}

// Quote returns s as a double-quoted scalar with quotes, backslashes,
// control characters, line separators and non-printable runes escaped.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case 0x85:
			b.WriteString(`\N`)
		case 0x2028:
			b.WriteString(`\L`)
		case 0x2029:
			b.WriteString(`\P`)
		default:
			switch {
			case r < 0x20 || r == 0x7f:
				fmt.Fprintf(&b, `\x%02x`, r)
			case r == utf8.RuneError || r == 0xfeff || !unicode.IsPrint(r):
				if r > 0xffff {
					fmt.Fprintf(&b, `\U%08x`, r)
				} else {
					fmt.Fprintf(&b, `\u%04x`, r)
				}
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

// reservedChars may not appear in a plain scalar.
const reservedChars = ":#{}[],&*?"

// leadingIndicators may not start a plain scalar.
const leadingIndicators = "-?:,[]{}#&*!|>'\"%@`"

var reservedWords = map[string]bool{
	"true": true, "false": true, "yes": true, "no": true, "on": true, "off": true,
	"y": true, "n": true, "null": true, "~": true,
}

func needsQuoting(s string) bool {
	if s == "" {
		return true
	}
	if strings.TrimSpace(s) != s {
		return true
	}
	if strings.ContainsAny(s, reservedChars) {
		return true
	}
	if strings.ContainsRune(leadingIndicators, rune(s[0])) {
		return true
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || r == utf8.RuneError || r == 0xfeff || !unicode.IsPrint(r) {
			return true
		}
	}
	if reservedWords[strings.ToLower(s)] {
		return true
	}
	if looksNumeric(s) || looksLikeTimestamp.MatchString(s) {
		return true
	}
	return false
}

// looksLikeTimestamp matches the YAML 1.1 date forms untyped decoders resolve
// to timestamps.
var looksLikeTimestamp = regexp.MustCompile(`^[0-9]{4}-[0-9]{1,2}-[0-9]{1,2}([Tt ]|$)`)

func looksNumeric(s string) bool {
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return true
	}
	if _, err := strconv.ParseInt(s, 0, 64); err == nil {
		return true
	}
	// Decoders drop digit separators before resolving numbers.
	if plain := strings.ReplaceAll(s, "_", ""); plain != s && plain != "" && looksNumeric(plain) {
		return true
	}
	switch strings.ToLower(s) {
	case ".inf", "-.inf", "+.inf", ".nan":
		return true
	}
	return false
}

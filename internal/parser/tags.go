package parser

import "strings"

type match int

const (
	matchNone match = iota
	matchMore
	matchYes
)

// matchOpen reports whether buf starts with the opening tag prefix open
// ("<name") followed by a tag delimiter. matchMore means buf is too short
// to decide.
func matchOpen(buf, open string) match {
	if len(buf) <= len(open) {
		if strings.HasPrefix(open, buf) {
			return matchMore
		}
		return matchNone
	}
	if !strings.HasPrefix(buf, open) {
		return matchNone
	}
	switch buf[len(open)] {
	case ' ', '\t', '\n', '\r', '>', '/':
		return matchYes
	}
	return matchNone
}

type tagStatus int

const (
	tagComplete tagStatus = iota
	tagIncomplete
	tagTooLong
)

// tag is a complete opening tag.
type tag struct {
	raw         string
	attrs       map[string]string
	selfClosing bool
}

// readTag reads an opening tag starting at buf[0], whose name ends at
// nameEnd. A '>' inside a quoted attribute value does not end the tag. At
// most limit bytes are examined.
func readTag(buf string, nameEnd, limit int) (tag, tagStatus) {
	var quote byte
	end := min(len(buf), limit)
	for i := nameEnd; i < end; i++ {
		c := buf[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			inner := buf[nameEnd:i]
			t := tag{raw: buf[:i+1]}
			if strings.HasSuffix(inner, "/") {
				t.selfClosing = true
				inner = inner[:len(inner)-1]
			}
			t.attrs = parseAttrs(inner)
			return t, tagComplete
		}
	}
	if len(buf) >= limit {
		return tag{}, tagTooLong
	}
	return tag{}, tagIncomplete
}

// parseAttrs parses name="value", name='value' and name=value pairs.
// Bare names map to "". The first occurrence of a name wins.
func parseAttrs(s string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	for i < len(s) {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		start := i
		for i < len(s) && !isSpace(s[i]) && s[i] != '=' {
			i++
		}
		name := s[start:i]
		if name == "" {
			i++
			continue
		}
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) || s[i] != '=' {
			setAttr(attrs, name, "")
			continue
		}
		i++
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		var value string
		if i < len(s) && (s[i] == '"' || s[i] == '\'') {
			q := s[i]
			i++
			vstart := i
			for i < len(s) && s[i] != q {
				i++
			}
			value = s[vstart:i]
			i++
		} else {
			vstart := i
			for i < len(s) && !isSpace(s[i]) {
				i++
			}
			value = s[vstart:i]
		}
		setAttr(attrs, name, unescape(value))
	}
	return attrs
}

func setAttr(attrs map[string]string, name, value string) {
	if _, ok := attrs[name]; !ok {
		attrs[name] = value
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var attrUnescaper = strings.NewReplacer(
	"&quot;", `"`,
	"&apos;", "'",
	"&lt;", "<",
	"&gt;", ">",
	"&amp;", "&",
)

func unescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return attrUnescaper.Replace(s)
}

// findClose looks for the first of closes in buf. It returns the index and
// which close tag matched, or idx -1. hold is where a close tag may still
// begin at the end of buf (len(buf) when nothing needs holding).
func findClose(buf string, closes ...string) (idx, which, hold int) {
	from := 0
	for {
		j := strings.IndexByte(buf[from:], '<')
		if j < 0 {
			return -1, -1, len(buf)
		}
		i := from + j
		rest := buf[i:]
		for k, c := range closes {
			if strings.HasPrefix(rest, c) {
				return i, k, i
			}
		}
		for _, c := range closes {
			if len(rest) < len(c) && strings.HasPrefix(c, rest) {
				return -1, -1, i
			}
		}
		from = i + 1
	}
}

package document

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

// ParseLiteral decodes parameter text with a small literal grammar:
// integers, floats, True/False, None, quoted strings, [lists] and (tuples).
// Anything else, including an unbracketed comma-separated sequence such as
// "1,2,3", is kept as Raw text.
func ParseLiteral(text string) Value {
	text = strings.TrimSpace(text)
	p := &literalParser{src: text}
	v, ok := p.parseValue()
	if !ok {
		return Raw(text)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return Raw(text)
	}
	return v
}

type literalParser struct {
	src string
	pos int
}

func (p *literalParser) skipSpace() {
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *literalParser) peek() byte {
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

func (p *literalParser) parseValue() (Value, bool) {
	p.skipSpace()
	switch c := p.peek(); {
	case c == 0:
		return Value{}, false
	case c == '[':
		p.pos++
		items, _, ok := p.parseItems(']')
		if !ok {
			return Value{}, false
		}
		return Value{kind: KindList, items: items}, true
	case c == '(':
		p.pos++
		items, trailingComma, ok := p.parseItems(')')
		if !ok {
			return Value{}, false
		}
		// "(x)" is a parenthesized expression, "(x,)" a singleton tuple.
		if len(items) == 1 && !trailingComma {
			return items[0], true
		}
		return Value{kind: KindTuple, items: items}, true
	case c == '\'' || c == '"':
		return p.parseString(c)
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.parseNumber()
	default:
		return p.parseKeyword()
	}
}

// parseItems reads comma separated values up to the closing delimiter. The
// opening delimiter has already been consumed.
func (p *literalParser) parseItems(closing byte) ([]Value, bool, bool) {
	items := []Value{}
	trailingComma := false
	for {
		p.skipSpace()
		if p.peek() == closing {
			p.pos++
			return items, trailingComma, true
		}
		v, ok := p.parseValue()
		if !ok {
			return nil, false, false
		}
		items = append(items, v)
		trailingComma = false

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
			trailingComma = true
		case closing:
			p.pos++
			return items, false, true
		default:
			return nil, false, false
		}
	}
}

func (p *literalParser) parseString(q byte) (Value, bool) {
	p.pos++ // opening quote
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == q:
			p.pos++
			return String(b.String()), true
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return Value{}, false
			}
			p.pos++
			switch e := p.src[p.pos]; e {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case '\\', '\'', '"':
				b.WriteByte(e)
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
			p.pos++
		case c == '\n':
			return Value{}, false
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return Value{}, false
}

func (p *literalParser) parseNumber() (Value, bool) {
	start := p.pos
	if c := p.peek(); c == '-' || c == '+' {
		p.pos++
	}
	digits := 0
	isFloat := false
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9':
			digits++
			p.pos++
		case c == '_' && digits > 0:
			p.pos++
		case c == '.' && !isFloat:
			isFloat = true
			p.pos++
		case (c == 'e' || c == 'E') && digits > 0:
			isFloat = true
			p.pos++
			if s := p.peek(); s == '-' || s == '+' {
				p.pos++
			}
			exp := 0
			for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
				exp++
				p.pos++
			}
			if exp == 0 {
				return Value{}, false
			}
			return p.finishNumber(start, true)
		default:
			if digits == 0 {
				return Value{}, false
			}
			return p.finishNumber(start, isFloat)
		}
	}
	if digits == 0 {
		return Value{}, false
	}
	return p.finishNumber(start, isFloat)
}

func (p *literalParser) finishNumber(start int, isFloat bool) (Value, bool) {
	text := p.src[start:p.pos]
	if !validUnderscores(text) {
		return Value{}, false
	}
	lit := strings.ReplaceAll(text, "_", "")
	if !isFloat && leadingZero(strings.TrimLeft(lit, "+-")) {
		return Value{}, false
	}
	if isFloat {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return Value{}, false
		}
		return Float(f), true
	}
	i, err := strconv.ParseInt(lit, 10, 64)
	if err != nil {
		return Value{}, false
	}
	return Int(i), true
}

// validUnderscores reports whether every '_' in a number sits between two
// digits.
func validUnderscores(text string) bool {
	for i := 0; i < len(text); i++ {
		if text[i] != '_' {
			continue
		}
		if i == 0 || i == len(text)-1 || !isDigit(text[i-1]) || !isDigit(text[i+1]) {
			return false
		}
	}
	return true
}

// leadingZero reports a decimal integer such as 007. Zero itself, in any
// number of digits, is allowed.
func leadingZero(digits string) bool {
	return len(digits) > 1 && digits[0] == '0' && strings.Trim(digits, "0") != ""
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func (p *literalParser) parseKeyword() (Value, bool) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	switch p.src[start:p.pos] {
	case "True":
		return Bool(true), true
	case "False":
		return Bool(false), true
	case "None":
		return Null(), true
	}
	return Value{}, false
}

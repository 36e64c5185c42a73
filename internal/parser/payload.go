package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/buger/jsonparser"
)

var embeddedMapRe = regexp.MustCompile(`({.+})`)

// parseResponses extracts the {...} mapping embedded in a responses string
// and returns its keys and values in document order.
func parseResponses(raw string) ([]string, []string, error) {
	payload := embeddedMapRe.FindString(raw)
	if payload == "" {
		return nil, nil, fmt.Errorf("%w: no mapping in responses %q", ErrMalformedPayload, raw)
	}
	questions, answers, err := orderedPairs([]byte(payload))
	if err == nil {
		return questions, answers, nil
	}
	// Responses written by older clients are Python dict literals.
	normalized, lerr := literalToJSON(payload)
	if lerr != nil {
		return nil, nil, fmt.Errorf("%w: responses %q: %v", ErrMalformedPayload, raw, lerr)
	}
	if q, a, perr := orderedPairs(normalized); perr == nil {
		return q, a, nil
	}
	return nil, nil, fmt.Errorf("%w: responses %q: %v", ErrMalformedPayload, raw, err)
}

// literalToJSON rewrites a Python literal into JSON. Strings in either quote
// style are decoded with their escapes and re-emitted as JSON strings;
// True, False and None become their JSON counterparts.
func literalToJSON(lit string) ([]byte, error) {
	var out []byte
	for i := 0; i < len(lit); {
		c := lit[i]
		switch {
		case c == '\'' || c == '"':
			text, next, err := readQuoted(lit, i)
			if err != nil {
				return nil, err
			}
			enc, err := json.Marshal(text)
			if err != nil {
				return nil, err
			}
			out = append(out, enc...)
			i = next
		case isIdentStart(c):
			j := i
			for j < len(lit) && (isIdentStart(lit[j]) || (lit[j] >= '0' && lit[j] <= '9')) {
				j++
			}
			out = append(out, pythonToJSON(lit[i:j])...)
			i = j
		default:
			out = append(out, c)
			i++
		}
	}
	return out, nil
}

// readQuoted decodes the string literal opening at lit[start] and returns
// its text and the index just past the closing quote.
func readQuoted(lit string, start int) (string, int, error) {
	quote := lit[start]
	var b strings.Builder
	for i := start + 1; i < len(lit); i++ {
		c := lit[i]
		switch {
		case c == quote:
			return b.String(), i + 1, nil
		case c == '\\' && i+1 < len(lit):
			i++
			switch e := lit[i]; e {
			case '\\', '\'', '"':
				b.WriteByte(e)
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			case 'x', 'u':
				size := 2
				if e == 'u' {
					size = 4
				}
				if i+size >= len(lit) {
					return "", 0, fmt.Errorf("truncated escape at offset %d", i)
				}
				n, err := strconv.ParseUint(lit[i+1:i+1+size], 16, 32)
				if err != nil {
					return "", 0, fmt.Errorf("bad escape at offset %d: %w", i, err)
				}
				b.WriteRune(rune(n))
				i += size
			default:
				b.WriteByte('\\')
				b.WriteByte(e)
			}
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string at offset %d", start)
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func pythonToJSON(ident string) string {
	switch ident {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None":
		return "null"
	default:
		return ident
	}
}

func orderedPairs(payload []byte) ([]string, []string, error) {
	questions := []string{}
	answers := []string{}
	err := jsonparser.ObjectEach(payload, func(key, value []byte, dataType jsonparser.ValueType, _ int) error {
		k, err := jsonparser.ParseString(key)
		if err != nil {
			return err
		}
		v, err := valueText(value, dataType)
		if err != nil {
			return err
		}
		questions = append(questions, k)
		answers = append(answers, v)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return questions, answers, nil
}

func valueText(value []byte, dataType jsonparser.ValueType) (string, error) {
	switch dataType {
	case jsonparser.String:
		return jsonparser.ParseString(value)
	case jsonparser.Null:
		return "null", nil
	default:
		return string(value), nil
	}
}

// parseQuestionOrder parses a bracketed comma separated integer list.
func parseQuestionOrder(raw string) ([]int, error) {
	s := strings.TrimSpace(raw)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: question order %q", ErrMalformedPayload, raw)
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	if inner == "" {
		return []int{}, nil
	}
	parts := strings.Split(inner, ",")
	order := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%w: question order %q: %v", ErrMalformedPayload, raw, err)
		}
		order = append(order, n)
	}
	return order, nil
}

package messaging

import "bytes"

// Normalize removes raw line breaks that upstream producers leave inside
// JSON string values holding wrapped base64 (certificates, keys). Only string
// literals made solely of base64 characters and whitespace are touched, so
// any other malformed payload still fails to decode.
func Normalize(body []byte) []byte {
	if !bytes.ContainsAny(body, "\r\n") {
		return body
	}

	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); {
		if body[i] != '"' {
			out = append(out, body[i])
			i++
			continue
		}

		end := closingQuote(body, i+1)
		if end < 0 {
			return append(out, body[i:]...)
		}

		literal := body[i : end+1]
		if isWrappedBase64(literal[1 : len(literal)-1]) {
			for _, c := range literal {
				if c != '\n' && c != '\r' {
					out = append(out, c)
				}
			}
		} else {
			out = append(out, literal...)
		}
		i = end + 1
	}
	return out
}

// closingQuote returns the index of the quote ending the string literal
// whose content starts at from, or -1
func closingQuote(body []byte, from int) int {
	for j := from; j < len(body); j++ {
		switch body[j] {
		case '\\':
			j++
		case '"':
			return j
		}
	}
	return -1
}

func isWrappedBase64(content []byte) bool {
	wrapped := false
	for _, c := range content {
		switch {
		case c == '\n' || c == '\r':
			wrapped = true
		case c == ' ' || c == '\t':
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+' || c == '/' || c == '=' || c == '_':
		default:
			return false
		}
	}
	return wrapped
}

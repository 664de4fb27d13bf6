// Package mention извлекает @handle упоминания из текста.
package mention

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Extract возвращает handle'ы в нижнем регистре, в порядке первого появления, без повторов.
//
// Упоминание — '@' и затем один или больше символов [A-Za-z0-9_.-]. '@' должен
// стоять в начале текста или после пробельного символа, поэтому адреса вида
// support@example.com упоминаний не дают.
func Extract(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, tok := range scan(text) {
		h := strings.ToLower(tok.Handle)
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// Token — одно вхождение упоминания; Offset — байтовая позиция '@'.
type Token struct {
	Handle string
	Offset int
}

// Scan возвращает все вхождения как есть (без приведения регистра и дедупликации).
func Scan(text string) []Token { return scan(text) }

func scan(text string) []Token {
	var out []Token
	prev := rune(-1)
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == '@' && (prev == -1 || unicode.IsSpace(prev)) {
			j := i + 1
			for j < len(text) && isHandleByte(text[j]) {
				j++
			}
			if j > i+1 {
				out = append(out, Token{Handle: text[i+1 : j], Offset: i})
				prev = rune(text[j-1])
				i = j
				continue
			}
		}
		prev = r
		i += size
	}
	return out
}

func isHandleByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '.' || c == '-'
}

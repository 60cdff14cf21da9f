package engine

import (
	"fmt"
	"strings"
)

// jsonPathGet — минимальный JSONPath-подобный селектор.
//
// Поддерживаются формы:
//   - $.a.b
//   - $.a[0].b
//   - a.b (ведущий "$." необязателен)
func jsonPathGet(obj any, path string) (any, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return obj, nil
	}
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")
	if p == "" {
		return obj, nil
	}

	cur := obj
	for _, part := range splitJSONPath(p) {
		key, idxs := parseJSONPathPart(part)
		if key != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: missing key: %s", ErrJSONPath, key)
			}
			v, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("%w: missing key: %s", ErrJSONPath, key)
			}
			cur = v
		}
		for _, i := range idxs {
			list, ok := cur.([]any)
			if !ok || i >= len(list) {
				return nil, fmt.Errorf("%w: index out of range: %d", ErrJSONPath, i)
			}
			cur = list[i]
		}
	}
	return cur, nil
}

// splitJSONPath делит путь по точкам вне квадратных скобок.
func splitJSONPath(p string) []string {
	parts := make([]string, 0)
	buf := strings.Builder{}
	inBracket := false
	for _, ch := range p {
		if ch == '.' && !inBracket {
			if buf.Len() > 0 {
				parts = append(parts, buf.String())
				buf.Reset()
			}
			continue
		}
		if ch == '[' {
			inBracket = true
		} else if ch == ']' {
			inBracket = false
		}
		buf.WriteRune(ch)
	}
	if buf.Len() > 0 {
		parts = append(parts, buf.String())
	}
	return parts
}

// parseJSONPathPart разбирает сегмент вида foo, foo[0] или foo[0][1].
// Некорректные индексы молча отбрасываются.
func parseJSONPathPart(part string) (string, []int) {
	key := part
	idxs := make([]int, 0)
	if i := strings.IndexByte(part, '['); i >= 0 {
		key = part[:i]
		num := 0
		inNum := false
		for _, ch := range part[i:] {
			switch {
			case ch >= '0' && ch <= '9':
				num = num*10 + int(ch-'0')
				inNum = true
			case ch == ']':
				if inNum {
					idxs = append(idxs, num)
				}
				num = 0
				inNum = false
			}
		}
	}
	return key, idxs
}

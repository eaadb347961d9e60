package providers

import "errors"

// ErrNoJSONObject 响应文本中找不到完整的 JSON 对象
var ErrNoJSONObject = errors.New("no balanced JSON object in provider response")

// ExtractJSONObject 返回文本中第一个配平的 {...} 片段
// 字符串内的花括号不参与计数，反斜杠转义的引号不会结束字符串
func ExtractJSONObject(text string) (string, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if start < 0 {
			if ch == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", ErrNoJSONObject
}

package mapping

import (
	"strings"
	"unicode"
)

// SnakeCase 将 Go 标识符转换为 snake_case，连续大写视为一个缩写词（ISBN -> isbn，URLPath -> url_path）
func SnakeCase(s string) string {
	runes := []rune(s)
	var sb strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// LowerCamel 将首个单词转为小写（ISBN -> isbn，PublishedOn -> publishedOn，URLPath -> urlPath）
func LowerCamel(s string) string {
	runes := []rune(s)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(runes):
		// 单个大写字母或全大写
	default:
		// 最后一个大写字母属于下一个单词
		n--
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// propertyForField 字段路径转属性名：Address.Street1 -> address.street1
func propertyForField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = LowerCamel(p)
	}
	return strings.Join(parts, ".")
}

// columnForField 字段路径转列名：Address.Street1 -> address_street1
func columnForField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = SnakeCase(p)
	}
	return strings.Join(parts, "_")
}

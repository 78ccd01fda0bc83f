package model

import "strings"

// Slugify 将实验名称转换为文件系统安全的目录名
//
// 规则：ASCII 字母转小写，ASCII 数字保留，其余字符（含空格）一律替换为下划线。
// 输出字符集为 [a-z0-9_]，结果确定且幂等。
func Slugify(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// ValidSlug 检查 slug 是否只包含 [a-z0-9_] 且非空
// 查询接口用它拒绝路径穿越之类的输入
func ValidSlug(slug string) bool {
	if slug == "" {
		return false
	}
	for i := 0; i < len(slug); i++ {
		c := slug[i]
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}

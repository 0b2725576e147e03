package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxSlugLength 与 announcements.slug 列宽保持一致，并为冲突后缀预留空间。
const MaxSlugLength = 180

// Slugify 将标题转换为 URL 安全的 slug：去除变音符号、转小写、非字母数字折叠为单个连字符。
// 非拉丁字符（如中文）保留原样，由浏览器负责百分号编码。
func Slugify(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, input)
	if err != nil {
		folded = input
	}

	var b strings.Builder
	pendingDash := false
	count := 0
	for _, r := range strings.ToLower(folded) {
		if count >= MaxSlugLength {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
				count++
			}
			b.WriteRune(r)
			count++
			pendingDash = false
			continue
		}
		pendingDash = true
	}
	return strings.Trim(b.String(), "-")
}

// IsValidSlug 判断 slug 是否只包含小写字母、数字与单个连字符分隔。
func IsValidSlug(slug string) bool {
	if slug == "" || len([]rune(slug)) > MaxSlugLength {
		return false
	}
	return Slugify(slug) == slug
}

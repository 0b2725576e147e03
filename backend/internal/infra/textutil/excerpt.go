package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// DefaultExcerptLength 是自动摘要的最大字符数（按 rune 计）。
const DefaultExcerptLength = 200

// PlainText 提取富文本 HTML 的纯文本，连续空白折叠为单个空格。
func PlainText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return strings.Join(strings.Fields(html), " ")
	}
	doc.Find("script, style, noscript").Remove()
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// Excerpt 基于正文生成摘要，超出 limit 时在词边界截断并追加省略号。
func Excerpt(html string, limit int) string {
	if limit <= 0 {
		limit = DefaultExcerptLength
	}
	text := PlainText(html)
	if utf8.RuneCountInString(text) <= limit {
		return text
	}

	runes := []rune(text)
	cut := string(runes[:limit])
	if idx := strings.LastIndex(cut, " "); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

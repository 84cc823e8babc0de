package processor

import (
	"net/url"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// 常见泰语与英语停用词
var stopWords = map[string]struct{}{
	"ที่": {}, "และ": {}, "ใน": {}, "เป็น": {}, "ของ": {}, "มี": {}, "จาก": {}, "ได้": {}, "ว่า": {}, "ให้": {},
	"แล้ว": {}, "ไป": {}, "มา": {}, "ไม่": {}, "ก็": {}, "ถ้า": {}, "จะ": {}, "ทั้ง": {}, "นี้": {}, "นั้น": {},
	"the": {}, "and": {}, "for": {}, "with": {}, "that": {}, "this": {}, "from": {}, "are": {}, "was": {},
	"were": {}, "has": {}, "have": {}, "had": {}, "not": {}, "but": {}, "its": {}, "into": {}, "than": {},
	"will": {}, "would": {}, "can": {}, "about": {}, "after": {}, "over": {}, "more": {}, "their": {}, "they": {},
}

// CleanHTML 只保留可见文本，多个空白压缩为一个空格
func CleanHTML(s string) string {
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return collapseSpaces(s)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return collapseSpaces(s)
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	for _, n := range doc.Selection.Nodes {
		collectText(n, &parts)
	}
	return collapseSpaces(strings.Join(parts, " "))
}

func collectText(n *html.Node, out *[]string) {
	if n.Type == html.TextNode {
		*out = append(*out, n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, out)
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateText 按 rune 截断，退回到上限之前最后一个空白处，不切断单词
func TruncateText(text string, max int) string {
	if text == "" || max <= 0 {
		return text
	}
	rs := []rune(text)
	if len(rs) <= max {
		return text
	}

	cut := string(rs[:max])
	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, unicode.IsSpace) + "..."
}

// ExtractKeywords 从文本中按词频取前 max 个关键词，同频按首次出现顺序
func ExtractKeywords(text string, max int) []string {
	if strings.TrimSpace(text) == "" || max <= 0 {
		return []string{}
	}

	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, strings.ToLower(text))

	counts := make(map[string]int)
	order := make([]string, 0, 16)
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > max {
		order = order[:max]
	}
	return order
}

// NormalizeURL 去掉追踪参数与 fragment，其余参数保持原有顺序
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		parts := strings.Split(u.RawQuery, "&")
		kept := make([]string, 0, len(parts))
		for _, p := range parts {
			if p == "" {
				continue
			}
			key := p
			if i := strings.IndexByte(p, '='); i >= 0 {
				key = p[:i]
			}
			if k, err := url.QueryUnescape(key); err == nil {
				key = k
			}
			if isTrackingParam(key) {
				continue
			}
			kept = append(kept, p)
		}
		u.RawQuery = strings.Join(kept, "&")
	}
	u.ForceQuery = false
	return u.String()
}

func isTrackingParam(key string) bool {
	key = strings.ToLower(key)
	return strings.HasPrefix(key, "utm_") || key == "fbclid" || key == "gclid"
}

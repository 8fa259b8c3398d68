package shortcircuit

import (
	"fmt"
	"log"
	"strings"
)

type NewsItem struct {
	Title string
	Date  string
	URL   string
}

// NewsSource supplies the latest food-safety news.
type NewsSource interface {
	Latest(limit int) ([]NewsItem, error)
}

// StaticNews serves a fixed list of items.
type StaticNews []NewsItem

func (s StaticNews) Latest(limit int) ([]NewsItem, error) {
	if limit <= 0 || limit > len(s) {
		limit = len(s)
	}
	return s[:limit], nil
}

var DefaultNewsKeywords = []string{"食安新聞", "最新新聞", "新聞"}

// News answers exact news keywords with a text digest from a NewsSource.
// When the source has nothing, the message falls through to the model.
type News struct {
	keywords []string
	source   NewsSource
	limit    int
}

func NewNews(source NewsSource, keywords ...string) *News {
	if len(keywords) == 0 {
		keywords = DefaultNewsKeywords
	}
	return &News{keywords: keywords, source: source, limit: 3}
}

func (n *News) Handle(text string) (string, bool) {
	text = strings.TrimSpace(text)
	matched := false
	for _, k := range n.keywords {
		if text == k {
			matched = true
			break
		}
	}
	if !matched || n.source == nil {
		return "", false
	}

	items, err := n.source.Latest(n.limit)
	if err != nil {
		log.Printf("[News] source failed err=%v", err)
		return "", false
	}
	if len(items) == 0 {
		return "", false
	}

	var b strings.Builder
	b.WriteString("最新食品新聞")
	for i, it := range items {
		fmt.Fprintf(&b, "\n\n%d. %s", i+1, it.Title)
		if it.Date != "" {
			fmt.Fprintf(&b, "（%s）", it.Date)
		}
		if it.URL != "" {
			b.WriteString("\n" + it.URL)
		}
	}
	return b.String(), true
}

func DefaultNewsSource() StaticNews {
	return StaticNews{
		{Title: "食藥署食品新聞", URL: "https://www.fda.gov.tw/TC/news.aspx?cid=4"},
	}
}

package shortcircuit

import "strings"

type FAQEntry struct {
	Keywords []string
	Answer   string
}

// FAQ matches the first entry having a keyword contained in the message.
type FAQ struct {
	entries []FAQEntry
}

func NewFAQ(entries []FAQEntry) *FAQ {
	return &FAQ{entries: entries}
}

func (f *FAQ) Handle(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, e := range f.entries {
		for _, k := range e.Keywords {
			if k != "" && strings.Contains(text, k) {
				return e.Answer, true
			}
		}
	}
	return "", false
}

func DefaultFAQ() *FAQ {
	return NewFAQ([]FAQEntry{
		{
			Keywords: []string{"你是誰", "使用說明", "怎麼用"},
			Answer:   "我是食品安全小幫手，可以回答食品添加物、食安法規相關問題。輸入「食安新聞」可查看食藥署最新消息。",
		},
		{
			Keywords: []string{"檢舉", "申訴專線"},
			Answer:   "食品安全檢舉可撥打衛生福利部食品藥物管理署專線 1919，或至各縣市衛生局網站線上檢舉。",
		},
		{
			Keywords: []string{"查詢添加物", "添加物查詢"},
			Answer:   "食品添加物使用範圍及限量可至食藥署「食品添加物使用範圍及限量暨規格標準」查詢：https://consumer.fda.gov.tw/",
		},
	})
}

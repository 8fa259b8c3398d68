// Package shortcircuit answers messages that never need the language model.
package shortcircuit

// Handler returns a reply and true when it recognizes text.
type Handler interface {
	Handle(text string) (string, bool)
}

type HandlerFunc func(text string) (string, bool)

func (f HandlerFunc) Handle(text string) (string, bool) { return f(text) }

// First returns the first non-empty reply produced by hs, in order.
func First(text string, hs ...Handler) (string, bool) {
	for _, h := range hs {
		if h == nil {
			continue
		}
		if reply, ok := h.Handle(text); ok && reply != "" {
			return reply, true
		}
	}
	return "", false
}

package macro

import "regexp"

// TemplateHandler computes a replacement for the content found between a
// template macro's delimiters.
type TemplateHandler func(content string) string

// templateMacro replaces `start(content)end`, matching content
// non-greedily so the closing delimiter binds to the nearest occurrence.
type templateMacro struct {
	macroName string
	pattern   *regexp.Regexp
	handler   TemplateHandler
}

// AddTemplateMacro registers a start/end delimiter pair. Unlike a naive
// character-class construction over the raw delimiter bytes, the
// pattern here escapes startDelim and endDelim wholesale so
// multi-character, multi-byte close delimiters compile to an exact
// literal match instead of an unintended per-character alternation.
func (e *Engine) AddTemplateMacro(name, startDelim, endDelim string, handler TemplateHandler) error {
	pattern := regexp.QuoteMeta(startDelim) + `([\s\S]*?)` + regexp.QuoteMeta(endDelim)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.register(&templateMacro{macroName: name, pattern: re, handler: handler})
	return nil
}

func (m *templateMacro) name() string { return m.macroName }

func (m *templateMacro) findMatches(doc string) [][]int {
	return m.pattern.FindAllSubmatchIndex([]byte(doc), -1)
}

func (m *templateMacro) expand(eng *Engine, doc string, loc []int) (string, bool) {
	if len(loc) < 4 {
		return "", false
	}
	content := doc[loc[2]:loc[3]]
	return m.handler(content), true
}

func (m *templateMacro) launchStreaming(*Engine, string, []int) {}

package macro

import "regexp"

// RegexHandler computes a replacement for one match, given the full
// match text and its capture groups (index 0 omitted).
type RegexHandler func(match string, groups []string, index int) string

// regexMacro replaces every match of an arbitrary pattern via a
// user-supplied handler.
type regexMacro struct {
	macroName string
	pattern   *regexp.Regexp
	handler   RegexHandler
}

// AddRegexMacro registers pattern (always matched globally, regardless
// of any flags embedded in the caller's regex source) with handler.
func (e *Engine) AddRegexMacro(name, pattern string, handler RegexHandler) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.register(&regexMacro{macroName: name, pattern: re, handler: handler})
	return nil
}

func (m *regexMacro) name() string { return m.macroName }

func (m *regexMacro) findMatches(doc string) [][]int {
	return m.pattern.FindAllSubmatchIndex([]byte(doc), -1)
}

func (m *regexMacro) expand(eng *Engine, doc string, loc []int) (string, bool) {
	match := doc[loc[0]:loc[1]]
	groups := make([]string, 0, len(loc)/2-1)
	for i := 2; i+1 < len(loc); i += 2 {
		if loc[i] < 0 {
			groups = append(groups, "")
			continue
		}
		groups = append(groups, doc[loc[i]:loc[i+1]])
	}
	return m.handler(match, groups, loc[0]), true
}

func (m *regexMacro) launchStreaming(*Engine, string, []int) {}

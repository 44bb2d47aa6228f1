package macro

import "regexp"

// textMacro replaces a literal trigger string with a fixed replacement,
// optionally requiring it be surrounded by whitespace/document edges.
type textMacro struct {
	trigger     string
	replacement string
	pattern     *regexp.Regexp
}

// AddTextMacro registers a literal trigger that expands to replacement.
// wordBoundary requires the trigger be delimited by
// whitespace, a newline, or the start/end of the document.
func (e *Engine) AddTextMacro(trigger, replacement string, wordBoundary bool) {
	escaped := regexp.QuoteMeta(trigger)
	pattern := "(" + escaped + ")"
	if wordBoundary {
		pattern = `(?:^|\s|\n)(` + escaped + `)(?:$|\s|\n)`
	}
	e.register(&textMacro{
		trigger:     trigger,
		replacement: replacement,
		pattern:     regexp.MustCompile(pattern),
	})
}

func (m *textMacro) name() string { return "text:" + m.trigger }

func (m *textMacro) findMatches(doc string) [][]int {
	return m.pattern.FindAllSubmatchIndex([]byte(doc), -1)
}

// expand returns the replacement for the trigger's own capture group
// (group 1), leaving any surrounding whitespace captured by the
// word-boundary anchors untouched.
func (m *textMacro) expand(eng *Engine, doc string, loc []int) (string, bool) {
	if len(loc) < 4 {
		return "", false
	}
	// Narrow loc to the inner capture group so applyMatch only replaces
	// the trigger itself, not its surrounding anchor whitespace.
	loc[0], loc[1] = loc[2], loc[3]
	return m.replacement, true
}

func (m *textMacro) launchStreaming(*Engine, string, []int) {}

package macro

import "regexp"

// BlockContext gives a block macro's transform the surrounding document
// alongside the bracketed content it is replacing.
type BlockContext struct {
	FullDocument string
	BeforeMatch  string
	AfterMatch   string
	MatchText    string
}

// BlockHandler transforms a block macro's inner content, returning the
// text that replaces the entire `::BEGIN:...::…::END:...::` region,
// markers included.
type BlockHandler func(content string, ctx BlockContext) string

// blockMacro replaces `::BEGIN:<name>::…::END:<name>::` regions.
type blockMacro struct {
	macroName string
	pattern   *regexp.Regexp
	handler   BlockHandler
}

// AddBlockMacro registers a named block trigger. The optional newline
// immediately inside each marker is consumed, not handed to the
// transform.
func (e *Engine) AddBlockMacro(name string, transform BlockHandler) error {
	escaped := regexp.QuoteMeta(name)
	pattern := `::BEGIN:` + escaped + `::\n?([\s\S]*?)\n?::END:` + escaped + `::`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.register(&blockMacro{macroName: name, pattern: re, handler: transform})
	return nil
}

func (m *blockMacro) name() string { return "block:" + m.macroName }

func (m *blockMacro) findMatches(doc string) [][]int {
	return m.pattern.FindAllSubmatchIndex([]byte(doc), -1)
}

func (m *blockMacro) expand(eng *Engine, doc string, loc []int) (string, bool) {
	if len(loc) < 4 {
		return "", false
	}
	ctx := BlockContext{
		FullDocument: doc,
		BeforeMatch:  doc[:loc[0]],
		AfterMatch:   doc[loc[1]:],
		MatchText:    doc[loc[0]:loc[1]],
	}
	content := doc[loc[2]:loc[3]]
	return m.handler(content, ctx), true
}

func (m *blockMacro) launchStreaming(*Engine, string, []int) {}

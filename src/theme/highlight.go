package theme

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/x/ansi"
)

const fence = "```"

// Highlight applies syntax highlighting to code for a 256 color terminal.
// Unknown languages are detected from the code. On failure the code is
// returned unchanged.
func Highlight(code, language, style string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	s := chromaStyles.Get(style)
	if s == nil {
		s = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, s, iterator); err != nil {
		return code
	}
	return buf.String()
}

// HighlightBlocks highlights every fenced code block in text. Text outside
// fences and the fence lines themselves are left as is. An unterminated
// fence is not highlighted.
func HighlightBlocks(text, style string) string {
	lines := strings.SplitAfter(text, "\n")

	var (
		out      strings.Builder
		block    strings.Builder
		opening  string
		language string
		inBlock  bool
	)
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case !inBlock && strings.HasPrefix(trimmed, fence):
			inBlock = true
			opening = line
			language = strings.TrimSpace(strings.TrimPrefix(trimmed, fence))
			block.Reset()
		case inBlock && trimmed == fence:
			inBlock = false
			out.WriteString(opening)
			highlighted := Highlight(block.String(), language, style)
			out.WriteString(highlighted)
			if !strings.HasSuffix(highlighted, "\n") {
				out.WriteString("\n")
			}
			out.WriteString(line)
		case inBlock:
			block.WriteString(line)
		default:
			out.WriteString(line)
		}
	}
	if inBlock {
		out.WriteString(opening)
		out.WriteString(block.String())
	}
	return out.String()
}

// Plain strips ANSI escape sequences from s.
func Plain(s string) string {
	return ansi.Strip(s)
}

// Truncate shortens s to width visible cells, ending with an ellipsis when
// anything was cut.
func Truncate(s string, width int) string {
	if width <= 0 || ansi.StringWidth(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/elee1766/parley/src/aisdk"
)

// Theme represents a color theme
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Text      lipgloss.Color
	TextMuted lipgloss.Color
	Success   lipgloss.Color
	Error     lipgloss.Color

	// CodeStyle names the chroma style used for fenced code blocks.
	CodeStyle string
}

// DefaultTheme returns the dark theme used unless configured otherwise.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("#7C3AED"),
		Secondary: lipgloss.Color("#3B82F6"),
		Text:      lipgloss.Color("#F9FAFB"),
		TextMuted: lipgloss.Color("#6B7280"),
		Success:   lipgloss.Color("#10B981"),
		Error:     lipgloss.Color("#EF4444"),
		CodeStyle: "monokai",
	}
}

// CurrentTheme is the theme used by NewStyles callers that do not pass one.
var CurrentTheme = DefaultTheme()

// SetTheme sets the current theme
func SetTheme(t Theme) {
	CurrentTheme = t
}

// Styles holds the rendered styles for CLI output.
type Styles struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Muted     lipgloss.Style
	Header    lipgloss.Style

	// Color is false when output must stay plain.
	Color     bool
	CodeStyle string
}

// NewStyles builds styles from t. With color disabled every style renders
// text unchanged.
func NewStyles(t Theme, color bool) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{
			User: plain, Assistant: plain, System: plain,
			Error: plain, Success: plain, Muted: plain, Header: plain,
		}
	}
	return Styles{
		User:      lipgloss.NewStyle().Bold(true).Foreground(t.Secondary),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		System:    lipgloss.NewStyle().Italic(true).Foreground(t.TextMuted),
		Error:     lipgloss.NewStyle().Bold(true).Foreground(t.Error),
		Success:   lipgloss.NewStyle().Foreground(t.Success),
		Muted:     lipgloss.NewStyle().Foreground(t.TextMuted),
		Header:    lipgloss.NewStyle().Bold(true).Underline(true).Foreground(t.Text),
		Color:     true,
		CodeStyle: t.CodeStyle,
	}
}

// RoleLabel renders the prompt label for role, e.g. "You: ".
func (s Styles) RoleLabel(role aisdk.Role) string {
	switch role {
	case aisdk.RoleUser:
		return s.User.Render("You") + ": "
	case aisdk.RoleAssistant:
		return s.Assistant.Render(role.Label()) + ": "
	default:
		return s.System.Render(role.Label()) + ": "
	}
}

// Reply renders an assistant reply, highlighting fenced code blocks when
// color is enabled.
func (s Styles) Reply(text string) string {
	if !s.Color {
		return text
	}
	return HighlightBlocks(text, s.CodeStyle)
}

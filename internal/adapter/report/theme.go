package report

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"streamprobe/internal/domain"
)

// Adaptive palette; lipgloss picks the variant for the terminal background
// and drops color entirely under NO_COLOR.
var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
)

// Styles groups the lipgloss styles used when color is enabled.
type Styles struct {
	OK      lipgloss.Style
	Empty   lipgloss.Style
	Timeout lipgloss.Style
	Error   lipgloss.Style
	Heading lipgloss.Style
	Muted   lipgloss.Style
}

// DefaultStyles returns the colored style set.
func DefaultStyles() Styles {
	return Styles{
		OK:      lipgloss.NewStyle().Foreground(colorSuccess).Bold(true),
		Empty:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Timeout: lipgloss.NewStyle().Foreground(colorWarning).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(colorError).Bold(true),
		Heading: lipgloss.NewStyle().Bold(true),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

func (s Styles) forStatus(st domain.Status) lipgloss.Style {
	switch st {
	case domain.StatusOK:
		return s.OK
	case domain.StatusEmpty:
		return s.Empty
	case domain.StatusTimeout:
		return s.Timeout
	default:
		return s.Error
	}
}

// SymbolSet holds the glyphs used in reports.
type SymbolSet struct {
	OK      string
	Empty   string
	Timeout string
	Error   string
	Warning string
	Bullet  string
}

// UnicodeSymbols is the default glyph set.
var UnicodeSymbols = SymbolSet{
	OK:      "\u2713", // ✓
	Empty:   "\u2717", // ✗
	Timeout: "\u231B", // ⌛
	Error:   "\u2717", // ✗
	Warning: "\u26A0", // ⚠
	Bullet:  "\u2022", // •
}

// ASCIISymbols is used on terminals without Unicode.
var ASCIISymbols = SymbolSet{
	OK:      "[OK]",
	Empty:   "[--]",
	Timeout: "[..]",
	Error:   "[!!]",
	Warning: "[!]",
	Bullet:  "*",
}

// Glyph returns the symbol for st.
func (s SymbolSet) Glyph(st domain.Status) string {
	switch st {
	case domain.StatusOK:
		return s.OK
	case domain.StatusEmpty:
		return s.Empty
	case domain.StatusTimeout:
		return s.Timeout
	default:
		return s.Error
	}
}

// DetectUnicodeSupport reports whether the terminal likely renders Unicode.
// STREAMPROBE_ASCII_SYMBOLS=1 forces ASCII.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("STREAMPROBE_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	return true
}

// Package render writes answers and status notices to a terminal.
package render

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gtalk/internal/browser"
	"gtalk/internal/extract"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

const (
	RuleWidth = 60

	highlightFormatter = "terminal256"
	highlightStyle     = "monokai"
	clearSequence      = "\033[H\033[2J"
)

// ColorEnabled reports whether f is an interactive terminal and NO_COLOR is unset.
func ColorEnabled(f *os.File) bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return IsTerminal(f)
}

func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Terminal renders to out. It satisfies query.Reporter.
type Terminal struct {
	out   io.Writer
	color bool

	warn    lipgloss.Style
	fail    lipgloss.Style
	hint    lipgloss.Style
	ok      lipgloss.Style
	rule    lipgloss.Style
	heading lipgloss.Style
}

func New(out io.Writer, color bool) *Terminal {
	r := lipgloss.NewRenderer(out)
	return &Terminal{
		out:     out,
		color:   color,
		warn:    r.NewStyle().Foreground(lipgloss.Color("214")),
		fail:    r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		hint:    r.NewStyle().Foreground(lipgloss.Color("244")).Italic(true),
		ok:      r.NewStyle().Foreground(lipgloss.Color("42")),
		rule:    r.NewStyle().Foreground(lipgloss.Color("63")),
		heading: r.NewStyle().Bold(true),
	}
}

func (t *Terminal) paint(s lipgloss.Style, text string) string {
	if !t.color {
		return text
	}
	return s.Render(text)
}

func (t *Terminal) println(text string) {
	fmt.Fprintln(t.out, text)
}

func (t *Terminal) separator() string {
	return t.paint(t.rule, strings.Repeat("=", RuleWidth))
}

// Banner prints the interactive greeting.
func (t *Terminal) Banner(platform, runtimeVersion string) {
	t.println(t.separator())
	t.println(t.paint(t.heading, "  Google AI Mode - Interactive Terminal Query Tool"))
	t.println(t.separator())
	t.println(fmt.Sprintf("  Platform: %s | Go: %s", platform, runtimeVersion))
	t.println(t.separator())
	t.println("\nType 'help' for commands, 'quit' to exit\n")
}

func (t *Terminal) Help() {
	t.println("\n" + t.separator())
	t.println("Commands:")
	t.println("  [text]    - Query Google AI Mode")
	t.println("  help      - Show this help message")
	t.println("  clear     - Clear terminal screen")
	t.println("  reset     - Reset conversation memory")
	t.println("  memory    - Show conversation memory")
	t.println("  quit      - Exit the program")
	t.println(t.separator() + "\n")
}

// Clear wipes the screen when writing to a terminal.
func (t *Terminal) Clear() {
	if t.color {
		fmt.Fprint(t.out, clearSequence)
	}
}

func (t *Terminal) Prompt() {
	fmt.Fprint(t.out, "Query> ")
}

// Stage reports browser start-up progress.
func (t *Terminal) Stage(s browser.Stage) {
	switch s {
	case browser.StageLaunching:
		t.println("🔄 Initializing browser...")
	case browser.StageWarmingUp:
		t.println("🔄 Warming up session...")
	case browser.StageReady:
		t.println(t.paint(t.ok, "✓ Browser ready!") + "\n")
	}
}

func (t *Terminal) InitFailed(err error) {
	t.println(t.paint(t.fail, "❌ "+capitalize(err.Error())))
}

func (t *Terminal) Querying(text string) {
	t.println("Querying: " + text + "\n")
}

func (t *Terminal) MemoryReset() {
	t.println(t.paint(t.ok, "✓ Conversation memory reset.") + "\n")
}

func (t *Terminal) Memory(summary string) {
	if summary == "" {
		t.println(t.paint(t.hint, "(conversation memory is empty)") + "\n")
		return
	}
	t.println("Memory: " + summary + "\n")
}

func (t *Terminal) Goodbye()     { t.println("Goodbye!") }
func (t *Terminal) Exiting()     { t.println("\nExiting...") }
func (t *Terminal) Interrupted() { t.println("\n\n👋 Interrupted. Goodbye!") }

func (t *Terminal) Searching() {
	t.println("🔍 Searching...")
}

func (t *Terminal) ChallengeRetry(wait time.Duration, next, total int) {
	t.println(t.paint(t.warn, fmt.Sprintf("⚠️  CAPTCHA detected. Retrying in %v... (Attempt %d/%d)", wait, next, total)))
}

func (t *Terminal) ChallengeExhausted() {
	t.println(t.paint(t.fail, "❌ CAPTCHA detected. Max retries reached."))
	t.println(t.paint(t.hint, "💡 Tip: Wait a few minutes before trying again.") + "\n")
}

func (t *Terminal) Crashed(err error) {
	t.println(t.paint(t.fail, "❌ Error: "+err.Error()))
	t.println(t.paint(t.hint, "💡 Browser crashed. Reinitializing..."))
}

func (t *Terminal) NoAnswer() {
	t.println(t.paint(t.fail, "❌ No AI summary found."))
	t.println(t.paint(t.hint, "💡 Google AI Mode might not have generated a response for this query.") + "\n")
}

func (t *Terminal) Failed(err error) {
	t.println(t.paint(t.fail, "❌ Error: "+err.Error()) + "\n")
}

// Answer prints blocks between separator lines: paragraphs as-is, code fenced and
// tagged with its language.
func (t *Terminal) Answer(blocks []extract.Block) {
	t.println("\n" + t.separator())
	writeBlocks(t.out, blocks, t.highlight)
	t.println(t.separator() + "\n")
}

// Markdown renders blocks without styling, as used by non-terminal surfaces.
func Markdown(blocks []extract.Block) string {
	var b strings.Builder
	writeBlocks(&b, blocks, func(_, code string) string { return code })
	return strings.TrimRight(b.String(), "\n")
}

func writeBlocks(w io.Writer, blocks []extract.Block, highlight func(language, code string) string) {
	for _, b := range blocks {
		switch b.Kind {
		case extract.KindText:
			fmt.Fprintf(w, "%s\n\n", b.Text)
		case extract.KindCode:
			fmt.Fprintf(w, "```%s\n%s\n```\n\n", b.Language, highlight(b.Language, strings.TrimRight(b.Code, " \t\r\n")))
		}
	}
}

func (t *Terminal) highlight(language, code string) string {
	if !t.color || language == "" || lexers.Get(language) == nil {
		return code
	}
	var b strings.Builder
	if err := quick.Highlight(&b, code, language, highlightFormatter, highlightStyle); err != nil {
		return code
	}
	return strings.TrimRight(b.String(), "\n")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

package tui

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/openkraft/categoryassert/internal/domain"
)

var (
	accent = lipgloss.Color("#D97706") // amber
	fg     = lipgloss.Color("#E8E6E3") // warm light gray
	dim    = lipgloss.Color("#6B7280") // muted gray
	danger = lipgloss.Color("#EF4444") // red
)

type styles struct {
	assembly lipgloss.Style
	fixture  lipgloss.Style
	test     lipgloss.Style
	message  lipgloss.Style
}

// newStyles binds the palette to a renderer so color is only emitted when
// the destination supports it.
func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		assembly: r.NewStyle().Bold(true).Foreground(accent),
		fixture:  r.NewStyle().Bold(true).Foreground(fg),
		test:     r.NewStyle().Foreground(fg),
		message:  r.NewStyle().Foreground(danger),
	}
}

// TextReporter implements domain.Reporter with the indented text report:
// assembly violations under the assembly header, then each fixture with
// violations and its tests.
type TextReporter struct {
	w  io.Writer
	st styles
}

var _ domain.Reporter = (*TextReporter)(nil)

// NewTextReporter creates a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w, st: newStyles(lipgloss.NewRenderer(w))}
}

// Report writes the violations of one binary. Binaries without violations
// produce no output.
func (r *TextReporter) Report(result *domain.AssemblyResult) error {
	if result.ViolationCount() == 0 {
		return nil
	}
	var b strings.Builder
	renderAssembly(&b, r.st, result)
	_, err := io.WriteString(r.w, b.String())
	return err
}

// Finish is a no-op; the total is conveyed by the exit status.
func (r *TextReporter) Finish(int) error { return nil }

// indented writes lines prefixed by one tab per indent level. Blank lines
// carry the prefix too, and the level never drops below zero.
type indented struct {
	b     *strings.Builder
	level int
}

func (w *indented) line(text string) {
	w.b.WriteString(strings.Repeat("\t", w.level))
	w.b.WriteString(text)
	w.b.WriteString("\n")
}

func (w *indented) shift(n int) { w.level = max(w.level+n, 0) }

// renderAssembly keeps fixtures at the outer level when assembly violations
// precede them; consumers compare the report text verbatim.
func renderAssembly(b *strings.Builder, st styles, result *domain.AssemblyResult) {
	w := &indented{b: b}
	header := st.assembly.Render("Assembly: " + result.Name)
	if len(result.Violations) > 0 {
		w.line(header)
		w.shift(1)
		for _, v := range result.Violations {
			w.line(st.message.Render(v))
		}
		w.shift(-1)
	}
	headed := len(result.Violations) > 0
	for _, f := range result.Fixtures {
		if len(f.Violations) == 0 {
			continue
		}
		if !headed {
			w.line(header)
			w.line("")
			w.shift(1)
			headed = true
		}
		w.line(st.fixture.Render("Fixture: " + f.Name))
		w.line("")
		w.shift(1)
		for _, v := range f.Violations {
			w.line(st.test.Render("Test: " + v.TestName))
			w.shift(1)
			w.line(st.message.Render(v.Message))
			w.shift(-1)
			w.line("")
		}
		w.shift(-1)
	}
	w.shift(-1)
	w.line("")
}

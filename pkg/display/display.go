// Package display prints pipeline progress and results to a terminal.
//
// Status lines are colored when the output is a terminal. Result bodies are
// built as markdown and rendered with glamour when a renderer is configured,
// otherwise written as-is.
package display

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/zen-systems/lanepro/pkg/pipeline"
)

// Printer writes milestones and results to out.
type Printer struct {
	out    io.Writer
	color  bool
	render func(string) (string, error)

	progress *color.Color
	success  *color.Color
	warning  *color.Color
	failure  *color.Color
}

// Option configures a Printer.
type Option func(*Printer)

// WithColor forces colored status lines on or off.
func WithColor(enabled bool) Option {
	return func(p *Printer) {
		p.color = enabled
	}
}

// WithRenderer renders result markdown through fn.
func WithRenderer(fn func(string) (string, error)) Option {
	return func(p *Printer) {
		p.render = fn
	}
}

// New returns a plain Printer writing to out.
func New(out io.Writer, opts ...Option) *Printer {
	p := &Printer{out: out}
	for _, opt := range opts {
		opt(p)
	}

	p.progress = color.New(color.FgCyan)
	p.success = color.New(color.FgGreen, color.Bold)
	p.warning = color.New(color.FgYellow)
	p.failure = color.New(color.FgRed, color.Bold)
	for _, c := range []*color.Color{p.progress, p.success, p.warning, p.failure} {
		if p.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// NewStdout returns a Printer for os.Stdout. Color is enabled when stdout is
// a terminal; markdown is rendered when render is true and stdout is a
// terminal.
func NewStdout(render bool) *Printer {
	tty := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	opts := []Option{WithColor(tty)}
	if render && tty {
		if fn, err := NewMarkdownRenderer(); err == nil {
			opts = append(opts, WithRenderer(fn))
		}
	}
	return New(os.Stdout, opts...)
}

// NewMarkdownRenderer returns a glamour renderer that adapts to the
// terminal background.
func NewMarkdownRenderer() (func(string) (string, error), error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return nil, err
	}
	return r.Render, nil
}

// Milestone prints one progress line.
func (p *Printer) Milestone(m pipeline.Milestone) {
	p.progress.Fprintf(p.out, "[%3d%%] %s\n", m.Percent, m.Message)
}

// Result prints the outcome of a finished run.
func (p *Printer) Result(res *pipeline.Result) error {
	if res == nil {
		return nil
	}
	switch res.Outcome {
	case pipeline.OutcomeSoftError:
		p.warning.Fprintln(p.out, "Pipeline completed with an early error from the Architect stage.")
		return p.markdown(softErrorMarkdown(res))
	case pipeline.OutcomeDone:
		p.success.Fprintln(p.out, "Pipeline finished successfully!")
		return p.markdown(summaryMarkdown(res))
	default:
		p.failure.Fprintln(p.out, "Pipeline failed.")
		if res.State.ErrorMessage != "" {
			fmt.Fprintln(p.out, res.State.ErrorMessage)
		}
		return nil
	}
}

// Error prints a run error. Stage failures include the attempt count.
func (p *Printer) Error(err error) {
	var failure *pipeline.Failure
	var cooldown *pipeline.CooldownError
	switch {
	case errors.As(err, &cooldown):
		p.warning.Fprintf(p.out, "Please wait. %v\n", cooldown)
	case errors.As(err, &failure):
		p.failure.Fprintf(p.out, "An error occurred during the pipeline execution after %d attempts: %v\n", failure.Attempts, failure.Err)
	default:
		p.failure.Fprintf(p.out, "Error: %v\n", err)
	}
}

func (p *Printer) markdown(doc string) error {
	if p.render != nil {
		rendered, err := p.render(doc)
		if err != nil {
			return fmt.Errorf("render result: %w", err)
		}
		doc = rendered
	}
	_, err := io.WriteString(p.out, doc)
	return err
}

func summaryMarkdown(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString("## Job Summary\n\n")
	fmt.Fprintf(&b, "**Score:** %s/10\n\n", res.Score)
	b.WriteString("### Worker's Output\n\n")
	writeFence(&b, "text", res.ImplementationResult)
	b.WriteString("### Judge's Analysis\n\n")
	writeFence(&b, "text", res.JudgeVerdictRaw)
	fmt.Fprintf(&b, "**Discrepancy (<50 words):** %s\n", res.Discrepancy)
	return b.String()
}

func softErrorMarkdown(res *pipeline.Result) string {
	var b strings.Builder
	b.WriteString("**Final Output:**\n\n")
	writeFence(&b, "json", res.State.FinalOutput)
	return b.String()
}

func writeFence(b *strings.Builder, lang, body string) {
	fence := "```"
	for strings.Contains(body, fence) {
		fence += "`"
	}
	fmt.Fprintf(b, "%s%s\n%s\n%s\n\n", fence, lang, strings.TrimRight(body, "\n"), fence)
}

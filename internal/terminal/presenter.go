// Package terminal runs a survey session over a line-based text console.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rcliao/comic-survey/internal/model"
	"github.com/rcliao/comic-survey/internal/session"
)

// Question is how a rating dimension is asked.
type Question struct {
	Text string
	Low  string
	High string
}

// DefaultQuestions covers model.DefaultDimensions.
var DefaultQuestions = map[model.Dimension]Question{
	"comprehensibility": {Text: "War der Comic inhaltlich verständlich?", Low: "Stimme überhaupt nicht zu", High: "Stimme voll zu"},
	"processing_speed":  {Text: "Wie schnell konnten Sie den Comic verstehen?", Low: "Sehr langsam", High: "Sehr schnell"},
	"boredom":           {Text: "Waren Sie gelangweilt?", Low: "Gar nicht", High: "Sehr"},
	"excitement":        {Text: "War der Comic spannend?", Low: "Gar nicht", High: "Sehr"},
}

type styles struct {
	title   lipgloss.Style
	prompt  lipgloss.Style
	muted   lipgloss.Style
	problem lipgloss.Style
	success lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3")),
		prompt:  r.NewStyle().Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
		problem: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#e53935")),
		success: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")),
	}
}

// Options configures a Presenter.
type Options struct {
	// ImageDir is prefixed to item filenames when they are shown.
	ImageDir       string
	AskKnownBefore bool
	Questions      map[model.Dimension]Question
}

// Presenter implements session.Presenter on a reader and a writer.
type Presenter struct {
	in    *bufio.Scanner
	out   io.Writer
	opts  Options
	style styles
}

var _ session.Presenter = (*Presenter)(nil)

// New returns a Presenter reading answers line by line from in.
func New(in io.Reader, out io.Writer, opts Options) *Presenter {
	if opts.Questions == nil {
		opts.Questions = DefaultQuestions
	}
	return &Presenter{
		in:    bufio.NewScanner(in),
		out:   out,
		opts:  opts,
		style: newStyles(lipgloss.NewRenderer(out)),
	}
}

func (p *Presenter) println(s string) {
	fmt.Fprintln(p.out, s)
}

func (p *Presenter) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, p.style.prompt.Render(prompt)+" ")
	if !p.in.Scan() {
		if err := p.in.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return strings.TrimSpace(p.in.Text()), nil
}

func (p *Presenter) ShowIntro(ctx context.Context) error {
	p.println(p.style.title.Render("Comic-Experiment"))
	p.println("Willkommen zum Experiment!")
	p.println("Sie werden einige Comic-Seiten sehen. Danach beantworten Sie einige Fragen.")
	p.println("Bitte beantworten Sie ehrlich und aufmerksam.")
	_, err := p.ask(ctx, "Drücken Sie Enter, um zu beginnen.")
	return err
}

// AskLanguageLevel accepts the option number or the option text.
func (p *Presenter) AskLanguageLevel(ctx context.Context, levels []model.Level) (model.Level, error) {
	p.println("Wie schätzen Sie Ihre Englischkenntnisse ein?")
	for i, l := range levels {
		p.println(fmt.Sprintf("  %d) %s", i+1, l))
	}
	answer, err := p.ask(ctx, "Ihre Wahl:")
	if err != nil {
		return "", err
	}
	if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(levels) {
		return levels[n-1], nil
	}
	return model.Level(answer), nil
}

func (p *Presenter) ShowItem(ctx context.Context, item model.StimulusItem, index, total int) (session.ItemAnswer, error) {
	p.println("")
	p.println(p.style.title.Render(fmt.Sprintf("Comic %d von %d", index+1, total)))
	p.println(p.style.muted.Render(filepath.Join(p.opts.ImageDir, item.Filename)))
	p.println("Bitte beschreiben Sie kurz den Inhalt des Comics in einem Satz:")

	var ans session.ItemAnswer
	text, err := p.ask(ctx, "Ihre Beschreibung:")
	if err != nil {
		return ans, err
	}
	ans.Description = text

	// an empty description is rejected and the item shown again
	if p.opts.AskKnownBefore && ans.Description != "" {
		known, err := p.ask(ctx, "Kannten Sie diesen Comic bereits? (j/n, leer = keine Angabe)")
		if err != nil {
			return ans, err
		}
		ans.KnownBefore = parseYesNo(known)
	}
	return ans, nil
}

// AskRatings leaves unparsable answers out so the session reports them as
// missing.
func (p *Presenter) AskRatings(ctx context.Context, item model.StimulusItem, dims []model.Dimension) (map[model.Dimension]int, error) {
	p.println("Bitte bewerten Sie den Comic:")
	ratings := make(map[model.Dimension]int, len(dims))
	for _, d := range dims {
		q, ok := p.opts.Questions[d]
		if !ok {
			q = Question{Text: string(d)}
		}
		prompt := fmt.Sprintf("%s (%d-%d)", q.Text, model.MinRating, model.MaxRating)
		if q.Low != "" {
			prompt = fmt.Sprintf("%s [%d = %s, %d = %s]", prompt, model.MinRating, q.Low, model.MaxRating, q.High)
		}
		answer, err := p.ask(ctx, prompt)
		if err != nil {
			return nil, err
		}
		if n, err := strconv.Atoi(answer); err == nil {
			ratings[d] = n
		}
	}
	return ratings, nil
}

func (p *Presenter) ShowProblem(_ context.Context, msg string) error {
	p.println(p.style.problem.Render(msg))
	return nil
}

func (p *Presenter) ShowCompletion(_ context.Context, rows []model.Row) error {
	p.println("")
	p.println(p.style.success.Render("Vielen Dank für Ihre Teilnahme!"))
	p.println(fmt.Sprintf("Ihre Antworten wurden gespeichert (%d Comics).", len(rows)))
	return nil
}

func (p *Presenter) ShowFailure(_ context.Context, msg string) error {
	p.println(p.style.problem.Render(msg))
	return nil
}

func (p *Presenter) ConfirmRetry(ctx context.Context) (bool, error) {
	answer, err := p.ask(ctx, "Erneut versuchen? (j/n)")
	if err != nil {
		return false, err
	}
	yes := parseYesNo(answer)
	return yes != nil && *yes, nil
}

func parseYesNo(s string) *bool {
	var v bool
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "j", "ja", "y", "yes":
		v = true
	case "n", "nein", "no":
		v = false
	default:
		return nil
	}
	return &v
}

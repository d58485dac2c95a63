package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/ashureev/data-assistant/internal/chat"
)

// Terminal palette. Primary marks the user, secondary the assistant.
var (
	primaryColor   = lipgloss.Color("39")
	secondaryColor = lipgloss.Color("245")
	errorColor     = lipgloss.Color("196")
)

// TerminalRenderer renders a transcript for a fixed-width terminal.
type TerminalRenderer struct {
	sanitizer *Sanitizer
	markdown  *glamour.TermRenderer

	userStyle  lipgloss.Style
	botStyle   lipgloss.Style
	labelStyle lipgloss.Style
	errStyle   lipgloss.Style
}

// NewTerminalRenderer builds a renderer for the given width. glamourStyle is a
// glamour standard style name such as "dark", "light" or "notty".
func NewTerminalRenderer(width int, glamourStyle string, sanitizer *Sanitizer) (*TerminalRenderer, error) {
	if width < 20 {
		width = 20
	}
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	if glamourStyle == "" {
		glamourStyle = "dark"
	}

	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(glamourStyle),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return nil, fmt.Errorf("create markdown renderer: %w", err)
	}

	bubble := lipgloss.NewStyle().Width(width).Padding(0, 1)
	return &TerminalRenderer{
		sanitizer:  sanitizer,
		markdown:   md,
		userStyle:  bubble.Foreground(primaryColor).Align(lipgloss.Right),
		botStyle:   bubble.Foreground(secondaryColor).Align(lipgloss.Left),
		labelStyle: lipgloss.NewStyle().Bold(true).Foreground(secondaryColor),
		errStyle:   lipgloss.NewStyle().Foreground(errorColor),
	}, nil
}

// Render draws the whole transcript. Step reports show only their title
// unless expanded is set.
func (r *TerminalRenderer) Render(snap chat.Snapshot, expanded bool) string {
	var b strings.Builder
	for i, m := range snap.Transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(r.message(m, expanded))
	}
	return b.String()
}

func (r *TerminalRenderer) message(m chat.Message, expanded bool) string {
	if m.Role == chat.RoleUser {
		return r.userStyle.Render(StripControl(m.Text) + " " + iconUser)
	}

	var body string
	switch {
	case m.IsSteps():
		body = r.steps(*m.Steps, expanded)
	case m.Raw:
		body = StripControl(m.Text)
	default:
		body = r.sanitizer.Plain(m.Text)
	}
	if m.Label != "" {
		body = r.labelStyle.Render(m.Label) + "\n" + body
	}
	return r.botStyle.Render(iconBot + " " + body)
}

func (r *TerminalRenderer) steps(report chat.StepReport, expanded bool) string {
	if !expanded {
		return "▸ " + StepsTitle
	}
	sections := Sections(report)
	for i := range sections {
		sections[i].Title = StripControl(sections[i].Title)
		sections[i].Body = StripControl(sections[i].Body)
	}
	out, err := r.markdown.Render(StepsMarkdown(sections))
	if err != nil {
		return r.errStyle.Render("unable to render steps: " + err.Error())
	}
	return "▾ " + StepsTitle + "\n" + strings.TrimRight(out, "\n")
}

// StepsMarkdown formats sections as a markdown document.
func StepsMarkdown(sections []Section) string {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "#### %s\n\n", s.Title)
		switch s.Kind {
		case KindCode:
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", s.Lang, s.Body)
		case KindError:
			fmt.Fprintf(&b, "> **Error:** %s\n\n", s.Body)
		default:
			if s.Body == "" {
				b.WriteString("_none_\n\n")
				continue
			}
			fmt.Fprintf(&b, "%s\n\n", s.Body)
		}
	}
	return b.String()
}

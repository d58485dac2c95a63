package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ashureev/data-assistant/internal/chat"
)

//go:embed templates/transcript.html
var templateFS embed.FS

const (
	iconUser = "\U0001F464"
	iconBot  = "\U0001F916"
)

type messageView struct {
	Role     chat.Role
	Side     string
	Icon     string
	Label    string
	Text     string
	Pre      bool
	Markup   template.HTML
	Sections []Section
}

type transcriptView struct {
	Seq        uint64
	StepsTitle string
	Loading    bool
	Messages   []messageView
}

// HTMLRenderer renders a transcript as an HTML fragment. User text is escaped,
// bot text is sanitized, raw results are shown preformatted.
type HTMLRenderer struct {
	tmpl      *template.Template
	sanitizer *Sanitizer
}

// NewHTMLRenderer parses the embedded transcript template.
func NewHTMLRenderer(sanitizer *Sanitizer) (*HTMLRenderer, error) {
	if sanitizer == nil {
		sanitizer = NewSanitizer()
	}
	tmpl, err := template.ParseFS(templateFS, "templates/transcript.html")
	if err != nil {
		return nil, fmt.Errorf("parse transcript template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl, sanitizer: sanitizer}, nil
}

// Render writes the transcript fragment for snap to w.
func (r *HTMLRenderer) Render(w io.Writer, snap chat.Snapshot) error {
	if err := r.tmpl.ExecuteTemplate(w, "transcript", r.view(snap)); err != nil {
		return fmt.Errorf("render transcript: %w", err)
	}
	return nil
}

// Fragment renders snap into a value safe to embed in a page.
func (r *HTMLRenderer) Fragment(snap chat.Snapshot) (template.HTML, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, snap); err != nil {
		return "", err
	}
	// #nosec G203 -- produced by html/template with sanitized bot markup.
	return template.HTML(buf.String()), nil
}

func (r *HTMLRenderer) view(snap chat.Snapshot) transcriptView {
	v := transcriptView{
		Seq:        snap.Seq,
		StepsTitle: StepsTitle,
		Loading:    snap.InFlight,
		Messages:   make([]messageView, 0, len(snap.Transcript)),
	}
	for _, m := range snap.Transcript {
		mv := messageView{Role: m.Role, Label: m.Label}
		switch {
		case m.Role == chat.RoleUser:
			mv.Side, mv.Icon, mv.Text = "right", iconUser, m.Text
		case m.IsSteps():
			mv.Side, mv.Icon, mv.Sections = "left", iconBot, Sections(*m.Steps)
		case m.Raw:
			mv.Side, mv.Icon, mv.Text, mv.Pre = "left", iconBot, m.Text, true
		default:
			mv.Side, mv.Icon = "left", iconBot
			mv.Markup = r.sanitizer.HTML(m.Text)
		}
		v.Messages = append(v.Messages, mv)
	}
	return v
}

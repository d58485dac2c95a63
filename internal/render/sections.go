// Package render turns transcript messages into HTML and terminal output.
package render

import (
	"strings"

	"github.com/ashureev/data-assistant/internal/chat"
)

// StepsTitle labels the control that expands a step report.
const StepsTitle = "Query Process Steps"

// Kind tells a renderer how to present a section body.
type Kind string

const (
	KindText  Kind = "text"
	KindCode  Kind = "code"
	KindError Kind = "error"
)

// Section is one titled block of a step report.
type Section struct {
	Title string
	Body  string
	Kind  Kind
	Lang  string // code sections only
}

// Sections maps a step report to its five fixed sections.
// The generated SQL is only ever displayed.
func Sections(r chat.StepReport) []Section {
	validation := "Failed"
	if r.SQLValidated {
		validation = "Successful"
	}

	result := Section{Title: "5. Query Result", Kind: KindCode, Lang: "json", Body: chat.FormatJSON(r.QueryResult)}
	if r.HasError() {
		result.Kind = KindError
		result.Lang = ""
		result.Body = *r.Error
	}

	return []Section{
		{Title: "1. Relevant Tables", Kind: KindText, Body: strings.Join(r.RelevantTables, ", ")},
		{Title: "2. Query Intent", Kind: KindText, Body: r.QueryIntent},
		{Title: "3. Generated SQL", Kind: KindCode, Lang: "sql", Body: r.GeneratedSQL},
		{Title: "4. SQL Validation", Kind: KindText, Body: validation},
		result,
	}
}

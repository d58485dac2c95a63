// Package chat holds the conversation state shared by the browser and terminal front-ends.
package chat

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role identifies who authored a transcript entry.
type Role string

const (
	// RoleUser marks messages typed by the person at the keyboard.
	RoleUser Role = "user"
	// RoleBot marks messages produced from a query service reply.
	RoleBot Role = "bot"
)

// Fixed transcript texts.
const (
	FallbackText   = "Sorry, an error occurred."
	LabelRawResult = "Raw Result"
	LabelFriendly  = "Friendly Response"
)

// Mode selects how a successful reply is turned into bot messages.
type Mode string

const (
	// ModeSteps appends one step report followed by the friendly response.
	ModeSteps Mode = "steps"
	// ModeRaw appends the raw result followed by the friendly response, both as text.
	ModeRaw Mode = "raw"
)

// ErrUnknownMode is returned by ParseMode for unsupported values.
var ErrUnknownMode = errors.New("unknown render mode")

// ParseMode converts a configuration value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeSteps:
		return ModeSteps, nil
	case ModeRaw:
		return ModeRaw, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// StepReport is the processing trace the query service returns for one question.
type StepReport struct {
	RelevantTables []string        `json:"relevant_tables"`
	QueryIntent    string          `json:"query_intent"`
	GeneratedSQL   string          `json:"generated_sql"`
	SQLValidated   bool            `json:"sql_validated"`
	QueryResult    json.RawMessage `json:"query_result,omitempty"`
	Error          *string         `json:"error,omitempty"`
}

// HasError reports whether the report carries a non-empty error.
func (r *StepReport) HasError() bool {
	return r != nil && r.Error != nil && *r.Error != ""
}

// Message is one transcript entry. Steps is set only for step report messages.
type Message struct {
	Role  Role        `json:"role"`
	Text  string      `json:"content,omitempty"`
	Label string      `json:"label,omitempty"`
	Raw   bool        `json:"raw,omitempty"`
	Steps *StepReport `json:"steps,omitempty"`
}

// IsSteps reports whether the message carries a step report instead of text.
func (m Message) IsSteps() bool {
	return m.Steps != nil
}

// Reply is the decoded body of a successful query service response.
type Reply struct {
	Query            string          `json:"query,omitempty"`
	Steps            *StepReport     `json:"steps,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	FriendlyResponse string          `json:"friendlyResponse"`
}

// ErrMalformedReply is returned when a reply lacks the fields the mode needs.
var ErrMalformedReply = errors.New("malformed reply")

// Validate checks that the reply has the shape mode expects.
func (r *Reply) Validate(mode Mode) error {
	if r == nil {
		return fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}
	if mode == ModeSteps && r.Steps == nil {
		return fmt.Errorf("%w: missing steps", ErrMalformedReply)
	}
	return nil
}

// FormatJSON pretty-prints a JSON value with two-space indentation.
// An absent value prints as null; invalid JSON is returned verbatim.
func FormatJSON(raw json.RawMessage) string {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

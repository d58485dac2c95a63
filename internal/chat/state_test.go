package chat

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func strPtr(s string) *string { return &s }

func TestSubmitAppendsUntrimmedUserMessage(t *testing.T) {
	s := State{}.WithDraft("  show me total sales ")

	next, query, ok := s.Submit()
	if !ok {
		t.Fatal("expected submit to be accepted")
	}
	if query != "  show me total sales " {
		t.Fatalf("expected untrimmed query, got %q", query)
	}
	if next.Draft != "" {
		t.Fatalf("expected draft to be cleared, got %q", next.Draft)
	}
	if !next.InFlight {
		t.Fatal("expected in-flight after submit")
	}
	want := []Message{{Role: RoleUser, Text: "  show me total sales "}}
	if diff := cmp.Diff(want, next.Transcript); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitBlankIsNoop(t *testing.T) {
	for _, draft := range []string{"", "   ", "\t\n"} {
		s := State{Transcript: []Message{{Role: RoleUser, Text: "earlier"}}}.WithDraft(draft)
		next, _, ok := s.Submit()
		if ok {
			t.Fatalf("draft %q: expected no-op", draft)
		}
		if len(next.Transcript) != 1 || next.InFlight {
			t.Fatalf("draft %q: state changed: %+v", draft, next)
		}
	}
}

func TestSubmitWhileInFlightIsNoop(t *testing.T) {
	s, _, _ := State{}.WithDraft("first").Submit()

	next, _, ok := s.WithDraft("second").Submit()
	if ok {
		t.Fatal("expected second submit to be ignored")
	}
	if len(next.Transcript) != 1 {
		t.Fatalf("expected one message, got %d", len(next.Transcript))
	}
}

func TestArrivedStepsMode(t *testing.T) {
	s, _, _ := State{}.WithDraft("show me total sales").Submit()
	steps := &StepReport{
		RelevantTables: []string{"sales"},
		QueryIntent:    "aggregate",
		GeneratedSQL:   "SELECT SUM(amount) FROM sales",
		SQLValidated:   true,
		QueryResult:    json.RawMessage(`{"total":42}`),
	}

	next := s.Arrived(ModeSteps, Reply{Steps: steps, FriendlyResponse: "Total sales: $42"})

	want := []Message{
		{Role: RoleUser, Text: "show me total sales"},
		{Role: RoleBot, Steps: steps},
		{Role: RoleBot, Text: "Total sales: $42"},
	}
	if diff := cmp.Diff(want, next.Transcript); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
	if next.InFlight {
		t.Fatal("expected in-flight to be cleared")
	}
}

func TestArrivedRawMode(t *testing.T) {
	s, _, _ := State{}.WithDraft("count orders").Submit()

	next := s.Arrived(ModeRaw, Reply{Result: json.RawMessage(`[{"n":3}]`), FriendlyResponse: "<p>3 orders</p>"})

	want := []Message{
		{Role: RoleUser, Text: "count orders"},
		{Role: RoleBot, Label: LabelRawResult, Raw: true, Text: "[\n  {\n    \"n\": 3\n  }\n]"},
		{Role: RoleBot, Label: LabelFriendly, Text: "<p>3 orders</p>"},
	}
	if diff := cmp.Diff(want, next.Transcript); diff != "" {
		t.Fatalf("transcript mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedAppendsFallback(t *testing.T) {
	s, _, _ := State{}.WithDraft("hello").Submit()

	next := s.Failed()

	if next.InFlight {
		t.Fatal("expected in-flight to be cleared")
	}
	last := next.Transcript[len(next.Transcript)-1]
	if last.Role != RoleBot || last.Text != FallbackText {
		t.Fatalf("unexpected last message: %+v", last)
	}
	if len(next.Transcript) != 2 {
		t.Fatalf("expected exactly one fallback message, got %d messages", len(next.Transcript))
	}
}

func TestTransitionsDoNotAliasTranscript(t *testing.T) {
	base := State{Transcript: make([]Message, 1, 8)}
	base.Transcript[0] = Message{Role: RoleUser, Text: "a"}

	a := base.Failed()
	b := base.Arrived(ModeSteps, Reply{Steps: &StepReport{}, FriendlyResponse: "x"})

	if a.Transcript[1].Text != FallbackText {
		t.Fatalf("first branch was overwritten: %+v", a.Transcript)
	}
	if len(b.Transcript) != 3 {
		t.Fatalf("unexpected second branch: %+v", b.Transcript)
	}
	if diff := cmp.Diff([]Message{{Role: RoleUser, Text: "a"}}, base.Transcript, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("base transcript changed (-want +got):\n%s", diff)
	}
}

func TestStepReportHasError(t *testing.T) {
	tests := []struct {
		name string
		r    *StepReport
		want bool
	}{
		{"nil report", nil, false},
		{"no error", &StepReport{}, false},
		{"empty error", &StepReport{Error: strPtr("")}, false},
		{"error", &StepReport{Error: strPtr("SQL validation failed. Query not executed.")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.HasError(); got != tt.want {
				t.Fatalf("HasError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "null"},
		{"null", "null"},
		{`{"total":42}`, "{\n  \"total\": 42\n}"},
		{`"The query returned no results."`, `"The query returned no results."`},
		{"not json", "not json"},
	}
	for _, tt := range tests {
		if got := FormatJSON(json.RawMessage(tt.in)); got != tt.want {
			t.Errorf("FormatJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Steps "); err != nil || m != ModeSteps {
		t.Fatalf("ParseMode(steps) = %q, %v", m, err)
	}
	if m, err := ParseMode("raw"); err != nil || m != ModeRaw {
		t.Fatalf("ParseMode(raw) = %q, %v", m, err)
	}
	if _, err := ParseMode("fancy"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

package chat

import "strings"

// State is the complete conversation state. Transitions return a new State
// and never modify the receiver's transcript.
type State struct {
	Transcript []Message
	Draft      string
	InFlight   bool
}

// WithDraft returns s with the text box contents replaced.
func (s State) WithDraft(text string) State {
	s.Draft = text
	return s
}

// CanSubmit reports whether Submit would issue a request.
func (s State) CanSubmit() bool {
	return !s.InFlight && strings.TrimSpace(s.Draft) != ""
}

// Submit moves the draft into the transcript as a user message and marks the
// conversation in flight. The returned query is the untrimmed draft. When the
// draft is blank or a request is already in flight, s is returned unchanged
// and ok is false.
func (s State) Submit() (next State, query string, ok bool) {
	if !s.CanSubmit() {
		return s, "", false
	}
	query = s.Draft
	next = State{
		Transcript: appendMessages(s.Transcript, Message{Role: RoleUser, Text: query}),
		Draft:      "",
		InFlight:   true,
	}
	return next, query, true
}

// Arrived appends the bot messages for a successful reply and clears the
// in-flight flag.
func (s State) Arrived(mode Mode, reply Reply) State {
	var msgs []Message
	switch mode {
	case ModeRaw:
		msgs = []Message{
			{Role: RoleBot, Label: LabelRawResult, Raw: true, Text: FormatJSON(reply.Result)},
			{Role: RoleBot, Label: LabelFriendly, Text: reply.FriendlyResponse},
		}
	default:
		msgs = []Message{
			{Role: RoleBot, Steps: reply.Steps},
			{Role: RoleBot, Text: reply.FriendlyResponse},
		}
	}
	s.Transcript = appendMessages(s.Transcript, msgs...)
	s.InFlight = false
	return s
}

// Failed appends the fallback message and clears the in-flight flag.
func (s State) Failed() State {
	s.Transcript = appendMessages(s.Transcript, Message{Role: RoleBot, Text: FallbackText})
	s.InFlight = false
	return s
}

// Clone returns a copy whose transcript does not share storage with s.
func (s State) Clone() State {
	s.Transcript = appendMessages(s.Transcript)
	return s
}

func appendMessages(transcript []Message, msgs ...Message) []Message {
	out := make([]Message, len(transcript), len(transcript)+len(msgs))
	copy(out, transcript)
	return append(out, msgs...)
}

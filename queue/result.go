package queue

import "fmt"

// Message is the human-readable outcome attached to a job record.
type Message struct {
	Code       string `json:"code,omitempty"`
	Text       string `json:"text,omitempty"`
	ErrorCount int    `json:"error_count,omitempty"`
}

// HasErrors reports whether the message records failed items.
func (m *Message) HasErrors() bool { return m != nil && m.ErrorCount > 0 }

func (m *Message) String() string {
	if m == nil {
		return ""
	}
	switch {
	case m.Code != "" && m.Text != "":
		return m.Code + ": " + m.Text
	case m.Code != "":
		return m.Code
	}
	return m.Text
}

// Result is what a handler returns: the job's final status, what the
// orchestrator should do next, and the item counts processed in the final
// stretch of the run.
type Result struct {
	Status   Status   `json:"status,omitempty"`
	NextStep NextStep `json:"next_step,omitempty"`
	Message  *Message `json:"message,omitempty"`

	// Item deltas added to the job's counters when the result is logged.
	ItemsTotal    int64 `json:"items_total,omitempty"`
	ItemsFinished int64 `json:"items_finished,omitempty"`
	ItemsError    int64 `json:"items_error,omitempty"`
}

// Message codes set by the orchestrator.
const (
	CodeFailure     = "failure"
	CodeInterrupted = "interrupted"
	CodeInvalid     = "invalid_result"
)

// Finished returns a successful result.
func Finished() Result { return Result{Status: StatusFinished, NextStep: NextContinue} }

// Paused returns a successful result that holds the job's dependents.
func Paused(text string) Result {
	r := Result{Status: StatusFinished, NextStep: NextPause}
	if text != "" {
		r.Message = &Message{Text: text}
	}
	return r
}

// Failed returns an error result with the given message text.
func Failed(code, text string) Result {
	return Result{
		Status:   StatusError,
		NextStep: NextContinue,
		Message:  &Message{Code: code, Text: text, ErrorCount: 1},
	}
}

// Failure is the generic result recorded when a handler returns an error,
// panics, or cannot be resolved.
func Failure(err error) Result {
	text := "job failed"
	if err != nil {
		text = err.Error()
	}
	return Failed(CodeFailure, text)
}

// Normalize fills defaults: an empty status is finished, an empty next
// step is continue, and a message that counts errors forces the error
// status. A non-terminal status is not a valid outcome and becomes error.
func (r Result) Normalize() Result {
	if r.Status == "" {
		r.Status = StatusFinished
	}
	if !r.Status.Terminal() {
		r.Message = &Message{
			Code:       CodeInvalid,
			Text:       fmt.Sprintf("handler returned non-terminal status %q", r.Status),
			ErrorCount: 1,
		}
		r.Status = StatusError
	}
	if r.NextStep == "" {
		r.NextStep = NextContinue
	}
	if r.Message.HasErrors() {
		r.Status = StatusError
	}
	return r
}

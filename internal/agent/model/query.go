package model

// QueryInput is one external question addressed to the driver.
type QueryInput struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

// Outcome tags how the driver produced an answer.
type Outcome string

const (
	OutcomeAnswered       Outcome = "answered"
	OutcomeHistoryDeleted Outcome = "history_deleted"
	OutcomeDeadline       Outcome = "deadline"
	OutcomeRecursionLimit Outcome = "recursion_limit"
	OutcomeFailed         Outcome = "failed"
)

// Answer is what the driver returns for a QueryInput.
type Answer struct {
	Question string  `json:"question"`
	Text     string  `json:"answer"`
	ThreadID string  `json:"thread_id,omitempty"`
	Outcome  Outcome `json:"outcome"`
}

// HistoryMessage is one stored chat turn as shown to operators.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

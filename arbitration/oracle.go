package arbitration

import "context"

// NotifyOutcome is the tagged result of notifying the oracle of a new
// arbitration request. A refusal is an expected protocol outcome, not an
// error: it carries the oracle's reason (possibly empty) and is converted
// into a Rejected transition by the state machine.
type NotifyOutcome struct {
	Accepted bool
	Reason   string
}

// AssignWinnerParams enumerates the arguments of the oracle's final-answer
// submission. The oracle validates the history tail itself; this system
// passes it through untouched.
type AssignWinnerParams struct {
	QuestionID               string
	Answer                   string
	PayeeIfWrong             string
	LastHistoryHash          string
	LastAnswerOrCommitmentID string
	LastAnswerer             string
}

// Oracle is the question-answering system living on the home ledger. All
// three calls must leave the oracle unchanged when they fail.
type Oracle interface {
	NotifyOfArbitrationRequest(ctx context.Context, questionID, requester string, maxPrevious string) (NotifyOutcome, error)
	CancelArbitration(ctx context.Context, questionID string) error
	AssignWinnerAndSubmitAnswerByArbitrator(ctx context.Context, params AssignWinnerParams) error
}

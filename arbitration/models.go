package arbitration

import "time"

// Status represents the lifecycle of an arbitration request on the home side.
type Status string

const (
	StatusNone           Status = "none"
	StatusRejected       Status = "rejected"
	StatusNotified       Status = "notified"
	StatusAwaitingRuling Status = "awaiting_ruling"
	StatusRuled          Status = "ruled"
	StatusFinished       Status = "finished"
)

// Request mirrors the requests table. One row exists per (question, requester)
// pair once the pair has been referenced; a missing row is equivalent to
// StatusNone.
type Request struct {
	QuestionID       string
	Requester        string
	Status           Status
	ArbitratorAnswer *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Event captures an immutable audit record for a state transition.
type Event struct {
	ID         int64
	QuestionID string
	Requester  string
	Type       string
	Payload    []byte
	CreatedAt  time.Time
}

// Event types, one per successful transition.
const (
	EventRequestNotified     = "REQUEST_NOTIFIED"
	EventRequestRejected     = "REQUEST_REJECTED"
	EventRequestAcknowledged = "REQUEST_ACKNOWLEDGED"
	EventRequestCanceled     = "REQUEST_CANCELED"
	EventArbitrationFailed   = "ARBITRATION_FAILED"
	EventArbitratorAnswered  = "ARBITRATOR_ANSWERED"
	EventArbitrationFinished = "ARBITRATION_FINISHED"
)

// ReportParams carries the claim-history tail the oracle validates when the
// final answer is submitted on the requester's behalf.
type ReportParams struct {
	QuestionID               string
	LastHistoryHash          string
	LastAnswerOrCommitmentID string
	LastAnswerer             string
}

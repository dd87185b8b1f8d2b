package domain

import "time"

// Evaluation outcome values recorded in the audit trail.
const (
	OutcomeEligible   = "ELIGIBLE"
	OutcomeIneligible = "INELIGIBLE"
)

// EvaluationHistory is the summary audit row for one applicant evaluation.
// Created exactly once per evaluation, together with all child trace rows,
// in a single transaction, and never mutated afterwards.
type EvaluationHistory struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	ApplicantID   string    `json:"applicantId"`
	NationalID    string    `json:"nationalId,omitempty"`
	Outcome       string    `json:"outcome"`
	FailureReason string    `json:"failureReason,omitempty"`
	Score         float64   `json:"score"`
	ProcessMs     int64     `json:"processMs"`
	Request       string    `json:"request"`
	Response      string    `json:"response"`
	CreatedAt     time.Time `json:"createdAt"`

	PcardRows     []HistoryPc        `json:"pcardRows,omitempty"`
	EcardRows     []HistoryEc        `json:"ecardRows,omitempty"`
	EruleRows     []HistoryEr        `json:"eruleRows,omitempty"`
	ParameterRows []HistoryParameter `json:"parameterRows,omitempty"`
}

// HistoryPc records one pcard evaluation.
type HistoryPc struct {
	EvaluationID string    `json:"evaluationId"`
	PcardID      string    `json:"pcardId"`
	ProductID    string    `json:"productId"`
	Expression   string    `json:"expression"`
	Result       bool      `json:"result"`
	Marker       string    `json:"marker,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HistoryEc records one ecard evaluation.
type HistoryEc struct {
	EvaluationID string    `json:"evaluationId"`
	EcardID      string    `json:"ecardId"`
	Expression   string    `json:"expression"`
	Result       bool      `json:"result"`
	Marker       string    `json:"marker,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HistoryEr records one erule evaluation, including the version selected.
type HistoryEr struct {
	EvaluationID string    `json:"evaluationId"`
	EruleID      string    `json:"eruleId"`
	Version      int       `json:"version"`
	Expression   string    `json:"expression"`
	Result       bool      `json:"result"`
	Marker       string    `json:"marker,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// HistoryParameter records one resolved parameter or factor test.
type HistoryParameter struct {
	EvaluationID string    `json:"evaluationId"`
	EntityID     string    `json:"entityId"`
	Expression   string    `json:"expression"`
	Value        string    `json:"value,omitempty"`
	Result       bool      `json:"result"`
	Marker       string    `json:"marker,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Trace markers for rows that record degraded evaluations.
const (
	MarkerParseError    = "PARSE_ERROR"
	MarkerNotConfigured = "NOT_CONFIGURED"
	MarkerCycle         = "CYCLE_DETECTED"
)

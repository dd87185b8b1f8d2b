package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductState is the terminal state of one product's cascade.
type ProductState string

const (
	StatePending     ProductState = "PENDING"
	StateEvaluating  ProductState = "EVALUATING"
	StatePassed      ProductState = "PASSED"
	StateFailed      ProductState = "FAILED"
	StateConfigError ProductState = "CONFIG_ERROR"
)

// EvaluateRequest is the engine input for one applicant evaluation.
type EvaluateRequest struct {
	// ApplicantID and NationalID identify the applicant in the audit trail.
	ApplicantID string `json:"applicantId"`
	NationalID  string `json:"nationalId,omitempty"`

	// Parameters maps parameter name to raw value (string, number or date).
	Parameters map[string]any `json:"parameters"`

	// ProductIDs optionally restricts evaluation to a subset of products.
	// Empty means all tenant products.
	ProductIDs []string `json:"productIds,omitempty"`

	// CustomerScore is supplied by the caller or computed upstream.
	CustomerScore float64 `json:"customerScore"`

	// BaseAmount is the requested financing amount the percentage applies to.
	// Zero means uncapped by the request.
	BaseAmount decimal.Decimal `json:"baseAmount"`

	// At is the evaluation timestamp. Zero means now; injectable for
	// deterministic testing of validity windows.
	At time.Time `json:"at,omitempty"`

	// TraceID links the evaluation to the caller's trace context.
	TraceID string `json:"traceId,omitempty"`
}

// RejectionReason explains one contribution to an ineligible outcome.
type RejectionReason struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// ProductEligibilityResult is the per-product outcome of an evaluation.
type ProductEligibilityResult struct {
	ProductID   string       `json:"productId"`
	ProductName string       `json:"productName"`
	ProductCode string       `json:"productCode"`
	State       ProductState `json:"state"`
	IsEligible  bool         `json:"isEligible"`

	EligibleAmount     decimal.Decimal `json:"eligibleAmount"`
	EligibilityPercent decimal.Decimal `json:"eligibilityPercent"`

	Score                float64 `json:"score"`
	ProbabilityOfDefault float64 `json:"probabilityOfDefault"`

	IsProcessedByException bool   `json:"isProcessedByException"`
	ExceptionScope         string `json:"exceptionScope,omitempty"`

	RejectionReasons []RejectionReason `json:"rejectionReasons,omitempty"`
}

// EligibleAmountResult is the complete engine output for one evaluation.
type EligibleAmountResult struct {
	EvaluationID string                     `json:"evaluationId"`
	TenantID     string                     `json:"tenantId"`
	Score        float64                    `json:"score"`
	Products     []ProductEligibilityResult `json:"products"`
	Metadata     EvaluationMetadata         `json:"metadata"`
}

// EvaluationMetadata carries processing information for observability.
type EvaluationMetadata struct {
	TraceID           string    `json:"traceId"`
	EvaluatedAt       time.Time `json:"evaluatedAt"`
	ProductsEvaluated int       `json:"productsEvaluated"`
	ProcessMs         int64     `json:"processMs"`
	EngineVersion     string    `json:"engineVersion"`
}

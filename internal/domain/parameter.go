// Package domain defines the core interfaces and types for Kite.
package domain

// DataType is the declared type of a parameter value.
type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeNumber DataType = "number"
	DataTypeDate   DataType = "date"
)

// RangeType determines how a computed-value range rule compares the raw value.
type RangeType string

const (
	// RangeNumber compares the raw value numerically.
	RangeNumber RangeType = "number"

	// RangeDate compares the raw value as a calendar date.
	RangeDate RangeType = "date"

	// RangeDays buckets by elapsed days between the raw date and evaluation time.
	RangeDays RangeType = "days"

	// RangeHours buckets by elapsed hours between the raw date and evaluation time.
	RangeHours RangeType = "hours"
)

// Parameter is a named, typed applicant attribute.
// Raw values arrive from the request payload or upstream bureau collaborators;
// the resolver normalizes them and optionally buckets them via computed-value rules.
type Parameter struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	Name     string   `json:"name"`
	DataType DataType `json:"dataType"`

	// IsMandatory marks a parameter whose absence is a resolution failure
	// (recorded as a rejection reason, not an engine fault).
	IsMandatory bool `json:"isMandatory"`

	// Rejection reason surfaced when a factor depending on this parameter fails
	// or the parameter cannot be resolved.
	RejectionReason     string `json:"rejectionReason"`
	RejectionReasonCode string `json:"rejectionReasonCode"`

	// ComputedRules bucket the raw value into a ComputedValue string.
	// Evaluated in declaration order, first match wins.
	ComputedRules []ComputedValueRule `json:"computedRules,omitempty"`
}

// ComputedValueRule buckets a raw parameter value.
// Either ExactValue is set (exact match, case-insensitive for text) or
// FromValue/ToValue describe an inclusive range under RangeType.
type ComputedValueRule struct {
	ExactValue    string    `json:"exactValue,omitempty"`
	FromValue     string    `json:"fromValue,omitempty"`
	ToValue       string    `json:"toValue,omitempty"`
	RangeType     RangeType `json:"rangeType,omitempty"`
	ComputedValue string    `json:"computedValue"`
}

// Operator tokens consumed by factors.
const (
	OpEqual        = "="
	OpNotEqual     = "!="
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpBetween      = "between"
	OpIn           = "in"
)

// Condition is a comparison operator available to factors.
type Condition struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Operator string `json:"operator"`
}

// Factor is a single boolean test of one parameter against one condition.
// Value2 is only consulted for range conditions; OpIn treats Value1 as a
// comma-separated membership list.
type Factor struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenantId"`
	Name          string `json:"name"`
	ParameterName string `json:"parameterName"`
	Operator      string `json:"operator"`
	Value1        string `json:"value1"`
	Value2        string `json:"value2,omitempty"`

	// UseComputedValue tests the bucketed ComputedValue instead of the raw value.
	UseComputedValue bool `json:"useComputedValue,omitempty"`
}

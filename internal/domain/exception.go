package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Exception scope values.
const (
	// ExceptionScopeGlobal applies the exception to every product of the tenant.
	ExceptionScopeGlobal = "global"

	// ExceptionScopeProduct limits the exception to its linked product ids.
	ExceptionScopeProduct = "product"
)

// Exception amount types.
const (
	// AmountTypeFixed replaces the computed eligibility percentage.
	AmountTypeFixed = "fixed"

	// AmountTypeVariation adjusts the computed eligibility percentage.
	AmountTypeVariation = "variation"
)

// ExceptionManagement is a scoped, optionally time-bounded override applied
// on top of a product's computed cap. Only active exceptions whose window
// currently holds and whose scope includes the product participate.
type ExceptionManagement struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`

	// IsTemporary gates the override on [StartDate, EndDate]; the window is
	// ignored for permanent exceptions.
	IsTemporary bool       `json:"isTemporary"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`

	// Scope is "global" or "product"; ProductIDs lists the linked products
	// for product scope.
	Scope      string   `json:"scope"`
	ProductIDs []string `json:"productIds,omitempty"`

	AmountType       string          `json:"amountType"`
	FixedPercent     decimal.Decimal `json:"fixedPercent"`
	VariationPercent decimal.Decimal `json:"variationPercent"`

	// ActivationExpression optionally gates the exception on applicant
	// parameter values (CEL, empty means always active).
	ActivationExpression string `json:"activationExpression,omitempty"`

	IsActive  bool      `json:"isActive"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InWindow reports whether a temporary exception's window holds at the
// given instant. Permanent exceptions are always in window.
func (e *ExceptionManagement) InWindow(at time.Time) bool {
	if !e.IsTemporary {
		return true
	}
	if e.StartDate != nil && at.Before(*e.StartDate) {
		return false
	}
	if e.EndDate != nil && at.After(*e.EndDate) {
		return false
	}
	return true
}

// AppliesTo reports whether the exception's scope includes the product.
func (e *ExceptionManagement) AppliesTo(productID string) bool {
	if e.Scope == ExceptionScopeGlobal {
		return true
	}
	for _, id := range e.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

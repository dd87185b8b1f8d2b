package domain

import "github.com/shopspring/decimal"

// Product is a loan/financing product a tenant offers.
type Product struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	Name     string `json:"name"`
	Code     string `json:"code"`

	// MaxEligibleAmount is the absolute ceiling for this product.
	MaxEligibleAmount decimal.Decimal `json:"maxEligibleAmount"`
}

// AmountEligibility maps an eligible-percentage bucket to the amount
// percentage applied once the product's pcard passes. Bands are matched
// in declaration order, bounds inclusive.
type AmountEligibility struct {
	ID          string          `json:"id"`
	PcardID     string          `json:"pcardId"`
	FromPercent decimal.Decimal `json:"fromPercent"`
	ToPercent   decimal.Decimal `json:"toPercent"`

	// AmountPercent is the output percentage for this band.
	AmountPercent decimal.Decimal `json:"amountPercent"`
}

// ProductCap maps a customer-score band to a cap percentage for one product.
type ProductCap struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"productId"`
	MinimumScore float64         `json:"minimumScore"`
	MaximumScore float64         `json:"maximumScore"`
	CapPercent   decimal.Decimal `json:"capPercent"`
}

// ProductCapAmount caps a product at a flat amount when the applicant matches
// its activity/age/salary criteria. Each criterion is independently optional;
// nil means wildcard. The most specific matching row wins.
type ProductCapAmount struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	Activity  *string          `json:"activity,omitempty"`
	MinAge    *int             `json:"minAge,omitempty"`
	MaxAge    *int             `json:"maxAge,omitempty"`
	MinSalary *decimal.Decimal `json:"minSalary,omitempty"`
	MaxSalary *decimal.Decimal `json:"maxSalary,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
}

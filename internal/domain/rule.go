package domain

import "time"

// EruleMaster is a named rule family, unique per tenant by name.
// It owns the full version history of one rule; at most one version is
// effective at any instant.
type EruleMaster struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	Name     string  `json:"name"`
	Versions []Erule `json:"versions"`
}

// Erule is one version of a rule: a boolean expression over factor names,
// valid inside its window once published.
type Erule struct {
	ID          string     `json:"id"`
	Version     int        `json:"version"`
	Expression  string     `json:"expression"`
	ValidFrom   time.Time  `json:"validFrom"`
	ValidTo     *time.Time `json:"validTo,omitempty"`
	IsPublished bool       `json:"isPublished"`
}

// Effective reports whether this version participates at the given instant.
func (e *Erule) Effective(at time.Time) bool {
	if !e.IsPublished || at.Before(e.ValidFrom) {
		return false
	}
	return e.ValidTo == nil || !at.After(*e.ValidTo)
}

// Ecard is an eligibility card: a boolean expression over rule family names.
type Ecard struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenantId"`
	Name       string   `json:"name"`
	Expression string   `json:"expression"`
	EruleNames []string `json:"eruleNames"`
}

// Pcard is the per-product gate: a boolean expression over ecard names.
// Exactly one pcard may reference a given product.
type Pcard struct {
	ID         string   `json:"id"`
	TenantID   string   `json:"tenantId"`
	Name       string   `json:"name"`
	ProductID  string   `json:"productId"`
	Expression string   `json:"expression"`
	EcardNames []string `json:"ecardNames"`
}

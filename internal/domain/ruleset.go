package domain

// RuleSet is one tenant's complete effective configuration, loaded once per
// evaluation so that a concurrent publish cannot mix old and new rule levels.
// It is read-only during an evaluation and safe to share across goroutines.
type RuleSet struct {
	TenantID string `json:"tenantId"`

	Parameters  []Parameter   `json:"parameters"`
	Factors     []Factor      `json:"factors"`
	RuleMasters []EruleMaster `json:"ruleMasters"`
	Ecards      []Ecard       `json:"ecards"`
	Pcards      []Pcard       `json:"pcards"`
	Products    []Product     `json:"products"`

	AmountBands []AmountEligibility   `json:"amountBands"`
	Caps        []ProductCap          `json:"caps"`
	CapAmounts  []ProductCapAmount    `json:"capAmounts"`
	Exceptions  []ExceptionManagement `json:"exceptions"`
}

// ParameterByName returns the parameter configuration, if any.
func (rs *RuleSet) ParameterByName(name string) (*Parameter, bool) {
	for i := range rs.Parameters {
		if rs.Parameters[i].Name == name {
			return &rs.Parameters[i], true
		}
	}
	return nil, false
}

// FactorByName returns the factor configuration, if any.
func (rs *RuleSet) FactorByName(name string) (*Factor, bool) {
	for i := range rs.Factors {
		if rs.Factors[i].Name == name {
			return &rs.Factors[i], true
		}
	}
	return nil, false
}

// RuleMasterByName returns the rule family, if any.
func (rs *RuleSet) RuleMasterByName(name string) (*EruleMaster, bool) {
	for i := range rs.RuleMasters {
		if rs.RuleMasters[i].Name == name {
			return &rs.RuleMasters[i], true
		}
	}
	return nil, false
}

// EcardByName returns the ecard, if any.
func (rs *RuleSet) EcardByName(name string) (*Ecard, bool) {
	for i := range rs.Ecards {
		if rs.Ecards[i].Name == name {
			return &rs.Ecards[i], true
		}
	}
	return nil, false
}

// PcardForProduct returns the single pcard gating a product, if any.
func (rs *RuleSet) PcardForProduct(productID string) (*Pcard, bool) {
	for i := range rs.Pcards {
		if rs.Pcards[i].ProductID == productID {
			return &rs.Pcards[i], true
		}
	}
	return nil, false
}

// ProductByID returns the product, if any.
func (rs *RuleSet) ProductByID(id string) (*Product, bool) {
	for i := range rs.Products {
		if rs.Products[i].ID == id {
			return &rs.Products[i], true
		}
	}
	return nil, false
}

// AmountBandsForPcard returns the amount-eligibility bands in declaration order.
func (rs *RuleSet) AmountBandsForPcard(pcardID string) []AmountEligibility {
	var bands []AmountEligibility
	for _, b := range rs.AmountBands {
		if b.PcardID == pcardID {
			bands = append(bands, b)
		}
	}
	return bands
}

// CapsForProduct returns the score-band caps for a product.
func (rs *RuleSet) CapsForProduct(productID string) []ProductCap {
	var caps []ProductCap
	for _, c := range rs.Caps {
		if c.ProductID == productID {
			caps = append(caps, c)
		}
	}
	return caps
}

// CapAmountsForProduct returns the flat cap rows for a product.
func (rs *RuleSet) CapAmountsForProduct(productID string) []ProductCapAmount {
	var rows []ProductCapAmount
	for _, r := range rs.CapAmounts {
		if r.ProductID == productID {
			rows = append(rows, r)
		}
	}
	return rows
}

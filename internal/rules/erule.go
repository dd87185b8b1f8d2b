package rules

import (
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// EffectiveErule selects the version of a rule family that participates at
// the given instant: published, inside its validity window, highest version
// number. Returns false when no version is effective — the rule is then
// "not configured" and evaluates to false with a configuration-gap reason.
func EffectiveErule(master *domain.EruleMaster, at time.Time) (*domain.Erule, bool) {
	var best *domain.Erule
	for i := range master.Versions {
		v := &master.Versions[i]
		if !v.Effective(at) {
			continue
		}
		if best == nil || v.Version > best.Version {
			best = v
		}
	}
	return best, best != nil
}

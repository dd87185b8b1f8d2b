// Package trace buffers the per-level audit rows of one evaluation and
// persists them atomically with the evaluation summary.
package trace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

// Recorder accumulates immutable history rows for one evaluation. Rows are
// stamped with the evaluation id and a timestamp on append; nothing touches
// storage until Flush, so a cancelled evaluation leaves no partial trace.
type Recorder struct {
	repo     domain.Repository
	tenantID string
	evalID   string
	now      func() time.Time

	mu         sync.Mutex
	pcards     []domain.HistoryPc
	ecards     []domain.HistoryEc
	erules     []domain.HistoryEr
	parameters []domain.HistoryParameter
	flushed    bool
}

// NewRecorder creates a recorder for one evaluation transaction.
func NewRecorder(repo domain.Repository, tenantID, evalID string, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		repo:     repo,
		tenantID: tenantID,
		evalID:   evalID,
		now:      now,
	}
}

// Pcard appends one pcard trace row.
func (r *Recorder) Pcard(row domain.HistoryPc) {
	row.EvaluationID = r.evalID
	row.CreatedAt = r.now().UTC()
	r.mu.Lock()
	r.pcards = append(r.pcards, row)
	r.mu.Unlock()
}

// Ecard appends one ecard trace row.
func (r *Recorder) Ecard(row domain.HistoryEc) {
	row.EvaluationID = r.evalID
	row.CreatedAt = r.now().UTC()
	r.mu.Lock()
	r.ecards = append(r.ecards, row)
	r.mu.Unlock()
}

// Erule appends one erule trace row.
func (r *Recorder) Erule(row domain.HistoryEr) {
	row.EvaluationID = r.evalID
	row.CreatedAt = r.now().UTC()
	r.mu.Lock()
	r.erules = append(r.erules, row)
	r.mu.Unlock()
}

// Parameter appends one parameter or factor trace row.
func (r *Recorder) Parameter(row domain.HistoryParameter) {
	row.EvaluationID = r.evalID
	row.CreatedAt = r.now().UTC()
	r.mu.Lock()
	r.parameters = append(r.parameters, row)
	r.mu.Unlock()
}

// Rows returns the buffered row counts per level, for observability.
func (r *Recorder) Rows() (pcards, ecards, erules, parameters int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pcards), len(r.ecards), len(r.erules), len(r.parameters)
}

// Flush persists the summary plus all buffered child rows in a single
// transaction. The decision is not auditable without its trace, so a flush
// failure is fatal for the evaluation. Flush may be called at most once.
func (r *Recorder) Flush(ctx context.Context, summary *domain.EvaluationHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.flushed {
		return fmt.Errorf("trace for evaluation %s already flushed", r.evalID)
	}

	summary.ID = r.evalID
	summary.TenantID = r.tenantID
	summary.PcardRows = r.pcards
	summary.EcardRows = r.ecards
	summary.EruleRows = r.erules
	summary.ParameterRows = r.parameters

	if err := r.repo.SaveEvaluationHistory(ctx, r.tenantID, summary); err != nil {
		return fmt.Errorf("failed to persist evaluation trace: %w", err)
	}

	r.flushed = true
	return nil
}

package trace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
)

type captureRepo struct {
	domain.Repository
	saved   *domain.EvaluationHistory
	saveErr error
}

func (r *captureRepo) SaveEvaluationHistory(ctx context.Context, tenantID string, h *domain.EvaluationHistory) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = h
	return nil
}

func TestRecorder(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }

	t.Run("StampsRows", func(t *testing.T) {
		r := NewRecorder(&captureRepo{}, "tenant-001", "eval-001", clock)

		r.Pcard(domain.HistoryPc{PcardID: "pc-1", Result: true})
		r.Ecard(domain.HistoryEc{EcardID: "ec-1", Result: true})
		r.Erule(domain.HistoryEr{EruleID: "r-1", Version: 2, Result: true})
		r.Parameter(domain.HistoryParameter{EntityID: "p-1", Value: "30", Result: true})

		pc, ec, er, params := r.Rows()
		if pc != 1 || ec != 1 || er != 1 || params != 1 {
			t.Errorf("expected one row per level, got %d/%d/%d/%d", pc, ec, er, params)
		}
	})

	t.Run("FlushBindsSummary", func(t *testing.T) {
		repo := &captureRepo{}
		r := NewRecorder(repo, "tenant-001", "eval-001", clock)
		r.Pcard(domain.HistoryPc{PcardID: "pc-1", Result: true})

		summary := &domain.EvaluationHistory{ApplicantID: "app-1", Outcome: domain.OutcomeEligible}
		if err := r.Flush(context.Background(), summary); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}

		if repo.saved == nil {
			t.Fatal("expected the summary to be persisted")
		}
		if repo.saved.ID != "eval-001" || repo.saved.TenantID != "tenant-001" {
			t.Errorf("summary ids not bound: %+v", repo.saved)
		}
		if len(repo.saved.PcardRows) != 1 {
			t.Fatalf("expected 1 pcard row, got %d", len(repo.saved.PcardRows))
		}
		row := repo.saved.PcardRows[0]
		if row.EvaluationID != "eval-001" || !row.CreatedAt.Equal(at) {
			t.Errorf("row not stamped: %+v", row)
		}
	})

	t.Run("FlushAtMostOnce", func(t *testing.T) {
		r := NewRecorder(&captureRepo{}, "tenant-001", "eval-001", clock)

		if err := r.Flush(context.Background(), &domain.EvaluationHistory{}); err != nil {
			t.Fatalf("first Flush failed: %v", err)
		}
		if err := r.Flush(context.Background(), &domain.EvaluationHistory{}); err == nil {
			t.Error("expected second Flush to fail")
		}
	})

	t.Run("FlushErrorPropagates", func(t *testing.T) {
		boom := errors.New("disk full")
		repo := &captureRepo{saveErr: boom}
		r := NewRecorder(repo, "tenant-001", "eval-001", clock)

		err := r.Flush(context.Background(), &domain.EvaluationHistory{})
		if !errors.Is(err, boom) {
			t.Fatalf("expected wrapped save error, got %v", err)
		}

		// A failed flush is retryable.
		repo.saveErr = nil
		if err := r.Flush(context.Background(), &domain.EvaluationHistory{}); err != nil {
			t.Errorf("retry after a failed flush should succeed: %v", err)
		}
	})
}

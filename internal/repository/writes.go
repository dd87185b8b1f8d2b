package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/shopspring/decimal"
)

// SaveParameter inserts or updates a parameter definition.
func (r *SQLRepository) SaveParameter(ctx context.Context, tenantID string, p *domain.Parameter) error {
	if tenantID == "" || p == nil || p.Name == "" {
		return fmt.Errorf("%w: tenantID and parameter name are required", domain.ErrInvalidInput)
	}

	computed, err := marshalOrEmpty(p.ComputedRules)
	if err != nil {
		return fmt.Errorf("failed to marshal computed rules: %w", err)
	}

	query := `
		INSERT INTO parameters (id, tenant_id, name, data_type, is_mandatory, rejection_reason, rejection_reason_code, computed_rules)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			id = excluded.id,
			data_type = excluded.data_type,
			is_mandatory = excluded.is_mandatory,
			rejection_reason = excluded.rejection_reason,
			rejection_reason_code = excluded.rejection_reason_code,
			computed_rules = excluded.computed_rules
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, string(p.DataType), boolToInt(p.IsMandatory),
		p.RejectionReason, p.RejectionReasonCode, computed)
	if err != nil {
		return fmt.Errorf("failed to save parameter: %w", err)
	}
	return nil
}

// SaveFactor inserts or updates a factor definition.
func (r *SQLRepository) SaveFactor(ctx context.Context, tenantID string, f *domain.Factor) error {
	if tenantID == "" || f == nil || f.Name == "" {
		return fmt.Errorf("%w: tenantID and factor name are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO factors (id, tenant_id, name, parameter_name, operator, value1, value2, use_computed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			id = excluded.id,
			parameter_name = excluded.parameter_name,
			operator = excluded.operator,
			value1 = excluded.value1,
			value2 = excluded.value2,
			use_computed = excluded.use_computed
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		f.ID, tenantID, f.Name, f.ParameterName, f.Operator, f.Value1, f.Value2, boolToInt(f.UseComputedValue))
	if err != nil {
		return fmt.Errorf("failed to save factor: %w", err)
	}
	return nil
}

// SaveRuleMaster inserts or updates a rule family with its full version history.
func (r *SQLRepository) SaveRuleMaster(ctx context.Context, tenantID string, m *domain.EruleMaster) error {
	if tenantID == "" || m == nil || m.Name == "" {
		return fmt.Errorf("%w: tenantID and rule name are required", domain.ErrInvalidInput)
	}

	versions, err := json.Marshal(m.Versions)
	if err != nil {
		return fmt.Errorf("failed to marshal rule versions: %w", err)
	}

	query := `
		INSERT INTO erule_masters (id, tenant_id, name, versions)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			id = excluded.id,
			versions = excluded.versions
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), m.ID, tenantID, m.Name, string(versions))
	if err != nil {
		return fmt.Errorf("failed to save rule master: %w", err)
	}
	return nil
}

// SaveEcard inserts or updates an eligibility card.
func (r *SQLRepository) SaveEcard(ctx context.Context, tenantID string, c *domain.Ecard) error {
	if tenantID == "" || c == nil || c.Name == "" {
		return fmt.Errorf("%w: tenantID and ecard name are required", domain.ErrInvalidInput)
	}

	names, err := marshalOrEmpty(c.EruleNames)
	if err != nil {
		return fmt.Errorf("failed to marshal erule names: %w", err)
	}

	query := `
		INSERT INTO ecards (id, tenant_id, name, expression, erule_names)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			id = excluded.id,
			expression = excluded.expression,
			erule_names = excluded.erule_names
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), c.ID, tenantID, c.Name, c.Expression, names)
	if err != nil {
		return fmt.Errorf("failed to save ecard: %w", err)
	}
	return nil
}

// SavePcard inserts or updates a product card. The unique constraint on
// (tenant_id, product_id) enforces the one-pcard-per-product invariant.
func (r *SQLRepository) SavePcard(ctx context.Context, tenantID string, c *domain.Pcard) error {
	if tenantID == "" || c == nil || c.Name == "" {
		return fmt.Errorf("%w: tenantID and pcard name are required", domain.ErrInvalidInput)
	}
	if c.ProductID == "" {
		return fmt.Errorf("%w: pcard requires a product id", domain.ErrInvalidInput)
	}

	names, err := marshalOrEmpty(c.EcardNames)
	if err != nil {
		return fmt.Errorf("failed to marshal ecard names: %w", err)
	}

	query := `
		INSERT INTO pcards (id, tenant_id, name, product_id, expression, ecard_names)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, name) DO UPDATE SET
			id = excluded.id,
			product_id = excluded.product_id,
			expression = excluded.expression,
			ecard_names = excluded.ecard_names
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query), c.ID, tenantID, c.Name, c.ProductID, c.Expression, names)
	if err != nil {
		return fmt.Errorf("failed to save pcard: %w", err)
	}
	return nil
}

// SaveProduct inserts or updates a product.
func (r *SQLRepository) SaveProduct(ctx context.Context, tenantID string, p *domain.Product) error {
	if tenantID == "" || p == nil || p.ID == "" {
		return fmt.Errorf("%w: tenantID and product id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO products (id, tenant_id, name, code, max_eligible_amount)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code,
			max_eligible_amount = excluded.max_eligible_amount
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), p.ID, tenantID, p.Name, p.Code, p.MaxEligibleAmount.String())
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

// SaveAmountEligibility inserts or updates one amount band.
func (r *SQLRepository) SaveAmountEligibility(ctx context.Context, tenantID string, b *domain.AmountEligibility) error {
	if tenantID == "" || b == nil || b.ID == "" {
		return fmt.Errorf("%w: tenantID and band id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO amount_eligibilities (id, tenant_id, pcard_id, from_percent, to_percent, amount_percent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			pcard_id = excluded.pcard_id,
			from_percent = excluded.from_percent,
			to_percent = excluded.to_percent,
			amount_percent = excluded.amount_percent
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, tenantID, b.PcardID, b.FromPercent.String(), b.ToPercent.String(), b.AmountPercent.String())
	if err != nil {
		return fmt.Errorf("failed to save amount eligibility: %w", err)
	}
	return nil
}

// SaveProductCap inserts or updates one score-band cap row.
func (r *SQLRepository) SaveProductCap(ctx context.Context, tenantID string, c *domain.ProductCap) error {
	if tenantID == "" || c == nil || c.ID == "" {
		return fmt.Errorf("%w: tenantID and cap id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO product_caps (id, tenant_id, product_id, minimum_score, maximum_score, cap_percent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			minimum_score = excluded.minimum_score,
			maximum_score = excluded.maximum_score,
			cap_percent = excluded.cap_percent
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.ProductID, c.MinimumScore, c.MaximumScore, c.CapPercent.String())
	if err != nil {
		return fmt.Errorf("failed to save product cap: %w", err)
	}
	return nil
}

// SaveProductCapAmount inserts or updates one flat-amount cap row.
func (r *SQLRepository) SaveProductCapAmount(ctx context.Context, tenantID string, c *domain.ProductCapAmount) error {
	if tenantID == "" || c == nil || c.ID == "" {
		return fmt.Errorf("%w: tenantID and cap amount id are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO product_cap_amounts (id, tenant_id, product_id, activity, min_age, max_age, min_salary, max_salary, amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			product_id = excluded.product_id,
			activity = excluded.activity,
			min_age = excluded.min_age,
			max_age = excluded.max_age,
			min_salary = excluded.min_salary,
			max_salary = excluded.max_salary,
			amount = excluded.amount
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.ProductID,
		nullStringPtr(c.Activity), nullIntPtr(c.MinAge), nullIntPtr(c.MaxAge),
		nullDecimalPtr(c.MinSalary), nullDecimalPtr(c.MaxSalary), c.Amount.String())
	if err != nil {
		return fmt.Errorf("failed to save product cap amount: %w", err)
	}
	return nil
}

// SaveException inserts or updates an exception override.
func (r *SQLRepository) SaveException(ctx context.Context, tenantID string, e *domain.ExceptionManagement) error {
	if tenantID == "" || e == nil || e.ID == "" {
		return fmt.Errorf("%w: tenantID and exception id are required", domain.ErrInvalidInput)
	}

	productIDs, err := marshalOrEmpty(e.ProductIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal product ids: %w", err)
	}

	updatedAt := e.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO exceptions (id, tenant_id, name, is_temporary, start_date, end_date, scope, product_ids,
			amount_type, fixed_percent, variation_percent, activation_expression, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			is_temporary = excluded.is_temporary,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			scope = excluded.scope,
			product_ids = excluded.product_ids,
			amount_type = excluded.amount_type,
			fixed_percent = excluded.fixed_percent,
			variation_percent = excluded.variation_percent,
			activation_expression = excluded.activation_expression,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, r.rebind(query),
		e.ID, tenantID, e.Name, boolToInt(e.IsTemporary),
		nullTimePtr(e.StartDate), nullTimePtr(e.EndDate),
		e.Scope, productIDs, e.AmountType,
		e.FixedPercent.String(), e.VariationPercent.String(),
		e.ActivationExpression, boolToInt(e.IsActive), updatedAt)
	if err != nil {
		return fmt.Errorf("failed to save exception: %w", err)
	}
	return nil
}

// SaveEvaluationHistory persists the summary row and every child trace row
// in one transaction. A failure at any point rolls the whole trace back.
func (r *SQLRepository) SaveEvaluationHistory(ctx context.Context, tenantID string, h *domain.EvaluationHistory) error {
	if tenantID == "" || h == nil || h.ID == "" {
		return fmt.Errorf("%w: tenantID and evaluation id are required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	summary := `
		INSERT INTO evaluation_history (id, tenant_id, applicant_id, national_id, outcome, failure_reason, score, process_ms, request, response, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(summary),
		h.ID, tenantID, h.ApplicantID, h.NationalID, h.Outcome, h.FailureReason,
		h.Score, h.ProcessMs, h.Request, h.Response, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation summary: %w", err)
	}

	pcQuery := r.rebind(`
		INSERT INTO history_pc (evaluation_id, tenant_id, pcard_id, product_id, expression, result, marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, row := range h.PcardRows {
		if _, err := tx.ExecContext(ctx, pcQuery,
			h.ID, tenantID, row.PcardID, row.ProductID, row.Expression,
			boolToInt(row.Result), row.Marker, row.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert pcard trace row: %w", err)
		}
	}

	ecQuery := r.rebind(`
		INSERT INTO history_ec (evaluation_id, tenant_id, ecard_id, expression, result, marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	for _, row := range h.EcardRows {
		if _, err := tx.ExecContext(ctx, ecQuery,
			h.ID, tenantID, row.EcardID, row.Expression,
			boolToInt(row.Result), row.Marker, row.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert ecard trace row: %w", err)
		}
	}

	erQuery := r.rebind(`
		INSERT INTO history_er (evaluation_id, tenant_id, erule_id, version, expression, result, marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, row := range h.EruleRows {
		if _, err := tx.ExecContext(ctx, erQuery,
			h.ID, tenantID, row.EruleID, row.Version, row.Expression,
			boolToInt(row.Result), row.Marker, row.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert erule trace row: %w", err)
		}
	}

	paramQuery := r.rebind(`
		INSERT INTO history_parameter (evaluation_id, tenant_id, entity_id, expression, value, result, marker, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, row := range h.ParameterRows {
		if _, err := tx.ExecContext(ctx, paramQuery,
			h.ID, tenantID, row.EntityID, row.Expression, row.Value,
			boolToInt(row.Result), row.Marker, row.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert parameter trace row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation history: %w", err)
	}
	return nil
}

// GetEvaluationHistory retrieves one evaluation with its child trace rows.
func (r *SQLRepository) GetEvaluationHistory(ctx context.Context, tenantID string, evalID string) (*domain.EvaluationHistory, error) {
	if tenantID == "" || evalID == "" {
		return nil, fmt.Errorf("%w: tenantID and evaluation id are required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, applicant_id, national_id, outcome, failure_reason, score, process_ms, request, response, created_at
		FROM evaluation_history WHERE tenant_id = ? AND id = ?
	`
	h := &domain.EvaluationHistory{TenantID: tenantID}
	var nationalID, failureReason sql.NullString
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID).Scan(
		&h.ID, &h.ApplicantID, &nationalID, &h.Outcome, &failureReason,
		&h.Score, &h.ProcessMs, &h.Request, &h.Response, &h.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: evaluation %s", domain.ErrNotFound, evalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluation: %w", err)
	}
	h.NationalID = nationalID.String
	h.FailureReason = failureReason.String

	if h.PcardRows, err = r.loadHistoryPc(ctx, tenantID, evalID); err != nil {
		return nil, err
	}
	if h.EcardRows, err = r.loadHistoryEc(ctx, tenantID, evalID); err != nil {
		return nil, err
	}
	if h.EruleRows, err = r.loadHistoryEr(ctx, tenantID, evalID); err != nil {
		return nil, err
	}
	if h.ParameterRows, err = r.loadHistoryParameter(ctx, tenantID, evalID); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *SQLRepository) loadHistoryPc(ctx context.Context, tenantID, evalID string) ([]domain.HistoryPc, error) {
	query := `
		SELECT evaluation_id, pcard_id, product_id, expression, result, marker, created_at
		FROM history_pc WHERE tenant_id = ? AND evaluation_id = ? ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pcard trace rows: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryPc
	for rows.Next() {
		var row domain.HistoryPc
		var result int
		var marker sql.NullString
		if err := rows.Scan(&row.EvaluationID, &row.PcardID, &row.ProductID, &row.Expression, &result, &marker, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Result = result == 1
		row.Marker = marker.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadHistoryEc(ctx context.Context, tenantID, evalID string) ([]domain.HistoryEc, error) {
	query := `
		SELECT evaluation_id, ecard_id, expression, result, marker, created_at
		FROM history_ec WHERE tenant_id = ? AND evaluation_id = ? ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ecard trace rows: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEc
	for rows.Next() {
		var row domain.HistoryEc
		var result int
		var marker sql.NullString
		if err := rows.Scan(&row.EvaluationID, &row.EcardID, &row.Expression, &result, &marker, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Result = result == 1
		row.Marker = marker.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadHistoryEr(ctx context.Context, tenantID, evalID string) ([]domain.HistoryEr, error) {
	query := `
		SELECT evaluation_id, erule_id, version, expression, result, marker, created_at
		FROM history_er WHERE tenant_id = ? AND evaluation_id = ? ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load erule trace rows: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryEr
	for rows.Next() {
		var row domain.HistoryEr
		var result int
		var marker sql.NullString
		if err := rows.Scan(&row.EvaluationID, &row.EruleID, &row.Version, &row.Expression, &result, &marker, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Result = result == 1
		row.Marker = marker.String
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadHistoryParameter(ctx context.Context, tenantID, evalID string) ([]domain.HistoryParameter, error) {
	query := `
		SELECT evaluation_id, entity_id, expression, value, result, marker, created_at
		FROM history_parameter WHERE tenant_id = ? AND evaluation_id = ? ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load parameter trace rows: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryParameter
	for rows.Next() {
		var row domain.HistoryParameter
		var result int
		var value, marker sql.NullString
		if err := rows.Scan(&row.EvaluationID, &row.EntityID, &row.Expression, &value, &result, &marker, &row.CreatedAt); err != nil {
			return nil, err
		}
		row.Value = value.String
		row.Result = result == 1
		row.Marker = marker.String
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListEvaluationHistory lists summary rows for an applicant, newest first.
// Child trace rows are not loaded.
func (r *SQLRepository) ListEvaluationHistory(ctx context.Context, tenantID string, applicantID string, limit int) ([]*domain.EvaluationHistory, error) {
	if tenantID == "" || applicantID == "" {
		return nil, fmt.Errorf("%w: tenantID and applicantID are required", domain.ErrInvalidInput)
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, applicant_id, national_id, outcome, failure_reason, score, process_ms, request, response, created_at
		FROM evaluation_history
		WHERE tenant_id = ? AND applicant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, applicantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*domain.EvaluationHistory
	for rows.Next() {
		h := &domain.EvaluationHistory{TenantID: tenantID}
		var nationalID, failureReason sql.NullString
		if err := rows.Scan(&h.ID, &h.ApplicantID, &nationalID, &h.Outcome, &failureReason,
			&h.Score, &h.ProcessMs, &h.Request, &h.Response, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.NationalID = nationalID.String
		h.FailureReason = failureReason.String
		out = append(out, h)
	}
	return out, rows.Err()
}

func marshalOrEmpty(v any) (string, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return "", nil
		}
	case []domain.ComputedValueRule:
		if len(val) == 0 {
			return "", nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullIntPtr(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullDecimalPtr(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

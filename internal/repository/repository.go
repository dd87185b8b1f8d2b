// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/kite/internal/domain"
	"github.com/shopspring/decimal"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// GetRuleSet loads a tenant's complete effective configuration inside one
// transaction, so a concurrent publish cannot mix rule levels from different
// configuration generations.
func (r *SQLRepository) GetRuleSet(ctx context.Context, tenantID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: r.driver == "postgres"})
	if err != nil {
		return nil, fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback()

	rs := &domain.RuleSet{TenantID: tenantID}

	if rs.Parameters, err = r.loadParameters(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Factors, err = r.loadFactors(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.RuleMasters, err = r.loadRuleMasters(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Ecards, err = r.loadEcards(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Pcards, err = r.loadPcards(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Products, err = r.loadProducts(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.AmountBands, err = r.loadAmountBands(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Caps, err = r.loadCaps(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.CapAmounts, err = r.loadCapAmounts(ctx, tx, tenantID); err != nil {
		return nil, err
	}
	if rs.Exceptions, err = r.loadExceptions(ctx, tx, tenantID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit snapshot transaction: %w", err)
	}

	if len(rs.Products) == 0 && len(rs.Parameters) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownTenant, tenantID)
	}

	return rs, nil
}

func (r *SQLRepository) loadParameters(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Parameter, error) {
	query := `
		SELECT id, name, data_type, is_mandatory, rejection_reason, rejection_reason_code, computed_rules
		FROM parameters WHERE tenant_id = ? ORDER BY name
	`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Parameter
	for rows.Next() {
		var p domain.Parameter
		var mandatory int
		var reason, code, computed sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &p.DataType, &mandatory, &reason, &code, &computed); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		p.IsMandatory = mandatory == 1
		p.RejectionReason = reason.String
		p.RejectionReasonCode = code.String
		if computed.String != "" {
			if err := json.Unmarshal([]byte(computed.String), &p.ComputedRules); err != nil {
				return nil, fmt.Errorf("failed to parse computed rules for %s: %w", p.Name, err)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadFactors(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Factor, error) {
	query := `
		SELECT id, name, parameter_name, operator, value1, value2, use_computed
		FROM factors WHERE tenant_id = ? ORDER BY name
	`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Factor
	for rows.Next() {
		var f domain.Factor
		var v1, v2 sql.NullString
		var useComputed int
		if err := rows.Scan(&f.ID, &f.Name, &f.ParameterName, &f.Operator, &v1, &v2, &useComputed); err != nil {
			return nil, err
		}
		f.TenantID = tenantID
		f.Value1 = v1.String
		f.Value2 = v2.String
		f.UseComputedValue = useComputed == 1
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadRuleMasters(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.EruleMaster, error) {
	query := `SELECT id, name, versions FROM erule_masters WHERE tenant_id = ? ORDER BY name`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EruleMaster
	for rows.Next() {
		var m domain.EruleMaster
		var versions string
		if err := rows.Scan(&m.ID, &m.Name, &versions); err != nil {
			return nil, err
		}
		m.TenantID = tenantID
		if err := json.Unmarshal([]byte(versions), &m.Versions); err != nil {
			return nil, fmt.Errorf("failed to parse rule versions for %s: %w", m.Name, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadEcards(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Ecard, error) {
	query := `SELECT id, name, expression, erule_names FROM ecards WHERE tenant_id = ? ORDER BY name`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ecard
	for rows.Next() {
		var c domain.Ecard
		var names sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Expression, &names); err != nil {
			return nil, err
		}
		c.TenantID = tenantID
		if names.String != "" {
			if err := json.Unmarshal([]byte(names.String), &c.EruleNames); err != nil {
				return nil, fmt.Errorf("failed to parse erule names for %s: %w", c.Name, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadPcards(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Pcard, error) {
	query := `SELECT id, name, product_id, expression, ecard_names FROM pcards WHERE tenant_id = ? ORDER BY name`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Pcard
	for rows.Next() {
		var c domain.Pcard
		var names sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.ProductID, &c.Expression, &names); err != nil {
			return nil, err
		}
		c.TenantID = tenantID
		if names.String != "" {
			if err := json.Unmarshal([]byte(names.String), &c.EcardNames); err != nil {
				return nil, fmt.Errorf("failed to parse ecard names for %s: %w", c.Name, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadProducts(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.Product, error) {
	query := `SELECT id, name, code, max_eligible_amount FROM products WHERE tenant_id = ? ORDER BY name`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		var p domain.Product
		var amount string
		if err := rows.Scan(&p.ID, &p.Name, &p.Code, &amount); err != nil {
			return nil, err
		}
		p.TenantID = tenantID
		if p.MaxEligibleAmount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("failed to parse max eligible amount for %s: %w", p.Name, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadAmountBands(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.AmountEligibility, error) {
	// Band declaration order is id order.
	query := `SELECT id, pcard_id, from_percent, to_percent, amount_percent FROM amount_eligibilities WHERE tenant_id = ? ORDER BY id`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AmountEligibility
	for rows.Next() {
		var b domain.AmountEligibility
		var from, to, amount string
		if err := rows.Scan(&b.ID, &b.PcardID, &from, &to, &amount); err != nil {
			return nil, err
		}
		if b.FromPercent, err = decimal.NewFromString(from); err != nil {
			return nil, err
		}
		if b.ToPercent, err = decimal.NewFromString(to); err != nil {
			return nil, err
		}
		if b.AmountPercent, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadCaps(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.ProductCap, error) {
	query := `SELECT id, product_id, minimum_score, maximum_score, cap_percent FROM product_caps WHERE tenant_id = ? ORDER BY id`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProductCap
	for rows.Next() {
		var c domain.ProductCap
		var percent string
		if err := rows.Scan(&c.ID, &c.ProductID, &c.MinimumScore, &c.MaximumScore, &percent); err != nil {
			return nil, err
		}
		if c.CapPercent, err = decimal.NewFromString(percent); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadCapAmounts(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.ProductCapAmount, error) {
	query := `
		SELECT id, product_id, activity, min_age, max_age, min_salary, max_salary, amount
		FROM product_cap_amounts WHERE tenant_id = ? ORDER BY id
	`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProductCapAmount
	for rows.Next() {
		var c domain.ProductCapAmount
		var activity, minSalary, maxSalary sql.NullString
		var minAge, maxAge sql.NullInt64
		var amount string
		if err := rows.Scan(&c.ID, &c.ProductID, &activity, &minAge, &maxAge, &minSalary, &maxSalary, &amount); err != nil {
			return nil, err
		}
		if activity.Valid {
			c.Activity = &activity.String
		}
		if minAge.Valid {
			v := int(minAge.Int64)
			c.MinAge = &v
		}
		if maxAge.Valid {
			v := int(maxAge.Int64)
			c.MaxAge = &v
		}
		if minSalary.Valid {
			d, err := decimal.NewFromString(minSalary.String)
			if err != nil {
				return nil, err
			}
			c.MinSalary = &d
		}
		if maxSalary.Valid {
			d, err := decimal.NewFromString(maxSalary.String)
			if err != nil {
				return nil, err
			}
			c.MaxSalary = &d
		}
		if c.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *SQLRepository) loadExceptions(ctx context.Context, tx *sql.Tx, tenantID string) ([]domain.ExceptionManagement, error) {
	query := `
		SELECT id, name, is_temporary, start_date, end_date, scope, product_ids,
		       amount_type, fixed_percent, variation_percent, activation_expression, is_active, updated_at
		FROM exceptions WHERE tenant_id = ? ORDER BY id
	`
	rows, err := tx.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ExceptionManagement
	for rows.Next() {
		var e domain.ExceptionManagement
		var temporary, active int
		var start, end sql.NullTime
		var productIDs, activation sql.NullString
		var fixed, variation string
		if err := rows.Scan(&e.ID, &e.Name, &temporary, &start, &end, &e.Scope, &productIDs,
			&e.AmountType, &fixed, &variation, &activation, &active, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.TenantID = tenantID
		e.IsTemporary = temporary == 1
		e.IsActive = active == 1
		if start.Valid {
			t := start.Time
			e.StartDate = &t
		}
		if end.Valid {
			t := end.Time
			e.EndDate = &t
		}
		if productIDs.String != "" {
			if err := json.Unmarshal([]byte(productIDs.String), &e.ProductIDs); err != nil {
				return nil, fmt.Errorf("failed to parse product ids for exception %s: %w", e.Name, err)
			}
		}
		e.ActivationExpression = activation.String
		if e.FixedPercent, err = decimal.NewFromString(fixed); err != nil {
			return nil, err
		}
		if e.VariationPercent, err = decimal.NewFromString(variation); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package domain

import (
	"context"
	"time"
)

// Repository defines the persistence boundary of the engine.
// Configuration entities are read-only inputs here; mutation is owned by an
// external administrative flow (the Save* methods exist for seeding and for
// that flow to call through). All methods require tenantID for strict
// multi-tenancy isolation.
type Repository interface {
	// GetRuleSet loads a tenant's complete effective configuration inside one
	// read-consistent transaction. Returns ErrUnknownTenant when the tenant
	// has no configuration at all.
	GetRuleSet(ctx context.Context, tenantID string) (*RuleSet, error)

	// Configuration writes (administrative flow / seeding).
	SaveParameter(ctx context.Context, tenantID string, p *Parameter) error
	SaveFactor(ctx context.Context, tenantID string, f *Factor) error
	SaveRuleMaster(ctx context.Context, tenantID string, m *EruleMaster) error
	SaveEcard(ctx context.Context, tenantID string, c *Ecard) error
	SavePcard(ctx context.Context, tenantID string, c *Pcard) error
	SaveProduct(ctx context.Context, tenantID string, p *Product) error
	SaveAmountEligibility(ctx context.Context, tenantID string, b *AmountEligibility) error
	SaveProductCap(ctx context.Context, tenantID string, c *ProductCap) error
	SaveProductCapAmount(ctx context.Context, tenantID string, c *ProductCapAmount) error
	SaveException(ctx context.Context, tenantID string, e *ExceptionManagement) error

	// SaveEvaluationHistory persists the summary row and every child trace row
	// in a single transaction: either the full trace commits or none of it does.
	SaveEvaluationHistory(ctx context.Context, tenantID string, h *EvaluationHistory) error

	// GetEvaluationHistory retrieves one evaluation with its child trace rows.
	GetEvaluationHistory(ctx context.Context, tenantID string, evalID string) (*EvaluationHistory, error)

	// ListEvaluationHistory lists summary rows for an applicant, newest first.
	ListEvaluationHistory(ctx context.Context, tenantID string, applicantID string, limit int) ([]*EvaluationHistory, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

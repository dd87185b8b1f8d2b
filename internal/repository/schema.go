package repository

// Schema definitions for the Kite database.
// Compatible with both SQLite and PostgreSQL.

const schemaParameters = `
CREATE TABLE IF NOT EXISTS parameters (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    data_type TEXT NOT NULL,
    is_mandatory INTEGER NOT NULL DEFAULT 0,
    rejection_reason TEXT,
    rejection_reason_code TEXT,
    computed_rules TEXT,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_parameters_tenant ON parameters(tenant_id);
`

const schemaFactors = `
CREATE TABLE IF NOT EXISTS factors (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    parameter_name TEXT NOT NULL,
    operator TEXT NOT NULL,
    value1 TEXT,
    value2 TEXT,
    use_computed INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_factors_tenant ON factors(tenant_id);
`

const schemaEruleMasters = `
CREATE TABLE IF NOT EXISTS erule_masters (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    versions TEXT NOT NULL,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_erule_masters_tenant ON erule_masters(tenant_id);
`

const schemaEcards = `
CREATE TABLE IF NOT EXISTS ecards (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    erule_names TEXT,
    PRIMARY KEY (tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_ecards_tenant ON ecards(tenant_id);
`

const schemaPcards = `
CREATE TABLE IF NOT EXISTS pcards (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    product_id TEXT NOT NULL,
    expression TEXT NOT NULL,
    ecard_names TEXT,
    PRIMARY KEY (tenant_id, name),
    UNIQUE (tenant_id, product_id)
);

CREATE INDEX IF NOT EXISTS idx_pcards_tenant ON pcards(tenant_id);
`

const schemaProducts = `
CREATE TABLE IF NOT EXISTS products (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    code TEXT NOT NULL,
    max_eligible_amount TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_products_tenant ON products(tenant_id);
`

const schemaAmountEligibilities = `
CREATE TABLE IF NOT EXISTS amount_eligibilities (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    pcard_id TEXT NOT NULL,
    from_percent TEXT NOT NULL,
    to_percent TEXT NOT NULL,
    amount_percent TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_amount_eligibilities_pcard ON amount_eligibilities(tenant_id, pcard_id);
`

const schemaProductCaps = `
CREATE TABLE IF NOT EXISTS product_caps (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    minimum_score REAL NOT NULL,
    maximum_score REAL NOT NULL,
    cap_percent TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_product_caps_product ON product_caps(tenant_id, product_id);
`

const schemaProductCapAmounts = `
CREATE TABLE IF NOT EXISTS product_cap_amounts (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    product_id TEXT NOT NULL,
    activity TEXT,
    min_age INTEGER,
    max_age INTEGER,
    min_salary TEXT,
    max_salary TEXT,
    amount TEXT NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_product_cap_amounts_product ON product_cap_amounts(tenant_id, product_id);
`

const schemaExceptions = `
CREATE TABLE IF NOT EXISTS exceptions (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    is_temporary INTEGER NOT NULL DEFAULT 0,
    start_date TIMESTAMP,
    end_date TIMESTAMP,
    scope TEXT NOT NULL,
    product_ids TEXT,
    amount_type TEXT NOT NULL,
    fixed_percent TEXT NOT NULL,
    variation_percent TEXT NOT NULL,
    activation_expression TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, id)
);

CREATE INDEX IF NOT EXISTS idx_exceptions_tenant ON exceptions(tenant_id);
CREATE INDEX IF NOT EXISTS idx_exceptions_active ON exceptions(tenant_id, is_active);
`

const schemaEvaluationHistory = `
CREATE TABLE IF NOT EXISTS evaluation_history (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    applicant_id TEXT NOT NULL,
    national_id TEXT,
    outcome TEXT NOT NULL,
    failure_reason TEXT,
    score REAL NOT NULL,
    process_ms INTEGER NOT NULL,
    request TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluation_history_tenant ON evaluation_history(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluation_history_applicant ON evaluation_history(tenant_id, applicant_id);
CREATE INDEX IF NOT EXISTS idx_evaluation_history_created ON evaluation_history(tenant_id, created_at);
`

const schemaHistoryPc = `
CREATE TABLE IF NOT EXISTS history_pc (
    evaluation_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    pcard_id TEXT,
    product_id TEXT,
    expression TEXT,
    result INTEGER NOT NULL DEFAULT 0,
    marker TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_pc_eval ON history_pc(tenant_id, evaluation_id);
`

const schemaHistoryEc = `
CREATE TABLE IF NOT EXISTS history_ec (
    evaluation_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    ecard_id TEXT,
    expression TEXT,
    result INTEGER NOT NULL DEFAULT 0,
    marker TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_ec_eval ON history_ec(tenant_id, evaluation_id);
`

const schemaHistoryEr = `
CREATE TABLE IF NOT EXISTS history_er (
    evaluation_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    erule_id TEXT,
    version INTEGER NOT NULL DEFAULT 0,
    expression TEXT,
    result INTEGER NOT NULL DEFAULT 0,
    marker TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_er_eval ON history_er(tenant_id, evaluation_id);
`

const schemaHistoryParameter = `
CREATE TABLE IF NOT EXISTS history_parameter (
    evaluation_id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    entity_id TEXT,
    expression TEXT,
    value TEXT,
    result INTEGER NOT NULL DEFAULT 0,
    marker TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_parameter_eval ON history_parameter(tenant_id, evaluation_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaParameters,
		schemaFactors,
		schemaEruleMasters,
		schemaEcards,
		schemaPcards,
		schemaProducts,
		schemaAmountEligibilities,
		schemaProductCaps,
		schemaProductCapAmounts,
		schemaExceptions,
		schemaEvaluationHistory,
		schemaHistoryPc,
		schemaHistoryEc,
		schemaHistoryEr,
		schemaHistoryParameter,
	}
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CurrentSchemaVersion is the schema version this build writes.
const CurrentSchemaVersion = 2

// schemaVersionKey is the reserved settings row holding the version marker.
const schemaVersionKey = "schema_version"

// tablesWithUpdatedAt get an updated_at maintenance trigger.
var tablesWithUpdatedAt = []string{"categories", "accounts", "transactions", "budgets", "goals", "deposits"}

// domainTables are the user-data tables; a fresh store has no rows in any of them.
var domainTables = []string{"accounts", "transactions", "budgets", "goals", "deposits", "deposit_interest_payouts"}

// tableSchema is the full schema at CurrentSchemaVersion.
// Every statement is idempotent so it can be replayed on a half-built store.
const tableSchema = `
CREATE TABLE IF NOT EXISTS settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS categories (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    kind       TEXT NOT NULL CHECK (kind IN ('income', 'expense', 'transfer')),
    icon       TEXT NOT NULL DEFAULT '',
    color      TEXT NOT NULL DEFAULT '',
    is_default INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS accounts (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    type           TEXT NOT NULL CHECK (type IN ('bank', 'credit_card', 'cash', 'wallet', 'investment', 'deposit', 'loan')),
    balance_minor  INTEGER NOT NULL DEFAULT 0,
    currency       TEXT NOT NULL DEFAULT 'INR',
    institution    TEXT NOT NULL DEFAULT '',
    account_number TEXT NOT NULL DEFAULT '',
    is_active      INTEGER NOT NULL DEFAULT 1,
    created_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at     INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS transactions (
    id                  TEXT PRIMARY KEY,
    account_id          TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    category_id         TEXT REFERENCES categories(id) ON DELETE SET NULL,
    type                TEXT NOT NULL CHECK (type IN ('income', 'expense', 'transfer')),
    amount_minor        INTEGER NOT NULL,
    description         TEXT NOT NULL DEFAULT '',
    date                TEXT NOT NULL,
    transfer_account_id TEXT REFERENCES accounts(id) ON DELETE SET NULL,
    created_at          INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at          INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);
CREATE INDEX IF NOT EXISTS idx_transactions_category ON transactions(category_id);

CREATE TABLE IF NOT EXISTS budgets (
    id              TEXT PRIMARY KEY,
    name            TEXT NOT NULL,
    category_id     TEXT REFERENCES categories(id) ON DELETE CASCADE,
    amount_minor    INTEGER NOT NULL,
    period          TEXT NOT NULL CHECK (period IN ('monthly', 'quarterly', 'yearly', 'custom')),
    start_date      TEXT NOT NULL,
    end_date        TEXT,
    alert_threshold INTEGER NOT NULL DEFAULT 80,
    rollover        INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_budgets_category ON budgets(category_id);

CREATE TABLE IF NOT EXISTS goals (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    target_minor      INTEGER NOT NULL,
    current_minor     INTEGER NOT NULL DEFAULT 0,
    target_date       TEXT,
    priority          TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high')),
    status            TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed', 'paused')),
    linked_account_id TEXT REFERENCES accounts(id) ON DELETE SET NULL,
    created_at        INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at        INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE TABLE IF NOT EXISTS deposits (
    id              TEXT PRIMARY KEY,
    account_id      TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
    kind            TEXT NOT NULL CHECK (kind IN ('fixed', 'recurring', 'ppf', 'nsc', 'other')),
    principal_minor INTEGER NOT NULL,
    interest_rate   REAL NOT NULL,
    compounding     TEXT NOT NULL DEFAULT 'quarterly' CHECK (compounding IN ('monthly', 'quarterly', 'half_yearly', 'yearly')),
    start_date      TEXT NOT NULL,
    maturity_date   TEXT NOT NULL,
    maturity_minor  INTEGER,
    auto_renew      INTEGER NOT NULL DEFAULT 0,
    created_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    updated_at      INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_deposits_account ON deposits(account_id);

CREATE TABLE IF NOT EXISTS deposit_interest_payouts (
    id           TEXT PRIMARY KEY,
    deposit_id   TEXT NOT NULL REFERENCES deposits(id) ON DELETE CASCADE,
    payout_date  TEXT NOT NULL,
    amount_minor INTEGER NOT NULL,
    created_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_payouts_deposit ON deposit_interest_payouts(deposit_id);
`

// updatedAtTrigger bumps updated_at when a row changes without setting it.
const updatedAtTrigger = `
CREATE TRIGGER IF NOT EXISTS %[1]s_updated_at
AFTER UPDATE ON %[1]s
FOR EACH ROW WHEN NEW.updated_at = OLD.updated_at
BEGIN
    UPDATE %[1]s SET updated_at = strftime('%%s', 'now') WHERE id = NEW.id;
END;
`

// fullSchema returns the tables, indexes and triggers as one script.
func fullSchema() string {
	var b strings.Builder
	b.WriteString(tableSchema)
	for _, table := range tablesWithUpdatedAt {
		fmt.Fprintf(&b, updatedAtTrigger, table)
	}
	return b.String()
}

// category is one row of the seed category set.
type category struct {
	ID    string
	Name  string
	Kind  string
	Icon  string
	Color string
}

// seedCategories is the fixed category set every fresh store starts with.
var seedCategories = []category{
	{ID: "cat-salary", Name: "Salary", Kind: "income", Icon: "briefcase", Color: "#2E7D32"},
	{ID: "cat-business", Name: "Business", Kind: "income", Icon: "store", Color: "#388E3C"},
	{ID: "cat-investments", Name: "Investments", Kind: "income", Icon: "trending-up", Color: "#43A047"},
	{ID: "cat-interest", Name: "Interest", Kind: "income", Icon: "percent", Color: "#4CAF50"},
	{ID: "cat-other-income", Name: "Other Income", Kind: "income", Icon: "plus-circle", Color: "#66BB6A"},
	{ID: "cat-food", Name: "Food & Dining", Kind: "expense", Icon: "utensils", Color: "#E53935"},
	{ID: "cat-groceries", Name: "Groceries", Kind: "expense", Icon: "shopping-cart", Color: "#D81B60"},
	{ID: "cat-transport", Name: "Transportation", Kind: "expense", Icon: "car", Color: "#8E24AA"},
	{ID: "cat-housing", Name: "Housing & Rent", Kind: "expense", Icon: "home", Color: "#5E35B1"},
	{ID: "cat-utilities", Name: "Utilities", Kind: "expense", Icon: "zap", Color: "#3949AB"},
	{ID: "cat-healthcare", Name: "Healthcare", Kind: "expense", Icon: "heart", Color: "#1E88E5"},
	{ID: "cat-education", Name: "Education", Kind: "expense", Icon: "book", Color: "#039BE5"},
	{ID: "cat-entertainment", Name: "Entertainment", Kind: "expense", Icon: "film", Color: "#00ACC1"},
	{ID: "cat-shopping", Name: "Shopping", Kind: "expense", Icon: "shopping-bag", Color: "#00897B"},
	{ID: "cat-insurance", Name: "Insurance", Kind: "expense", Icon: "shield", Color: "#FB8C00"},
	{ID: "cat-emi", Name: "Loan EMI", Kind: "expense", Icon: "credit-card", Color: "#F4511E"},
	{ID: "cat-other-expense", Name: "Other Expense", Kind: "expense", Icon: "more-horizontal", Color: "#6D4C41"},
	{ID: "cat-transfer", Name: "Transfer", Kind: "transfer", Icon: "repeat", Color: "#546E7A"},
}

// seed inserts the seed categories. Existing rows are left untouched.
func seed(ctx context.Context, tx *sql.Tx) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO categories (id, name, kind, icon, color, is_default) VALUES (?, ?, ?, ?, ?, 1)`)
	if err != nil {
		return fmt.Errorf("prepare seed: %w", err)
	}
	defer stmt.Close()

	for _, c := range seedCategories {
		if _, err := stmt.ExecContext(ctx, c.ID, c.Name, c.Kind, c.Icon, c.Color); err != nil {
			return fmt.Errorf("seed category %s: %w", c.ID, err)
		}
	}
	return nil
}

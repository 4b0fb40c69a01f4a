package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"conti/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the Store backed by a local SQLite database.
type SQLiteRepository struct {
	db *sql.DB
	// seed is the forest of users that never stored one.
	seed []core.CategoryNode
}

var _ Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string, seed []core.CategoryNode) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps batch commits serialized.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, seed: seed}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const transactionColumns = "id, date, description, amount_cents, type, category, category_id, recurring_id"

func scanTransaction(s rowScanner) (core.Transaction, error) {
	var (
		tx                      core.Transaction
		date                    string
		categoryID, recurringID sql.NullString
	)
	if err := s.Scan(&tx.ID, &date, &tx.Description, &tx.Amount.Cents, &tx.Type, &tx.Category, &categoryID, &recurringID); err != nil {
		return tx, err
	}
	tx.Date = parseStoredDate(date, "transaction", tx.ID)
	tx.CategoryID = categoryID.String
	tx.RecurringID = recurringID.String
	return tx, nil
}

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, f TransactionFilter) ([]core.Transaction, error) {
	var (
		where = []string{"user_id = ?"}
		args  = []any{userID}
	)
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, f.From.String())
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, f.To.String())
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.RecurringID != "" {
		where = append(where, "recurring_id = ?")
		args = append(args, f.RecurringID)
	}
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.MissingCategoryID {
		where = append(where, "(category_id IS NULL OR category_id = '')")
	}
	query := "SELECT " + transactionColumns + " FROM transactions WHERE " +
		strings.Join(where, " AND ") + " ORDER BY date, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE user_id = ? AND id = ?", userID, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return tx, NotFound("transaction", id)
	}
	if err != nil {
		return tx, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListCategories(ctx context.Context, userID string) ([]core.CategoryNode, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, parent_id, name, type FROM categories WHERE user_id = ? ORDER BY position", userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	type flat struct {
		node   core.CategoryNode
		parent string
	}
	var (
		nodes    []flat
		children = map[string][]int{}
	)
	for rows.Next() {
		var (
			f            flat
			parent, kind sql.NullString
		)
		if err := rows.Scan(&f.node.ID, &parent, &f.node.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		f.parent = parent.String
		f.node.Type = core.TransactionType(kind.String)
		children[f.parent] = append(children[f.parent], len(nodes))
		nodes = append(nodes, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		var stored int
		err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM category_forests WHERE user_id = ?", userID).Scan(&stored)
		if err != nil {
			return nil, fmt.Errorf("check category forest: %w", err)
		}
		if stored == 0 {
			return r.seed, nil
		}
		return []core.CategoryNode{}, nil
	}

	var build func(parent string) []core.CategoryNode
	build = func(parent string) []core.CategoryNode {
		idx := children[parent]
		if len(idx) == 0 {
			return nil
		}
		out := make([]core.CategoryNode, 0, len(idx))
		for _, i := range idx {
			n := nodes[i].node
			n.SubCategories = build(n.ID)
			out = append(out, n)
		}
		return out
	}
	return build(""), nil
}

const recurringColumns = "id, description, amount_cents, type, category, category_id, frequency, start_date, end_date, last_added_date"

func scanRecurring(s rowScanner) (core.RecurringTransaction, error) {
	var (
		re                       core.RecurringTransaction
		start                    string
		categoryID, end, lastAdd sql.NullString
	)
	if err := s.Scan(&re.ID, &re.Description, &re.Amount.Cents, &re.Type, &re.Category, &categoryID,
		&re.Frequency, &start, &end, &lastAdd); err != nil {
		return re, err
	}
	re.CategoryID = categoryID.String
	// A malformed start date loads as zero; the recurrence engine reports it per definition.
	re.StartDate = parseStoredDate(start, "recurring", re.ID)
	re.EndDate = parseStoredDate(end.String, "recurring", re.ID)
	re.LastAddedDate = parseStoredDate(lastAdd.String, "recurring", re.ID)
	return re, nil
}

func (r *SQLiteRepository) ListRecurring(ctx context.Context, userID string) ([]core.RecurringTransaction, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+recurringColumns+" FROM recurring_transactions WHERE user_id = ? ORDER BY start_date, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list recurring: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		re, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recurring: %w", err)
		}
		out = append(out, re)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetRecurring(ctx context.Context, userID, id string) (core.RecurringTransaction, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+recurringColumns+" FROM recurring_transactions WHERE user_id = ? AND id = ?", userID, id)
	re, err := scanRecurring(row)
	if errors.Is(err, sql.ErrNoRows) {
		return re, NotFound("recurring transaction", id)
	}
	if err != nil {
		return re, fmt.Errorf("get recurring: %w", err)
	}
	return re, nil
}

const budgetColumns = "id, name, category_id, amount_cents, period, start_date, end_date"

func scanBudget(s rowScanner) (core.Budget, error) {
	var (
		b          core.Budget
		start, end sql.NullString
	)
	if err := s.Scan(&b.ID, &b.Name, &b.CategoryID, &b.Amount.Cents, &b.Period, &start, &end); err != nil {
		return b, err
	}
	b.StartDate = parseStoredDate(start.String, "budget", b.ID)
	b.EndDate = parseStoredDate(end.String, "budget", b.ID)
	return b, nil
}

func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE user_id = ? ORDER BY name, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, userID, id string) (core.Budget, error) {
	b, err := scanBudget(r.db.QueryRowContext(ctx,
		"SELECT "+budgetColumns+" FROM budgets WHERE user_id = ? AND id = ?", userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return b, NotFound("budget", id)
	}
	if err != nil {
		return b, fmt.Errorf("get budget: %w", err)
	}
	return b, nil
}

const goalColumns = "id, name, target_cents, saved_cents, target_date, linked_category_id, contribution_start_date"

func scanGoal(s rowScanner) (core.Goal, error) {
	var (
		g                           core.Goal
		target, linked, contributed sql.NullString
	)
	if err := s.Scan(&g.ID, &g.Name, &g.TargetAmount.Cents, &g.SavedAmount.Cents, &target, &linked, &contributed); err != nil {
		return g, err
	}
	g.TargetDate = parseStoredDate(target.String, "goal", g.ID)
	g.LinkedCategoryID = linked.String
	g.ContributionStartDate = parseStoredDate(contributed.String, "goal", g.ID)
	return g, nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, userID string) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+goalColumns+" FROM goals WHERE user_id = ? ORDER BY name, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetGoal(ctx context.Context, userID, id string) (core.Goal, error) {
	g, err := scanGoal(r.db.QueryRowContext(ctx,
		"SELECT "+goalColumns+" FROM goals WHERE user_id = ? AND id = ?", userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return g, NotFound("goal", id)
	}
	if err != nil {
		return g, fmt.Errorf("get goal: %w", err)
	}
	return g, nil
}

func (r *SQLiteRepository) ListFormulas(ctx context.Context, userID string) ([]core.Formula, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, expression FROM formulas WHERE user_id = ? ORDER BY name, id", userID)
	if err != nil {
		return nil, fmt.Errorf("list formulas: %w", err)
	}
	defer rows.Close()

	var out []core.Formula
	for rows.Next() {
		var f core.Formula
		if err := rows.Scan(&f.ID, &f.Name, &f.Expression); err != nil {
			return nil, fmt.Errorf("scan formula: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetFormula(ctx context.Context, userID, id string) (core.Formula, error) {
	var f core.Formula
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, expression FROM formulas WHERE user_id = ? AND id = ?", userID, id).
		Scan(&f.ID, &f.Name, &f.Expression)
	if errors.Is(err, sql.ErrNoRows) {
		return f, NotFound("formula", id)
	}
	if err != nil {
		return f, fmt.Errorf("get formula: %w", err)
	}
	return f, nil
}

func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM transactions
		UNION SELECT user_id FROM recurring_transactions
		UNION SELECT user_id FROM categories
		UNION SELECT user_id FROM budgets
		UNION SELECT user_id FROM goals
		UNION SELECT user_id FROM formulas
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// Commit applies the batch in a single SQL transaction.
func (r *SQLiteRepository) Commit(ctx context.Context, userID string, b *Batch) error {
	if b.IsEmpty() {
		return nil
	}
	if err := b.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	w := batchWriter{ctx: ctx, tx: tx, userID: userID}
	steps := []func(*Batch) error{
		w.transactions,
		w.recurring,
		w.budgets,
		w.goals,
		w.formulas,
		w.categories,
	}
	for _, step := range steps {
		if err := step(b); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	slog.DebugContext(ctx, "Batch committed", "user_id", userID, "writes", b.Len())
	return nil
}

type batchWriter struct {
	ctx    context.Context
	tx     *sql.Tx
	userID string
}

func (w batchWriter) exec(query string, args ...any) (sql.Result, error) {
	return w.tx.ExecContext(w.ctx, query, args...)
}

func (w batchWriter) mustAffect(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return NotFound(kind, id)
	}
	return nil
}

func (w batchWriter) transactions(b *Batch) error {
	for _, t := range b.SetTransactions {
		_, err := w.exec(`
			INSERT INTO transactions (user_id, id, date, description, amount_cents, type, category, category_id, recurring_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				date = excluded.date,
				description = excluded.description,
				amount_cents = excluded.amount_cents,
				type = excluded.type,
				category = excluded.category,
				category_id = excluded.category_id,
				recurring_id = excluded.recurring_id`,
			w.userID, t.ID, t.Date.String(), t.Description, t.Amount.Cents, string(t.Type),
			t.Category, nullString(t.CategoryID), nullString(t.RecurringID))
		if err != nil {
			return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
		}
	}

	for _, p := range b.PatchTransactions {
		var exists int
		err := w.tx.QueryRowContext(w.ctx,
			"SELECT 1 FROM transactions WHERE user_id = ? AND id = ?", w.userID, p.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return NotFound("transaction", p.ID)
		}
		if err != nil {
			return fmt.Errorf("patch transaction %s: %w", p.ID, err)
		}
		if p.CategoryID != "" {
			if _, err := w.exec(`UPDATE transactions SET category_id = ?
				WHERE user_id = ? AND id = ? AND (category_id IS NULL OR category_id = '')`,
				p.CategoryID, w.userID, p.ID); err != nil {
				return fmt.Errorf("backfill category id %s: %w", p.ID, err)
			}
		}
		if p.Category != nil {
			if _, err := w.exec("UPDATE transactions SET category = ? WHERE user_id = ? AND id = ?",
				*p.Category, w.userID, p.ID); err != nil {
				return fmt.Errorf("update category label %s: %w", p.ID, err)
			}
		}
	}

	for _, id := range b.DeleteTransactions {
		if _, err := w.exec("DELETE FROM transactions WHERE user_id = ? AND id = ?", w.userID, id); err != nil {
			return fmt.Errorf("delete transaction %s: %w", id, err)
		}
	}
	return nil
}

func (w batchWriter) recurring(b *Batch) error {
	for _, re := range b.SetRecurring {
		_, err := w.exec(`
			INSERT INTO recurring_transactions (user_id, id, description, amount_cents, type, category, category_id,
				frequency, start_date, end_date, last_added_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				description = excluded.description,
				amount_cents = excluded.amount_cents,
				type = excluded.type,
				category = excluded.category,
				category_id = excluded.category_id,
				frequency = excluded.frequency,
				start_date = excluded.start_date,
				end_date = excluded.end_date,
				last_added_date = excluded.last_added_date`,
			w.userID, re.ID, re.Description, re.Amount.Cents, string(re.Type), re.Category, nullString(re.CategoryID),
			string(re.Frequency), re.StartDate.String(), nullDate(re.EndDate), nullDate(re.LastAddedDate))
		if err != nil {
			return fmt.Errorf("upsert recurring %s: %w", re.ID, err)
		}
	}

	for _, wm := range b.Watermarks {
		res, err := w.exec("UPDATE recurring_transactions SET last_added_date = ? WHERE user_id = ? AND id = ?",
			nullDate(wm.Date), w.userID, wm.RecurringID)
		if err != nil {
			return fmt.Errorf("advance watermark %s: %w", wm.RecurringID, err)
		}
		if err := w.mustAffect(res, "recurring transaction", wm.RecurringID); err != nil {
			return err
		}
	}

	for _, id := range b.DeleteRecurring {
		if _, err := w.exec("DELETE FROM recurring_transactions WHERE user_id = ? AND id = ?", w.userID, id); err != nil {
			return fmt.Errorf("delete recurring %s: %w", id, err)
		}
	}
	return nil
}

func (w batchWriter) budgets(b *Batch) error {
	for _, bu := range b.SetBudgets {
		_, err := w.exec(`
			INSERT INTO budgets (user_id, id, name, category_id, amount_cents, period, start_date, end_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				name = excluded.name,
				category_id = excluded.category_id,
				amount_cents = excluded.amount_cents,
				period = excluded.period,
				start_date = excluded.start_date,
				end_date = excluded.end_date`,
			w.userID, bu.ID, bu.Name, bu.CategoryID, bu.Amount.Cents, string(bu.Period),
			nullDate(bu.StartDate), nullDate(bu.EndDate))
		if err != nil {
			return fmt.Errorf("upsert budget %s: %w", bu.ID, err)
		}
	}
	for _, id := range b.DeleteBudgets {
		if _, err := w.exec("DELETE FROM budgets WHERE user_id = ? AND id = ?", w.userID, id); err != nil {
			return fmt.Errorf("delete budget %s: %w", id, err)
		}
	}
	return nil
}

func (w batchWriter) goals(b *Batch) error {
	for _, g := range b.SetGoals {
		_, err := w.exec(`
			INSERT INTO goals (user_id, id, name, target_cents, saved_cents, target_date, linked_category_id, contribution_start_date)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET
				name = excluded.name,
				target_cents = excluded.target_cents,
				saved_cents = excluded.saved_cents,
				target_date = excluded.target_date,
				linked_category_id = excluded.linked_category_id,
				contribution_start_date = excluded.contribution_start_date`,
			w.userID, g.ID, g.Name, g.TargetAmount.Cents, g.SavedAmount.Cents, nullDate(g.TargetDate),
			nullString(g.LinkedCategoryID), nullDate(g.ContributionStartDate))
		if err != nil {
			return fmt.Errorf("upsert goal %s: %w", g.ID, err)
		}
	}
	for _, inc := range b.GoalIncrements {
		res, err := w.exec("UPDATE goals SET saved_cents = saved_cents + ? WHERE user_id = ? AND id = ?",
			inc.Amount.Cents, w.userID, inc.GoalID)
		if err != nil {
			return fmt.Errorf("increment goal %s: %w", inc.GoalID, err)
		}
		if err := w.mustAffect(res, "goal", inc.GoalID); err != nil {
			return err
		}
	}
	for _, id := range b.DeleteGoals {
		if _, err := w.exec("DELETE FROM goals WHERE user_id = ? AND id = ?", w.userID, id); err != nil {
			return fmt.Errorf("delete goal %s: %w", id, err)
		}
	}
	return nil
}

func (w batchWriter) formulas(b *Batch) error {
	for _, f := range b.SetFormulas {
		_, err := w.exec(`
			INSERT INTO formulas (user_id, id, name, expression) VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, id) DO UPDATE SET name = excluded.name, expression = excluded.expression`,
			w.userID, f.ID, f.Name, f.Expression)
		if err != nil {
			return fmt.Errorf("upsert formula %s: %w", f.ID, err)
		}
	}
	for _, id := range b.DeleteFormulas {
		if _, err := w.exec("DELETE FROM formulas WHERE user_id = ? AND id = ?", w.userID, id); err != nil {
			return fmt.Errorf("delete formula %s: %w", id, err)
		}
	}
	return nil
}

func (w batchWriter) categories(b *Batch) error {
	if !b.ReplaceCategories {
		return nil
	}
	if _, err := w.exec("DELETE FROM categories WHERE user_id = ?", w.userID); err != nil {
		return fmt.Errorf("clear categories: %w", err)
	}
	if _, err := w.exec("INSERT OR IGNORE INTO category_forests (user_id) VALUES (?)", w.userID); err != nil {
		return fmt.Errorf("mark category forest: %w", err)
	}

	position := 0
	var insert func(nodes []core.CategoryNode, parent string) error
	insert = func(nodes []core.CategoryNode, parent string) error {
		for _, n := range nodes {
			_, err := w.exec(
				"INSERT INTO categories (user_id, id, parent_id, name, type, position) VALUES (?, ?, ?, ?, ?, ?)",
				w.userID, n.ID, nullString(parent), n.Name, nullString(string(n.Type)), position)
			if err != nil {
				return fmt.Errorf("insert category %s: %w", n.ID, err)
			}
			position++
			if err := insert(n.SubCategories, n.ID); err != nil {
				return err
			}
		}
		return nil
	}
	return insert(b.Categories, "")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func parseStoredDate(s, kind, id string) core.Date {
	if strings.TrimSpace(s) == "" {
		return core.Date{}
	}
	d, err := core.ParseDate(s)
	if err != nil {
		slog.Warn("Stored date is malformed", "kind", kind, "id", id, "value", s)
		return core.Date{}
	}
	return d
}

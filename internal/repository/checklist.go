package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/db"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

const checklistColumns = `id, user_id, trade_date, open_csp_count, positions_rolled_count,
	cash_deployed_pct, high_impact_event, qqq_rsi_over70, notes, created_at, updated_at`

// checklistRepository implements ChecklistRepository
type checklistRepository struct {
	dbService *db.Service
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChecklist(row rowScanner) (*DailyChecklist, error) {
	var (
		c        DailyChecklist
		openCSP  sql.NullInt64
		rolled   sql.NullInt64
		deployed sql.NullFloat64
		event    sql.NullBool
		rsi      sql.NullBool
		notes    sql.NullString
	)
	err := row.Scan(&c.ID, &c.UserID, &c.TradeDate, &openCSP, &rolled,
		&deployed, &event, &rsi, &notes, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if openCSP.Valid {
		v := int(openCSP.Int64)
		c.OpenCSPCount = &v
	}
	if rolled.Valid {
		v := int(rolled.Int64)
		c.PositionsRolledCount = &v
	}
	if deployed.Valid {
		c.CashDeployedPct = &deployed.Float64
	}
	if event.Valid {
		c.HighImpactEvent = &event.Bool
	}
	if rsi.Valid {
		c.QQQRSIOver70 = &rsi.Bool
	}
	if notes.Valid {
		c.Notes = &notes.String
	}
	return &c, nil
}

// fieldArgs returns the column values of in, in checklistColumns order after
// trade_date.
func fieldArgs(in ChecklistInput) []any {
	return []any{
		nullInt(in.OpenCSPCount),
		nullInt(in.PositionsRolledCount),
		nullFloat(in.CashDeployedPct),
		nullBool(in.HighImpactEvent),
		nullBool(in.QQQRSIOver70),
		nullString(in.Notes),
	}
}

// Upsert inserts or replaces the checklist for (userID, in.TradeDate)
func (r *checklistRepository) Upsert(ctx context.Context, userID string, in ChecklistInput) (*DailyChecklist, error) {
	if err := checkDate(in.TradeDate); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	query := r.dbService.Rebind(`
INSERT INTO daily_checklists (user_id, trade_date, open_csp_count, positions_rolled_count,
	cash_deployed_pct, high_impact_event, qqq_rsi_over70, notes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id, trade_date) DO UPDATE SET
	open_csp_count = excluded.open_csp_count,
	positions_rolled_count = excluded.positions_rolled_count,
	cash_deployed_pct = excluded.cash_deployed_pct,
	high_impact_event = excluded.high_impact_event,
	qqq_rsi_over70 = excluded.qqq_rsi_over70,
	notes = excluded.notes,
	updated_at = excluded.updated_at`)

	args := append([]any{userID, in.TradeDate}, fieldArgs(in)...)
	args = append(args, now, now)
	if _, err := r.dbService.DB().ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to upsert checklist: %w", err)
	}

	return r.GetByDate(ctx, userID, in.TradeDate)
}

// Get retrieves a checklist by id
func (r *checklistRepository) Get(ctx context.Context, userID string, id int64) (*DailyChecklist, error) {
	query := r.dbService.Rebind(`SELECT ` + checklistColumns + ` FROM daily_checklists WHERE id = ? AND user_id = ?`)
	c, err := scanChecklist(r.dbService.DB().QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checklist: %w", err)
	}
	return c, nil
}

// GetByDate retrieves the checklist for a trade date
func (r *checklistRepository) GetByDate(ctx context.Context, userID, tradeDate string) (*DailyChecklist, error) {
	if err := checkDate(tradeDate); err != nil {
		return nil, err
	}
	query := r.dbService.Rebind(`SELECT ` + checklistColumns + ` FROM daily_checklists WHERE user_id = ? AND trade_date = ?`)
	c, err := scanChecklist(r.dbService.DB().QueryRowContext(ctx, query, userID, tradeDate))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checklist by date: %w", err)
	}
	return c, nil
}

// Update replaces all fields of an existing checklist
func (r *checklistRepository) Update(ctx context.Context, userID string, id int64, in ChecklistInput) (*DailyChecklist, error) {
	if err := checkDate(in.TradeDate); err != nil {
		return nil, err
	}

	query := r.dbService.Rebind(`
UPDATE daily_checklists SET
	trade_date = ?,
	open_csp_count = ?,
	positions_rolled_count = ?,
	cash_deployed_pct = ?,
	high_impact_event = ?,
	qqq_rsi_over70 = ?,
	notes = ?,
	updated_at = ?
WHERE id = ? AND user_id = ?`)

	args := append([]any{in.TradeDate}, fieldArgs(in)...)
	args = append(args, time.Now().UTC(), id, userID)

	res, err := r.dbService.DB().ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to update checklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update checklist: %w", err)
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, userID, id)
}

// List returns checklists newest trade date first
func (r *checklistRepository) List(ctx context.Context, userID string, params ListParams) ([]*DailyChecklist, error) {
	if params.From != "" {
		if err := checkDate(params.From); err != nil {
			return nil, err
		}
	}
	if params.To != "" {
		if err := checkDate(params.To); err != nil {
			return nil, err
		}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := params.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + checklistColumns + ` FROM daily_checklists WHERE user_id = ?`
	args := []any{userID}
	if params.From != "" {
		query += ` AND trade_date >= ?`
		args = append(args, params.From)
	}
	if params.To != "" {
		query += ` AND trade_date <= ?`
		args = append(args, params.To)
	}
	query += ` ORDER BY trade_date DESC ` + db.GetLimitOffset(r.dbService.Driver(), int64(limit), int64(offset))

	rows, err := r.dbService.DB().QueryContext(ctx, r.dbService.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list checklists: %w", err)
	}
	defer rows.Close()

	out := make([]*DailyChecklist, 0)
	for rows.Next() {
		c, err := scanChecklist(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checklist: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checklists: %w", err)
	}
	return out, nil
}

// Delete removes a checklist
func (r *checklistRepository) Delete(ctx context.Context, userID string, id int64) error {
	query := r.dbService.Rebind(`DELETE FROM daily_checklists WHERE id = ? AND user_id = ?`)
	res, err := r.dbService.DB().ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete checklist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete checklist: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MetricsPreview summarises the latest checklist on or before onOrBefore.
// Without one, the zero preview is returned.
func (r *checklistRepository) MetricsPreview(ctx context.Context, userID, onOrBefore string) (*MetricsPreview, error) {
	if err := checkDate(onOrBefore); err != nil {
		return nil, err
	}
	query := r.dbService.Rebind(`SELECT ` + checklistColumns + ` FROM daily_checklists
WHERE user_id = ? AND trade_date <= ? ORDER BY trade_date DESC LIMIT 1`)

	c, err := scanChecklist(r.dbService.DB().QueryRowContext(ctx, query, userID, onOrBefore))
	if errors.Is(err, sql.ErrNoRows) {
		return &MetricsPreview{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics preview: %w", err)
	}
	return previewOf(c), nil
}

func previewOf(c *DailyChecklist) *MetricsPreview {
	p := &MetricsPreview{TradeDate: c.TradeDate}
	if c.OpenCSPCount != nil {
		p.OpenCSPCount = *c.OpenCSPCount
	}
	if c.PositionsRolledCount != nil {
		p.AnyOver50PctReturned = *c.PositionsRolledCount > 0
	}
	if c.CashDeployedPct != nil {
		p.CashDeployedPct = *c.CashDeployedPct
	}
	return p
}

func checkDate(s string) error {
	if _, err := time.Parse(DateLayout, s); err != nil {
		return fmt.Errorf("%w: trade date %q is not YYYY-MM-DD", ErrInvalidInput, s)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

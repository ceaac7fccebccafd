package repository

import (
	"context"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/db"
)

// DateLayout is the wire and storage format of trade dates.
const DateLayout = "2006-01-02"

// ChecklistRepository stores one daily checklist per user and trade date.
// Every method is scoped to userID; rows of other users behave as absent.
type ChecklistRepository interface {
	// Upsert creates the checklist for in.TradeDate or replaces its fields.
	Upsert(ctx context.Context, userID string, in ChecklistInput) (*DailyChecklist, error)
	Get(ctx context.Context, userID string, id int64) (*DailyChecklist, error)
	GetByDate(ctx context.Context, userID, tradeDate string) (*DailyChecklist, error)
	// Update replaces the fields of checklist id, including its trade date.
	Update(ctx context.Context, userID string, id int64, in ChecklistInput) (*DailyChecklist, error)
	List(ctx context.Context, userID string, params ListParams) ([]*DailyChecklist, error)
	Delete(ctx context.Context, userID string, id int64) error
	MetricsPreview(ctx context.Context, userID, onOrBefore string) (*MetricsPreview, error)
}

// Repository aggregates all repository interfaces
type Repository interface {
	Checklists() ChecklistRepository
}

// ChecklistInput is the user-editable part of a checklist.
type ChecklistInput struct {
	TradeDate            string   `json:"trade_date" validate:"required,datetime=2006-01-02"`
	OpenCSPCount         *int     `json:"open_csp_count" validate:"omitempty,gte=0"`
	PositionsRolledCount *int     `json:"positions_rolled_count" validate:"omitempty,gte=0"`
	CashDeployedPct      *float64 `json:"cash_deployed_pct" validate:"omitempty,gte=0,lte=100"`
	HighImpactEvent      *bool    `json:"high_impact_event"`
	QQQRSIOver70         *bool    `json:"qqq_rsi_over70"`
	Notes                *string  `json:"notes" validate:"omitempty,max=2000"`
}

// DailyChecklist is a stored checklist.
type DailyChecklist struct {
	ID     int64  `json:"id"`
	UserID string `json:"-"`
	ChecklistInput
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListParams filters List. From and To are inclusive trade dates; empty means
// unbounded.
type ListParams struct {
	From   string
	To     string
	Limit  int
	Offset int
}

// MetricsPreview summarises the most recent checklist on or before a date.
type MetricsPreview struct {
	TradeDate            string  `json:"trade_date,omitempty"`
	OpenCSPCount         int     `json:"open_csp_count"`
	AnyOver50PctReturned bool    `json:"any_over_50pct_returned"`
	CashDeployedPct      float64 `json:"cash_deployed_pct"`
}

// repositoryImpl implements the Repository interface using the database service
type repositoryImpl struct {
	checklists ChecklistRepository
}

// NewRepository creates a new repository instance
func NewRepository(dbService *db.Service) Repository {
	return &repositoryImpl{
		checklists: &checklistRepository{dbService: dbService},
	}
}

// Checklists returns the checklist repository
func (r *repositoryImpl) Checklists() ChecklistRepository {
	return r.checklists
}

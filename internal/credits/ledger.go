package credits

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"nestora-backend/internal/models"
)

// Ledger is the authoritative record of per-tenant credit: an append-only
// transaction list plus a derived balance row. The balance is adjusted
// relatively (balance = balance + delta) in the same database transaction as
// the ledger insert, so concurrent grants serialize at the store and neither
// is lost.
type Ledger struct {
	db *gorm.DB
}

// NewLedger builds a Ledger.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// GrantResult reports the outcome of a grant.
type GrantResult struct {
	NewBalance    int64 `json:"new_balance"`
	TransactionID uint  `json:"transaction_id"`
	Replayed      bool  `json:"replayed,omitempty"`
}

// ErrDuplicateGrant marks an idempotency-key replay; the original result is
// still returned alongside it.
var ErrDuplicateGrant = errors.New("grant already applied for idempotency key")

// Grant appends a positive transaction and adjusts the cached balance
// atomically. Callers validate amount > 0 and organization existence before
// calling. idempotencyKey may be empty; when set, a retried grant with the
// same key returns the original transaction instead of applying twice.
func (l *Ledger) Grant(orgID uint, amount int64, reason string, actorID uint, idempotencyKey string) (*GrantResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	var result GrantResult
	err := l.db.Transaction(func(tx *gorm.DB) error {
		txn := models.CreditTransaction{
			OrganizationID: orgID,
			Amount:         amount,
			Type:           "grant",
			Source:         "admin_gateway",
			Description:    reason,
			ActorID:        actorID,
			CreatedAt:      time.Now(),
		}
		if idempotencyKey != "" {
			txn.IdempotencyKey = &idempotencyKey
		}

		if err := tx.Create(&txn).Error; err != nil {
			if idempotencyKey != "" && errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateGrant
			}
			return fmt.Errorf("insert credit transaction: %w", err)
		}

		newBalance, err := l.adjustBalance(tx, orgID, amount)
		if err != nil {
			return err
		}

		result = GrantResult{NewBalance: newBalance, TransactionID: txn.ID}
		return nil
	})

	if errors.Is(err, ErrDuplicateGrant) {
		replay, replayErr := l.replayGrant(idempotencyKey)
		if replayErr != nil {
			return nil, replayErr
		}
		return replay, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// adjustBalance applies a relative delta to the balance row and returns the
// resulting value. Insert-or-adjust is a single upsert statement: never
// read-then-write, and no failed INSERT that would abort the enclosing
// transaction on postgres when two first-ever grants race.
func (l *Ledger) adjustBalance(tx *gorm.DB, orgID uint, delta int64) (int64, error) {
	now := time.Now()
	row := models.OrganizationCreditBalance{OrganizationID: orgID, Balance: delta, UpdatedAt: now}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "organization_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", delta),
			"updated_at": now,
		}),
	}).Create(&row).Error
	if err != nil {
		return 0, fmt.Errorf("adjust balance: %w", err)
	}

	var out models.OrganizationCreditBalance
	if err := tx.Where("organization_id = ?", orgID).First(&out).Error; err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return out.Balance, nil
}

func (l *Ledger) replayGrant(idempotencyKey string) (*GrantResult, error) {
	var txn models.CreditTransaction
	if err := l.db.Where("idempotency_key = ?", idempotencyKey).First(&txn).Error; err != nil {
		return nil, fmt.Errorf("load replayed grant: %w", err)
	}
	balance, err := l.Balance(txn.OrganizationID)
	if err != nil {
		return nil, err
	}
	return &GrantResult{NewBalance: balance, TransactionID: txn.ID, Replayed: true}, nil
}

// Balance returns the current cached balance, zero when no row exists yet.
func (l *Ledger) Balance(orgID uint) (int64, error) {
	var row models.OrganizationCreditBalance
	if err := l.db.Where("organization_id = ?", orgID).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return row.Balance, nil
}

// WeekBucket is one Sunday-start week of ledger activity, split into credit
// and debit sums by sign.
type WeekBucket struct {
	WeekStart time.Time `json:"week_start"`
	Credits   int64     `json:"credits"`
	Debits    int64     `json:"debits"`
}

// Summary is the super-admin ledger view for one organization.
type Summary struct {
	OrganizationID uint                       `json:"organization_id"`
	Balance        int64                      `json:"balance"`
	TotalGranted   int64                      `json:"total_granted"`
	TotalUsed      int64                      `json:"total_used"`
	LastTopUp      *models.CreditTransaction  `json:"last_top_up"`
	Transactions   []models.CreditTransaction `json:"transactions"`
	WeeklyUsage    []WeekBucket               `json:"weekly_usage"`
}

// Summarize assembles the full ledger view: current balance, the last 50
// transactions most-recent-first, the last positive top-up, grant/usage
// totals, and a weekly timeline for the past 12 weeks.
func (l *Ledger) Summarize(orgID uint) (*Summary, error) {
	balance, err := l.Balance(orgID)
	if err != nil {
		return nil, err
	}

	var transactions []models.CreditTransaction
	if err := l.db.Where("organization_id = ?", orgID).
		Order("created_at DESC, id DESC").Limit(50).
		Find(&transactions).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	var lastTopUp *models.CreditTransaction
	var topUp models.CreditTransaction
	err = l.db.Where("organization_id = ? AND amount > 0", orgID).
		Order("created_at DESC, id DESC").First(&topUp).Error
	switch {
	case err == nil:
		lastTopUp = &topUp
	case errors.Is(err, gorm.ErrRecordNotFound):
		// no top-ups yet
	default:
		return nil, fmt.Errorf("find last top-up: %w", err)
	}

	var totalGranted, totalUsed int64
	if err := l.db.Model(&models.CreditTransaction{}).
		Where("organization_id = ? AND amount > 0", orgID).
		Select("COALESCE(SUM(amount), 0)").Scan(&totalGranted).Error; err != nil {
		return nil, fmt.Errorf("sum granted: %w", err)
	}
	if err := l.db.Model(&models.CreditTransaction{}).
		Where("organization_id = ? AND amount < 0", orgID).
		Select("COALESCE(-SUM(amount), 0)").Scan(&totalUsed).Error; err != nil {
		return nil, fmt.Errorf("sum used: %w", err)
	}

	weekly, err := l.weeklyUsage(orgID, 12)
	if err != nil {
		return nil, err
	}

	return &Summary{
		OrganizationID: orgID,
		Balance:        balance,
		TotalGranted:   totalGranted,
		TotalUsed:      totalUsed,
		LastTopUp:      lastTopUp,
		Transactions:   transactions,
		WeeklyUsage:    weekly,
	}, nil
}

// weeklyUsage buckets transactions by week starting Sunday, oldest first.
func (l *Ledger) weeklyUsage(orgID uint, weeks int) ([]WeekBucket, error) {
	since := weekStart(time.Now()).AddDate(0, 0, -7*(weeks-1))

	var rows []models.CreditTransaction
	if err := l.db.Where("organization_id = ? AND created_at >= ?", orgID, since).
		Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load weekly usage: %w", err)
	}

	byWeek := make(map[time.Time]*WeekBucket)
	order := make([]time.Time, 0)
	for _, row := range rows {
		ws := weekStart(row.CreatedAt)
		bucket, ok := byWeek[ws]
		if !ok {
			bucket = &WeekBucket{WeekStart: ws}
			byWeek[ws] = bucket
			order = append(order, ws)
		}
		if row.Amount > 0 {
			bucket.Credits += row.Amount
		} else {
			bucket.Debits += -row.Amount
		}
	}

	buckets := make([]WeekBucket, 0, len(order))
	for _, ws := range order {
		buckets = append(buckets, *byWeek[ws])
	}
	return buckets, nil
}

// weekStart truncates t to midnight of its week's Sunday.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, -int(t.Weekday()))
}

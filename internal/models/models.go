package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Role names recognized by the gateway. A caller holding neither
// RoleSuperAdmin nor RoleDeveloper is rejected at the gate.
const (
	RoleSuperAdmin = "super_admin"
	RoleDeveloper  = "developer"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

type User struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	Email         string     `json:"email" gorm:"uniqueIndex"`
	Password      string     `json:"-"`
	Name          string     `json:"name"`
	Suspended     bool       `json:"suspended" gorm:"default:false"`
	SuspendReason string     `json:"-"`
	EmailVerified bool       `json:"email_verified" gorm:"default:false"`
	LastSignInAt  *time.Time `json:"last_sign_in_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// UserRole is one role held by a user. Roles are looked up per request,
// never cached on the user row.
type UserRole struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	UserID uint   `json:"user_id" gorm:"uniqueIndex:idx_user_role"`
	Role   string `json:"role" gorm:"uniqueIndex:idx_user_role;size:32"`
}

type Organization struct {
	ID                   uint      `json:"id" gorm:"primaryKey"`
	Name                 string    `json:"name"`
	Slug                 string    `json:"slug" gorm:"uniqueIndex"`
	Plan                 string    `json:"plan" gorm:"default:'starter'"`
	OwnerID              uint      `json:"owner_id" gorm:"index"`
	StripeCustomerID     string    `json:"-"`
	StripeSubscriptionID string    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// OrganizationMember represents team membership inside a tenant
type OrganizationMember struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	OrganizationID uint         `json:"organization_id" gorm:"index"`
	Organization   Organization `json:"-" gorm:"foreignKey:OrganizationID"`
	UserID         uint         `json:"user_id" gorm:"index"`
	User           User         `json:"-" gorm:"foreignKey:UserID"`
	Role           string       `json:"role" gorm:"default:'member'"`
	Status         string       `json:"status" gorm:"default:'active'"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// AuditLog is the append-only trail of privileged mutations. Rows are never
// updated or deleted by normal flows.
type AuditLog struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ActorID     uint      `json:"actor_id" gorm:"index"`
	Action      string    `json:"action" gorm:"index;size:64"`
	TargetType  string    `json:"target_type" gorm:"index;size:64"`
	TargetID    string    `json:"target_id" gorm:"index;size:128"`
	BeforeState JSON      `json:"before_state,omitempty" gorm:"type:json"`
	AfterState  JSON      `json:"after_state,omitempty" gorm:"type:json"`
	Metadata    JSON      `json:"metadata,omitempty" gorm:"type:json"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// CreditTransaction is one append-only ledger row. Amount is signed:
// grants are positive, usage is negative.
type CreditTransaction struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"index"`
	Amount         int64     `json:"amount"`
	Type           string    `json:"type" gorm:"size:32"` // grant, usage, purchase, adjustment
	Source         string    `json:"source" gorm:"size:64"`
	Description    string    `json:"description"`
	ActorID        uint      `json:"actor_id"`
	IdempotencyKey *string   `json:"idempotency_key,omitempty" gorm:"uniqueIndex;size:64"`
	CreatedAt      time.Time `json:"created_at" gorm:"index"`
}

// OrganizationCreditBalance caches the ledger sum per organization. It is the
// only mutable numeric state in the ledger and is adjusted relatively
// (balance = balance + delta) inside the same transaction as the ledger insert.
type OrganizationCreditBalance struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"uniqueIndex"`
	Balance        int64     `json:"balance"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ImpersonationSession is a time-bounded support session. At most one row per
// super admin may have ended_at IS NULL; a partial unique index created in
// database.Migrate enforces this at the store level.
type ImpersonationSession struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	SessionID      string     `json:"session_id" gorm:"uniqueIndex;size:64"`
	SuperAdminID   uint       `json:"super_admin_id" gorm:"index"`
	OrganizationID uint       `json:"organization_id" gorm:"index"`
	Reason         string     `json:"reason"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at"`
}

// GDPR request enums
const (
	GdprTypeDataExport    = "data_export"
	GdprTypeDataDeletion  = "data_deletion"
	GdprTypeAccessRequest = "access_request"

	GdprStatusPending   = "pending"
	GdprStatusCompleted = "completed"
	GdprStatusRejected  = "rejected"

	GdprTargetUser         = "user"
	GdprTargetOrganization = "organization"
)

// GdprDataRequest tracks a data-subject request. pending is the only
// non-terminal status; completed and rejected are final.
type GdprDataRequest struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	RequestType     string     `json:"request_type" gorm:"size:32"`
	TargetType      string     `json:"target_type" gorm:"size:32"`
	TargetID        *uint      `json:"target_id"`
	TargetEmail     string     `json:"target_email" gorm:"size:255"`
	Status          string     `json:"status" gorm:"default:'pending';size:32"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	RequestedBy     uint       `json:"requested_by" gorm:"index"`
	CompletedAt     *time.Time `json:"completed_at"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type AlertRule struct {
	ID                   uint        `json:"id" gorm:"primaryKey"`
	Name                 string      `json:"name"`
	MetricType           string      `json:"metric_type" gorm:"size:64"`
	Condition            string      `json:"condition" gorm:"size:8"` // gt, gte, lt, lte, eq
	Threshold            float64     `json:"threshold"`
	TimeWindowMinutes    int         `json:"time_window_minutes" gorm:"default:5"`
	NotificationChannels StringArray `json:"notification_channels" gorm:"type:text"`
	Enabled              bool        `json:"enabled" gorm:"default:true"`
	CreatedBy            uint        `json:"created_by"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

// AlertHistoryEntry is a denormalized snapshot of a rule firing. Test fires
// record the rule's own threshold as the observed value so they are
// distinguishable from real triggers.
type AlertHistoryEntry struct {
	ID                   uint        `json:"id" gorm:"primaryKey"`
	AlertRuleID          uint        `json:"alert_rule_id" gorm:"index"`
	RuleName             string      `json:"rule_name"`
	MetricValue          float64     `json:"metric_value"`
	NotificationChannels StringArray `json:"notification_channels" gorm:"type:text"`
	Status               string      `json:"status" gorm:"size:32"`
	TriggeredAt          time.Time   `json:"triggered_at" gorm:"index"`
}

type DiscountCode struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Code           string     `json:"code" gorm:"uniqueIndex;size:64"`
	PercentOff     int        `json:"percent_off"`
	MaxRedemptions int        `json:"max_redemptions"`
	Redeemed       int        `json:"redeemed" gorm:"default:0"`
	ExpiresAt      *time.Time `json:"expires_at"`
	Active         bool       `json:"active" gorm:"default:true"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

type FeatureFlag struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	Key            string    `json:"key" gorm:"uniqueIndex;size:128"`
	Description    string    `json:"description"`
	Enabled        bool      `json:"enabled" gorm:"default:false"`
	RolloutPercent int       `json:"rollout_percent" gorm:"default:100"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UsageRate maps a metered metric to its credit cost.
type UsageRate struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	MetricType     string    `json:"metric_type" gorm:"uniqueIndex;size:64"`
	CreditsPerUnit int64     `json:"credits_per_unit"`
	Unit           string    `json:"unit" gorm:"size:32"`
	Active         bool      `json:"active" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AIInstructionSet holds prompt instructions for tenant-facing AI features.
type AIInstructionSet struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"uniqueIndex;size:128"`
	Instructions string    `json:"instructions" gorm:"type:text"`
	Model        string    `json:"model" gorm:"size:64"`
	Active       bool      `json:"active" gorm:"default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Listing is a tenant property listing. The gateway only reads these (staff
// inspection and GDPR exports); tenant CRUD lives in the main application.
type Listing struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	OrganizationID uint      `json:"organization_id" gorm:"index"`
	Title          string    `json:"title"`
	Address        string    `json:"address"`
	City           string    `json:"city" gorm:"size:128"`
	PriceCents     int64     `json:"price_cents"`
	Status         string    `json:"status" gorm:"default:'draft';size:32"`
	CreatedBy      uint      `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// JSON is a generic JSON column type
type JSON []byte

// Value implements the driver.Valuer interface
func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSON(v)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return errors.New("cannot scan into JSON")
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface
func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = JSON(data)
	return nil
}

// MarshalJSON implements the json.Marshaler interface
func (j JSON) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// MarshalToJSON renders v as a JSON column value, or nil on failure.
func MarshalToJSON(v interface{}) JSON {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return JSON(data)
}

// StringArray stores a string slice as a comma-joined text column so the same
// model works against postgres and the sqlite test driver.
type StringArray []string

// Value implements the driver.Valuer interface for StringArray
func (sa StringArray) Value() (driver.Value, error) {
	if len(sa) == 0 {
		return "", nil
	}
	return strings.Join(sa, ","), nil
}

// Scan implements the sql.Scanner interface for StringArray
func (sa *StringArray) Scan(value interface{}) error {
	if value == nil {
		*sa = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "" {
			*sa = StringArray{}
			return nil
		}
		parts := strings.Split(v, ",")
		clean := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				clean = append(clean, p)
			}
		}
		*sa = StringArray(clean)
		return nil
	case []byte:
		return sa.Scan(string(v))
	default:
		return errors.New("cannot scan into StringArray")
	}
}

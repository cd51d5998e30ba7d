package gdpr

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"nestora-backend/internal/models"
)

// Workflow implements the two-state GDPR request lifecycle: requests are
// created pending and transition exactly once to completed or rejected.
type Workflow struct {
	db *gorm.DB
}

// NewWorkflow builds a Workflow.
func NewWorkflow(db *gorm.DB) *Workflow {
	return &Workflow{db: db}
}

var validRequestTypes = map[string]bool{
	models.GdprTypeDataExport:    true,
	models.GdprTypeDataDeletion:  true,
	models.GdprTypeAccessRequest: true,
}

var validTargetTypes = map[string]bool{
	models.GdprTargetUser:         true,
	models.GdprTargetOrganization: true,
}

// ValidRequestType reports whether t is one of the three enumerated types.
func ValidRequestType(t string) bool { return validRequestTypes[t] }

// ValidTargetType reports whether t is user or organization.
func ValidTargetType(t string) bool { return validTargetTypes[t] }

// ErrNotPending marks a transition attempt on a terminal request.
var ErrNotPending = errors.New("request is not pending")

// Process moves a pending request to completed or rejected. The current
// status is re-checked server-side inside the update so a terminal request
// can never transition again, regardless of what the client believes.
func (w *Workflow) Process(request *models.GdprDataRequest, action, reason string) error {
	now := time.Now()
	updates := map[string]interface{}{"completed_at": &now}
	switch action {
	case "complete":
		updates["status"] = models.GdprStatusCompleted
	case "reject":
		updates["status"] = models.GdprStatusRejected
		updates["rejection_reason"] = reason
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	res := w.db.Model(&models.GdprDataRequest{}).
		Where("id = ? AND status = ?", request.ID, models.GdprStatusPending).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("process gdpr request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotPending
	}

	return w.db.First(request, request.ID).Error
}

// UserExport is the scoped data snapshot for a user target. It carries
// identity-provider metadata but never secrets.
type UserExport struct {
	GeneratedAt time.Time                   `json:"generated_at"`
	Profile     models.User                 `json:"profile"`
	Memberships []models.OrganizationMember `json:"memberships"`
	Identity    IdentityMetadata            `json:"identity"`
	AuditTrail  []models.AuditLog           `json:"audit_trail"`
}

// IdentityMetadata is the subset of identity-provider state included in
// exports.
type IdentityMetadata struct {
	EmailConfirmed bool       `json:"email_confirmed"`
	LastSignInAt   *time.Time `json:"last_sign_in_at"`
}

// OrgExport is the scoped data snapshot for an organization target.
type OrgExport struct {
	GeneratedAt  time.Time                   `json:"generated_at"`
	Organization models.Organization         `json:"organization"`
	Members      []models.OrganizationMember `json:"members"`
	Ledger       []models.CreditTransaction  `json:"ledger"`
	Listings     []models.Listing            `json:"listings"`
}

// ExportUser assembles the user-scoped snapshot: profile, memberships,
// identity metadata, and the most recent 100 audit entries where the user was
// the actor.
func (w *Workflow) ExportUser(user models.User) (*UserExport, error) {
	var memberships []models.OrganizationMember
	if err := w.db.Where("user_id = ?", user.ID).Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	var auditTrail []models.AuditLog
	if err := w.db.Where("actor_id = ?", user.ID).
		Order("created_at DESC, id DESC").Limit(100).
		Find(&auditTrail).Error; err != nil {
		return nil, fmt.Errorf("load audit trail: %w", err)
	}

	return &UserExport{
		GeneratedAt: time.Now(),
		Profile:     user,
		Memberships: memberships,
		Identity: IdentityMetadata{
			EmailConfirmed: user.EmailVerified,
			LastSignInAt:   user.LastSignInAt,
		},
		AuditTrail: auditTrail,
	}, nil
}

// ExportOrganization assembles the organization-scoped snapshot: profile,
// member list, most recent 100 ledger entries, most recent 500 listings.
func (w *Workflow) ExportOrganization(org models.Organization) (*OrgExport, error) {
	var members []models.OrganizationMember
	if err := w.db.Where("organization_id = ?", org.ID).Find(&members).Error; err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	var ledger []models.CreditTransaction
	if err := w.db.Where("organization_id = ?", org.ID).
		Order("created_at DESC, id DESC").Limit(100).
		Find(&ledger).Error; err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	var listings []models.Listing
	if err := w.db.Where("organization_id = ?", org.ID).
		Order("created_at DESC, id DESC").Limit(500).
		Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}

	return &OrgExport{
		GeneratedAt:  time.Now(),
		Organization: org,
		Members:      members,
		Ledger:       ledger,
		Listings:     listings,
	}, nil
}

package audit

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"nestora-backend/internal/metrics"
	"nestora-backend/internal/models"
	"nestora-backend/pkg/utils"
)

// Recorder appends privileged mutations to the audit trail. Writes are
// best-effort: a failed audit insert must never unwind a business mutation
// that already committed, so failures are logged, reported to Sentry and
// counted, then swallowed.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder builds a Recorder on the given store handle.
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record writes one audit entry for one logical mutation. before, after and
// metadata are snapshotted as opaque JSON; nil values stay null. The returned
// entry is nil when the write failed.
func (r *Recorder) Record(c *gin.Context, actorID uint, action, targetType, targetID string, before, after, metadata interface{}) *models.AuditLog {
	entry := models.AuditLog{
		ActorID:     actorID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		BeforeState: models.MarshalToJSON(before),
		AfterState:  models.MarshalToJSON(after),
		Metadata:    models.MarshalToJSON(metadata),
		CreatedAt:   time.Now(),
	}

	if err := r.db.Create(&entry).Error; err != nil {
		metrics.AuditWriteFailures.WithLabelValues(action).Inc()
		log.WithError(err).WithFields(log.Fields{
			"action":      action,
			"target_type": targetType,
			"target_id":   targetID,
			"actor_id":    actorID,
		}).Error("audit write failed after committed mutation")
		utils.CaptureSentryError(c, err, "audit.write_failed", map[string]interface{}{
			"action":      action,
			"target_type": targetType,
			"target_id":   targetID,
		})
		return nil
	}
	return &entry
}

// RecordOnTx writes an audit entry inside the caller's transaction, for
// mutations whose trail must commit or roll back with them (not used by the
// default best-effort path).
func (r *Recorder) RecordOnTx(tx *gorm.DB, actorID uint, action, targetType, targetID string, before, after, metadata interface{}) error {
	entry := models.AuditLog{
		ActorID:     actorID,
		Action:      action,
		TargetType:  targetType,
		TargetID:    targetID,
		BeforeState: models.MarshalToJSON(before),
		AfterState:  models.MarshalToJSON(after),
		Metadata:    models.MarshalToJSON(metadata),
		CreatedAt:   time.Now(),
	}
	return tx.Create(&entry).Error
}

// CountRecent counts entries by one actor for one action inside a rolling
// window. Used by the alert test-fire limiter; approximate under extreme
// concurrency since the count and the subsequent write are not atomic.
func (r *Recorder) CountRecent(actorID uint, action string, window time.Duration) (int64, error) {
	var count int64
	err := r.db.Model(&models.AuditLog{}).
		Where("actor_id = ? AND action = ? AND created_at > ?", actorID, action, time.Now().Add(-window)).
		Count(&count).Error
	return count, err
}

// ListFilter narrows the audit listing.
type ListFilter struct {
	Search string
	Action string
	Limit  int
	Offset int
}

// Entry is an audit row prepared for display: the actor id is resolved to an
// email at read time rather than stored redundantly on every row.
type Entry struct {
	models.AuditLog
	ActorEmail string `json:"actor_email"`
}

// List returns entries most-recent-first plus the total matching count.
func (r *Recorder) List(filter ListFilter) ([]Entry, int64, error) {
	query := r.db.Model(&models.AuditLog{})

	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("action LIKE ? OR target_type LIKE ? OR target_id LIKE ?", like, like, like)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	var rows []models.AuditLog
	if err := query.Order("created_at DESC, id DESC").
		Limit(filter.Limit).Offset(filter.Offset).
		Find(&rows).Error; err != nil {
		return nil, 0, fmt.Errorf("list audit entries: %w", err)
	}

	entries := make([]Entry, len(rows))
	emails := r.resolveActorEmails(rows)
	for i, row := range rows {
		entries[i] = Entry{AuditLog: row, ActorEmail: emails[row.ActorID]}
	}
	return entries, total, nil
}

func (r *Recorder) resolveActorEmails(rows []models.AuditLog) map[uint]string {
	ids := make([]uint, 0, len(rows))
	seen := make(map[uint]bool, len(rows))
	for _, row := range rows {
		if !seen[row.ActorID] {
			seen[row.ActorID] = true
			ids = append(ids, row.ActorID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	var users []models.User
	if err := r.db.Select("id", "email").Where("id IN ?", ids).Find(&users).Error; err != nil {
		log.WithError(err).Warn("failed to resolve actor emails for audit listing")
		return nil
	}

	emails := make(map[uint]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
	}
	return emails
}

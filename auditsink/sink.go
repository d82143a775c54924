package auditsink

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/dotrongnhan/saplgo/decision"
	"github.com/dotrongnhan/saplgo/pdplog"
	"github.com/dotrongnhan/saplgo/voter"
)

// Sink persists every vote it observes. It implements
// decision.VoteInterceptor, the generalized form of the teacher's
// AuditLogger.LogEvaluation hook.
type Sink struct {
	db  *gorm.DB
	log *pdplog.Logger
}

// NewSink opens the audit table (migrating it if necessary).
func NewSink(db *gorm.DB) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("auditsink: db is nil")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("auditsink: migrate: %w", err)
	}
	return &Sink{db: db, log: pdplog.New("auditsink")}, nil
}

// OnVote implements decision.VoteInterceptor. Persistence failures are
// logged, not propagated: an audit-write problem must never interfere
// with the decision already delivered to the caller (spec.md §4.5, mirroring
// the teacher's LogAudit/LogEvaluation "best effort" posture).
func (s *Sink) OnVote(sub decision.Subscription, v voter.Vote) {
	record := toRecord(sub.PdpID, sub.Subject, sub.Action, sub.Resource, v)
	if result := s.db.Create(&record); result.Error != nil {
		s.log.Errorf("persist audit record for pdpId %q: %v", sub.PdpID, result.Error)
	}
}

// OnSubscribe implements decision.VoteInterceptor. The sink has no
// subscription-lifecycle table of its own (§4.5.3's onSubscribe/
// onUnsubscribe is a hook for interceptors that track live subscriptions,
// e.g. metrics); audit records are already keyed by pdpId/subject/action/
// resource per vote, so there is nothing additional to persist here.
func (s *Sink) OnSubscribe(id uuid.UUID, sub decision.Subscription) {}

// OnUnsubscribe implements decision.VoteInterceptor.
func (s *Sink) OnUnsubscribe(id uuid.UUID) {}

// Recent returns the most recently recorded votes for a pdpId, newest
// first, generalizing the teacher's GetAuditLogs pagination.
func (s *Sink) Recent(pdpID string, limit, offset int) ([]Record, error) {
	var records []Record
	result := s.db.Where("pdp_id = ?", pdpID).Order("created_at DESC").Limit(limit).Offset(offset).Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("auditsink: query recent for pdpId %q: %w", pdpID, result.Error)
	}
	return records, nil
}

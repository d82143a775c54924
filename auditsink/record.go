// Package auditsink is a Postgres-backed decision.VoteInterceptor: it
// persists every vote a DecisionPoint produces, generalizing the teacher's
// audit/logger.go (AuditLogger.LogEvaluation + models.AuditLog) from a
// flat-file JSON log into a queryable GORM table (spec.md §4.5's audit
// trail, §8 invariant "every decision is traceable back to the attributes
// and policies that produced it").
package auditsink

import (
	"time"

	"github.com/dotrongnhan/saplgo/value"
	"github.com/dotrongnhan/saplgo/voter"
)

// Record is the GORM model for one persisted vote, the auditsink analogue
// of models.AuditLog.
type Record struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	PdpID           string `gorm:"size:255;not null;index"`
	ConfigurationID string `gorm:"size:255;not null;index"`
	SubjectJSON     string `gorm:"type:jsonb"`
	ActionJSON      string `gorm:"type:jsonb"`
	ResourceJSON    string `gorm:"type:jsonb"`
	Decision        string `gorm:"size:20;not null;index"`
	VoterName       string `gorm:"size:255"`
	ObligationCount int
	AdviceCount     int
	ErrorCount      int
	CreatedAt       time.Time `gorm:"autoCreateTime;index"`
}

func (Record) TableName() string { return "pdp_audit_records" }

// toRecord converts a subscription and its finalised vote into a
// persistable Record. Encoding failures degrade to an empty JSON object
// rather than dropping the whole record: the decision fields remain
// queryable even if one value couldn't be rendered.
func toRecord(pdpID string, subject, action, resource value.Value, v voter.Vote) Record {
	return Record{
		PdpID:           pdpID,
		ConfigurationID: v.Voter.ConfigurationID,
		SubjectJSON:     encodeOrEmpty(subject),
		ActionJSON:      encodeOrEmpty(action),
		ResourceJSON:    encodeOrEmpty(resource),
		Decision:        v.Decision.String(),
		VoterName:       v.Voter.Name,
		ObligationCount: len(v.Obligations),
		AdviceCount:     len(v.Advice),
		ErrorCount:      len(v.Errors),
	}
}

func encodeOrEmpty(v value.Value) string {
	raw, err := value.ToJSON(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UsageTimeLayout is the timestamp layout of a usage line.
const UsageTimeLayout = "02/01/2006 15:04:05"

// UsageRecord is one "process P consumed the resource" event.
type UsageRecord struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	ProcessID  int       `json:"process_id" gorm:"not null;index"`
	GrantID    uint64    `json:"grant_id" gorm:"not null"`
	ConsumedAt time.Time `json:"consumed_at" gorm:"not null;index"`
	HoldMillis int64     `json:"hold_ms"`
}

// NewUsageRecord stamps a record for process at now.
func NewUsageRecord(processID int, grantID uint64, hold time.Duration, now time.Time) UsageRecord {
	return UsageRecord{
		ID:         uuid.New(),
		ProcessID:  processID,
		GrantID:    grantID,
		ConsumedAt: now,
		HoldMillis: hold.Milliseconds(),
	}
}

// Line renders the record as an append-only log line, without the newline.
func (r UsageRecord) Line() string {
	return fmt.Sprintf("[%s] process %d consumed the resource.", r.ConsumedAt.Format(UsageTimeLayout), r.ProcessID)
}

// BeforeCreate hook to generate UUID if not present
func (r *UsageRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return
}

package domain

import "time"

// DeliveryTask is one pending email: the pair (issue, recipient). The row
// exists exactly while delivery is outstanding; it is deleted on success
// and on any terminal failure.
type DeliveryTask struct {
	IssueID        string    `gorm:"column:issue_id;type:varchar(36);primaryKey"`
	RecipientEmail string    `gorm:"column:recipient_email;type:varchar(320);primaryKey"`
	NRetries       int       `gorm:"column:n_retries;not null;default:0"`
	ExecuteAfter   time.Time `gorm:"not null;index:idx_delivery_ready,priority:1"`
	CreatedAt      time.Time `gorm:"not null;index:idx_delivery_ready,priority:2"`

	// Issue is the parent newsletter. Tasks are cascade-deleted with it.
	Issue NewsletterIssue `gorm:"foreignKey:IssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "delivery_tasks" }

// NextAttempt returns the task as it should be stored after a transient
// failure: one more retry, not claimable before now+delay.
func (t DeliveryTask) NextAttempt(now time.Time, delay time.Duration) DeliveryTask {
	next := t
	next.NRetries = t.NRetries + 1
	next.ExecuteAfter = now.Add(delay).UTC()
	return next
}

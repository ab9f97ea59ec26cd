// internal/domain/notification/status.go
package notification

import (
	"context"
	"errors"
	"time"
)

// Delivery is one recorded notice together with how its delivery went.
// Corresponds to the 'notice_deliveries' table.
type Delivery struct {
	ID          int64
	UserID      int64
	CommunityID int64
	Kind        Kind
	Message     string
	Status      DeliveryStatus
	Error       string // empty unless Status is FAILED
	CreatedAt   time.Time
}

// Recorded delivers through Next and writes every attempt to Log.
// A failure to record is returned alongside the delivery error, if any.
type Recorded struct {
	Next  Notifier
	Log   DeliveryLog
	Clock func() time.Time
}

func (r Recorded) Notify(ctx context.Context, n Notice) error {
	var sendErr error
	if r.Next != nil {
		sendErr = r.Next.Notify(ctx, n)
	}
	if r.Log == nil {
		return sendErr
	}

	now := time.Now().UTC()
	if r.Clock != nil {
		now = r.Clock()
	}
	d := &Delivery{
		UserID:      n.UserID,
		CommunityID: n.CommunityID,
		Kind:        n.Kind,
		Message:     n.Message,
		Status:      StatusSent,
		CreatedAt:   now,
	}
	if sendErr != nil {
		d.Status = StatusFailed
		d.Error = sendErr.Error()
	}
	if err := r.Log.Record(ctx, d); err != nil {
		return errors.Join(sendErr, err)
	}
	return sendErr
}

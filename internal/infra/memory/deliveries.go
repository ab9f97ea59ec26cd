package memory

import (
	"context"
	"sync"

	"savings_circle/internal/domain/notification"
)

// DeliveryLog keeps notice deliveries in memory, in insertion order.
type DeliveryLog struct {
	mu     sync.Mutex
	nextID int64
	rows   []notification.Delivery
}

func NewDeliveryLog() *DeliveryLog {
	return &DeliveryLog{}
}

func (l *DeliveryLog) Record(_ context.Context, d *notification.Delivery) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	d.ID = l.nextID
	l.rows = append(l.rows, *d)
	return nil
}

func (l *DeliveryLog) ListByCommunity(_ context.Context, communityID int64, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*notification.Delivery, 0)
	for i := len(l.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if l.rows[i].CommunityID == communityID {
			d := l.rows[i]
			out = append(out, &d)
		}
	}
	return out, nil
}

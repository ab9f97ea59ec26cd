// internal/domain/notification/repository.go
package notification

import "context"

// DeliveryLog stores notice deliveries.
type DeliveryLog interface {
	Record(ctx context.Context, d *Delivery) error
	// ListByCommunity returns the newest deliveries for a community first.
	ListByCommunity(ctx context.Context, communityID int64, limit int) ([]*Delivery, error)
}

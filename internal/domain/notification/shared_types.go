// internal/domain/notification/shared_types.go
package notification

// DeliveryStatus is the outcome of handing a notice to the notifiers.
type DeliveryStatus string

const (
	StatusSent   DeliveryStatus = "SENT"
	StatusFailed DeliveryStatus = "FAILED"
)

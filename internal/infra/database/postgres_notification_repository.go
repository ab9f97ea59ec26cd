// internal/infra/database/postgres_notification_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"

	"savings_circle/internal/domain/notification"
)

type PostgresDeliveryLog struct {
	db *sql.DB
}

func NewPostgresDeliveryLog(db *sql.DB) *PostgresDeliveryLog {
	return &PostgresDeliveryLog{db: db}
}

func (r *PostgresDeliveryLog) Record(ctx context.Context, d *notification.Delivery) error {
	query := `INSERT INTO notice_deliveries (user_id, community_id, kind, message, status, error, created_at)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING id`
	err := r.db.QueryRowContext(ctx, query, d.UserID, d.CommunityID, string(d.Kind), d.Message,
		string(d.Status), d.Error, d.CreatedAt).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("error recording notice delivery: %w", err)
	}
	return nil
}

func (r *PostgresDeliveryLog) ListByCommunity(ctx context.Context, communityID int64, limit int) ([]*notification.Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, user_id, community_id, kind, message, status, error, created_at
               FROM notice_deliveries
               WHERE community_id = $1
               ORDER BY created_at DESC, id DESC
               LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, communityID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying notice deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*notification.Delivery, 0)
	for rows.Next() {
		var d notification.Delivery
		if err := rows.Scan(&d.ID, &d.UserID, &d.CommunityID, &d.Kind, &d.Message, &d.Status, &d.Error, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning notice delivery row: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notice delivery rows: %w", err)
	}
	return deliveries, nil
}

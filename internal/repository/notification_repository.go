package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/messaging-service/internal/models"
)

const notificationColumns = `id, recipient_id, actor_id, type, content, link_url, created_at, is_read`

func (r *postgresQueries) scanNotification(row rowScanner) (*models.Notification, error) {
	var n models.Notification
	var typ string
	err := row.Scan(&n.ID, &n.RecipientID, &n.ActorID, &typ, &n.Content, &n.LinkURL, &n.CreatedAt, &n.IsRead)
	if err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	return &n, nil
}

func (r *postgresQueries) FindNotification(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
	FROM notifications
	WHERE recipient_id = $1 AND type = $2 AND link_url = $3 AND actor_id = $4
	ORDER BY created_at DESC
	LIMIT 1
	`

	n, err := r.scanNotification(r.db.QueryRowContext(ctx, query, recipientID, string(typ), linkURL, actorID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification %s %s: %w", typ, linkURL, models.ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

func (r *postgresQueries) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
	INSERT INTO notifications (` + notificationColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.RecipientID, n.ActorID, string(n.Type), n.Content, n.LinkURL, n.CreatedAt, n.IsRead,
	)
	return err
}

func (r *postgresQueries) UpdateNotification(ctx context.Context, n *models.Notification) error {
	query := `
	UPDATE notifications
	SET content = $2, created_at = $3, is_read = $4
	WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, n.ID, n.Content, n.CreatedAt, n.IsRead)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("notification %s: %w", n.ID, models.ErrNotFound)
	}
	return nil
}

func (r *postgresQueries) DeleteNotifications(ctx context.Context, recipientID string, typ models.NotificationType, linkURL, actorID string) (int, error) {
	query := `
	DELETE FROM notifications
	WHERE recipient_id = $1 AND type = $2 AND link_url = $3 AND actor_id = $4
	`

	result, err := r.db.ExecContext(ctx, query, recipientID, string(typ), linkURL, actorID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *postgresQueries) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := r.scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return n, nil
}

func (r *postgresQueries) ListNotifications(ctx context.Context, recipientID string, limit, offset int) ([]*models.Notification, error) {
	query := `SELECT ` + notificationColumns + `
	FROM notifications
	WHERE recipient_id = $1
	ORDER BY created_at DESC
	LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n, err := r.scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (r *postgresQueries) MarkNotificationRead(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", id, models.ErrNotFound)
	}
	return nil
}

func (r *postgresQueries) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient_id = $1 AND NOT is_read`, recipientID)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

func (r *postgresQueries) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_id = $1 AND NOT is_read`, recipientID).Scan(&count)
	return count, err
}

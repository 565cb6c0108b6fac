package notification

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/notification-service/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrNoNotificationsFound = errors.New("no notifications found")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrInvalidTransition    = errors.New("invalid status transition")
)

// Repository provides methods to interact with notifications table.
//
// Every method is a single statement; no row lock outlives a call.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a new pending notification and returns its ID.
func (r *Repository) CreateNotification(ctx context.Context, notification model.Notification) (uuid.UUID, error) {
	query := `
		INSERT INTO notifications (
		    type, recipient, message, media, status, retries
		) VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING id;
    `

	err := r.db.QueryRowContext(
		ctx, query,
		notification.Channel, notification.Recipient, notification.Message, notification.Media, model.StatusPending,
	).Scan(&notification.ID)
	if err != nil {
		return uuid.Nil, classify("create notification", err)
	}

	return notification.ID, nil
}

// UpdateStatus moves a notification to status and adds retriesDelta to its retry counter.
//
// Writing the status a notification already has is accepted and only refreshes updated_at.
// A move the lifecycle does not allow returns ErrInvalidTransition.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.Status, retriesDelta int) error {
	if retriesDelta < 0 {
		return fmt.Errorf("update notification: negative retries delta %d", retriesDelta)
	}

	from := model.Predecessors(status)
	if len(from) == 0 {
		return fmt.Errorf("update notification: %w: unknown status %q", ErrInvalidTransition, status)
	}

	query := `
		UPDATE notifications
		SET status = $1, retries = retries + $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4);
    `

	res, err := r.db.ExecContext(ctx, query, status, retriesDelta, id, pq.StringArray(statusStrings(from)))
	if err != nil {
		return classify("update notification", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return classify("update notification", err)
	}

	if rows > 0 {
		return nil
	}

	current, err := r.GetNotificationStatusByID(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// GetNotificationStatusByID retrieves the status of a notification by its ID.
func (r *Repository) GetNotificationStatusByID(ctx context.Context, id uuid.UUID) (model.Status, error) {
	query := `
		SELECT status
		FROM notifications
		WHERE id = $1;
    `

	var status model.Status
	err := r.db.QueryRowContext(ctx, query, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotificationNotFound
		}

		return "", classify("get notification status", err)
	}

	return status, nil
}

// GetNotificationByID retrieves a full notification by its ID.
func (r *Repository) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT id, type, recipient, message, media, status, retries, created_at, updated_at
		FROM notifications
		WHERE id = $1;
    `

	var n model.Notification
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&n.ID, &n.Channel, &n.Recipient, &n.Message, &n.Media, &n.Status, &n.Retries, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, classify("get notification", err)
	}

	return n, nil
}

// GetAllNotifications retrieves all notifications ordered by creation time descending.
func (r *Repository) GetAllNotifications(ctx context.Context) ([]model.Notification, error) {
	query := `
		SELECT id, type, recipient, message, media, status, retries, created_at, updated_at
		FROM notifications
		ORDER BY created_at DESC;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, classify("get all notifications", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(
			&n.ID, &n.Channel, &n.Recipient, &n.Message, &n.Media, &n.Status, &n.Retries, &n.CreatedAt, &n.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("get all notifications", err)
	}

	if len(notifications) == 0 {
		return nil, ErrNoNotificationsFound
	}

	return notifications, nil
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}

	return out
}

// classify wraps err with ErrStoreUnavailable when the database could not be reached.
func classify(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception; 57P01-57P03: server shutting down or not accepting connections
		switch pqErr.Code {
		case "57P01", "57P02", "57P03":
			return true
		}

		return pqErr.Code.Class() == "08"
	}

	return false
}

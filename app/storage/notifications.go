package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/commently/toxguard/app/storage/engine"
	"github.com/commently/toxguard/lib/moderation"
)

// notifications-related command constants
const (
	CmdCreateNotificationsTable engine.DBCmd = iota + 200
	CmdCreateNotificationsIndexes
	CmdAddNotification
)

// notificationsQueries holds all notifications-related queries
var notificationsQueries = engine.QuerySet{
	CmdCreateNotificationsTable: {
		Sqlite: `CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recipient TEXT NOT NULL,
			message TEXT NOT NULL,
			comment_id INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			read BOOLEAN NOT NULL DEFAULT 0
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS notifications (
			id SERIAL PRIMARY KEY,
			recipient TEXT NOT NULL,
			message TEXT NOT NULL,
			comment_id BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			read BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	},
	CmdCreateNotificationsIndexes: engine.Same(`
		CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient);
		CREATE INDEX IF NOT EXISTS idx_notifications_comment_id ON notifications(comment_id)`),
	CmdAddNotification: engine.Same(`INSERT INTO notifications (recipient, message, comment_id, created_at, read)
		VALUES (?, ?, ?, ?, ?)`),
}

// Notifications provides access to the notifications table
type Notifications struct {
	*engine.SQL
	engine.RWLocker
}

// notificationRec is a db representation of a notification
type notificationRec struct {
	ID        int64     `db:"id"`
	Recipient string    `db:"recipient"`
	Message   string    `db:"message"`
	CommentID int64     `db:"comment_id"`
	CreatedAt time.Time `db:"created_at"`
	Read      bool      `db:"read"`
}

// NewNotifications creates a new Notifications storage, initializing the table if needed
func NewNotifications(ctx context.Context, db *engine.SQL) (*Notifications, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Notifications{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "notifications",
		CreateTable:   CmdCreateNotificationsTable,
		CreateIndexes: CmdCreateNotificationsIndexes,
		Queries:       notificationsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init notifications storage: %w", err)
	}
	return res, nil
}

// Add persists a notification produced by a moderation transition
func (n *Notifications) Add(ctx context.Context, notif moderation.Notification) error {
	n.Lock()
	defer n.Unlock()

	if notif.Recipient == "" {
		return fmt.Errorf("notification recipient is required")
	}
	if notif.CreatedAt.IsZero() {
		notif.CreatedAt = time.Now()
	}

	query, err := notificationsQueries.Pick(n.Type(), CmdAddNotification)
	if err != nil {
		return fmt.Errorf("failed to get add notification query: %w", err)
	}

	_, err = n.ExecContext(ctx, n.Adopt(query), notif.Recipient, notif.Message, notif.CommentID, notif.CreatedAt, notif.Read)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	log.Printf("[DEBUG] notification for %q added, comment:%d", notif.Recipient, notif.CommentID)
	return nil
}

// ListForUser returns all notifications for the given user, newest first
func (n *Notifications) ListForUser(ctx context.Context, user string) ([]moderation.Notification, error) {
	n.RLock()
	defer n.RUnlock()

	var recs []notificationRec
	query := n.Adopt("SELECT * FROM notifications WHERE recipient = ? ORDER BY created_at DESC, id DESC")
	if err := n.SelectContext(ctx, &recs, query, user); err != nil {
		return nil, fmt.Errorf("failed to list notifications for %q: %w", user, err)
	}

	res := make([]moderation.Notification, 0, len(recs))
	for _, rec := range recs {
		res = append(res, moderation.Notification{
			Recipient: rec.Recipient,
			Message:   rec.Message,
			CommentID: rec.CommentID,
			CreatedAt: rec.CreatedAt,
			Read:      rec.Read,
		})
	}
	return res, nil
}

// UnreadCount returns the number of unread notifications for the given user
func (n *Notifications) UnreadCount(ctx context.Context, user string) (int, error) {
	n.RLock()
	defer n.RUnlock()

	var count int
	query := n.Adopt("SELECT COUNT(*) FROM notifications WHERE recipient = ? AND read = ?")
	if err := n.GetContext(ctx, &count, query, user, false); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications for %q: %w", user, err)
	}
	return count, nil
}

// MarkRead marks all of the user's notifications as read and returns how many were affected
func (n *Notifications) MarkRead(ctx context.Context, user string) (int64, error) {
	n.Lock()
	defer n.Unlock()

	query := n.Adopt("UPDATE notifications SET read = ? WHERE recipient = ? AND read = ?")
	res, err := n.ExecContext(ctx, query, true, user, false)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read for %q: %w", user, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}

// DeleteForComment removes all notifications referencing the given comment,
// used on comment deletion to avoid dangling references
func (n *Notifications) DeleteForComment(ctx context.Context, commentID int64) error {
	n.Lock()
	defer n.Unlock()

	query := n.Adopt("DELETE FROM notifications WHERE comment_id = ?")
	if _, err := n.ExecContext(ctx, query, commentID); err != nil {
		return fmt.Errorf("failed to delete notifications for comment %d: %w", commentID, err)
	}
	return nil
}

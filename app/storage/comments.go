// Package storage provides db-based storage for comments and notifications,
// supporting sqlite and postgres engines.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/commently/toxguard/app/storage/engine"
	"github.com/commently/toxguard/lib/moderation"
)

// comments-related command constants
const (
	CmdCreateCommentsTable engine.DBCmd = iota + 100
	CmdCreateCommentsIndexes
	CmdCreateComment
)

// commentsQueries holds all comments-related queries
var commentsQueries = engine.QuerySet{
	CmdCreateCommentsTable: {
		Sqlite: `CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_id INTEGER NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('approved', 'pending_review', 'reported', 'rejected')),
			toxicity_label TEXT NOT NULL DEFAULT '',
			is_edited BOOLEAN NOT NULL DEFAULT 0,
			parent_id INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		Postgres: `CREATE TABLE IF NOT EXISTS comments (
			id SERIAL PRIMARY KEY,
			post_id BIGINT NOT NULL,
			author TEXT NOT NULL,
			text TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('approved', 'pending_review', 'reported', 'rejected')),
			toxicity_label TEXT NOT NULL DEFAULT '',
			is_edited BOOLEAN NOT NULL DEFAULT FALSE,
			parent_id BIGINT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	},
	CmdCreateCommentsIndexes: engine.Same(`
		CREATE INDEX IF NOT EXISTS idx_comments_post_id ON comments(post_id);
		CREATE INDEX IF NOT EXISTS idx_comments_author ON comments(author);
		CREATE INDEX IF NOT EXISTS idx_comments_status ON comments(status);
		CREATE INDEX IF NOT EXISTS idx_comments_created_at ON comments(created_at)`),
	CmdCreateComment: {
		Sqlite: `INSERT INTO comments (post_id, author, text, status, toxicity_label, is_edited, parent_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		Postgres: `INSERT INTO comments (post_id, author, text, status, toxicity_label, is_edited, parent_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
	},
}

// ErrCommentNotFound returned by getters and updaters when the comment id is not in the table
var ErrCommentNotFound = errors.New("comment not found")

// Comments provides access to the comments table
type Comments struct {
	*engine.SQL
	engine.RWLocker
}

// commentRec is a db representation of a comment
type commentRec struct {
	ID            int64         `db:"id"`
	PostID        int64         `db:"post_id"`
	Author        string        `db:"author"`
	Text          string        `db:"text"`
	Status        string        `db:"status"`
	ToxicityLabel string        `db:"toxicity_label"`
	IsEdited      bool          `db:"is_edited"`
	ParentID      sql.NullInt64 `db:"parent_id"`
	CreatedAt     time.Time     `db:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at"`
}

// StatusCount holds the number of comments in a given status
type StatusCount struct {
	Status string `db:"status"`
	Count  int    `db:"count"`
}

// NewComments creates a new Comments storage, initializing the table if needed
func NewComments(ctx context.Context, db *engine.SQL) (*Comments, error) {
	if db == nil {
		return nil, fmt.Errorf("db connection is nil")
	}
	res := &Comments{SQL: db, RWLocker: db.MakeLock()}
	cfg := engine.TableConfig{
		Name:          "comments",
		CreateTable:   CmdCreateCommentsTable,
		CreateIndexes: CmdCreateCommentsIndexes,
		Queries:       commentsQueries,
	}
	if err := engine.InitTable(ctx, db, cfg); err != nil {
		return nil, fmt.Errorf("failed to init comments storage: %w", err)
	}
	return res, nil
}

// Create inserts a new comment and returns its assigned id
func (c *Comments) Create(ctx context.Context, comment moderation.Comment) (int64, error) {
	c.Lock()
	defer c.Unlock()

	if comment.Author == "" {
		return 0, fmt.Errorf("author is required")
	}
	if err := comment.Status.Validate(); err != nil {
		return 0, fmt.Errorf("invalid comment: %w", err)
	}

	now := time.Now()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}
	if comment.UpdatedAt.IsZero() {
		comment.UpdatedAt = comment.CreatedAt
	}

	var parentID sql.NullInt64
	if comment.ParentID != 0 {
		parentID = sql.NullInt64{Int64: comment.ParentID, Valid: true}
	}

	query, err := commentsQueries.Pick(c.Type(), CmdCreateComment)
	if err != nil {
		return 0, fmt.Errorf("failed to get create comment query: %w", err)
	}

	args := []any{comment.PostID, comment.Author, comment.Text, string(comment.Status),
		comment.ToxicityLabel, comment.IsEdited, parentID, comment.CreatedAt, comment.UpdatedAt}

	var id int64
	switch c.Type() {
	case engine.Postgres:
		if err := c.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to insert comment: %w", err)
		}
	default:
		res, err := c.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert comment: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to get inserted comment id: %w", err)
		}
	}

	log.Printf("[DEBUG] comment %d created by %q on post %d, status:%s", id, comment.Author, comment.PostID, comment.Status)
	return id, nil
}

// Get returns a comment by id
func (c *Comments) Get(ctx context.Context, id int64) (moderation.Comment, error) {
	c.RLock()
	defer c.RUnlock()

	var rec commentRec
	err := c.GetContext(ctx, &rec, c.Adopt("SELECT * FROM comments WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return moderation.Comment{}, ErrCommentNotFound
	}
	if err != nil {
		return moderation.Comment{}, fmt.Errorf("failed to get comment %d: %w", id, err)
	}
	return rec.toComment(), nil
}

// UpdateStatus sets the comment status and toxicity label. Last write wins,
// there is no optimistic locking on moderation decisions.
func (c *Comments) UpdateStatus(ctx context.Context, id int64, status moderation.Status, label string) error {
	c.Lock()
	defer c.Unlock()

	if err := status.Validate(); err != nil {
		return fmt.Errorf("invalid status update: %w", err)
	}

	query := c.Adopt("UPDATE comments SET status = ?, toxicity_label = ?, updated_at = ? WHERE id = ?")
	res, err := c.ExecContext(ctx, query, string(status), label, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update comment %d status: %w", id, err)
	}
	return checkAffected(res, id)
}

// UpdateText replaces the comment text, marks it edited and sets the new status
// produced by the re-classification of the edited text.
func (c *Comments) UpdateText(ctx context.Context, id int64, text string, status moderation.Status, label string) error {
	c.Lock()
	defer c.Unlock()

	if err := status.Validate(); err != nil {
		return fmt.Errorf("invalid status update: %w", err)
	}

	query := c.Adopt("UPDATE comments SET text = ?, is_edited = ?, status = ?, toxicity_label = ?, updated_at = ? WHERE id = ?")
	res, err := c.ExecContext(ctx, query, text, true, string(status), label, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update comment %d text: %w", id, err)
	}
	return checkAffected(res, id)
}

// Delete removes a comment by id
func (c *Comments) Delete(ctx context.Context, id int64) error {
	c.Lock()
	defer c.Unlock()

	res, err := c.ExecContext(ctx, c.Adopt("DELETE FROM comments WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete comment %d: %w", id, err)
	}
	return checkAffected(res, id)
}

// Queue returns comments waiting for a moderator decision, newest first
func (c *Comments) Queue(ctx context.Context) ([]moderation.Comment, error) {
	c.RLock()
	defer c.RUnlock()

	var recs []commentRec
	query := c.Adopt("SELECT * FROM comments WHERE status IN (?, ?) ORDER BY created_at DESC, id DESC")
	err := c.SelectContext(ctx, &recs, query, string(moderation.StatusPendingReview), string(moderation.StatusReported))
	if err != nil {
		return nil, fmt.Errorf("failed to get moderation queue: %w", err)
	}
	return toComments(recs), nil
}

// ListVisible returns comments of a post visible to the given viewer. Moderators
// see everything, everyone else sees approved comments plus their own.
func (c *Comments) ListVisible(ctx context.Context, postID int64, viewer string, role moderation.Role) ([]moderation.Comment, error) {
	c.RLock()
	defer c.RUnlock()

	var recs []commentRec
	var err error
	if role == moderation.RoleModerator {
		query := c.Adopt("SELECT * FROM comments WHERE post_id = ? ORDER BY created_at DESC, id DESC")
		err = c.SelectContext(ctx, &recs, query, postID)
	} else {
		query := c.Adopt("SELECT * FROM comments WHERE post_id = ? AND (status = ? OR author = ?) ORDER BY created_at DESC, id DESC")
		err = c.SelectContext(ctx, &recs, query, postID, string(moderation.StatusApproved), viewer)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for post %d: %w", postID, err)
	}
	return toComments(recs), nil
}

// Stats returns per-status counts of all stored comments
func (c *Comments) Stats(ctx context.Context) (map[moderation.Status]int, error) {
	c.RLock()
	defer c.RUnlock()

	var counts []StatusCount
	err := c.SelectContext(ctx, &counts, "SELECT status, COUNT(*) AS count FROM comments GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to get comments stats: %w", err)
	}

	res := make(map[moderation.Status]int, len(counts))
	for _, sc := range counts {
		res[moderation.Status(sc.Status)] = sc.Count
	}
	return res, nil
}

func (r commentRec) toComment() moderation.Comment {
	res := moderation.Comment{
		ID:            r.ID,
		PostID:        r.PostID,
		Author:        r.Author,
		Text:          r.Text,
		Status:        moderation.Status(r.Status),
		ToxicityLabel: r.ToxicityLabel,
		IsEdited:      r.IsEdited,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ParentID.Valid {
		res.ParentID = r.ParentID.Int64
	}
	return res
}

func toComments(recs []commentRec) []moderation.Comment {
	res := make([]moderation.Comment, 0, len(recs))
	for _, rec := range recs {
		res = append(res, rec.toComment())
	}
	return res
}

func checkAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("comment %d: %w", id, ErrCommentNotFound)
	}
	return nil
}

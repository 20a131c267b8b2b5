// Package moderation implements the comment moderation state machine:
// pure transition logic from classifier verdicts and actor intents to the
// comment's next status plus notification side effects. Persistence is the
// caller's concern; nothing here touches storage.
package moderation

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Status is a comment visibility status.
type Status string

// enum of comment statuses. There is no "deleted" status, deletion destroys
// the entity instead of transitioning it.
const (
	StatusApproved      Status = "approved"
	StatusPendingReview Status = "pending_review"
	StatusReported      Status = "reported"
	StatusRejected      Status = "rejected"
)

// Validate checks if the status is one of the known values
func (s Status) Validate() error {
	switch s {
	case StatusApproved, StatusPendingReview, StatusReported, StatusRejected:
		return nil
	}
	return fmt.Errorf("invalid status: %q", s)
}

// Role is an actor role for transition authorization.
type Role string

// enum of actor roles
const (
	RoleAuthor    Role = "author"
	RoleViewer    Role = "viewer"
	RoleModerator Role = "moderator"
)

// Verdict is a classifier outcome driving submit/edit transitions.
type Verdict struct {
	Toxic bool   // true if the text was flagged
	Label string // toxicity category, or the clean sentinel
}

// Comment is the moderated entity. The surrounding application owns it, this
// package only computes its lifecycle.
type Comment struct {
	ID            int64     `json:"id"`
	PostID        int64     `json:"post_id"`
	Author        string    `json:"author"`
	Text          string    `json:"text"`
	Status        Status    `json:"status"`
	ToxicityLabel string    `json:"toxicity_label,omitempty"` // last classifier verdict, empty if never flagged
	IsEdited      bool      `json:"is_edited"`
	ParentID      int64     `json:"parent_id,omitempty"` // reply threading back-reference, not ownership
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Notification is an immutable event record created as a side effect of
// specific transitions. Only the Read flag is ever mutated, elsewhere.
type Notification struct {
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	CommentID int64     `json:"comment_id"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// Result of a transition: the next status, zero or one notifications to
// persist, and an optional warning surfaced synchronously to the acting user.
type Result struct {
	Status        Status
	Notifications []Notification
	Warning       string
}

// transition errors, authorization denials are surfaced to the caller and
// never reach the classifier layer
var (
	ErrNotAllowed        = errors.New("actor is not allowed to perform this action")
	ErrInvalidTransition = errors.New("transition is not valid for the current status")
)

// Submit computes the initial status of a freshly created comment from the
// classifier verdict. Toxic text lands in pending_review with a single
// notification to the author citing the label; clean text is approved
// with no side effects.
func Submit(c Comment, v Verdict) Result {
	if !v.Toxic {
		return Result{Status: StatusApproved}
	}
	return Result{
		Status: StatusPendingReview,
		Notifications: []Notification{{
			Recipient: c.Author,
			Message:   fmt.Sprintf("your comment is pending review due to: %s", v.Label),
			CommentID: c.ID,
			CreatedAt: time.Now(),
		}},
		Warning: fmt.Sprintf("your comment was flagged as %q and is pending review", v.Label),
	}
}

// Edit computes the status after the author changed the comment's text and
// the new text was reclassified. A reported status is sticky: a human report
// is resolved only by a moderator, never by a clean reclassification.
// No notification is created either way; a flag is surfaced synchronously
// as a warning to the editor.
func Edit(c Comment, v Verdict) Result {
	if c.Status == StatusReported {
		return Result{Status: StatusReported}
	}
	if !v.Toxic {
		return Result{Status: StatusApproved}
	}
	return Result{
		Status:  StatusPendingReview,
		Warning: fmt.Sprintf("your edited comment was still flagged as %q and requires review", v.Label),
	}
}

// Report marks the comment as reported by a viewer. Allowed from any status
// and for any actor; the manual override wins until a moderator resolves it.
func Report(c Comment) Result {
	return Result{Status: StatusReported}
}

// Approve resolves a queued comment. Moderator only; valid from
// pending_review and reported. The author gets a single notification.
func Approve(c Comment, actor Role) (Result, error) {
	if actor != RoleModerator {
		return Result{}, fmt.Errorf("approve by %s: %w", actor, ErrNotAllowed)
	}
	if c.Status != StatusPendingReview && c.Status != StatusReported {
		return Result{}, fmt.Errorf("approve from %s: %w", c.Status, ErrInvalidTransition)
	}
	return Result{
		Status: StatusApproved,
		Notifications: []Notification{{
			Recipient: c.Author,
			Message:   "your comment has been approved by a moderator",
			CommentID: c.ID,
			CreatedAt: time.Now(),
		}},
	}, nil
}

// Reject marks a comment rejected. Moderator only, no side effects.
func Reject(c Comment, actor Role) (Result, error) {
	if actor != RoleModerator {
		return Result{}, fmt.Errorf("reject by %s: %w", actor, ErrNotAllowed)
	}
	return Result{Status: StatusRejected}, nil
}

// CanDelete reports if the actor may destroy the comment: moderators always,
// authors for their own comments only. Deletion emits no notification.
func CanDelete(c Comment, actor string, role Role) bool {
	return role == RoleModerator || actor == c.Author
}

// CanEdit reports if the actor may edit the comment's text
func CanEdit(c Comment, actor string) bool {
	return actor == c.Author
}

// Visible reports if the comment is visible to the given viewer: moderators
// see everything, authors always see their own, everyone else sees approved
// comments only.
func Visible(c Comment, viewer string, role Role) bool {
	if role == RoleModerator {
		return true
	}
	if viewer != "" && viewer == c.Author {
		return true
	}
	return c.Status == StatusApproved
}

// InQueue reports if the comment awaits a moderator decision
func InQueue(c Comment) bool {
	return c.Status == StatusPendingReview || c.Status == StatusReported
}

// SortQueue orders queued comments for moderator presentation, most recent
// first. No other tie-break is defined.
func SortQueue(comments []Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.After(comments[j].CreatedAt)
	})
}

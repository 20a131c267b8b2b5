// Package moderator wires the toxicity classifier, the moderation state
// machine and the storage layer into the comment lifecycle service used by
// the web api.
package moderator

import (
	"context"
	"fmt"
	"log"

	"github.com/commently/toxguard/lib/moderation"
)

// Classifier verdicts drive submit and edit transitions
type Classifier interface {
	Predict(text string) (toxic bool, label string)
}

// CommentsStore provides persistence for comments
type CommentsStore interface {
	Create(ctx context.Context, comment moderation.Comment) (int64, error)
	Get(ctx context.Context, id int64) (moderation.Comment, error)
	UpdateStatus(ctx context.Context, id int64, status moderation.Status, label string) error
	UpdateText(ctx context.Context, id int64, text string, status moderation.Status, label string) error
	Delete(ctx context.Context, id int64) error
	Queue(ctx context.Context) ([]moderation.Comment, error)
	ListVisible(ctx context.Context, postID int64, viewer string, role moderation.Role) ([]moderation.Comment, error)
	Stats(ctx context.Context) (map[moderation.Status]int, error)
}

// NotificationsStore provides persistence for notifications
type NotificationsStore interface {
	Add(ctx context.Context, notif moderation.Notification) error
	ListForUser(ctx context.Context, user string) ([]moderation.Notification, error)
	UnreadCount(ctx context.Context, user string) (int, error)
	MarkRead(ctx context.Context, user string) (int64, error)
	DeleteForComment(ctx context.Context, commentID int64) error
}

// Service implements the comment moderation lifecycle on top of the stores
type Service struct {
	classifier    Classifier
	comments      CommentsStore
	notifications NotificationsStore
	throttle      *ReportThrottle
	audit         *AuditLog
}

// NewService creates a moderation service. Throttle and audit are optional,
// nil disables them.
func NewService(classifier Classifier, comments CommentsStore, notifications NotificationsStore,
	throttle *ReportThrottle, audit *AuditLog) *Service {
	return &Service{
		classifier:    classifier,
		comments:      comments,
		notifications: notifications,
		throttle:      throttle,
		audit:         audit,
	}
}

// SubmitResult is the outcome of a submit or edit operation
type SubmitResult struct {
	Comment moderation.Comment `json:"comment"`
	Warning string             `json:"warning,omitempty"`
}

// Submit classifies and stores a new comment. Toxic text is held for review
// and the author is notified; clean text goes live immediately.
func (s *Service) Submit(ctx context.Context, postID int64, author, text string, parentID int64) (SubmitResult, error) {
	toxic, label := s.classifier.Predict(text)
	verdict := moderation.Verdict{Toxic: toxic, Label: label}

	comment := moderation.Comment{PostID: postID, Author: author, Text: text, ParentID: parentID}
	res := moderation.Submit(comment, verdict)
	comment.Status = res.Status
	if toxic {
		comment.ToxicityLabel = label
	}

	id, err := s.comments.Create(ctx, comment)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to create comment: %w", err)
	}
	comment.ID = id

	for _, notif := range res.Notifications {
		notif.CommentID = id
		if err := s.notifications.Add(ctx, notif); err != nil {
			log.Printf("[WARN] failed to save notification for %q: %v", notif.Recipient, err)
		}
	}

	s.audit.Record(ctx, AuditEntry{Action: "submit", CommentID: id, Actor: author,
		Status: string(res.Status), Label: comment.ToxicityLabel})
	log.Printf("[INFO] comment %d submitted by %q, status:%s label:%q", id, author, res.Status, comment.ToxicityLabel)

	stored, err := s.comments.Get(ctx, id)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to read back comment %d: %w", id, err)
	}
	return SubmitResult{Comment: stored, Warning: res.Warning}, nil
}

// Edit changes the comment text, author only. The new text is reclassified
// and the status recomputed; a reported comment stays reported.
func (s *Service) Edit(ctx context.Context, id int64, actor, text string) (SubmitResult, error) {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return SubmitResult{}, err
	}
	if !moderation.CanEdit(comment, actor) {
		return SubmitResult{}, fmt.Errorf("edit of comment %d by %q: %w", id, actor, moderation.ErrNotAllowed)
	}

	toxic, label := s.classifier.Predict(text)
	res := moderation.Edit(comment, moderation.Verdict{Toxic: toxic, Label: label})

	storedLabel := comment.ToxicityLabel
	if toxic {
		storedLabel = label
	}
	if err := s.comments.UpdateText(ctx, id, text, res.Status, storedLabel); err != nil {
		return SubmitResult{}, fmt.Errorf("failed to update comment %d: %w", id, err)
	}

	s.audit.Record(ctx, AuditEntry{Action: "edit", CommentID: id, Actor: actor,
		Status: string(res.Status), Label: storedLabel})
	log.Printf("[INFO] comment %d edited by %q, status:%s", id, actor, res.Status)

	stored, err := s.comments.Get(ctx, id)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to read back comment %d: %w", id, err)
	}
	return SubmitResult{Comment: stored, Warning: res.Warning}, nil
}

// Report flags the comment for moderator attention. Any authenticated user
// can report; repeat reports from the same user are throttled.
func (s *Service) Report(ctx context.Context, id int64, reporter string) (moderation.Comment, error) {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return moderation.Comment{}, err
	}

	if s.throttle != nil && !s.throttle.Allow(reporter, id) {
		log.Printf("[DEBUG] repeat report of comment %d by %q throttled", id, reporter)
		return comment, nil
	}

	res := moderation.Report(comment)
	if err := s.comments.UpdateStatus(ctx, id, res.Status, comment.ToxicityLabel); err != nil {
		return moderation.Comment{}, fmt.Errorf("failed to report comment %d: %w", id, err)
	}

	s.audit.Record(ctx, AuditEntry{Action: "report", CommentID: id, Actor: reporter, Status: string(res.Status)})
	log.Printf("[INFO] comment %d reported by %q", id, reporter)
	return s.comments.Get(ctx, id)
}

// Approve resolves a queued comment, moderator only. The author gets notified.
func (s *Service) Approve(ctx context.Context, id int64, actor string, role moderation.Role) (moderation.Comment, error) {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return moderation.Comment{}, err
	}

	res, err := moderation.Approve(comment, role)
	if err != nil {
		return moderation.Comment{}, fmt.Errorf("cannot approve comment %d: %w", id, err)
	}
	if err := s.comments.UpdateStatus(ctx, id, res.Status, comment.ToxicityLabel); err != nil {
		return moderation.Comment{}, fmt.Errorf("failed to approve comment %d: %w", id, err)
	}

	for _, notif := range res.Notifications {
		if err := s.notifications.Add(ctx, notif); err != nil {
			log.Printf("[WARN] failed to save notification for %q: %v", notif.Recipient, err)
		}
	}

	s.audit.Record(ctx, AuditEntry{Action: "approve", CommentID: id, Actor: actor, Status: string(res.Status)})
	log.Printf("[INFO] comment %d approved by %q", id, actor)
	return s.comments.Get(ctx, id)
}

// Reject marks a queued comment rejected, moderator only. No notification.
func (s *Service) Reject(ctx context.Context, id int64, actor string, role moderation.Role) (moderation.Comment, error) {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return moderation.Comment{}, err
	}

	res, err := moderation.Reject(comment, role)
	if err != nil {
		return moderation.Comment{}, fmt.Errorf("cannot reject comment %d: %w", id, err)
	}
	if err := s.comments.UpdateStatus(ctx, id, res.Status, comment.ToxicityLabel); err != nil {
		return moderation.Comment{}, fmt.Errorf("failed to reject comment %d: %w", id, err)
	}

	s.audit.Record(ctx, AuditEntry{Action: "reject", CommentID: id, Actor: actor, Status: string(res.Status)})
	log.Printf("[INFO] comment %d rejected by %q", id, actor)
	return s.comments.Get(ctx, id)
}

// Delete destroys a comment, moderator or the author. Notifications referring
// to the comment are removed with it.
func (s *Service) Delete(ctx context.Context, id int64, actor string, role moderation.Role) error {
	comment, err := s.comments.Get(ctx, id)
	if err != nil {
		return err
	}
	if !moderation.CanDelete(comment, actor, role) {
		return fmt.Errorf("delete of comment %d by %q: %w", id, actor, moderation.ErrNotAllowed)
	}

	if err := s.comments.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete comment %d: %w", id, err)
	}
	if err := s.notifications.DeleteForComment(ctx, id); err != nil {
		log.Printf("[WARN] failed to delete notifications for comment %d: %v", id, err)
	}

	s.audit.Record(ctx, AuditEntry{Action: "delete", CommentID: id, Actor: actor})
	log.Printf("[INFO] comment %d deleted by %q", id, actor)
	return nil
}

// Queue returns comments awaiting a moderator decision, newest first
func (s *Service) Queue(ctx context.Context) ([]moderation.Comment, error) {
	queue, err := s.comments.Queue(ctx)
	if err != nil {
		return nil, err
	}
	moderation.SortQueue(queue)
	return queue, nil
}

// Visible returns the post's comments the viewer is allowed to see
func (s *Service) Visible(ctx context.Context, postID int64, viewer string, role moderation.Role) ([]moderation.Comment, error) {
	return s.comments.ListVisible(ctx, postID, viewer, role)
}

// Notifications returns the user's notifications, newest first
func (s *Service) Notifications(ctx context.Context, user string) ([]moderation.Notification, error) {
	return s.notifications.ListForUser(ctx, user)
}

// MarkNotificationsRead marks all the user's notifications read
func (s *Service) MarkNotificationsRead(ctx context.Context, user string) (int64, error) {
	return s.notifications.MarkRead(ctx, user)
}

// Stats returns per-status comment counts
func (s *Service) Stats(ctx context.Context) (map[moderation.Status]int, error) {
	return s.comments.Stats(ctx)
}

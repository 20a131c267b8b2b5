package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/commently/toxguard/lib/moderation"
)

func (s *StorageTestSuite) TestNewComments() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			s.Run("create new table", func() {
				_, err := NewComments(ctx, db)
				s.Require().NoError(err)

				var exists int
				err = db.Get(&exists, "SELECT COUNT(*) FROM comments")
				s.Require().NoError(err)
				s.Equal(0, exists) // empty but exists
			})

			s.Run("nil db connection", func() {
				_, err := NewComments(ctx, nil)
				s.Require().Error(err)
				s.Contains(err.Error(), "db connection is nil")
			})

			s.Run("context cancelled", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := NewComments(ctx, db)
				s.Require().Error(err)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_CreateAndGet() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			s.Run("create and read back", func() {
				id, err := comments.Create(ctx, moderation.Comment{
					PostID: 42, Author: "alice", Text: "nice post",
					Status: moderation.StatusApproved,
				})
				s.Require().NoError(err)
				s.Positive(id)

				got, err := comments.Get(ctx, id)
				s.Require().NoError(err)
				s.Equal(id, got.ID)
				s.Equal(int64(42), got.PostID)
				s.Equal("alice", got.Author)
				s.Equal("nice post", got.Text)
				s.Equal(moderation.StatusApproved, got.Status)
				s.Empty(got.ToxicityLabel)
				s.False(got.IsEdited)
				s.Zero(got.ParentID)
				s.False(got.CreatedAt.IsZero())
				s.False(got.UpdatedAt.IsZero())
			})

			s.Run("create with toxicity label and parent", func() {
				id, err := comments.Create(ctx, moderation.Comment{
					PostID: 42, Author: "bob", Text: "you are an idiot",
					Status: moderation.StatusPendingReview, ToxicityLabel: "insult", ParentID: 1,
				})
				s.Require().NoError(err)

				got, err := comments.Get(ctx, id)
				s.Require().NoError(err)
				s.Equal(moderation.StatusPendingReview, got.Status)
				s.Equal("insult", got.ToxicityLabel)
				s.Equal(int64(1), got.ParentID)
			})

			s.Run("ids are monotonic", func() {
				id1, err := comments.Create(ctx, moderation.Comment{PostID: 1, Author: "a", Text: "x", Status: moderation.StatusApproved})
				s.Require().NoError(err)
				id2, err := comments.Create(ctx, moderation.Comment{PostID: 1, Author: "a", Text: "y", Status: moderation.StatusApproved})
				s.Require().NoError(err)
				s.Greater(id2, id1)
			})

			s.Run("missing author rejected", func() {
				_, err := comments.Create(ctx, moderation.Comment{PostID: 1, Text: "x", Status: moderation.StatusApproved})
				s.Require().Error(err)
			})

			s.Run("invalid status rejected", func() {
				_, err := comments.Create(ctx, moderation.Comment{PostID: 1, Author: "a", Text: "x", Status: "deleted"})
				s.Require().Error(err)
			})

			s.Run("get missing comment", func() {
				_, err := comments.Get(ctx, 99999)
				s.Require().ErrorIs(err, ErrCommentNotFound)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_UpdateStatus() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			id, err := comments.Create(ctx, moderation.Comment{
				PostID: 1, Author: "bob", Text: "hmm",
				Status: moderation.StatusPendingReview, ToxicityLabel: "toxic",
			})
			s.Require().NoError(err)

			s.Run("approve pending comment", func() {
				err := comments.UpdateStatus(ctx, id, moderation.StatusApproved, "toxic")
				s.Require().NoError(err)

				got, err := comments.Get(ctx, id)
				s.Require().NoError(err)
				s.Equal(moderation.StatusApproved, got.Status)
				s.Equal("toxic", got.ToxicityLabel)
			})

			s.Run("invalid status rejected", func() {
				err := comments.UpdateStatus(ctx, id, "bogus", "")
				s.Require().Error(err)
			})

			s.Run("missing comment", func() {
				err := comments.UpdateStatus(ctx, 99999, moderation.StatusApproved, "")
				s.Require().ErrorIs(err, ErrCommentNotFound)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_UpdateText() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			id, err := comments.Create(ctx, moderation.Comment{
				PostID: 1, Author: "bob", Text: "original", Status: moderation.StatusApproved,
			})
			s.Require().NoError(err)

			s.Run("edit flips is_edited and updates status", func() {
				err := comments.UpdateText(ctx, id, "edited text", moderation.StatusPendingReview, "obscene")
				s.Require().NoError(err)

				got, err := comments.Get(ctx, id)
				s.Require().NoError(err)
				s.Equal("edited text", got.Text)
				s.True(got.IsEdited)
				s.Equal(moderation.StatusPendingReview, got.Status)
				s.Equal("obscene", got.ToxicityLabel)
				s.False(got.UpdatedAt.Before(got.CreatedAt))
			})

			s.Run("missing comment", func() {
				err := comments.UpdateText(ctx, 99999, "x", moderation.StatusApproved, "")
				s.Require().ErrorIs(err, ErrCommentNotFound)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_Delete() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			id, err := comments.Create(ctx, moderation.Comment{
				PostID: 1, Author: "bob", Text: "bye", Status: moderation.StatusApproved,
			})
			s.Require().NoError(err)

			s.Require().NoError(comments.Delete(ctx, id))

			_, err = comments.Get(ctx, id)
			s.Require().ErrorIs(err, ErrCommentNotFound)

			s.Run("delete missing comment", func() {
				s.Require().ErrorIs(comments.Delete(ctx, id), ErrCommentNotFound)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_Queue() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			mk := func(author string, status moderation.Status, offset time.Duration) int64 {
				id, err := comments.Create(ctx, moderation.Comment{
					PostID: 7, Author: author, Text: "msg by " + author, Status: status,
					CreatedAt: base.Add(offset), UpdatedAt: base.Add(offset),
				})
				s.Require().NoError(err)
				return id
			}

			mk("a1", moderation.StatusApproved, 0)
			idOld := mk("a2", moderation.StatusPendingReview, 1*time.Minute)
			idRep := mk("a3", moderation.StatusReported, 2*time.Minute)
			idNew := mk("a4", moderation.StatusPendingReview, 3*time.Minute)
			mk("a5", moderation.StatusRejected, 4*time.Minute)

			queue, err := comments.Queue(ctx)
			s.Require().NoError(err)
			s.Require().Len(queue, 3)

			// newest first, approved and rejected excluded
			s.Equal(idNew, queue[0].ID)
			s.Equal(idRep, queue[1].ID)
			s.Equal(idOld, queue[2].ID)
		})
	}
}

func (s *StorageTestSuite) TestComments_ListVisible() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			mk := func(postID int64, author string, status moderation.Status) int64 {
				id, err := comments.Create(ctx, moderation.Comment{
					PostID: postID, Author: author, Text: "msg", Status: status,
				})
				s.Require().NoError(err)
				return id
			}

			approvedID := mk(7, "alice", moderation.StatusApproved)
			pendingAliceID := mk(7, "alice", moderation.StatusPendingReview)
			reportedBobID := mk(7, "bob", moderation.StatusReported)
			mk(8, "alice", moderation.StatusApproved) // other post, never visible here

			s.Run("moderator sees all", func() {
				list, err := comments.ListVisible(ctx, 7, "mod", moderation.RoleModerator)
				s.Require().NoError(err)
				s.Len(list, 3)
			})

			s.Run("author sees own plus approved", func() {
				list, err := comments.ListVisible(ctx, 7, "alice", moderation.RoleAuthor)
				s.Require().NoError(err)
				s.Require().Len(list, 2)
				ids := []int64{list[0].ID, list[1].ID}
				s.Contains(ids, approvedID)
				s.Contains(ids, pendingAliceID)
			})

			s.Run("viewer sees approved only", func() {
				list, err := comments.ListVisible(ctx, 7, "carol", moderation.RoleViewer)
				s.Require().NoError(err)
				s.Require().Len(list, 1)
				s.Equal(approvedID, list[0].ID)
				s.NotEqual(reportedBobID, list[0].ID)
			})
		})
	}
}

func (s *StorageTestSuite) TestComments_Stats() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			comments, err := NewComments(ctx, db)
			s.Require().NoError(err)

			s.Run("empty table", func() {
				stats, err := comments.Stats(ctx)
				s.Require().NoError(err)
				s.Empty(stats)
			})

			for i, status := range []moderation.Status{
				moderation.StatusApproved, moderation.StatusApproved, moderation.StatusApproved,
				moderation.StatusPendingReview, moderation.StatusReported, moderation.StatusRejected,
			} {
				_, err := comments.Create(ctx, moderation.Comment{
					PostID: 1, Author: fmt.Sprintf("u%d", i), Text: "msg", Status: status,
				})
				s.Require().NoError(err)
			}

			stats, err := comments.Stats(ctx)
			s.Require().NoError(err)
			s.Equal(3, stats[moderation.StatusApproved])
			s.Equal(1, stats[moderation.StatusPendingReview])
			s.Equal(1, stats[moderation.StatusReported])
			s.Equal(1, stats[moderation.StatusRejected])
		})
	}
}

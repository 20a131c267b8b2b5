package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/commently/toxguard/lib/moderation"
)

func (s *StorageTestSuite) TestNewNotifications() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			s.Run("create new table", func() {
				_, err := NewNotifications(ctx, db)
				s.Require().NoError(err)

				var exists int
				err = db.Get(&exists, "SELECT COUNT(*) FROM notifications")
				s.Require().NoError(err)
				s.Equal(0, exists)
			})

			s.Run("nil db connection", func() {
				_, err := NewNotifications(ctx, nil)
				s.Require().Error(err)
				s.Contains(err.Error(), "db connection is nil")
			})
		})
	}
}

func (s *StorageTestSuite) TestNotifications_AddAndList() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			notifs, err := NewNotifications(ctx, db)
			s.Require().NoError(err)

			base := time.Now().Add(-time.Hour).Truncate(time.Second)

			s.Run("add and list back", func() {
				err := notifs.Add(ctx, moderation.Notification{
					Recipient: "alice", Message: "your comment is pending review due to: insult",
					CommentID: 1, CreatedAt: base,
				})
				s.Require().NoError(err)
				err = notifs.Add(ctx, moderation.Notification{
					Recipient: "alice", Message: "your comment has been approved by a moderator",
					CommentID: 1, CreatedAt: base.Add(time.Minute),
				})
				s.Require().NoError(err)
				err = notifs.Add(ctx, moderation.Notification{
					Recipient: "bob", Message: "your comment is pending review due to: toxic",
					CommentID: 2, CreatedAt: base,
				})
				s.Require().NoError(err)

				list, err := notifs.ListForUser(ctx, "alice")
				s.Require().NoError(err)
				s.Require().Len(list, 2)

				// newest first
				s.Equal("your comment has been approved by a moderator", list[0].Message)
				s.Equal("your comment is pending review due to: insult", list[1].Message)
				s.Equal(int64(1), list[0].CommentID)
				s.False(list[0].Read)
			})

			s.Run("missing recipient rejected", func() {
				err := notifs.Add(ctx, moderation.Notification{Message: "no one", CommentID: 3})
				s.Require().Error(err)
			})

			s.Run("no notifications for unknown user", func() {
				list, err := notifs.ListForUser(ctx, "nobody")
				s.Require().NoError(err)
				s.Empty(list)
			})
		})
	}
}

func (s *StorageTestSuite) TestNotifications_MarkRead() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			notifs, err := NewNotifications(ctx, db)
			s.Require().NoError(err)

			for i := 0; i < 3; i++ {
				err := notifs.Add(ctx, moderation.Notification{
					Recipient: "alice", Message: fmt.Sprintf("msg %d", i), CommentID: int64(i + 1),
				})
				s.Require().NoError(err)
			}
			err = notifs.Add(ctx, moderation.Notification{Recipient: "bob", Message: "other", CommentID: 9})
			s.Require().NoError(err)

			count, err := notifs.UnreadCount(ctx, "alice")
			s.Require().NoError(err)
			s.Equal(3, count)

			affected, err := notifs.MarkRead(ctx, "alice")
			s.Require().NoError(err)
			s.Equal(int64(3), affected)

			count, err = notifs.UnreadCount(ctx, "alice")
			s.Require().NoError(err)
			s.Equal(0, count)

			// bob's notifications untouched
			count, err = notifs.UnreadCount(ctx, "bob")
			s.Require().NoError(err)
			s.Equal(1, count)

			// second call is a no-op
			affected, err = notifs.MarkRead(ctx, "alice")
			s.Require().NoError(err)
			s.Zero(affected)

			list, err := notifs.ListForUser(ctx, "alice")
			s.Require().NoError(err)
			for _, n := range list {
				s.True(n.Read)
			}
		})
	}
}

func (s *StorageTestSuite) TestNotifications_DeleteForComment() {
	ctx := context.Background()
	for _, db := range s.getTestDB() {
		s.Run(fmt.Sprintf("with %s", db.Type()), func() {
			notifs, err := NewNotifications(ctx, db)
			s.Require().NoError(err)

			s.Require().NoError(notifs.Add(ctx, moderation.Notification{Recipient: "alice", Message: "m1", CommentID: 1}))
			s.Require().NoError(notifs.Add(ctx, moderation.Notification{Recipient: "alice", Message: "m2", CommentID: 1}))
			s.Require().NoError(notifs.Add(ctx, moderation.Notification{Recipient: "alice", Message: "m3", CommentID: 2}))

			s.Require().NoError(notifs.DeleteForComment(ctx, 1))

			list, err := notifs.ListForUser(ctx, "alice")
			s.Require().NoError(err)
			s.Require().Len(list, 1)
			s.Equal(int64(2), list[0].CommentID)

			// deleting for a comment with no notifications is fine
			s.Require().NoError(notifs.DeleteForComment(ctx, 42))
		})
	}
}

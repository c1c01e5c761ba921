// Package store holds the durable state behind the feed API: users,
// posts, comments, and likes. Two implementations exist, selected by
// config: an in-memory store and a Postgres store.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/feedwire/feedwire/internal/feed"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNotOwner      = errors.New("not the owner")
	ErrUserExists    = errors.New("user already exists")
	ErrDuplicateLike = errors.New("already liked")
	ErrLikeNotFound  = errors.New("like not found")
)

// Store is the persistence boundary. All read methods return fresh
// snapshots; callers never observe in-place mutation.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*feed.User, error)
	GetUserByID(ctx context.Context, id int64) (*feed.User, error)
	GetUserByUsername(ctx context.Context, username string) (*feed.User, string, error)

	CreatePost(ctx context.Context, authorID int64, content string) (*feed.Post, error)
	// DeletePost removes a post owned by requesterID; ErrNotOwner when
	// someone else's, ErrNotFound when absent.
	DeletePost(ctx context.Context, id, requesterID int64) error

	CreateComment(ctx context.Context, postID, authorID, parentID int64, content string) (*feed.CommentRecord, error)
	DeleteComment(ctx context.Context, id, requesterID int64) (postID int64, err error)

	LikePost(ctx context.Context, userID, postID int64) error
	LikeComment(ctx context.Context, userID, commentID int64) (postID int64, err error)
	UnlikePost(ctx context.Context, userID, postID int64) error
	UnlikeComment(ctx context.Context, userID, commentID int64) (postID int64, err error)
	PostLikeCount(ctx context.Context, postID int64) (int, error)

	// ListPosts returns posts with like counts, newest first.
	ListPosts(ctx context.Context) ([]feed.Post, error)

	// ListComments returns flat comment records with like counts, in
	// creation order, ready for tree assembly.
	ListComments(ctx context.Context) ([]feed.CommentRecord, error)

	// ListLikesSince returns like events created at or after the cutoff.
	// The target owner is resolved at read time; likes whose target no
	// longer exists are excluded.
	ListLikesSince(ctx context.Context, cutoff time.Time) ([]feed.LikeEvent, error)

	Close()
}

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestStore(t *testing.T) (*Memory, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewMemory(clock), clock
}

func TestCreateUserDuplicate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	if _, err := m.CreateUser(ctx, "alice", "hash"); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if _, err := m.CreateUser(ctx, "alice", "hash"); !errors.Is(err, ErrUserExists) {
		t.Errorf("expected ErrUserExists, got %v", err)
	}
}

func TestLikePostDuplicate(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	post, _ := m.CreatePost(ctx, alice.ID, "hello")

	if err := m.LikePost(ctx, alice.ID, post.ID); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	if err := m.LikePost(ctx, alice.ID, post.ID); !errors.Is(err, ErrDuplicateLike) {
		t.Errorf("expected ErrDuplicateLike, got %v", err)
	}
}

func TestUnlikeWithoutLike(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	post, _ := m.CreatePost(ctx, alice.ID, "hello")

	if err := m.UnlikePost(ctx, alice.ID, post.ID); !errors.Is(err, ErrLikeNotFound) {
		t.Errorf("expected ErrLikeNotFound, got %v", err)
	}
}

func TestListPostsNewestFirstWithCounts(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	bob, _ := m.CreateUser(ctx, "bob", "hash")

	first, _ := m.CreatePost(ctx, alice.ID, "first")
	clock.Advance(time.Minute)
	second, _ := m.CreatePost(ctx, bob.ID, "second")

	if err := m.LikePost(ctx, bob.ID, first.ID); err != nil {
		t.Fatal(err)
	}

	posts, err := m.ListPosts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	if posts[0].ID != second.ID {
		t.Errorf("expected newest post first, got post %d", posts[0].ID)
	}
	if posts[1].LikeCount != 1 {
		t.Errorf("expected like count 1, got %d", posts[1].LikeCount)
	}
}

func TestListCommentsCreationOrder(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	post, _ := m.CreatePost(ctx, alice.ID, "hello")

	c1, _ := m.CreateComment(ctx, post.ID, alice.ID, 0, "one")
	clock.Advance(time.Second)
	c2, _ := m.CreateComment(ctx, post.ID, alice.ID, c1.ID, "two")

	records, err := m.ListComments(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != c1.ID || records[1].ID != c2.ID {
		t.Errorf("records out of creation order")
	}
	if records[1].ParentID != c1.ID {
		t.Errorf("expected parent %d, got %d", c1.ID, records[1].ParentID)
	}
}

func TestListLikesSinceWindowAndResolution(t *testing.T) {
	ctx := context.Background()
	m, clock := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	bob, _ := m.CreateUser(ctx, "bob", "hash")
	post, _ := m.CreatePost(ctx, alice.ID, "hello")
	comment, _ := m.CreateComment(ctx, post.ID, bob.ID, 0, "nice")

	// Old like, outside any reasonable window.
	if err := m.LikePost(ctx, bob.ID, post.ID); err != nil {
		t.Fatal(err)
	}
	clock.Advance(48 * time.Hour)
	cutoff := clock.Now()

	if _, err := m.LikeComment(ctx, alice.ID, comment.ID); err != nil {
		t.Fatal(err)
	}

	events, err := m.ListLikesSince(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event inside window, got %d", len(events))
	}
	if events[0].TargetOwner != "bob" {
		t.Errorf("expected owner bob, got %s", events[0].TargetOwner)
	}
}

func TestDeletePostCascades(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestStore(t)

	alice, _ := m.CreateUser(ctx, "alice", "hash")
	bob, _ := m.CreateUser(ctx, "bob", "hash")
	post, _ := m.CreatePost(ctx, alice.ID, "hello")
	comment, _ := m.CreateComment(ctx, post.ID, bob.ID, 0, "nice")

	if err := m.LikePost(ctx, bob.ID, post.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LikeComment(ctx, alice.ID, comment.ID); err != nil {
		t.Fatal(err)
	}

	if err := m.DeletePost(ctx, post.ID, bob.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner for non-author, got %v", err)
	}
	if err := m.DeletePost(ctx, post.ID, alice.ID); err != nil {
		t.Fatal(err)
	}

	records, _ := m.ListComments(ctx)
	if len(records) != 0 {
		t.Errorf("expected comments cascade-deleted, got %d", len(records))
	}
	events, _ := m.ListLikesSince(ctx, time.Time{})
	if len(events) != 0 {
		t.Errorf("expected likes cascade-deleted, got %d", len(events))
	}
}

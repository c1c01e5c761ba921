package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/feed"
	"github.com/feedwire/feedwire/internal/store"
)

type notified struct {
	name    string
	payload any
}

type fakeBridge struct {
	mu     sync.Mutex
	events []notified
}

func (f *fakeBridge) Notify(name string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, notified{name: name, payload: payload})
}

func (f *fakeBridge) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.name
	}
	return out
}

type testEnv struct {
	store   *store.Memory
	bridge  *fakeBridge
	clock   *clockwork.FakeClock
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st := store.NewMemory(clock)
	bridge := &fakeBridge{}
	srv := NewServer(st, bridge, clock, zap.NewNop())

	return &testEnv{
		store:   st,
		bridge:  bridge,
		clock:   clock,
		handler: NewRouter(srv, zap.NewNop()),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, userID int64, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if userID != 0 {
		req.Header.Set("X-User-ID", fmt.Sprintf("%d", userID))
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) signup(t *testing.T, username string) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/signup", 0, map[string]string{
		"username": username,
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body)
	}
	var resp struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.UserID
}

func TestSignupAndLogin(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/login", 0, map[string]string{
		"username": "alice",
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodPost, "/api/login", 0, map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 on bad password, got %d", rec.Code)
	}
}

func TestSignupDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/signup", 0, map[string]string{
		"username": "alice",
		"password": "other",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate username, got %d", rec.Code)
	}
}

func TestCreatePostRequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/post", 0, map[string]string{"content": "hello"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", rec.Code)
	}
	if len(env.bridge.names()) != 0 {
		t.Errorf("rejected request must not notify, got %v", env.bridge.names())
	}
}

func TestCreatePostEmptyContent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for blank content, got %d", rec.Code)
	}
}

func TestCreatePostNotifiesFeedUpdate(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create post failed: %d %s", rec.Code, rec.Body)
	}

	names := env.bridge.names()
	if len(names) != 1 || names[0] != "feed_update" {
		t.Errorf("expected one feed_update notification, got %v", names)
	}
}

func TestFeedNestsComments(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "hello"})
	var created struct {
		PostID int64 `json:"post_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/comment/%d", created.PostID), bob,
		map[string]any{"content": "nice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("comment failed: %d %s", rec.Code, rec.Body)
	}
	var commented struct {
		Comment feed.CommentNode `json:"comment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &commented); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/comment/%d", created.PostID), alice,
		map[string]any{"content": "thanks", "parent": commented.Comment.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("reply failed: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodGet, "/api/feed", 0, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("feed failed: %d", rec.Code)
	}

	var views []struct {
		ID       int64 `json:"id"`
		Comments []struct {
			ID       int64 `json:"id"`
			Children []struct {
				ID int64 `json:"id"`
			} `json:"children"`
		} `json:"comments"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 post, got %d", len(views))
	}
	if len(views[0].Comments) != 1 {
		t.Fatalf("expected 1 root comment, got %d", len(views[0].Comments))
	}
	if len(views[0].Comments[0].Children) != 1 {
		t.Errorf("expected reply nested under root comment")
	}
}

func TestLikeFlowAndNotifications(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "hello"})
	var created struct {
		PostID int64 `json:"post_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/like/post/%d", created.PostID), bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("like failed: %d %s", rec.Code, rec.Body)
	}

	// Duplicate like
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/like/post/%d", created.PostID), bob, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for duplicate like, got %d", rec.Code)
	}

	env.bridge.mu.Lock()
	var last notified
	for _, ev := range env.bridge.events {
		if ev.name == "like_update" {
			last = ev
		}
	}
	env.bridge.mu.Unlock()

	update, ok := last.payload.(likeUpdate)
	if !ok {
		t.Fatalf("expected likeUpdate payload, got %T", last.payload)
	}
	if update.PostID != created.PostID || update.LikeCount != 1 {
		t.Errorf("unexpected like_update payload: %+v", update)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/unlike/post/%d", created.PostID), bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unlike failed: %d %s", rec.Code, rec.Body)
	}
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/unlike/post/%d", created.PostID), bob, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 unliking twice, got %d", rec.Code)
	}
}

func TestDeletePostOwnership(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "hello"})
	var created struct {
		PostID int64 `json:"post_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", created.PostID), bob, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-owner, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", created.PostID), alice, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("owner delete failed: %d %s", rec.Code, rec.Body)
	}

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", created.PostID), alice, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted post, got %d", rec.Code)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "alice")
	bob := env.signup(t, "bob")

	rec := env.do(t, http.MethodPost, "/api/post", alice, map[string]string{"content": "hello"})
	var created struct {
		PostID int64 `json:"post_id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/comment/%d", created.PostID), bob,
		map[string]any{"content": "nice"})
	var commented struct {
		Comment feed.CommentNode `json:"comment"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &commented); err != nil {
		t.Fatal(err)
	}

	// Old comment like ages out of the window.
	if rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/like/comment/%d", commented.Comment.ID), bob, nil); rec.Code != http.StatusOK {
		t.Fatalf("old like failed: %d", rec.Code)
	}
	env.clock.Advance(48 * time.Hour)

	if rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/like/post/%d", created.PostID), bob, nil); rec.Code != http.StatusOK {
		t.Fatalf("post like failed: %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/like/comment/%d", commented.Comment.ID), alice, nil); rec.Code != http.StatusOK {
		t.Fatalf("comment like failed: %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/api/leaderboard", 0, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("leaderboard failed: %d", rec.Code)
	}

	var entries []feed.ScoreEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Username != "alice" || entries[0].Total != 5 {
		t.Errorf("expected alice with 5, got %+v", entries[0])
	}
	if entries[1].Username != "bob" || entries[1].Total != 1 {
		t.Errorf("expected bob with 1, got %+v", entries[1])
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", 0, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/feedwire/feedwire/internal/broadcast"
	"github.com/feedwire/feedwire/internal/feed"
	"github.com/feedwire/feedwire/internal/store"
)

type likeUpdate struct {
	PostID    int64 `json:"post_id"`
	LikeCount int   `json:"like_count"`
}

type commentUpdate struct {
	PostID int64 `json:"post_id"`
}

// postView is one feed entry with its comment tree attached.
type postView struct {
	feed.Post
	Comments []*feed.CommentNode `json:"comments"`
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	posts, err := s.store.ListPosts(ctx)
	if err != nil {
		s.logger.Error("listing posts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}

	records, err := s.store.ListComments(ctx)
	if err != nil {
		s.logger.Error("listing comments", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load feed")
		return
	}

	forest := feed.BuildCommentForest(records)

	views := make([]postView, 0, len(posts))
	for _, post := range posts {
		comments := forest[post.ID]
		if comments == nil {
			comments = []*feed.CommentNode{}
		}
		views = append(views, postView{Post: post, Comments: comments})
	}

	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()

	likes, err := s.store.ListLikesSince(r.Context(), now.Add(-feed.Lookback))
	if err != nil {
		s.logger.Error("listing likes", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}

	writeJSON(w, http.StatusOK, feed.ScoreLeaderboard(likes, now))
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request, user *feed.User) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	content := strings.TrimSpace(body.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content cannot be empty")
		return
	}

	post, err := s.store.CreatePost(r.Context(), user.ID, content)
	if err != nil {
		s.logger.Error("creating post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create post")
		return
	}

	s.bridge.Notify(broadcast.EventFeedUpdate, nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "post_id": post.ID})
}

func (s *Server) handleDeletePost(w http.ResponseWriter, r *http.Request, user *feed.User) {
	postID, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	err := s.store.DeletePost(r.Context(), postID, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
		return
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not authorized")
		return
	case err != nil:
		s.logger.Error("deleting post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete post")
		return
	}

	s.bridge.Notify(broadcast.EventFeedUpdate, nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "post deleted"})
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request, user *feed.User) {
	postID, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	var body struct {
		Content string `json:"content"`
		Parent  int64  `json:"parent"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}

	comment, err := s.store.CreateComment(r.Context(), postID, user.ID, body.Parent, body.Content)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
		return
	case err != nil:
		s.logger.Error("creating comment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to add comment")
		return
	}

	s.bridge.Notify(broadcast.EventCommentUpdate, commentUpdate{PostID: postID})
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "comment added",
		"comment": feed.CommentNode{
			CommentRecord: *comment,
			Children:      []*feed.CommentNode{},
		},
	})
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request, user *feed.User) {
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	postID, err := s.store.DeleteComment(r.Context(), commentID, user.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
		return
	case errors.Is(err, store.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not authorized")
		return
	case err != nil:
		s.logger.Error("deleting comment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete comment")
		return
	}

	s.bridge.Notify(broadcast.EventCommentUpdate, commentUpdate{PostID: postID})
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "post_id": postID})
}

func (s *Server) handleLikePost(w http.ResponseWriter, r *http.Request, user *feed.User) {
	postID, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	err := s.store.LikePost(r.Context(), user.ID, postID)
	switch {
	case errors.Is(err, store.ErrDuplicateLike):
		writeError(w, http.StatusBadRequest, "already liked")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "post not found")
		return
	case err != nil:
		s.logger.Error("liking post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to like post")
		return
	}

	s.notifyLikeUpdate(r, postID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "liked"})
}

func (s *Server) handleUnlikePost(w http.ResponseWriter, r *http.Request, user *feed.User) {
	postID, ok := pathID(w, r, "postID")
	if !ok {
		return
	}

	err := s.store.UnlikePost(r.Context(), user.ID, postID)
	switch {
	case errors.Is(err, store.ErrLikeNotFound):
		writeError(w, http.StatusNotFound, "like not found")
		return
	case err != nil:
		s.logger.Error("unliking post", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unlike post")
		return
	}

	s.notifyLikeUpdate(r, postID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "unliked"})
}

func (s *Server) handleLikeComment(w http.ResponseWriter, r *http.Request, user *feed.User) {
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	postID, err := s.store.LikeComment(r.Context(), user.ID, commentID)
	switch {
	case errors.Is(err, store.ErrDuplicateLike):
		writeError(w, http.StatusBadRequest, "already liked")
		return
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "comment not found")
		return
	case err != nil:
		s.logger.Error("liking comment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to like comment")
		return
	}

	s.bridge.Notify(broadcast.EventCommentUpdate, commentUpdate{PostID: postID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnlikeComment(w http.ResponseWriter, r *http.Request, user *feed.User) {
	commentID, ok := pathID(w, r, "commentID")
	if !ok {
		return
	}

	postID, err := s.store.UnlikeComment(r.Context(), user.ID, commentID)
	switch {
	case errors.Is(err, store.ErrLikeNotFound):
		writeError(w, http.StatusNotFound, "like not found")
		return
	case err != nil:
		s.logger.Error("unliking comment", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to unlike comment")
		return
	}

	s.bridge.Notify(broadcast.EventCommentUpdate, commentUpdate{PostID: postID})
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "missing fields")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		s.logger.Error("hashing password", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user, err := s.store.CreateUser(r.Context(), body.Username, string(hash))
	switch {
	case errors.Is(err, store.ErrUserExists):
		writeError(w, http.StatusBadRequest, "user exists")
		return
	case err != nil:
		s.logger.Error("creating user", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "created", "user_id": user.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	user, hash, err := s.store.GetUserByUsername(r.Context(), body.Username)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(hash), []byte(body.Password)) != nil {
		writeError(w, http.StatusBadRequest, "invalid")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "logged",
		"user_id":  user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// notifyLikeUpdate emits like_update with the post's fresh like count.
// A count lookup failure downgrades the payload rather than skipping the
// event; listeners resync on receipt either way.
func (s *Server) notifyLikeUpdate(r *http.Request, postID int64) {
	count, err := s.store.PostLikeCount(r.Context(), postID)
	if err != nil {
		s.logger.Warn("failed to count likes for update", zap.Int64("postID", postID), zap.Error(err))
	}
	s.bridge.Notify(broadcast.EventLikeUpdate, likeUpdate{PostID: postID, LikeCount: count})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

package feed

import "time"

// TargetKind identifies what a like points at.
type TargetKind string

const (
	TargetPost    TargetKind = "post"
	TargetComment TargetKind = "comment"
)

// User is an account that authors posts and comments.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Post is a top-level feed entry, annotated with its like count.
type Post struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	LikeCount int       `json:"like_count"`
}

// CommentRecord is the flat per-request projection of a stored comment.
// ParentID is 0 for top-level comments.
type CommentRecord struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	ParentID  int64     `json:"parent_id,omitempty"`
	PostID    int64     `json:"post_id"`
	CreatedAt time.Time `json:"created_at"`
	LikeCount int       `json:"like_count"`
}

// CommentNode is a CommentRecord with its replies attached.
// Children is never nil so empty reply lists serialize as [].
type CommentNode struct {
	CommentRecord
	Children []*CommentNode `json:"children"`
}

// LikeEvent is the read-only projection of a stored like used for scoring.
// TargetOwner is the username of the liked post's or comment's author.
type LikeEvent struct {
	TargetKind  TargetKind `json:"target_kind"`
	TargetOwner string     `json:"target_owner"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ScoreEntry is one leaderboard row.
type ScoreEntry struct {
	Username string `json:"username"`
	Total    int    `json:"total"`
}

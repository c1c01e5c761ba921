package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/feedwire/feedwire/internal/feed"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            BIGSERIAL PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS posts (
	id         BIGSERIAL PRIMARY KEY,
	author_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS comments (
	id         BIGSERIAL PRIMARY KEY,
	post_id    BIGINT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	author_id  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	parent_id  BIGINT REFERENCES comments(id) ON DELETE SET NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS likes (
	id         BIGSERIAL PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	post_id    BIGINT REFERENCES posts(id) ON DELETE CASCADE,
	comment_id BIGINT REFERENCES comments(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK ((post_id IS NULL) <> (comment_id IS NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS likes_user_post_idx
	ON likes (user_id, post_id) WHERE post_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS likes_user_comment_idx
	ON likes (user_id, comment_id) WHERE comment_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS likes_created_at_idx ON likes (created_at);
`

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	logger.Info("postgres store ready")
	return &Postgres{pool: pool, logger: logger}, nil
}

func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string) (*feed.User, error) {
	u := &feed.User{Username: username}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)
		 RETURNING id, created_at`,
		username, passwordHash,
	).Scan(&u.ID, &u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id int64) (*feed.User, error) {
	u := &feed.User{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT username, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.Username, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return u, nil
}

func (p *Postgres) GetUserByUsername(ctx context.Context, username string) (*feed.User, string, error) {
	u := &feed.User{Username: username}
	var hash string
	err := p.pool.QueryRow(ctx,
		`SELECT id, password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &hash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("selecting user: %w", err)
	}
	return u, hash, nil
}

func (p *Postgres) CreatePost(ctx context.Context, authorID int64, content string) (*feed.Post, error) {
	post := &feed.Post{AuthorID: authorID, Content: content}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO posts (author_id, content) VALUES ($1, $2)
		 RETURNING id, created_at, (SELECT username FROM users WHERE id = $1)`,
		authorID, content,
	).Scan(&post.ID, &post.CreatedAt, &post.Author)
	if err != nil {
		return nil, fmt.Errorf("inserting post: %w", err)
	}
	return post, nil
}

func (p *Postgres) DeletePost(ctx context.Context, id, requesterID int64) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM posts WHERE id = $1 AND author_id = $2`, id, requesterID)
	if err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM posts WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return fmt.Errorf("checking post: %w", err)
		}
		if exists {
			return ErrNotOwner
		}
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CreateComment(ctx context.Context, postID, authorID, parentID int64, content string) (*feed.CommentRecord, error) {
	var parent *int64
	if parentID != 0 {
		parent = &parentID
	}

	rec := &feed.CommentRecord{PostID: postID, AuthorID: authorID, ParentID: parentID, Content: content}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO comments (post_id, author_id, parent_id, content)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at, (SELECT username FROM users WHERE id = $2)`,
		postID, authorID, parent, content,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.Author)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign key
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("inserting comment: %w", err)
	}
	return rec, nil
}

func (p *Postgres) DeleteComment(ctx context.Context, id, requesterID int64) (int64, error) {
	var postID int64
	err := p.pool.QueryRow(ctx,
		`DELETE FROM comments WHERE id = $1 AND author_id = $2 RETURNING post_id`,
		id, requesterID,
	).Scan(&postID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM comments WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return 0, fmt.Errorf("checking comment: %w", err)
		}
		if exists {
			return 0, ErrNotOwner
		}
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("deleting comment: %w", err)
	}
	return postID, nil
}

func (p *Postgres) LikePost(ctx context.Context, userID, postID int64) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO likes (user_id, post_id) VALUES ($1, $2)`, userID, postID)
	if isUniqueViolation(err) {
		return ErrDuplicateLike
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrNotFound
		}
		return fmt.Errorf("inserting like: %w", err)
	}
	return nil
}

func (p *Postgres) LikeComment(ctx context.Context, userID, commentID int64) (int64, error) {
	var postID int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO likes (user_id, comment_id) VALUES ($1, $2)
		 RETURNING (SELECT post_id FROM comments WHERE id = $2)`,
		userID, commentID,
	).Scan(&postID)
	if isUniqueViolation(err) {
		return 0, ErrDuplicateLike
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("inserting comment like: %w", err)
	}
	return postID, nil
}

func (p *Postgres) UnlikePost(ctx context.Context, userID, postID int64) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM likes WHERE user_id = $1 AND post_id = $2`, userID, postID)
	if err != nil {
		return fmt.Errorf("deleting like: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLikeNotFound
	}
	return nil
}

func (p *Postgres) UnlikeComment(ctx context.Context, userID, commentID int64) (int64, error) {
	var postID int64
	err := p.pool.QueryRow(ctx,
		`DELETE FROM likes WHERE user_id = $1 AND comment_id = $2
		 RETURNING (SELECT post_id FROM comments WHERE id = $2)`,
		userID, commentID,
	).Scan(&postID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrLikeNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("deleting comment like: %w", err)
	}
	return postID, nil
}

func (p *Postgres) PostLikeCount(ctx context.Context, postID int64) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM likes WHERE post_id = $1`, postID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting likes: %w", err)
	}
	return count, nil
}

func (p *Postgres) ListPosts(ctx context.Context) ([]feed.Post, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT p.id, u.username, p.author_id, p.content, p.created_at,
		        count(l.id) AS like_count
		 FROM posts p
		 JOIN users u ON u.id = p.author_id
		 LEFT JOIN likes l ON l.post_id = p.id
		 GROUP BY p.id, u.username
		 ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("selecting posts: %w", err)
	}
	defer rows.Close()

	posts := make([]feed.Post, 0)
	for rows.Next() {
		var post feed.Post
		if err := rows.Scan(&post.ID, &post.Author, &post.AuthorID, &post.Content, &post.CreatedAt, &post.LikeCount); err != nil {
			return nil, fmt.Errorf("scanning post: %w", err)
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (p *Postgres) ListComments(ctx context.Context) ([]feed.CommentRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT c.id, u.username, c.author_id, c.content,
		        COALESCE(c.parent_id, 0), c.post_id, c.created_at,
		        count(l.id) AS like_count
		 FROM comments c
		 JOIN users u ON u.id = c.author_id
		 LEFT JOIN likes l ON l.comment_id = c.id
		 GROUP BY c.id, u.username
		 ORDER BY c.created_at ASC, c.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("selecting comments: %w", err)
	}
	defer rows.Close()

	records := make([]feed.CommentRecord, 0)
	for rows.Next() {
		var rec feed.CommentRecord
		if err := rows.Scan(&rec.ID, &rec.Author, &rec.AuthorID, &rec.Content, &rec.ParentID, &rec.PostID, &rec.CreatedAt, &rec.LikeCount); err != nil {
			return nil, fmt.Errorf("scanning comment: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (p *Postgres) ListLikesSince(ctx context.Context, cutoff time.Time) ([]feed.LikeEvent, error) {
	// Inner joins drop likes whose target row is gone.
	rows, err := p.pool.Query(ctx,
		`SELECT 'post', u.username, l.created_at
		 FROM likes l
		 JOIN posts p ON p.id = l.post_id
		 JOIN users u ON u.id = p.author_id
		 WHERE l.created_at >= $1
		 UNION ALL
		 SELECT 'comment', u.username, l.created_at
		 FROM likes l
		 JOIN comments c ON c.id = l.comment_id
		 JOIN users u ON u.id = c.author_id
		 WHERE l.created_at >= $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("selecting likes: %w", err)
	}
	defer rows.Close()

	events := make([]feed.LikeEvent, 0)
	for rows.Next() {
		var ev feed.LikeEvent
		var kind string
		if err := rows.Scan(&kind, &ev.TargetOwner, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning like: %w", err)
		}
		ev.TargetKind = feed.TargetKind(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var _ Store = (*Postgres)(nil)

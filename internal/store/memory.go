package store

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/feedwire/feedwire/internal/feed"
)

type memUser struct {
	id           int64
	username     string
	passwordHash string
	createdAt    time.Time
}

type memPost struct {
	id        int64
	authorID  int64
	content   string
	createdAt time.Time
}

type memComment struct {
	id        int64
	postID    int64
	authorID  int64
	parentID  int64
	content   string
	createdAt time.Time
}

type memLike struct {
	id        int64
	userID    int64
	postID    int64 // zero when the like targets a comment
	commentID int64 // zero when the like targets a post
	createdAt time.Time
}

// Memory is a mutex-guarded in-memory Store. It is the default store
// mode and doubles as the test fixture for the HTTP layer.
type Memory struct {
	mu       sync.RWMutex
	clock    clockwork.Clock
	seq      int64
	users    map[int64]*memUser
	byName   map[string]int64
	posts    map[int64]*memPost
	comments map[int64]*memComment
	likes    map[int64]*memLike
	// Insertion order for deterministic projections.
	postOrder    []int64
	commentOrder []int64
	likeOrder    []int64
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:    clock,
		users:    make(map[int64]*memUser),
		byName:   make(map[string]int64),
		posts:    make(map[int64]*memPost),
		comments: make(map[int64]*memComment),
		likes:    make(map[int64]*memLike),
	}
}

func (m *Memory) nextID() int64 {
	m.seq++
	return m.seq
}

func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string) (*feed.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byName[username]; exists {
		return nil, ErrUserExists
	}

	u := &memUser{
		id:           m.nextID(),
		username:     username,
		passwordHash: passwordHash,
		createdAt:    m.clock.Now(),
	}
	m.users[u.id] = u
	m.byName[username] = u.id

	return &feed.User{ID: u.id, Username: u.username, CreatedAt: u.createdAt}, nil
}

func (m *Memory) GetUserByID(ctx context.Context, id int64) (*feed.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &feed.User{ID: u.id, Username: u.username, CreatedAt: u.createdAt}, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (*feed.User, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, "", ErrNotFound
	}
	u := m.users[id]
	return &feed.User{ID: u.id, Username: u.username, CreatedAt: u.createdAt}, u.passwordHash, nil
}

func (m *Memory) CreatePost(ctx context.Context, authorID int64, content string) (*feed.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	author, ok := m.users[authorID]
	if !ok {
		return nil, ErrNotFound
	}

	p := &memPost{
		id:        m.nextID(),
		authorID:  authorID,
		content:   content,
		createdAt: m.clock.Now(),
	}
	m.posts[p.id] = p
	m.postOrder = append(m.postOrder, p.id)

	return &feed.Post{
		ID:        p.id,
		Author:    author.username,
		AuthorID:  p.authorID,
		Content:   p.content,
		CreatedAt: p.createdAt,
	}, nil
}

func (m *Memory) DeletePost(ctx context.Context, id, requesterID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.posts[id]
	if !ok {
		return ErrNotFound
	}
	if p.authorID != requesterID {
		return ErrNotOwner
	}
	delete(m.posts, id)
	m.postOrder = removeID(m.postOrder, id)

	// Cascade: comments on the post, likes on the post, likes on those comments.
	for cid, c := range m.comments {
		if c.postID == id {
			delete(m.comments, cid)
			m.commentOrder = removeID(m.commentOrder, cid)
		}
	}
	for lid, l := range m.likes {
		if l.postID == id {
			delete(m.likes, lid)
			m.likeOrder = removeID(m.likeOrder, lid)
			continue
		}
		if l.commentID != 0 {
			if _, alive := m.comments[l.commentID]; !alive {
				delete(m.likes, lid)
				m.likeOrder = removeID(m.likeOrder, lid)
			}
		}
	}

	return nil
}

func (m *Memory) CreateComment(ctx context.Context, postID, authorID, parentID int64, content string) (*feed.CommentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[postID]; !ok {
		return nil, ErrNotFound
	}
	author, ok := m.users[authorID]
	if !ok {
		return nil, ErrNotFound
	}

	c := &memComment{
		id:        m.nextID(),
		postID:    postID,
		authorID:  authorID,
		parentID:  parentID,
		content:   content,
		createdAt: m.clock.Now(),
	}
	m.comments[c.id] = c
	m.commentOrder = append(m.commentOrder, c.id)

	return &feed.CommentRecord{
		ID:        c.id,
		Author:    author.username,
		AuthorID:  c.authorID,
		Content:   c.content,
		ParentID:  c.parentID,
		PostID:    c.postID,
		CreatedAt: c.createdAt,
	}, nil
}

func (m *Memory) DeleteComment(ctx context.Context, id, requesterID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[id]
	if !ok {
		return 0, ErrNotFound
	}
	if c.authorID != requesterID {
		return 0, ErrNotOwner
	}
	delete(m.comments, id)
	m.commentOrder = removeID(m.commentOrder, id)

	for lid, l := range m.likes {
		if l.commentID == id {
			delete(m.likes, lid)
			m.likeOrder = removeID(m.likeOrder, lid)
		}
	}

	return c.postID, nil
}

func (m *Memory) LikePost(ctx context.Context, userID, postID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[postID]; !ok {
		return ErrNotFound
	}
	for _, l := range m.likes {
		if l.userID == userID && l.postID == postID {
			return ErrDuplicateLike
		}
	}

	l := &memLike{id: m.nextID(), userID: userID, postID: postID, createdAt: m.clock.Now()}
	m.likes[l.id] = l
	m.likeOrder = append(m.likeOrder, l.id)
	return nil
}

func (m *Memory) LikeComment(ctx context.Context, userID, commentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.comments[commentID]
	if !ok {
		return 0, ErrNotFound
	}
	for _, l := range m.likes {
		if l.userID == userID && l.commentID == commentID {
			return 0, ErrDuplicateLike
		}
	}

	l := &memLike{id: m.nextID(), userID: userID, commentID: commentID, createdAt: m.clock.Now()}
	m.likes[l.id] = l
	m.likeOrder = append(m.likeOrder, l.id)
	return c.postID, nil
}

func (m *Memory) UnlikePost(ctx context.Context, userID, postID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for lid, l := range m.likes {
		if l.userID == userID && l.postID == postID {
			delete(m.likes, lid)
			m.likeOrder = removeID(m.likeOrder, lid)
			return nil
		}
	}
	return ErrLikeNotFound
}

func (m *Memory) UnlikeComment(ctx context.Context, userID, commentID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for lid, l := range m.likes {
		if l.userID == userID && l.commentID == commentID {
			c, ok := m.comments[commentID]
			if !ok {
				return 0, ErrLikeNotFound
			}
			delete(m.likes, lid)
			m.likeOrder = removeID(m.likeOrder, lid)
			return c.postID, nil
		}
	}
	return 0, ErrLikeNotFound
}

func (m *Memory) PostLikeCount(ctx context.Context, postID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.posts[postID]; !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, l := range m.likes {
		if l.postID == postID {
			count++
		}
	}
	return count, nil
}

func (m *Memory) ListPosts(ctx context.Context) ([]feed.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	posts := make([]feed.Post, 0, len(m.postOrder))
	// Newest first.
	for i := len(m.postOrder) - 1; i >= 0; i-- {
		p := m.posts[m.postOrder[i]]
		count := 0
		for _, l := range m.likes {
			if l.postID == p.id {
				count++
			}
		}
		posts = append(posts, feed.Post{
			ID:        p.id,
			Author:    m.users[p.authorID].username,
			AuthorID:  p.authorID,
			Content:   p.content,
			CreatedAt: p.createdAt,
			LikeCount: count,
		})
	}
	return posts, nil
}

func (m *Memory) ListComments(ctx context.Context) ([]feed.CommentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]feed.CommentRecord, 0, len(m.commentOrder))
	for _, cid := range m.commentOrder {
		c := m.comments[cid]
		count := 0
		for _, l := range m.likes {
			if l.commentID == c.id {
				count++
			}
		}
		records = append(records, feed.CommentRecord{
			ID:        c.id,
			Author:    m.users[c.authorID].username,
			AuthorID:  c.authorID,
			Content:   c.content,
			ParentID:  c.parentID,
			PostID:    c.postID,
			CreatedAt: c.createdAt,
			LikeCount: count,
		})
	}
	return records, nil
}

func (m *Memory) ListLikesSince(ctx context.Context, cutoff time.Time) ([]feed.LikeEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]feed.LikeEvent, 0, len(m.likeOrder))
	for _, lid := range m.likeOrder {
		l := m.likes[lid]
		if l.createdAt.Before(cutoff) {
			continue
		}

		var kind feed.TargetKind
		var ownerID int64
		if l.postID != 0 {
			p, ok := m.posts[l.postID]
			if !ok {
				continue
			}
			kind = feed.TargetPost
			ownerID = p.authorID
		} else {
			c, ok := m.comments[l.commentID]
			if !ok {
				continue
			}
			kind = feed.TargetComment
			ownerID = c.authorID
		}

		owner, ok := m.users[ownerID]
		if !ok {
			continue
		}
		events = append(events, feed.LikeEvent{
			TargetKind:  kind,
			TargetOwner: owner.username,
			CreatedAt:   l.createdAt,
		})
	}
	return events, nil
}

func (m *Memory) Close() {}

func removeID(ids []int64, id int64) []int64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

var _ Store = (*Memory)(nil)

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/queue"
)

type memPostRepo struct {
	mu      sync.Mutex
	posts   map[int64]*models.Post
	nextID  int64
	saveErr error
	saves   int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{posts: make(map[int64]*models.Post)}
}

func clonePost(p *models.Post) *models.Post {
	c := *p
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		c.ScheduledAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		c.PublishedAt = &t
	}
	c.Segments = append(models.Segments(nil), p.Segments...)
	c.MediaRefs = append([]string(nil), p.MediaRefs...)
	return &c
}

func (r *memPostRepo) GetByID(_ context.Context, id int64) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return nil, nil
	}
	return clonePost(p), nil
}

func (r *memPostRepo) GetByPublicID(_ context.Context, userID int64, publicID string) (*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.posts {
		if p.UserID == userID && p.PublicID == publicID {
			return clonePost(p), nil
		}
	}
	return nil, nil
}

func (r *memPostRepo) Create(_ context.Context, _ *sql.Tx, post *models.Post) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	post.ID = r.nextID
	post.CreatedAt = time.Now()
	post.UpdatedAt = post.CreatedAt
	r.posts[post.ID] = clonePost(post)
	return post.ID, nil
}

func (r *memPostRepo) GetByUserID(_ context.Context, userID int64, status models.PostStatus) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.UserID == userID && (status == "" || p.Status == status) {
			out = append(out, clonePost(p))
		}
	}
	return out, nil
}

func (r *memPostRepo) ListOverdueScheduled(_ context.Context, before time.Time, limit int) ([]*models.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Post
	for _, p := range r.posts {
		if p.Status == models.PostStatusScheduled && p.ScheduledAt != nil && p.ScheduledAt.Before(before) {
			out = append(out, clonePost(p))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memPostRepo) Save(_ context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.posts[post.ID]; !ok {
		return models.ErrPostNotFound
	}
	r.saves++
	post.UpdatedAt = time.Now()
	r.posts[post.ID] = clonePost(post)
	return nil
}

func (r *memPostRepo) Remove(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.posts, id)
	return nil
}

func (r *memPostRepo) put(p *models.Post) *models.Post {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p.ID = r.nextID
	r.posts[p.ID] = clonePost(p)
	return p
}

func (r *memPostRepo) get(id int64) *models.Post {
	p, _ := r.GetByID(context.Background(), id)
	return p
}

// fakeJobs tracks live delayed jobs per post.
type fakeJobs struct {
	mu        sync.Mutex
	seq       int
	live      map[string]int64
	fireAt    map[string]time.Time
	createErr error
	cancelErr error
	creates   int
	cancels   int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{live: make(map[string]int64), fireAt: make(map[string]time.Time)}
}

func (f *fakeJobs) CreateJob(_ context.Context, fireAt time.Time, postID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.seq++
	id := fmt.Sprintf("job-%d", f.seq)
	f.live[id] = postID
	f.fireAt[id] = fireAt
	return id, nil
}

func (f *fakeJobs) CancelJob(_ context.Context, jobID string) (queue.CancelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.cancelErr != nil {
		return queue.CancelOK, f.cancelErr
	}
	if _, ok := f.live[jobID]; !ok {
		return queue.CancelAlreadyGone, nil
	}
	delete(f.live, jobID)
	return queue.CancelOK, nil
}

func (f *fakeJobs) liveFor(postID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, p := range f.live {
		if p == postID {
			ids = append(ids, id)
		}
	}
	return ids
}

type stubAccounts struct {
	account *models.SocialAccount
	err     error
	owned   bool
}

func (s *stubAccounts) GetByID(_ context.Context, _ int64) (*models.SocialAccount, error) {
	return s.account, s.err
}

func (s *stubAccounts) CheckByUserID(_ context.Context, _, _ int64) (bool, error) {
	return s.owned, s.err
}

type memHistory struct {
	mu      sync.Mutex
	entries []*models.PostingHistory
}

func (h *memHistory) Create(_ context.Context, ph *models.PostingHistory) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, ph)
	return int64(len(h.entries)), nil
}

type publisherFunc func(ctx context.Context, req PublishRequest) (string, error)

func (f publisherFunc) Publish(ctx context.Context, req PublishRequest) (string, error) {
	return f(ctx, req)
}

// failingThen fails n times, then returns ids ext-<call>.
func failingThen(n int) (publisherFunc, *int) {
	calls := 0
	var mu sync.Mutex
	return func(_ context.Context, _ PublishRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= n {
			return "", fmt.Errorf("platform error %d", calls)
		}
		return fmt.Sprintf("ext-%d", calls), nil
	}, &calls
}

func alwaysFailing() publisherFunc {
	return func(_ context.Context, _ PublishRequest) (string, error) {
		return "", errors.New("media processing failed")
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(_ context.Context, event string, _ *models.Post) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

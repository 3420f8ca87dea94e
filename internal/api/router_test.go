package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/ratelimit"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type postServiceStub struct {
	service.PostService
	create     func(userID int64, pc *transfer.PostCreation) (*models.Post, error)
	schedule   func(userID int64, req *transfer.ScheduleRequest) (*models.Post, error)
	publishNow func(userID int64, id string) (*models.Post, error)
	list       func(userID int64, status models.PostStatus) ([]*models.Post, error)
	fire       func(postID int64, jobID string) error
}

func (s *postServiceStub) CreatePost(_ context.Context, userID int64, pc *transfer.PostCreation) (*models.Post, error) {
	return s.create(userID, pc)
}

func (s *postServiceStub) Schedule(_ context.Context, userID int64, req *transfer.ScheduleRequest) (*models.Post, error) {
	return s.schedule(userID, req)
}

func (s *postServiceStub) PublishNow(_ context.Context, userID int64, id string) (*models.Post, error) {
	return s.publishNow(userID, id)
}

func (s *postServiceStub) List(_ context.Context, userID int64, status models.PostStatus) ([]*models.Post, error) {
	return s.list(userID, status)
}

func (s *postServiceStub) FireJob(_ context.Context, postID int64, jobID string) error {
	return s.fire(postID, jobID)
}

type mediaStub struct {
	fail map[int]bool
	n    int
}

func (m *mediaStub) Upload(_ context.Context, _ int64, data []byte) (string, error) {
	m.n++
	if m.fail[m.n] {
		return "", errors.New("bad file")
	}
	return fmt.Sprintf("ref-%s", data), nil
}

func (m *mediaStub) Remove(context.Context, int64, []string) error { return nil }

func newTestApp(t *testing.T, posts *postServiceStub, media service.MediaService, uploadLimit int) *fiber.App {
	t.Helper()
	cfg := config.Config{SecretKey: testSecret, CookieName: "session"}
	cfg.Scheduler.WebhookSecret = "hook-secret"
	cfg.RateLimit.Upload = uploadLimit

	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(100), map[string]ratelimit.Rule{
		config.OpUpload: {Limit: uploadLimit, Window: time.Minute},
	})

	app := fiber.New()
	Register(app, Deps{Config: cfg, Posts: posts, Media: media, Fire: posts, Limiter: limiter})
	return app
}

func authed(t *testing.T, req *http.Request) *http.Request {
	t.Helper()
	token, err := utils.GenerateToken(testSecret, "10", time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func jsonRequest(method, url string, body any) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, url, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestRouter_CreatePostReturnsDraftOnFollowUpError(t *testing.T) {
	posts := &postServiceStub{create: func(_ int64, pc *transfer.PostCreation) (*models.Post, error) {
		return &models.Post{PublicID: "draft1", Body: pc.Body, Status: models.PostStatusDraft},
			&models.PublishError{Attempts: 3, Err: errors.New("platform down")}
	}}
	app := newTestApp(t, posts, &mediaStub{}, 10)

	resp, err := app.Test(authed(t, jsonRequest(http.MethodPost, "/api/posts/create",
		transfer.PostCreation{Body: "A", SourceAccountID: 3, PublishNow: true})))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode(t, resp)
	assert.Contains(t, body["error"], "platform down")
	post, ok := body["post"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "draft1", post["id"])
	assert.Equal(t, "draft", post["status"])
}

func TestRouter_RequiresAuth(t *testing.T) {
	app := newTestApp(t, &postServiceStub{}, &mediaStub{}, 10)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/posts", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/posts", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouter_CreatePost(t *testing.T) {
	var gotUser int64
	posts := &postServiceStub{create: func(userID int64, pc *transfer.PostCreation) (*models.Post, error) {
		gotUser = userID
		return &models.Post{PublicID: "abc", Body: pc.Body, Status: models.PostStatusDraft}, nil
	}}
	app := newTestApp(t, posts, &mediaStub{}, 10)

	resp, err := app.Test(authed(t, jsonRequest(http.MethodPost, "/api/posts/create",
		transfer.PostCreation{Body: "A", SourceAccountID: 3})))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, "draft", body["status"])
	assert.Equal(t, int64(10), gotUser)
}

func TestRouter_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid transition", fmt.Errorf("%w: cannot publish-now a post that is posted", models.ErrInvalidTransition), http.StatusConflict},
		{"invalid schedule", fmt.Errorf("%w: too far", models.ErrInvalidSchedule), http.StatusBadRequest},
		{"invalid timezone", fmt.Errorf("%w: Mars/Base", models.ErrInvalidTimezone), http.StatusBadRequest},
		{"not found", models.ErrPostNotFound, http.StatusNotFound},
		{"publish failed", &models.PublishError{Attempts: 3, Err: errors.New("boom")}, http.StatusBadGateway},
		{"scheduler down", fmt.Errorf("%w: redis", models.ErrSchedulerUnavailable), http.StatusServiceUnavailable},
		{"storage", fmt.Errorf("%w: disk", models.ErrStorage), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts := &postServiceStub{publishNow: func(int64, string) (*models.Post, error) { return nil, tt.err }}
			app := newTestApp(t, posts, &mediaStub{}, 10)

			resp, err := app.Test(authed(t, httptest.NewRequest(http.MethodPost, "/api/posts/publish?id=abc", nil)))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRouter_RateLimitedResponse(t *testing.T) {
	reset := time.Now().Add(30 * time.Second)
	posts := &postServiceStub{schedule: func(int64, *transfer.ScheduleRequest) (*models.Post, error) {
		return nil, &models.RateLimitError{Operation: config.OpSchedule, Remaining: 0, ResetAt: reset}
	}}
	app := newTestApp(t, posts, &mediaStub{}, 10)

	resp, err := app.Test(authed(t, jsonRequest(http.MethodPost, "/api/posts/schedule",
		transfer.ScheduleRequest{ID: "abc", ScheduledTime: "2026-01-01T10:00", Timezone: "UTC"})))
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
	assert.Equal(t, float64(0), decode(t, resp)["remaining"])
}

func TestRouter_ListStatusFilter(t *testing.T) {
	var got models.PostStatus
	posts := &postServiceStub{list: func(_ int64, status models.PostStatus) ([]*models.Post, error) {
		got = status
		return nil, nil
	}}
	app := newTestApp(t, posts, &mediaStub{}, 10)

	resp, err := app.Test(authed(t, httptest.NewRequest(http.MethodGet, "/api/posts?status=scheduled", nil)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.PostStatusScheduled, got)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "[]", strings.TrimSpace(string(b)))

	resp, err = app.Test(authed(t, httptest.NewRequest(http.MethodGet, "/api/posts?status=weird", nil)))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_SchedulerWebhook(t *testing.T) {
	var fired []string
	posts := &postServiceStub{fire: func(postID int64, jobID string) error {
		fired = append(fired, fmt.Sprintf("%d/%s", postID, jobID))
		if jobID == "bad" {
			return &models.PublishError{Attempts: 3, Err: errors.New("boom")}
		}
		return nil
	}}
	app := newTestApp(t, posts, &mediaStub{}, 10)

	req := jsonRequest(http.MethodPost, "/hooks/scheduler", transfer.SchedulerWebhook{PostID: 4, JobID: "j1"})
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req = jsonRequest(http.MethodPost, "/hooks/scheduler", transfer.SchedulerWebhook{PostID: 4, JobID: "j1"})
	req.Header.Set("X-Scheduler-Secret", "hook-secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req = jsonRequest(http.MethodPost, "/hooks/scheduler", transfer.SchedulerWebhook{PostID: 4, JobID: "bad"})
	req.Header.Set("X-Scheduler-Secret", "hook-secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "failed", decode(t, resp)["status"])

	req = jsonRequest(http.MethodPost, "/hooks/scheduler", transfer.SchedulerWebhook{JobID: "j1"})
	req.Header.Set("X-Scheduler-Secret", "hook-secret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, []string{"4/j1", "4/bad"}, fired)
}

func multipartUpload(t *testing.T, files []string, slots string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for i, content := range files {
		fw, err := w.CreateFormFile("files", fmt.Sprintf("f%d.png", i))
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	if slots != "" {
		require.NoError(t, w.WriteField("slots", slots))
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestRouter_UploadReportsEverySlot(t *testing.T) {
	app := newTestApp(t, &postServiceStub{}, &mediaStub{fail: map[int]bool{2: true}}, 10)

	req := multipartUpload(t, []string{"a", "b", "c"}, `[{"segment":0,"index":0},{"segment":1,"index":0},{"segment":1,"index":1}]`)
	resp, err := app.Test(authed(t, req), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	assert.Equal(t, "9", resp.Header.Get("X-RateLimit-Remaining"))

	var body struct {
		Results []transfer.UploadResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 3)
	assert.Equal(t, "uploaded", body.Results[0].Status)
	assert.Equal(t, "ref-a", body.Results[0].MediaRef)
	assert.Equal(t, "failed", body.Results[1].Status)
	assert.Equal(t, "bad file", body.Results[1].Error)
	assert.Equal(t, "uploaded", body.Results[2].Status)
	assert.Equal(t, "segment[1].media[1]", body.Results[2].Slot)
}

func TestRouter_UploadRateLimited(t *testing.T) {
	app := newTestApp(t, &postServiceStub{}, &mediaStub{}, 1)

	resp, err := app.Test(authed(t, multipartUpload(t, []string{"a"}, "")), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(authed(t, multipartUpload(t, []string{"a"}, "")), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRouter_Healthz(t *testing.T) {
	app := newTestApp(t, &postServiceStub{}, &mediaStub{}, 10)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

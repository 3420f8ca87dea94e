package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/pkg/utils"
	"golang.org/x/time/rate"
)

// ThreadsService publishes through the Threads Graph API. Each item is a
// container that is then published; thread segments reply to the previous
// item so they read in order.
type ThreadsService struct {
	baseURL   string
	secretKey string
	media     func(ref string) string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewThreadsService(c config.Config, media func(ref string) string) *ThreadsService {
	perSec := c.Publish.RatePerSec
	if perSec <= 0 {
		perSec = 5
	}
	return &ThreadsService{
		baseURL:   strings.TrimRight(c.Publish.ThreadsAPIURL, "/"),
		secretKey: c.SecretKey,
		media:     media,
		client:    &http.Client{Timeout: 60 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

// Publish returns the id of the first published item. Items already listed
// in req.Progress are not sent again; the next one replies to the last of them.
func (t *ThreadsService) Publish(ctx context.Context, req PublishRequest) (string, error) {
	if req.Account == nil {
		return "", errors.New("no target account")
	}

	token, err := utils.Decrypt(req.Account.AccessToken, []byte(t.secretKey))
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}

	items := req.Segments
	if len(items) == 0 {
		items = []models.Segment{{Text: req.Content, MediaRefs: req.MediaRefs}}
	}

	progress := req.Progress
	if progress == nil {
		progress = &PublishProgress{}
	}

	var replyTo string
	if n := len(progress.Published); n > 0 {
		replyTo = progress.Published[n-1]
	}
	for i := len(progress.Published); i < len(items); i++ {
		containerID, err := t.createItem(ctx, req.Account.AccountID, token, items[i], replyTo)
		if err != nil {
			return "", fmt.Errorf("segment %d: %w", i+1, err)
		}
		publishedID, err := t.publishContainer(ctx, req.Account.AccountID, token, containerID)
		if err != nil {
			return "", fmt.Errorf("segment %d: %w", i+1, err)
		}
		progress.Published = append(progress.Published, publishedID)
		replyTo = publishedID
	}

	rootID := progress.root()
	slog.Info("published to threads", "account_id", req.Account.AccountID, "external_id", rootID, "items", len(items))
	return rootID, nil
}

func (t *ThreadsService) createItem(ctx context.Context, userID, token string, seg models.Segment, replyTo string) (string, error) {
	params := url.Values{}
	params.Set("text", seg.Text)
	if replyTo != "" {
		params.Set("reply_to_id", replyTo)
	}

	refs := seg.MediaRefs
	if len(refs) > models.MaxMediaPerItem {
		return "", fmt.Errorf("%w: %d media items, at most %d", models.ErrValidation, len(refs), models.MaxMediaPerItem)
	}

	switch len(refs) {
	case 0:
		params.Set("media_type", "TEXT")
	case 1:
		setMedia(params, refs[0], t.media(refs[0]))
	default:
		children := make([]string, 0, len(refs))
		for _, ref := range refs {
			p := url.Values{}
			p.Set("is_carousel_item", "true")
			setMedia(p, ref, t.media(ref))
			id, err := t.createContainer(ctx, userID, token, p)
			if err != nil {
				return "", err
			}
			children = append(children, id)
		}
		params.Set("media_type", "CAROUSEL")
		params.Set("children", strings.Join(children, ","))
	}

	return t.createContainer(ctx, userID, token, params)
}

func setMedia(params url.Values, ref, mediaURL string) {
	switch strings.ToLower(path.Ext(ref)) {
	case ".mp4", ".mov":
		params.Set("media_type", "VIDEO")
		params.Set("video_url", mediaURL)
	default:
		params.Set("media_type", "IMAGE")
		params.Set("image_url", mediaURL)
	}
}

func (t *ThreadsService) createContainer(ctx context.Context, userID, token string, params url.Values) (string, error) {
	endpoint := fmt.Sprintf("%s/%s/threads", t.baseURL, userID)
	return t.post(ctx, endpoint, token, params)
}

func (t *ThreadsService) publishContainer(ctx context.Context, userID, token, containerID string) (string, error) {
	params := url.Values{}
	params.Set("creation_id", containerID)
	endpoint := fmt.Sprintf("%s/%s/threads_publish", t.baseURL, userID)
	return t.post(ctx, endpoint, token, params)
}

func (t *ThreadsService) post(ctx context.Context, endpoint, token string, params url.Values) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}

	params.Set("access_token", token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("threads request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read threads response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr transfer.ThreadsErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("threads api error (%d): %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return "", fmt.Errorf("threads api returned status %d", resp.StatusCode)
	}

	var out transfer.ThreadsContainerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode threads response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("threads response has no id")
	}
	return out.ID, nil
}

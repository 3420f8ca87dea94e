package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/types"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var allowedMediaTypes = map[string]struct{}{
	"mp4": {}, "mov": {}, "jpg": {}, "png": {}, "gif": {}, "webp": {},
}

const maxMediaBytes = 100 << 20

type MediaService interface {
	Upload(ctx context.Context, userID int64, data []byte) (string, error)
	Remove(ctx context.Context, userID int64, refs []string) error
}

type mediaService struct {
	store ObjectStore
	ma    repository.MediaAssetRepository
	newID func() (string, error)
}

func NewMediaService(store ObjectStore, ma repository.MediaAssetRepository) MediaService {
	return &mediaService{
		store: store,
		ma:    ma,
		newID: func() (string, error) { return gonanoid.New() },
	}
}

// Upload stores one media file and returns its reference, the object key.
func (s *mediaService) Upload(ctx context.Context, userID int64, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty file", models.ErrValidation)
	}
	if len(data) > maxMediaBytes {
		return "", fmt.Errorf("%w: file larger than %d bytes", models.ErrValidation, maxMediaBytes)
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == types.Unknown {
		return "", fmt.Errorf("%w: unsupported file type", models.ErrValidation)
	}
	if _, ok := allowedMediaTypes[kind.Extension]; !ok {
		return "", fmt.Errorf("%w: file type %s is not allowed", models.ErrValidation, kind.Extension)
	}

	id, err := s.newID()
	if err != nil {
		slog.Info(err.Error())
		return "", err
	}
	key := id + "." + kind.Extension

	if err := s.store.Put(ctx, key, data, kind.MIME.Value); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}

	asset := models.MediaAsset{
		UserID:   userID,
		FileName: key,
		FileType: kind.MIME.Value,
		FileSize: int64(len(data)),
		FileURL:  s.store.URL(key),
	}
	if _, err := s.ma.Create(ctx, nil, &asset); err != nil {
		if derr := s.store.Delete(context.WithoutCancel(ctx), []string{key}); derr != nil {
			slog.Warn("failed to delete orphaned media", "key", key, "error", derr)
		}
		return "", fmt.Errorf("%w: record media %s: %v", models.ErrStorage, key, err)
	}

	return key, nil
}

// Remove deletes media owned by userID. References the user does not own are
// ignored.
func (s *mediaService) Remove(ctx context.Context, userID int64, refs []string) error {
	if len(refs) == 0 {
		return nil
	}

	assets, err := s.ma.ListByFileNames(ctx, userID, refs)
	if err != nil {
		return fmt.Errorf("%w: list media: %v", models.ErrStorage, err)
	}
	if len(assets) == 0 {
		return nil
	}

	keys := make([]string, 0, len(assets))
	for _, a := range assets {
		keys = append(keys, a.FileName)
	}

	var errs []error
	if err := s.store.Delete(ctx, keys); err != nil {
		errs = append(errs, fmt.Errorf("delete objects: %w", err))
	}
	if _, err := s.ma.RemoveByFileNames(ctx, userID, keys); err != nil {
		errs = append(errs, fmt.Errorf("%w: remove media records: %v", models.ErrStorage, err))
	}
	return errors.Join(errs...)
}

package service

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/UnendingLoop/ImageVault/internal/imageproc"
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/UnendingLoop/ImageVault/internal/mwlogger"
)

// GetDetail - cache-aside под image_{id}; отдает сериализованную карточку как есть,
// чтобы повторные чтения в пределах TTL были байт-в-байт одинаковыми
func (s *AssetService) GetDetail(ctx context.Context, id string) ([]byte, error) {
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}

	return s.cached(ctx, model.DetailCacheKey(uid), func() (any, error) {
		return s.repo.Get(ctx, uid)
	})
}

// ListAll - то же самое под одним ключом на весь список
func (s *AssetService) ListAll(ctx context.Context) ([]byte, error) {
	return s.cached(ctx, model.ListCacheKey, func() (any, error) {
		return s.repo.List(ctx)
	})
}

func (s *AssetService) cached(ctx context.Context, key string, load func() (any, error)) ([]byte, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	data, ok, err := s.views.Get(ctx, key)
	switch {
	case err != nil:
		// кэш недоступен - это промах, а не ошибка запроса
		logger.Warn().Err(err).Str("key", key).Msg("View cache read failed, falling back to DB")
	case ok:
		return data, nil
	}

	view, err := load()
	if err != nil {
		switch {
		case errors.Is(err, model.ErrImageNotFound):
			return nil, model.ErrImageNotFound // 404
		default:
			logger.Error().Err(err).Str("key", key).Msg("Failed to load view from DB")
			return nil, model.ErrCommon500 // 500
		}
	}

	data, err = json.Marshal(view)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to serialize view")
		return nil, model.ErrCommon500
	}

	if err := s.views.Put(ctx, key, data, s.viewTTL); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to populate view cache")
	}
	return data, nil
}

// GetMedia - байты только из кэша, база не спрашивается; content-type - по содержимому
func (s *AssetService) GetMedia(ctx context.Context, key string) (*model.Media, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	if strings.TrimSpace(key) == "" {
		return nil, model.FieldErrors{"file_path": "this field is required"}
	}

	data, ok, err := s.payloads.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Failed to read variant bytes from cache")
		return nil, model.ErrCommon500
	}
	if !ok {
		return nil, model.ErrMediaNotFound
	}

	return &model.Media{
		Data:        data,
		ContentType: imageproc.SniffContentType(data),
		Filename:    path.Base(key),
	}, nil
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/UnendingLoop/ImageVault/internal/imageproc"
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/UnendingLoop/ImageVault/internal/mwlogger"
	"github.com/UnendingLoop/ImageVault/internal/repository"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"
)

// ingestion - состояние одной загрузки; переходы только вперед, Failed - до коммита
type ingestion struct {
	id     uuid.UUID
	state  model.IngestState
	logger zlog.Zerolog
}

func (in *ingestion) advance(next model.IngestState) {
	in.logger.Debug().
		Str("asset_id", in.id.String()).
		Str("from", string(in.state)).
		Str("to", string(next)).
		Msg("ingestion state changed")
	in.state = next
}

func (in *ingestion) fail(err error) error {
	in.logger.Warn().Err(err).
		Str("asset_id", in.id.String()).
		Str("failed_at", string(in.state)).
		Msg("ingestion failed")
	in.state = model.StateFailed
	return err
}

// Create - Received -> Decoded -> Derived -> Persisted -> Cached -> Published -> Done.
// Все, что до коммита, откатывается без следов; все, что после, только логируется.
func (s *AssetService) Create(ctx context.Context, raw *model.AssetCreateData) (*model.Asset, error) {
	logger := mwlogger.LoggerFromContext(ctx)
	in := &ingestion{id: uuid.New(), state: model.StateReceived, logger: logger}

	// Валидируем поля формы
	if err := validateNormalizeCreate(raw); err != nil {
		return nil, in.fail(err)
	}

	src, err := readUpload(raw)
	if err != nil {
		return nil, in.fail(err)
	}

	// Received -> Decoded
	_, decoderName, err := s.deriver.Inspect(src)
	if err != nil {
		return nil, in.fail(fmt.Errorf("%w: %v", model.ErrInvalidImage, err))
	}
	in.advance(model.StateDecoded)

	// Decoded -> Derived
	srcFormat := declaredFormat(raw.DeclaredCType, src, decoderName, imageproc.SniffFormatTag)
	renditions, err := s.deriver.Derive(src, srcFormat, s.targets)
	if err != nil {
		if errors.Is(err, model.ErrDecode) {
			return nil, in.fail(fmt.Errorf("%w: %v", model.ErrInvalidImage, err))
		}
		return nil, in.fail(fmt.Errorf("%w: %v", model.ErrDerivation, err))
	}
	in.advance(model.StateDerived)

	// Derived -> Persisted: ассет и все варианты одной транзакцией
	asset, err := s.persist(ctx, in.id, raw.Name, raw.Tag, renditions)
	if err != nil {
		logger.Error().Err(err).Str("asset_id", in.id.String()).Msg("Failed to persist asset with variants")
		return nil, in.fail(model.ErrPersistence)
	}
	in.advance(model.StatePersisted)

	// Persisted -> Cached: ошибки кэша не откатывают строки, чтение восстановит вью из базы
	for i, r := range renditions {
		key := asset.Variants[i].CacheKey
		if err := s.payloads.Put(ctx, key, r.Data, 0); err != nil {
			logger.Error().Err(err).Str("asset_id", in.id.String()).Str("key", key).Msg("Failed to cache variant bytes")
		}
	}
	in.advance(model.StateCached)

	// Cached -> Published
	if err := s.publish(ctx, model.EventCreate, asset); err != nil {
		logger.Error().Err(err).Str("asset_id", in.id.String()).Msg("Failed to publish create event")
	}
	in.advance(model.StatePublished)

	// Published -> Done
	if err := s.views.Delete(ctx, model.ListCacheKey); err != nil {
		logger.Error().Err(err).Str("key", model.ListCacheKey).Msg("Failed to invalidate list view")
	}
	in.advance(model.StateDone)

	return asset, nil
}

func (s *AssetService) persist(ctx context.Context, id uuid.UUID, name, tag string, renditions []model.Rendition) (*model.Asset, error) {
	var asset *model.Asset

	err := s.repo.WithinTx(ctx, func(w repository.AssetWriter) error {
		a, err := w.CreateAsset(ctx, id, name, tag)
		if err != nil {
			return err
		}

		variants := make([]model.Variant, 0, len(renditions))
		for _, r := range renditions {
			v, err := w.AddVariant(ctx, model.Variant{
				AssetID:    id,
				Resolution: r.Resolution,
				CacheKey:   model.VariantCacheKey(id, r.Resolution),
				Size:       int64(len(r.Data)),
				Format:     r.Format,
				Width:      r.Width,
				Height:     r.Height,
			})
			if err != nil {
				return err
			}
			variants = append(variants, *v)
		}

		a.Variants = variants
		asset = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

// Update - только метаданные; варианты не трогаются
func (s *AssetService) Update(ctx context.Context, id string, upd model.AssetUpdate) (*model.Asset, error) {
	logger := mwlogger.LoggerFromContext(ctx)

	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if err := validateNormalizeUpdate(&upd); err != nil {
		return nil, err
	}

	res, err := s.repo.Update(ctx, uid, upd)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrImageNotFound):
			return nil, model.ErrImageNotFound // 404
		default:
			logger.Error().Err(err).Str("asset_id", id).Msg("Failed to update asset in DB")
			return nil, model.ErrPersistence // 500
		}
	}

	if err := s.views.Delete(ctx, model.DetailCacheKey(uid), model.ListCacheKey); err != nil {
		logger.Error().Err(err).Str("asset_id", id).Msg("Failed to invalidate views after update")
	}

	if err := s.publish(ctx, model.EventUpdate, res); err != nil {
		logger.Error().Err(err).Str("asset_id", id).Msg("Failed to publish update event")
	}

	return res, nil
}

// Delete - строки удаляются транзакцией, потом вычищаются байты вариантов и вью
func (s *AssetService) Delete(ctx context.Context, id string) error {
	logger := mwlogger.LoggerFromContext(ctx)

	uid, err := parseID(id)
	if err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, uid)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrImageNotFound):
			return model.ErrImageNotFound // 404
		default:
			logger.Error().Err(err).Str("asset_id", id).Msg("Failed to delete asset from DB")
			return model.ErrPersistence // 500
		}
	}

	// ключи по фиксированному списку размеров + то, что реально лежало в базе
	rowKeys := make([]string, 0, len(deleted.Variants))
	for _, v := range deleted.Variants {
		rowKeys = append(rowKeys, v.CacheKey)
	}
	keys := model.MergeKeys(model.KnownVariantKeys(uid, s.targets), rowKeys)

	if err := s.payloads.Delete(ctx, keys...); err != nil {
		logger.Error().Err(err).Str("asset_id", id).Strs("keys", keys).Msg("Failed to evict variant bytes")
	}
	if err := s.views.Delete(ctx, model.DetailCacheKey(uid), model.ListCacheKey); err != nil {
		logger.Error().Err(err).Str("asset_id", id).Msg("Failed to invalidate views after delete")
	}

	if err := s.publish(ctx, model.EventDelete, deleted); err != nil {
		logger.Error().Err(err).Str("asset_id", id).Msg("Failed to publish delete event")
	}

	return nil
}

// Package service provides business-logic for the app: the ingestion pipeline,
// metadata mutations and the cache-aside read path.
package service

import (
	"context"
	"image"
	"log"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/UnendingLoop/ImageVault/internal/repository"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// BlobCache - контракт для работы с кэшем (и view-кэш, и байты вариантов)
type BlobCache interface {
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// EventPublisher - контракт для отправки событий
type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// VariantDeriver - контракт для деривации вариантов
type VariantDeriver interface {
	Inspect(src []byte) (image.Config, string, error)
	Derive(src []byte, srcFormat string, targets []model.TargetSpec) ([]model.Rendition, error)
}

const (
	defaultViewTTL = time.Hour
	publishTimeout = 3 * time.Second
)

type AssetService struct {
	repo      repository.AssetRepo
	views     BlobCache
	payloads  BlobCache
	publisher EventPublisher
	deriver   VariantDeriver
	targets   []model.TargetSpec
	viewTTL   time.Duration
}

func NewAssetService(cfg envcfg.Getter, repo repository.AssetRepo, views, payloads BlobCache, pub EventPublisher, der VariantDeriver) *AssetService {
	viewTTL := cfg.GetDuration("VIEW_CACHE_TTL")
	if viewTTL <= 0 {
		log.Printf("Incorrect VIEW_CACHE_TTL %v, using default %v", viewTTL, defaultViewTTL)
		viewTTL = defaultViewTTL
	}

	return &AssetService{
		repo:      repo,
		views:     views,
		payloads:  payloads,
		publisher: pub,
		deriver:   der,
		targets:   model.DefaultTargets,
		viewTTL:   viewTTL,
	}
}

// publish - fire-and-forget: ошибка только логируется, мутация уже закоммичена
func (s *AssetService) publish(ctx context.Context, t model.EventType, a *model.Asset) error {
	// запрос мог уже завершиться - отправку это не должно отменять
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	return s.publisher.Publish(pubCtx, model.NewEvent(t, a))
}

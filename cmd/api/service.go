package main

import (
	"context"

	"github.com/UnendingLoop/ImageVault/internal/model"
)

type AssetAPIService interface {
	Create(ctx context.Context, raw *model.AssetCreateData) (*model.Asset, error)
	ListAll(ctx context.Context) ([]byte, error)
	GetDetail(ctx context.Context, id string) ([]byte, error)
	Update(ctx context.Context, id string, upd model.AssetUpdate) (*model.Asset, error)
	Delete(ctx context.Context, id string) error
	GetMedia(ctx context.Context, key string) (*model.Media, error)
}

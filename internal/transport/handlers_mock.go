package transport

import (
	"context"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/gin-gonic/gin"
)

type mockAssetService struct {
	createFn    func(ctx context.Context, d *model.AssetCreateData) (*model.Asset, error)
	listAllFn   func(ctx context.Context) ([]byte, error)
	getDetailFn func(ctx context.Context, id string) ([]byte, error)
	updateFn    func(ctx context.Context, id string, upd model.AssetUpdate) (*model.Asset, error)
	deleteFn    func(ctx context.Context, id string) error
	getMediaFn  func(ctx context.Context, key string) (*model.Media, error)
}

func (m *mockAssetService) Create(ctx context.Context, d *model.AssetCreateData) (*model.Asset, error) {
	return m.createFn(ctx, d)
}

func (m *mockAssetService) ListAll(ctx context.Context) ([]byte, error) {
	return m.listAllFn(ctx)
}

func (m *mockAssetService) GetDetail(ctx context.Context, id string) ([]byte, error) {
	return m.getDetailFn(ctx, id)
}

func (m *mockAssetService) Update(ctx context.Context, id string, upd model.AssetUpdate) (*model.Asset, error) {
	return m.updateFn(ctx, id, upd)
}

func (m *mockAssetService) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockAssetService) GetMedia(ctx context.Context, key string) (*model.Media, error) {
	return m.getMediaFn(ctx, key)
}

func init() {
	gin.SetMode(gin.TestMode)
}

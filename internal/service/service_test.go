package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"mime/multipart"
	"strings"
	"testing"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/UnendingLoop/ImageVault/internal/imageproc"
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/config"
)

type testEnv struct {
	svc      *AssetService
	repo     *mockRepo
	tx       *txRecorder
	views    *faultyCache
	payloads *faultyCache
	pub      *mockPublisher
}

func newTestEnv() *testEnv {
	tx := &txRecorder{}
	repo := &mockRepo{withinTxFn: tx.withinTx}
	env := &testEnv{
		repo:     repo,
		tx:       tx,
		views:    newFaultyCache(),
		payloads: newFaultyCache(),
		pub:      &mockPublisher{},
	}
	env.svc = &AssetService{
		repo:      repo,
		views:     env.views,
		payloads:  env.payloads,
		publisher: env.pub,
		deriver:   imageproc.NewDeriver(),
		targets:   model.DefaultTargets,
		viewTTL:   time.Hour,
	}
	return env
}

// хелпер для генерации картинки
func encodedImage(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 90, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, format))
	return buf.Bytes()
}

// хелпер для создания файла
func newFakeFile(content []byte) multipart.File {
	return &fakeMultipartFile{
		Reader: bytes.NewReader(content),
	}
}

func createData(name, tag string, img []byte, ctype string) *model.AssetCreateData {
	return &model.AssetCreateData{
		Name:          name,
		Tag:           tag,
		Image:         newFakeFile(img),
		ImageSize:     int64(len(img)),
		ImageFilename: "cat.jpg",
		DeclaredCType: ctype,
	}
}

// CREATE - SUCCESS
func TestAssetService_Create_OK(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	require.NoError(t, env.views.Put(ctx, model.ListCacheKey, []byte("[]"), time.Hour))

	src := encodedImage(t, 300, 300, imaging.JPEG)
	asset, err := env.svc.Create(ctx, createData(" cat ", "pet", src, model.JPEG))
	require.NoError(t, err)

	require.Equal(t, "cat", asset.Name)
	require.Equal(t, "pet", asset.Tag)
	require.Len(t, env.tx.assets, 1)

	labels := make([]string, 0, len(asset.Variants))
	for _, v := range asset.Variants {
		labels = append(labels, v.Resolution)
		require.Equal(t, model.VariantCacheKey(asset.ID, v.Resolution), v.CacheKey)
	}
	require.Equal(t, []string{"original", "100x100", "500x500", "1000x1000"}, labels)
	require.Len(t, env.tx.variants, 4)

	// оригинал байт-в-байт, размеры без увеличения
	orig, ok, err := env.payloads.Get(ctx, asset.Variants[0].CacheKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, src, orig)
	require.Equal(t, "jpeg", asset.Variants[0].Format)
	require.Equal(t, 100, asset.Variants[1].Width)
	require.Equal(t, 300, asset.Variants[2].Width)
	require.Equal(t, 300, asset.Variants[3].Height)
	require.Equal(t, 4, env.payloads.Len())

	for _, v := range asset.Variants {
		data, ok, err := env.payloads.Get(ctx, v.CacheKey)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, v.Size, int64(len(data)))
	}

	require.False(t, env.views.Has(model.ListCacheKey))
	require.Len(t, env.pub.events, 1)
	require.Equal(t, model.EventCreate, env.pub.events[0].Event)
	require.Equal(t, asset.ID, env.pub.events[0].Image.ID)
}

// CREATE - STEP ORDER, LIST INVALIDATION FAILURE IS NOT FATAL
func TestAssetService_Create_StepOrder(t *testing.T) {
	env := newTestEnv()
	journal := &callJournal{}
	env.tx.journal = journal
	env.payloads.name, env.payloads.journal = "payloads", journal
	env.views.name, env.views.journal = "views", journal
	env.pub.journal = journal
	env.views.deleteErr = errors.New("cache is down")

	asset, err := env.svc.Create(context.Background(), createData("cat", "pet", encodedImage(t, 300, 300, imaging.PNG), model.PNG))
	require.NoError(t, err)
	require.NotNil(t, asset)

	id := asset.ID
	require.Equal(t, []string{
		"tx commit",
		"payloads put " + model.VariantCacheKey(id, "original"),
		"payloads put " + model.VariantCacheKey(id, "100x100"),
		"payloads put " + model.VariantCacheKey(id, "500x500"),
		"payloads put " + model.VariantCacheKey(id, "1000x1000"),
		"publish create " + id.String(),
		"views delete " + model.ListCacheKey,
	}, journal.calls)
	require.Len(t, env.tx.assets, 1)
	require.Len(t, env.tx.variants, 4)
}

// CREATE - VALIDATION FAIL
func TestAssetService_Create_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		data   *model.AssetCreateData
		fields []string
	}{
		{"no name", createData("", "pet", []byte("x"), model.JPEG), []string{"name"}},
		{"blank tag", createData("cat", "   ", []byte("x"), model.JPEG), []string{"tag"}},
		{"too long name", createData(strings.Repeat("n", 256), "pet", []byte("x"), model.JPEG), []string{"name"}},
		{"no image", &model.AssetCreateData{}, []string{"name", "tag", "image"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()

			_, err := env.svc.Create(context.Background(), tt.data)
			require.ErrorIs(t, err, model.ErrInvalidInput)

			var fe model.FieldErrors
			require.True(t, errors.As(err, &fe))
			for _, f := range tt.fields {
				require.Contains(t, fe, f)
			}
			require.Zero(t, env.tx.txCalls)
			require.Empty(t, env.pub.events)
		})
	}
}

// CREATE - NOT AN IMAGE
func TestAssetService_Create_InvalidImage(t *testing.T) {
	env := newTestEnv()

	_, err := env.svc.Create(context.Background(), createData("cat", "pet", []byte("definitely not an image"), model.JPEG))
	require.ErrorIs(t, err, model.ErrInvalidImage)
	require.Zero(t, env.tx.txCalls)
	require.Zero(t, env.payloads.puts)
	require.Empty(t, env.pub.events)
}

// CREATE - TRUNCATED UPLOAD
func TestAssetService_Create_TruncatedUpload(t *testing.T) {
	env := newTestEnv()
	src := encodedImage(t, 50, 50, imaging.PNG)
	data := createData("cat", "pet", src[:len(src)/2], model.PNG)
	data.ImageSize = int64(len(src))

	_, err := env.svc.Create(context.Background(), data)
	require.ErrorIs(t, err, model.ErrInvalidImage)
	require.Contains(t, err.Error(), "cat.jpg")
	require.Zero(t, env.tx.txCalls)
}

// CREATE - DERIVATION FAIL
func TestAssetService_Create_DerivationError(t *testing.T) {
	env := newTestEnv()
	env.svc.deriver = &mockDeriver{
		inspectFn: func(src []byte) (image.Config, string, error) {
			return image.Config{Width: 10, Height: 10}, "jpeg", nil
		},
		deriveFn: func(src []byte, srcFormat string, targets []model.TargetSpec) ([]model.Rendition, error) {
			return nil, model.ErrEncode
		},
	}

	_, err := env.svc.Create(context.Background(), createData("cat", "pet", []byte("img"), model.JPEG))
	require.ErrorIs(t, err, model.ErrDerivation)
	require.Zero(t, env.tx.txCalls)
	require.Zero(t, env.payloads.puts)
	require.Empty(t, env.pub.events)
}

// CREATE - PERSISTENCE FAIL ON ONE VARIANT ROW
func TestAssetService_Create_PersistenceError(t *testing.T) {
	env := newTestEnv()
	env.tx.failVariantAt = 3
	ctx := context.Background()
	require.NoError(t, env.views.Put(ctx, model.ListCacheKey, []byte("[]"), time.Hour))

	_, err := env.svc.Create(ctx, createData("cat", "pet", encodedImage(t, 300, 300, imaging.PNG), model.PNG))
	require.ErrorIs(t, err, model.ErrPersistence)

	// ни одной строки: ни ассета, ни вариантов без родителя
	require.Empty(t, env.tx.assets)
	require.Empty(t, env.tx.variants)
	require.Zero(t, env.payloads.puts)
	require.Empty(t, env.pub.events)
	require.True(t, env.views.Has(model.ListCacheKey))
}

// CREATE - CACHE DOWN AFTER COMMIT
func TestAssetService_Create_PayloadCacheError(t *testing.T) {
	env := newTestEnv()
	env.payloads.putErr = errors.New("cache is down")

	asset, err := env.svc.Create(context.Background(), createData("cat", "pet", encodedImage(t, 120, 80, imaging.JPEG), model.JPEG))
	require.NoError(t, err)
	require.Len(t, env.tx.variants, 4)
	require.Equal(t, 4, env.payloads.puts)
	require.Len(t, env.pub.events, 1)
	require.Contains(t, env.views.deleted, model.ListCacheKey)
	require.NotNil(t, asset)
}

// CREATE - PUBLISH FAIL
func TestAssetService_Create_PublishError(t *testing.T) {
	env := newTestEnv()
	env.pub.err = errors.New("broker unavailable")

	asset, err := env.svc.Create(context.Background(), createData("cat", "pet", encodedImage(t, 50, 50, imaging.JPEG), model.JPEG))
	require.NoError(t, err)
	require.NotNil(t, asset)
	require.Contains(t, env.views.deleted, model.ListCacheKey)
}

// CREATE - ORIGINAL FORMAT
func TestAssetService_Create_OriginalFormat(t *testing.T) {
	tests := []struct {
		name     string
		format   imaging.Format
		declared string
		want     string
	}{
		{"declared png", imaging.PNG, model.PNG, "png"},
		{"no declared type - sniffed", imaging.GIF, "", "gif"},
		{"octet-stream - sniffed", imaging.PNG, model.OctetStream, "png"},
		{"declared with params", imaging.JPEG, "image/jpeg; charset=binary", "jpeg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			asset, err := env.svc.Create(context.Background(), createData("cat", "pet", encodedImage(t, 40, 40, tt.format), tt.declared))
			require.NoError(t, err)
			require.Equal(t, tt.want, asset.Variants[0].Format)
			for _, v := range asset.Variants[1:] {
				require.Equal(t, model.DerivedFormatTag, v.Format)
			}
		})
	}
}

// GETDETAIL - CACHE-ASIDE
func TestAssetService_GetDetail_CacheAside(t *testing.T) {
	env := newTestEnv()
	id := uuid.New()
	reads := 0
	env.repo.getFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		reads++
		require.Equal(t, id, uid)
		return &model.Asset{ID: id, Name: "cat", Tag: "pet", Variants: []model.Variant{
			{Resolution: "original", CacheKey: model.VariantCacheKey(id, "original"), Size: 10, Format: "jpeg"},
		}}, nil
	}

	first, err := env.svc.GetDetail(context.Background(), id.String())
	require.NoError(t, err)
	second, err := env.svc.GetDetail(context.Background(), id.String())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, reads)
	require.True(t, env.views.Has(model.DetailCacheKey(id)))
	require.Contains(t, string(first), `"file_path":"`+id.String()+`_original"`)
}

// GETDETAIL - CACHE DOWN
func TestAssetService_GetDetail_CacheError(t *testing.T) {
	env := newTestEnv()
	env.views.getErr = errors.New("cache is down")
	env.repo.getFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return &model.Asset{ID: uid, Variants: []model.Variant{}}, nil
	}

	data, err := env.svc.GetDetail(context.Background(), uuid.New().String())
	require.NoError(t, err)
	require.NotEmpty(t, data)
}

// GETDETAIL - FAIL
func TestAssetService_GetDetail_Errors(t *testing.T) {
	env := newTestEnv()
	env.repo.getFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return nil, model.ErrImageNotFound
	}

	_, err := env.svc.GetDetail(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrImageNotFound)
	require.Zero(t, env.views.puts)

	_, err = env.svc.GetDetail(context.Background(), "bad-id")
	require.ErrorIs(t, err, model.ErrImageNotFound)

	env.repo.getFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return nil, errors.New("db is down")
	}
	_, err = env.svc.GetDetail(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrCommon500)
}

// LISTALL - CACHE-ASIDE
func TestAssetService_ListAll(t *testing.T) {
	env := newTestEnv()
	reads := 0
	env.repo.listFn = func(ctx context.Context) ([]model.Asset, error) {
		reads++
		return []model.Asset{}, nil
	}

	data, err := env.svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, "[]", string(data))

	_, err = env.svc.ListAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, reads)
	require.True(t, env.views.Has(model.ListCacheKey))
}

// GETMEDIA - ROUND TRIP
func TestAssetService_GetMedia_RoundTrip(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	src := encodedImage(t, 640, 480, imaging.PNG)
	asset, err := env.svc.Create(ctx, createData("cat", "pet", src, model.PNG))
	require.NoError(t, err)

	media, err := env.svc.GetMedia(ctx, asset.Variants[0].CacheKey)
	require.NoError(t, err)
	require.Equal(t, src, media.Data)
	require.Equal(t, model.PNG, media.ContentType)
	require.Equal(t, asset.Variants[0].CacheKey, media.Filename)

	thumb, err := env.svc.GetMedia(ctx, asset.Variants[1].CacheKey)
	require.NoError(t, err)
	require.Equal(t, model.JPEG, thumb.ContentType)
	require.Equal(t, asset.Variants[1].Size, int64(len(thumb.Data)))
}

// GETMEDIA - FAIL
func TestAssetService_GetMedia_Errors(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	_, err := env.svc.GetMedia(ctx, "never_stored")
	require.ErrorIs(t, err, model.ErrMediaNotFound)

	gets := env.payloads.gets
	_, err = env.svc.GetMedia(ctx, "")
	require.ErrorIs(t, err, model.ErrInvalidInput)
	require.Equal(t, gets, env.payloads.gets)

	// мусор в кэше отдается как octet-stream
	require.NoError(t, env.payloads.Put(ctx, "junk", []byte("plain text"), 0))
	media, err := env.svc.GetMedia(ctx, "junk")
	require.NoError(t, err)
	require.Equal(t, model.OctetStream, media.ContentType)

	env.payloads.getErr = errors.New("cache is down")
	_, err = env.svc.GetMedia(ctx, "junk")
	require.ErrorIs(t, err, model.ErrCommon500)
}

// UPDATE - NAME ONLY
func TestAssetService_Update_NameOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	id := uuid.New()
	require.NoError(t, env.views.Put(ctx, model.DetailCacheKey(id), []byte("{}"), time.Hour))
	require.NoError(t, env.views.Put(ctx, model.ListCacheKey, []byte("[]"), time.Hour))

	name := "kitty"
	empty := "  "
	env.repo.updateFn = func(ctx context.Context, uid uuid.UUID, upd model.AssetUpdate) (*model.Asset, error) {
		require.Equal(t, id, uid)
		require.Equal(t, "kitty", *upd.Name)
		require.Nil(t, upd.Tag)
		return &model.Asset{ID: uid, Name: "kitty", Tag: "pet"}, nil
	}

	res, err := env.svc.Update(ctx, id.String(), model.AssetUpdate{Name: &name, Tag: &empty})
	require.NoError(t, err)
	require.Equal(t, "pet", res.Tag)

	require.False(t, env.views.Has(model.DetailCacheKey(id)))
	require.False(t, env.views.Has(model.ListCacheKey))
	require.Len(t, env.pub.events, 1)
	require.Equal(t, model.EventUpdate, env.pub.events[0].Event)
	require.Equal(t, "kitty", env.pub.events[0].Image.Name)
	require.Zero(t, env.payloads.puts)
	require.Empty(t, env.payloads.deleted)
}

// UPDATE - FAIL
func TestAssetService_Update_Errors(t *testing.T) {
	env := newTestEnv()
	long := strings.Repeat("t", 300)

	_, err := env.svc.Update(context.Background(), uuid.New().String(), model.AssetUpdate{Tag: &long})
	require.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = env.svc.Update(context.Background(), "42", model.AssetUpdate{})
	require.ErrorIs(t, err, model.ErrImageNotFound)

	env.repo.updateFn = func(ctx context.Context, uid uuid.UUID, upd model.AssetUpdate) (*model.Asset, error) {
		return nil, model.ErrImageNotFound
	}
	_, err = env.svc.Update(context.Background(), uuid.New().String(), model.AssetUpdate{})
	require.ErrorIs(t, err, model.ErrImageNotFound)

	env.repo.updateFn = func(ctx context.Context, uid uuid.UUID, upd model.AssetUpdate) (*model.Asset, error) {
		return nil, errors.New("db is down")
	}
	_, err = env.svc.Update(context.Background(), uuid.New().String(), model.AssetUpdate{})
	require.ErrorIs(t, err, model.ErrPersistence)
	require.Empty(t, env.pub.events)
}

// DELETE - SUCCESS
func TestAssetService_Delete_OK(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	asset, err := env.svc.Create(ctx, createData("cat", "pet", encodedImage(t, 300, 300, imaging.JPEG), model.JPEG))
	require.NoError(t, err)
	require.NoError(t, env.views.Put(ctx, model.DetailCacheKey(asset.ID), []byte("{}"), time.Hour))
	require.NoError(t, env.views.Put(ctx, model.ListCacheKey, []byte("[]"), time.Hour))

	// строка из старого списка размеров тоже должна быть вычищена
	legacyKey := model.VariantCacheKey(asset.ID, "50x50")
	require.NoError(t, env.payloads.Put(ctx, legacyKey, []byte("old"), 0))

	deleted := false
	env.repo.deleteFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		deleted = true
		res := *asset
		res.Variants = append(append([]model.Variant{}, asset.Variants...), model.Variant{Resolution: "50x50", CacheKey: legacyKey})
		return &res, nil
	}
	env.repo.getFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		if deleted {
			return nil, model.ErrImageNotFound
		}
		return asset, nil
	}

	require.NoError(t, env.svc.Delete(ctx, asset.ID.String()))

	require.Zero(t, env.payloads.Len())
	for _, k := range model.KnownVariantKeys(asset.ID, model.DefaultTargets) {
		require.Contains(t, env.payloads.deleted, k)
	}
	require.False(t, env.views.Has(model.DetailCacheKey(asset.ID)))
	require.False(t, env.views.Has(model.ListCacheKey))

	require.Len(t, env.pub.events, 2)
	require.Equal(t, model.EventDelete, env.pub.events[1].Event)
	require.Equal(t, asset.ID, env.pub.events[1].Image.ID)

	_, err = env.svc.GetDetail(ctx, asset.ID.String())
	require.ErrorIs(t, err, model.ErrImageNotFound)

	_, err = env.svc.GetMedia(ctx, asset.Variants[0].CacheKey)
	require.ErrorIs(t, err, model.ErrMediaNotFound)
}

// DELETE - EVICTION FAIL AFTER COMMIT
func TestAssetService_Delete_CacheError(t *testing.T) {
	env := newTestEnv()
	env.payloads.deleteErr = errors.New("cache is down")
	env.repo.deleteFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return &model.Asset{ID: uid, Name: "cat", Tag: "pet"}, nil
	}

	require.NoError(t, env.svc.Delete(context.Background(), uuid.New().String()))
	require.Len(t, env.pub.events, 1)
	require.Contains(t, env.views.deleted, model.ListCacheKey)
}

// DELETE - FAIL
func TestAssetService_Delete_Errors(t *testing.T) {
	env := newTestEnv()

	require.ErrorIs(t, env.svc.Delete(context.Background(), "bad-id"), model.ErrImageNotFound)

	env.repo.deleteFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return nil, model.ErrImageNotFound
	}
	require.ErrorIs(t, env.svc.Delete(context.Background(), uuid.New().String()), model.ErrImageNotFound)

	env.repo.deleteFn = func(ctx context.Context, uid uuid.UUID) (*model.Asset, error) {
		return nil, errors.New("db is down")
	}
	require.ErrorIs(t, env.svc.Delete(context.Background(), uuid.New().String()), model.ErrPersistence)

	require.Empty(t, env.payloads.deleted)
	require.Empty(t, env.views.deleted)
	require.Empty(t, env.pub.events)
}

// CONFIG
func TestNewAssetService_ViewTTL(t *testing.T) {
	svc := NewAssetService(testConfig(map[string]any{"VIEW_CACHE_TTL": "15m"}), &mockRepo{}, newFaultyCache(), newFaultyCache(), &mockPublisher{}, imageproc.NewDeriver())
	require.Equal(t, 15*time.Minute, svc.viewTTL)

	svc = NewAssetService(testConfig(nil), &mockRepo{}, newFaultyCache(), newFaultyCache(), &mockPublisher{}, imageproc.NewDeriver())
	require.Equal(t, time.Hour, svc.viewTTL)
	require.Len(t, svc.targets, 3)

	svc = NewAssetService(testConfig(map[string]any{"VIEW_CACHE_TTL": "soon"}), &mockRepo{}, newFaultyCache(), newFaultyCache(), &mockPublisher{}, imageproc.NewDeriver())
	require.Equal(t, time.Hour, svc.viewTTL)
}

func testConfig(overrides map[string]any) *config.Config {
	cfg := config.New()
	envcfg.SetDefaults(cfg)
	for key, value := range overrides {
		cfg.SetDefault(key, value)
	}
	return cfg
}

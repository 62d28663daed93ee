package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"strings"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/cache/memcache"
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/UnendingLoop/ImageVault/internal/repository"
	"github.com/google/uuid"
)

// MOCK RESPOSITORY

type mockRepo struct {
	withinTxFn func(ctx context.Context, fn func(w repository.AssetWriter) error) error
	getFn      func(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	listFn     func(ctx context.Context) ([]model.Asset, error)
	updateFn   func(ctx context.Context, id uuid.UUID, upd model.AssetUpdate) (*model.Asset, error)
	deleteFn   func(ctx context.Context, id uuid.UUID) (*model.Asset, error)
}

func (m *mockRepo) WithinTx(ctx context.Context, fn func(w repository.AssetWriter) error) error {
	return m.withinTxFn(ctx, fn)
}

func (m *mockRepo) Get(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	return m.getFn(ctx, id)
}

func (m *mockRepo) List(ctx context.Context) ([]model.Asset, error) {
	return m.listFn(ctx)
}

func (m *mockRepo) Update(ctx context.Context, id uuid.UUID, upd model.AssetUpdate) (*model.Asset, error) {
	return m.updateFn(ctx, id, upd)
}

func (m *mockRepo) Delete(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	return m.deleteFn(ctx, id)
}

// callJournal - общий журнал вызовов моков, по нему проверяется порядок шагов
type callJournal struct {
	calls []string
}

func (j *callJournal) add(call string) {
	if j != nil {
		j.calls = append(j.calls, call)
	}
}

// txRecorder - транзакция в памяти: строки попадают в committed только если fn вернула nil
type txRecorder struct {
	failVariantAt int // 1-based, 0 - не падать
	txCalls       int
	assets        []model.Asset
	variants      []model.Variant
	journal       *callJournal
}

func (r *txRecorder) withinTx(ctx context.Context, fn func(w repository.AssetWriter) error) error {
	r.txCalls++
	w := &recordingWriter{failAt: r.failVariantAt, nextID: int64(len(r.variants))}
	if err := fn(w); err != nil {
		return err
	}
	r.assets = append(r.assets, w.assets...)
	r.variants = append(r.variants, w.variants...)
	r.journal.add("tx commit")
	return nil
}

type recordingWriter struct {
	failAt   int
	nextID   int64
	assets   []model.Asset
	variants []model.Variant
}

func (w *recordingWriter) CreateAsset(ctx context.Context, id uuid.UUID, name, tag string) (*model.Asset, error) {
	a := model.Asset{ID: id, Name: name, Tag: tag, CreatedAt: time.Now().UTC(), Variants: []model.Variant{}}
	w.assets = append(w.assets, a)
	return &a, nil
}

func (w *recordingWriter) AddVariant(ctx context.Context, v model.Variant) (*model.Variant, error) {
	if w.failAt > 0 && len(w.variants)+1 == w.failAt {
		return nil, errors.New("connection reset by peer")
	}
	w.nextID++
	v.ID = w.nextID
	w.variants = append(w.variants, v)
	return &v, nil
}

// MOCK CACHE

// faultyCache - настоящий кэш в памяти с возможностью вернуть ошибку на любой операции
type faultyCache struct {
	*memcache.MemoryCache
	name      string
	putErr    error
	getErr    error
	deleteErr error
	puts      int
	gets      int
	deleted   []string
	journal   *callJournal
}

func newFaultyCache() *faultyCache {
	return &faultyCache{MemoryCache: memcache.New()}
}

func (c *faultyCache) Put(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.puts++
	c.journal.add(c.name + " put " + key)
	if c.putErr != nil {
		return c.putErr
	}
	return c.MemoryCache.Put(ctx, key, data, ttl)
}

func (c *faultyCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.gets++
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	return c.MemoryCache.Get(ctx, key)
}

func (c *faultyCache) Delete(ctx context.Context, keys ...string) error {
	c.deleted = append(c.deleted, keys...)
	c.journal.add(c.name + " delete " + strings.Join(keys, ","))
	if c.deleteErr != nil {
		return c.deleteErr
	}
	return c.MemoryCache.Delete(ctx, keys...)
}

// MOCK PUBLISHER

type mockPublisher struct {
	err     error
	events  []model.Event
	journal *callJournal
}

func (m *mockPublisher) Publish(ctx context.Context, ev model.Event) error {
	m.events = append(m.events, ev)
	m.journal.add("publish " + string(ev.Event) + " " + ev.Image.ID.String())
	return m.err
}

// MOCK DERIVER

type mockDeriver struct {
	inspectFn func(src []byte) (image.Config, string, error)
	deriveFn  func(src []byte, srcFormat string, targets []model.TargetSpec) ([]model.Rendition, error)
}

func (m *mockDeriver) Inspect(src []byte) (image.Config, string, error) {
	return m.inspectFn(src)
}

func (m *mockDeriver) Derive(src []byte, srcFormat string, targets []model.TargetSpec) ([]model.Rendition, error) {
	return m.deriveFn(src, srcFormat, targets)
}

// MOCK для multipart.File
type fakeMultipartFile struct {
	*bytes.Reader
}

func (f *fakeMultipartFile) Close() error {
	return nil
}

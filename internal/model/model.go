// Package model provides data-structs for internal app-usage
package model

import (
	"errors"
	"fmt"
	"mime/multipart"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

type (
	EventType   string
	IngestState string
)

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

const (
	StateReceived  IngestState = "received"
	StateDecoded   IngestState = "decoded"
	StateDerived   IngestState = "derived"
	StatePersisted IngestState = "persisted"
	StateCached    IngestState = "cached"
	StatePublished IngestState = "published"
	StateDone      IngestState = "done"
	StateFailed    IngestState = "failed"
)

//---------------------

// Asset - логическая картинка, владеющая набором вариантов
type Asset struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Tag       string    `json:"tag"`
	CreatedAt time.Time `json:"upload_date"`
	Variants  []Variant `json:"variants"`
}

// Variant - одна сохраненная версия картинки (оригинал или производная)
type Variant struct {
	ID         int64     `json:"-"`
	AssetID    uuid.UUID `json:"-"`
	Resolution string    `json:"resolution"`
	CacheKey   string    `json:"file_path"`
	Size       int64     `json:"size"`
	Format     string    `json:"format"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
}

// AssetUpdate - частичное обновление: nil-поле оставляет значение как есть
type AssetUpdate struct {
	Name *string
	Tag  *string
}

//-------------------

const OriginalResolution = "original"

// TargetSpec - ограничивающий прямоугольник для производного варианта
type TargetSpec struct {
	Width  int
	Height int
}

func (t TargetSpec) Label() string {
	return fmt.Sprintf("%dx%d", t.Width, t.Height)
}

// DefaultTargets - фиксированный список размеров, порядок важен
var DefaultTargets = []TargetSpec{
	{Width: 100, Height: 100},
	{Width: 500, Height: 500},
	{Width: 1000, Height: 1000},
}

// Rendition - результат деривации одного варианта
type Rendition struct {
	Resolution string
	Data       []byte
	Format     string
	Width      int
	Height     int
}

// DerivedFormat - формат всех производных вариантов
const DerivedFormat = imaging.JPEG

const DerivedFormatTag = "jpeg"

//-------------------

const (
	ListCacheKey         = "images_list"
	detailCacheKeyPrefix = "image_"
)

// VariantCacheKey - чистая функция от (assetID, resolution): на ней держится удаление вслепую
func VariantCacheKey(assetID uuid.UUID, resolution string) string {
	return assetID.String() + "_" + resolution
}

func DetailCacheKey(assetID uuid.UUID) string {
	return detailCacheKeyPrefix + assetID.String()
}

// KnownVariantKeys - ключи всех вариантов ассета по фиксированному списку размеров
func KnownVariantKeys(assetID uuid.UUID, targets []TargetSpec) []string {
	keys := make([]string, 0, len(targets)+1)
	keys = append(keys, VariantCacheKey(assetID, OriginalResolution))
	for _, t := range targets {
		keys = append(keys, VariantCacheKey(assetID, t.Label()))
	}
	return keys
}

// MergeKeys - объединение наборов ключей без дублей, в стабильном порядке
func MergeKeys(sets ...[]string) []string {
	seen := make(map[string]bool)
	res := make([]string, 0)
	for _, set := range sets {
		for _, k := range set {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res
}

//-------------------

// AssetCreateData - сырые данные загрузки из multipart-формы
type AssetCreateData struct {
	Name          string
	Tag           string
	Image         multipart.File
	ImageSize     int64
	ImageFilename string
	DeclaredCType string
}

// Media - байты варианта из кэша + то, с чем их отдавать
type Media struct {
	Data        []byte
	ContentType string
	Filename    string
}

// Event - конверт уведомления для внешних подписчиков
type Event struct {
	Event EventType    `json:"event"`
	Image EventPayload `json:"image"`
}

type EventPayload struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Tag  string    `json:"tag"`
}

func NewEvent(t EventType, a *Asset) Event {
	return Event{Event: t, Image: EventPayload{ID: a.ID, Name: a.Name, Tag: a.Tag}}
}

// ------------------

var (
	ErrCommon500     error = errors.New("something went wrong. Try again later")
	ErrInvalidInput  error = errors.New("invalid input")
	ErrInvalidImage  error = errors.New("uploaded file is not a valid image")
	ErrDecode        error = errors.New("failed to decode source image")
	ErrEncode        error = errors.New("failed to encode derived image")
	ErrDerivation    error = errors.New("failed to derive image variants")
	ErrPersistence   error = errors.New("failed to persist image")
	ErrImageNotFound error = errors.New("specified image doesn't exist")
	ErrMediaNotFound error = errors.New("Image not found")
	ErrDuplicateKey  error = errors.New("variant cache key already exists")
)

// FieldErrors - ошибки валидации по полям, ведет себя как ErrInvalidInput
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return ErrInvalidInput.Error() + ": " + strings.Join(parts, "; ")
}

func (f FieldErrors) Is(target error) bool {
	return target == ErrInvalidInput
}

//--------------------

const (
	JPEG        = "image/jpeg"
	PNG         = "image/png"
	GIF         = "image/gif"
	BMP         = "image/bmp"
	TIFF        = "image/tiff"
	WEBP        = "image/webp"
	OctetStream = "application/octet-stream"
)

// ServableImageTypes - типы, которые отдаем как image/*, остальное - octet-stream
var ServableImageTypes = map[string]bool{
	JPEG: true,
	PNG:  true,
	GIF:  true,
	BMP:  true,
	TIFF: true,
}

// FormatTag - "image/jpeg" -> "jpeg"
func FormatTag(contentType string) string {
	ct := strings.TrimSpace(strings.ToLower(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	if i := strings.LastIndex(ct, "/"); i >= 0 {
		ct = ct[i+1:]
	}
	return ct
}

// Package transport provides methods for processing requests from endpoints
package transport

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
)

const jsonContentType = "application/json; charset=utf-8"

type AssetHandler struct {
	service        AssetService
	maxUploadBytes int64
}

// AssetService - ListAll/GetDetail отдают готовый JSON (из кэша или базы), GetMedia - байты только из кэша
type AssetService interface {
	Create(ctx context.Context, raw *model.AssetCreateData) (*model.Asset, error)
	ListAll(ctx context.Context) ([]byte, error)
	GetDetail(ctx context.Context, id string) ([]byte, error)
	Update(ctx context.Context, id string, upd model.AssetUpdate) (*model.Asset, error)
	Delete(ctx context.Context, id string) error
	GetMedia(ctx context.Context, key string) (*model.Media, error)
}

func NewAssetHandler(svc AssetService, maxUploadMB int) *AssetHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 32
	}
	return &AssetHandler{
		service:        svc,
		maxUploadBytes: int64(maxUploadMB) << 20,
	}
}

// updateRequest - частичное обновление, JSON или форма
type updateRequest struct {
	Name *string `json:"name" form:"name" binding:"omitempty,max=255"`
	Tag  *string `json:"tag" form:"tag" binding:"omitempty,max=255"`
}

type updateResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Tag  string    `json:"tag"`
}

func (h AssetHandler) SimplePinger(ctx *ginext.Context) {
	ctx.JSON(200, map[string]string{"message": "pong"})
}

func (h AssetHandler) Create(ctx *ginext.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, h.maxUploadBytes)
	if err := ctx.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(ctx, model.FieldErrors{"image": fmt.Sprintf("upload exceeds %d MB", h.maxUploadBytes>>20)})
			return
		}
		writeError(ctx, fmt.Errorf("%w: failed to parse multipart form", model.ErrInvalidInput))
		return
	}

	raw := model.AssetCreateData{
		Name: ctx.PostForm("name"),
		Tag:  ctx.PostForm("tag"),
	}

	// парсинг картинки; отсутствие поля отдаем сервису - он вернет ошибку поля
	imageFile, imageHeader, err := ctx.Request.FormFile("image")
	switch {
	case err == nil:
		defer closeFileFlow(imageFile)
		raw.Image = imageFile
		raw.ImageSize = imageHeader.Size
		raw.ImageFilename = imageHeader.Filename
		raw.DeclaredCType = declaredContentType(imageHeader)
	case errors.Is(err, http.ErrMissingFile):
	default:
		writeError(ctx, fmt.Errorf("%w: failed to read image part", model.ErrInvalidInput))
		return
	}

	res, err := h.service.Create(ctx.Request.Context(), &raw)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.JSON(201, res)
}

func (h AssetHandler) List(ctx *ginext.Context) {
	data, err := h.service.ListAll(ctx.Request.Context())
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.Data(200, jsonContentType, data)
}

func (h AssetHandler) Retrieve(ctx *ginext.Context) {
	data, err := h.service.GetDetail(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.Data(200, jsonContentType, data)
}

func (h AssetHandler) Update(ctx *ginext.Context) {
	var req updateRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBind(&req); err != nil {
			writeError(ctx, bindErrors(err))
			return
		}
	}

	res, err := h.service.Update(ctx.Request.Context(), ctx.Param("id"), model.AssetUpdate{Name: req.Name, Tag: req.Tag})
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.JSON(200, updateResponse{ID: res.ID, Name: res.Name, Tag: res.Tag})
}

func (h AssetHandler) Delete(ctx *ginext.Context) {
	if err := h.service.Delete(ctx.Request.Context(), ctx.Param("id")); err != nil {
		writeError(ctx, err)
		return
	}

	ctx.Status(204)
}

func (h AssetHandler) Media(ctx *ginext.Context) {
	key := strings.TrimSpace(ctx.Query("file_path"))
	if key == "" {
		writeError(ctx, model.FieldErrors{"file_path": "this field is required"})
		return
	}

	media, err := h.service.GetMedia(ctx.Request.Context(), key)
	if err != nil {
		writeError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", media.Filename))
	ctx.Data(200, media.ContentType, media.Data)
}

func declaredContentType(h *multipart.FileHeader) string {
	return strings.TrimSpace(h.Header.Get("Content-Type"))
}

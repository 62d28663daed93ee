package service

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/google/uuid"
)

const (
	maxFieldLen  = 255
	maxFormatLen = 32
)

func validateNormalizeCreate(raw *model.AssetCreateData) error {
	fe := model.FieldErrors{}

	raw.Name = strings.TrimSpace(raw.Name)
	raw.Tag = strings.TrimSpace(raw.Tag)

	checkField(fe, "name", raw.Name, true)
	checkField(fe, "tag", raw.Tag, true)
	if raw.Image == nil {
		fe["image"] = "this field is required"
	}

	if len(fe) > 0 {
		return fe
	}
	return nil
}

// validateNormalizeUpdate - пустое значение = "оставить как есть"
func validateNormalizeUpdate(upd *model.AssetUpdate) error {
	fe := model.FieldErrors{}

	upd.Name = normalizeOptional(upd.Name)
	upd.Tag = normalizeOptional(upd.Tag)

	if upd.Name != nil {
		checkField(fe, "name", *upd.Name, false)
	}
	if upd.Tag != nil {
		checkField(fe, "tag", *upd.Tag, false)
	}

	if len(fe) > 0 {
		return fe
	}
	return nil
}

func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func checkField(fe model.FieldErrors, field, value string, required bool) {
	switch {
	case required && value == "":
		fe[field] = "this field is required"
	case utf8.RuneCountInString(value) > maxFieldLen:
		fe[field] = fmt.Sprintf("ensure this field has no more than %d characters", maxFieldLen)
	}
}

// parseID - id, который не парсится, не может существовать: это 404, а не 400
func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, model.ErrImageNotFound
	}
	return uid, nil
}

// readUpload - тело файла целиком; обрезанная загрузка (меньше заявленного размера) - битая картинка
func readUpload(raw *model.AssetCreateData) ([]byte, error) {
	data, err := io.ReadAll(raw.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read upload %q: %v", model.ErrInvalidImage, raw.ImageFilename, err)
	}
	if raw.ImageSize > 0 && int64(len(data)) != raw.ImageSize {
		return nil, fmt.Errorf("%w: upload %q is truncated: got %d of %d bytes", model.ErrInvalidImage, raw.ImageFilename, len(data), raw.ImageSize)
	}
	return data, nil
}

// declaredFormat - формат оригинала: заявленный image/* content-type, если его нет - по содержимому,
// в крайнем случае - имя декодера
func declaredFormat(declared string, data []byte, decoderName string, sniff func([]byte) string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(declared)), "image/") {
		if tag := model.FormatTag(declared); tag != "" && len(tag) <= maxFormatLen {
			return tag
		}
	}
	if tag := sniff(data); tag != "" {
		return tag
	}
	return decoderName
}

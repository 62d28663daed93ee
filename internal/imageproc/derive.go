// Package imageproc provides image operations: upload validation, derivation of
// grayscale thumbnail variants and content-type sniffing.
package imageproc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // регистрируем декодер webp для image.Decode
)

// Deriver - чистая (без I/O) деривация вариантов из исходных байтов
type Deriver struct {
	format imaging.Format
}

func NewDeriver() *Deriver {
	return &Deriver{format: model.DerivedFormat}
}

// Inspect - проверка что байты являются картинкой; отдает размеры и формат по заголовку
func Inspect(src []byte) (image.Config, string, error) {
	if len(src) == 0 {
		return image.Config{}, "", fmt.Errorf("%w: empty source", model.ErrDecode)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("%w: %v", model.ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return image.Config{}, "", fmt.Errorf("%w: zero-sized image", model.ErrDecode)
	}
	return cfg, format, nil
}

func (d *Deriver) Inspect(src []byte) (image.Config, string, error) {
	return Inspect(src)
}

// Derive - оригинал как есть + по одному варианту на каждый target в заданном порядке.
// Любая ошибка на любом target - ошибка всего вызова, частичного результата не бывает.
func (d *Deriver) Derive(src []byte, srcFormat string, targets []model.TargetSpec) ([]model.Rendition, error) {
	cfg, _, err := Inspect(src)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecode, err)
	}

	res := make([]model.Rendition, 0, len(targets)+1)
	res = append(res, model.Rendition{
		Resolution: model.OriginalResolution,
		Data:       src,
		Format:     srcFormat,
		Width:      cfg.Width,
		Height:     cfg.Height,
	})

	for _, t := range targets {
		data, bounds, err := Thumbnailer(img, t.Width, t.Height, d.format)
		if err != nil {
			return nil, fmt.Errorf("%w: target %s: %v", model.ErrEncode, t.Label(), err)
		}
		res = append(res, model.Rendition{
			Resolution: t.Label(),
			Data:       data,
			Format:     model.DerivedFormatTag,
			Width:      bounds.Dx(),
			Height:     bounds.Dy(),
		})
	}

	return res, nil
}

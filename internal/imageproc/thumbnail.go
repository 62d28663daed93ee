package imageproc

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// JPEGQuality - качество кодирования производных вариантов
const JPEGQuality = 75

// Thumbnailer - уменьшает картинку в рамку x*y с сохранением пропорций (без увеличения),
// переводит в один канал яркости и кодирует в заданный формат
func Thumbnailer(src image.Image, x, y int, format imaging.Format) ([]byte, image.Rectangle, error) {
	if src == nil {
		return nil, image.Rectangle{}, errors.New("nil baseIMG provided to Thumbnailer")
	}
	if x <= 0 || y <= 0 {
		return nil, image.Rectangle{}, fmt.Errorf("incorrect bounding box %dx%d", x, y)
	}

	fitted := toGray(imaging.Fit(toGray(src), x, y, imaging.Lanczos))
	if fitted.Bounds().Empty() {
		return nil, image.Rectangle{}, errors.New("thumbnail of empty image requested")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, image.Rectangle{}, fmt.Errorf("failed to ENcode resultIMG in Thumbnailer: %w", err)
	}
	return buf.Bytes(), fitted.Bounds(), nil
}

// toGray - переводит картинку в 8-битный grayscale (ITU-R 601-2 luma).
// Яркость считается по R,G,B без учета альфы: прозрачный белый остается белым
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	src := imaging.Clone(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	gray := image.NewGray(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		d := gray.Pix[y*gray.Stride : y*gray.Stride+w]
		for x := range d {
			r, g, b := uint32(s[x*4]), uint32(s[x*4+1]), uint32(s[x*4+2])
			d[x] = uint8((r*19595 + g*38470 + b*7471 + 1<<15) >> 16)
		}
	}
	return gray
}

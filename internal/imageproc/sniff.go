package imageproc

import (
	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/h2non/filetype"
)

// sniffLen - сколько байт заголовка достаточно для filetype
const sniffLen = 261

func header(data []byte) []byte {
	if len(data) > sniffLen {
		return data[:sniffLen]
	}
	return data
}

// SniffContentType - content-type по содержимому, а не по сохраненному полю format.
// Неизвестное или неотдаваемое как картинка - application/octet-stream.
func SniffContentType(data []byte) string {
	kind, err := filetype.Match(header(data))
	if err != nil || kind == filetype.Unknown {
		return model.OctetStream
	}
	if !model.ServableImageTypes[kind.MIME.Value] {
		return model.OctetStream
	}
	return kind.MIME.Value
}

// SniffFormatTag - "jpeg"/"png"/... по содержимому; пустая строка если не картинка
func SniffFormatTag(data []byte) string {
	kind, err := filetype.Match(header(data))
	if err != nil || kind == filetype.Unknown || kind.MIME.Type != "image" {
		return ""
	}
	return kind.MIME.Subtype
}

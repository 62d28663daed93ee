package transport

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/UnendingLoop/ImageVault/internal/model"
	"github.com/go-playground/validator/v10"
	"github.com/wb-go/wbf/ginext"
)

func errorCodeDefiner(err error) int {
	switch {
	case errors.Is(err, model.ErrCommon500),
		errors.Is(err, model.ErrPersistence):
		return 500
	case errors.Is(err, model.ErrImageNotFound),
		errors.Is(err, model.ErrMediaNotFound):
		return 404
	case errors.Is(err, model.ErrInvalidInput),
		errors.Is(err, model.ErrInvalidImage),
		errors.Is(err, model.ErrDecode),
		errors.Is(err, model.ErrDerivation),
		errors.Is(err, model.ErrEncode):
		return 400
	default:
		return 500
	}
}

// writeError - тело ошибки всегда {"message": ...}; для ошибок полей еще и {"errors": {...}}
func writeError(ctx *ginext.Context, err error) {
	code := errorCodeDefiner(err)
	body := map[string]any{"message": err.Error()}

	var fe model.FieldErrors
	if errors.As(err, &fe) {
		body["message"] = model.ErrInvalidInput.Error()
		body["errors"] = fe
	}
	if code == 500 && !errors.Is(err, model.ErrPersistence) {
		// наружу без деталей
		body["message"] = model.ErrCommon500.Error()
	}

	ctx.JSON(code, body)
}

// bindErrors - ошибки validator-а по тегам binding -> ошибки полей
func bindErrors(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return model.FieldErrors{"non_field_errors": err.Error()}
	}

	fe := model.FieldErrors{}
	for _, e := range ve {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "max":
			fe[field] = "ensure this field has no more than " + e.Param() + " characters"
		case "required":
			fe[field] = "this field is required"
		default:
			fe[field] = "invalid value"
		}
	}
	return fe
}

func closeFileFlow(res io.ReadCloser) {
	if res == nil {
		return
	}
	if err := res.Close(); err != nil {
		log.Println("Handler failed to close fileflow:", err)
	}
}

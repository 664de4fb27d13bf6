package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"recordhub/internal/apperr"
	"recordhub/internal/logging"
)

// errorBody — единый формат ошибок: {"message": ..., "errors": [{code, field, message}]}
type errorBody struct {
	Message string              `json:"message"`
	Errors  []apperr.FieldError `json:"errors"`
}

// writeError переводит доменную ошибку в HTTP-ответ. Всё остальное даёт 500 с записью в лог.
func writeError(c *gin.Context, err error) {
	var (
		verr *apperr.ValidationError
		nerr *apperr.NotFoundError
		cerr *apperr.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		fields := verr.Fields
		if fields == nil {
			fields = []apperr.FieldError{}
		}
		c.JSON(http.StatusBadRequest, errorBody{Message: verr.Message, Errors: fields})
	case errors.As(err, &nerr):
		c.JSON(http.StatusNotFound, errorBody{
			Message: nerr.Error(),
			Errors:  []apperr.FieldError{apperr.Field(apperr.ErrNotFound, nerr.Kind, nerr.Error())},
		})
	case errors.As(err, &cerr):
		c.JSON(http.StatusConflict, errorBody{
			Message: cerr.Message,
			Errors:  []apperr.FieldError{apperr.Field(apperr.ErrUniqueViolation, cerr.Field, cerr.Message)},
		})
	default:
		logging.FromContext(c.Request.Context()).Error("request failed", "path", c.Request.URL.Path, "err", err)
		c.JSON(http.StatusInternalServerError, errorBody{Message: "internal error", Errors: []apperr.FieldError{}})
	}
}

func badJSON(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]apperr.FieldError, 0, len(verrs))
		for _, fe := range verrs {
			// "schemaRequest.fields[0].name" -> "fields[0].name"
			name := fe.Namespace()
			if i := strings.IndexByte(name, '.'); i >= 0 {
				name = name[i+1:]
			}
			code := apperr.ErrSchemaInvalid
			if fe.Tag() == "required" {
				code = apperr.ErrRequired
			}
			fields = append(fields, apperr.Field(code, name, "failed on '"+fe.Tag()+"' rule"))
		}
		c.JSON(http.StatusBadRequest, errorBody{Message: "validation failed", Errors: fields})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{Message: "invalid JSON: " + err.Error(), Errors: []apperr.FieldError{}})
}

package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nkiryanov/gopherauth/internal/apperrors"
	"github.com/nkiryanov/gopherauth/internal/handlers/reqctx"
)

// Request body limit
const maxBodySize = 1 << 20

var validate = newValidator()

// Overridden in tests
var now = time.Now

type Struct any

// JSON sends data wrapped into success envelope
func JSON(w http.ResponseWriter, r *http.Request, data any) {
	JSONWithStatus(w, r, data, http.StatusOK)
}

func JSONWithStatus(w http.ResponseWriter, r *http.Request, data any, code int) {
	jsonWithStatus(w, apperrors.Success(data, reqctx.RequestID(r.Context()), now()), code)
}

// Error renders any error as envelope with the single error entry
// Status is derived from error kind, unknown errors are 500
func Error(w http.ResponseWriter, r *http.Request, err error) {
	de := apperrors.FromError(err)
	if de == nil {
		de = apperrors.Internal(nil)
	}

	jsonWithStatus(w, apperrors.Render(de, reqctx.RequestID(r.Context()), now()), de.Status())
}

// Render json DecodeError
func DecodeError(w http.ResponseWriter, r *http.Request, err error) {
	de := apperrors.Validation("request", 1, "Failed to parse JSON")

	// Try to provide more specific error message based on error type
	var typeErr *json.UnmarshalTypeError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &typeErr):
		de = de.WithDetail("field", typeErr.Field)
		de.Message = fmt.Sprintf("Invalid data type for field '%s'", typeErr.Field)
	case errors.As(err, &maxErr):
		de.Message = "Request body is too large"
	}

	Error(w, r, de.WithCause(err))
}

// Render ValidationErrors
func ValidationErrors(w http.ResponseWriter, r *http.Request, errs validator.ValidationErrors) {
	fields := make(map[string]string, len(errs))

	// Create user-friendly error messages based on validation tag
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required", "notblank":
			message = "This field is required"
		case "min":
			message = fmt.Sprintf("Value is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("Value is too long (maximum %s)", fieldError.Param())
		default:
			message = "Invalid value"
		}

		fields[fieldError.Field()] = message
	}

	Error(w, r, apperrors.Validation("request", 2, "Request validation failed").WithDetail("fields", fields))
}

// BindAndValidate decodes JSON request body into type T and validates it using struct tags.
// Returns the decoded value and writes appropriate error responses for decoding or validation failures.
func BindAndValidate[T Struct](w http.ResponseWriter, r *http.Request) (T, error) {
	var value T

	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	err := json.NewDecoder(body).Decode(&value)
	if err != nil {
		DecodeError(w, r, err)
		return value, err
	}

	err = validate.Struct(value)
	if err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			Error(w, r, err)
			return value, err
		}
		ValidationErrors(w, r, errs)
		return value, err
	}

	return value, nil
}

// jsonWithStatus sends data as json and enforces status code
func jsonWithStatus(w http.ResponseWriter, data any, code int) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)

	if err := enc.Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}

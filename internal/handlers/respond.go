package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/petermazzocco/recipe-media/internal/logger"
)

const (
	errValidation = "Validation error"
	errNotFound   = "Not found"
	errProcessing = "Processing error"
	errInternal   = "Internal server error"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names in messages.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, label, message string) {
	writeJSON(w, status, envelope{Success: false, Error: label, Message: message})
}

// writeInternal logs err and answers 500 without echoing it.
func writeInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logger.FromContext(r.Context()).Error(msg, slog.Any("error", err))
	writeError(w, http.StatusInternalServerError, errInternal, "An unexpected error occurred")
}

// decodeJSON reads a JSON body into dst and validates it. The returned message is client-safe.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) (string, bool) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	// An empty body decodes as {} so optional fields take their defaults.
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return "Request body must be valid JSON", false
	}
	return validateStruct(dst)
}

func validateStruct(v any) (string, bool) {
	err := validate.Struct(v)
	if err == nil {
		return "", true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request", false
	}
	return fieldMessage(verrs[0]), false
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

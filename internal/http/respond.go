package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"semaphore/bursar/internal/apperr"
)

const (
	maxBodyBytes = 1 << 20
	dateLayout   = "2006-01-02"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message,omitempty"`
	Fields  []apperr.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code})
}

func writeErrorMessage(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeAppError maps the error taxonomy onto HTTP. Authentication failures
// never say which check failed, and cross-tenant access looks exactly like
// a missing resource.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		s.log.Error("unhandled error",
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID(r)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	switch appErr.Kind {
	case apperr.KindAuthentication:
		if errors.Is(err, apperr.ErrInvalidCredentials) {
			writeErrorMessage(w, http.StatusUnauthorized, appErr.Code, appErr.Message)
			return
		}
		writeErrorMessage(w, http.StatusUnauthorized, "unauthenticated", "please re-authenticate")
	case apperr.KindAuthorization:
		switch {
		case errors.Is(err, apperr.ErrCrossTenantAccess):
			writeErrorMessage(w, http.StatusNotFound, "not_found", apperr.ErrNotFound.Message)
		case errors.Is(err, apperr.ErrTenantInactive):
			writeErrorMessage(w, http.StatusForbidden, appErr.Code, appErr.Message)
		default:
			writeErrorMessage(w, http.StatusForbidden, "access_denied", "access denied")
		}
	case apperr.KindValidation:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: appErr.Code, Message: appErr.Message, Fields: appErr.Fields})
	case apperr.KindLedgerInvariant:
		status := http.StatusUnprocessableEntity
		if errors.Is(err, apperr.ErrDuplicateObligation) || errors.Is(err, apperr.ErrAlreadyReversed) || errors.Is(err, apperr.ErrDefinitionLocked) {
			status = http.StatusConflict
		}
		writeErrorMessage(w, status, appErr.Code, appErr.Message)
	case apperr.KindConflict:
		writeErrorMessage(w, http.StatusConflict, appErr.Code, appErr.Message)
	case apperr.KindNotFound:
		writeErrorMessage(w, http.StatusNotFound, "not_found", apperr.ErrNotFound.Message)
	case apperr.KindTransientStore:
		w.Header().Set("Retry-After", "1")
		writeErrorMessage(w, http.StatusServiceUnavailable, apperr.ErrTransientStore.Code, apperr.ErrTransientStore.Message)
	default:
		s.log.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

func asAuthError(err error) (*apperr.Error, bool) {
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindAuthentication {
		return nil, false
	}
	return appErr, true
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

// bind decodes the body into out and runs the struct's validate tags.
func (s *Server) bind(r *http.Request, out interface{}) error {
	if err := decodeJSON(r, out); err != nil {
		return apperr.Field("body", "malformed JSON: "+err.Error())
	}
	if err := s.validate.Struct(out); err != nil {
		return validationError(err)
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		return apperr.Field("body", err.Error())
	}
	fields := make([]apperr.FieldError, 0, len(invalid))
	for _, fe := range invalid {
		fields = append(fields, apperr.FieldError{Field: fieldPath(fe), Message: fieldMessage(fe)})
	}
	return apperr.Validation(fields...)
}

// fieldPath drops the top-level struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid":
		return "must be a UUID"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "datetime":
		return "must be a date formatted " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "invalid value"
	}
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.Field(name, "must be a UUID")
	}
	return id, nil
}

func queryUUID(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Field(name, "must be a UUID")
	}
	return &id, nil
}

func queryDate(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	return parseDate(name, raw)
}

func parseDate(field, raw string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, apperr.Field(field, "must be a date formatted "+dateLayout)
	}
	return &t, nil
}

// optionalUUID parses a body id already checked by the uuid validate tag.
func optionalUUID(raw *string) *uuid.UUID {
	if raw == nil || *raw == "" {
		return nil
	}
	id := uuid.MustParse(*raw)
	return &id
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateLayout)
	return &s
}

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/stocktake/internal/audit/domain"
	"github.com/smallbiznis/stocktake/internal/confidence"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	sessiondomain "github.com/smallbiznis/stocktake/internal/countsession/domain"
	ledgerdomain "github.com/smallbiznis/stocktake/internal/ledger/domain"
	jobdomain "github.com/smallbiznis/stocktake/internal/ocrrerun/domain"
	"github.com/smallbiznis/stocktake/internal/providers/imaging"
	"github.com/smallbiznis/stocktake/internal/providers/ocr"
	"github.com/smallbiznis/stocktake/internal/providers/storage"
	recondomain "github.com/smallbiznis/stocktake/internal/reconciliation/domain"
	triagedomain "github.com/smallbiznis/stocktake/internal/triage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrForbidden),
		errors.Is(err, storage.ErrInvalidURL),
		errors.Is(err, storage.ErrExpiredURL):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
			Code:    domainCode(err),
		}
	case isPreconditionError(err):
		return http.StatusConflict, errorPayload{
			Type:    "precondition_failed",
			Message: preconditionMessage(err),
			Code:    domainCode(err),
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
			Code:    domainCode(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
			Code:    domainCode(err),
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ocr.ErrEngineDisabled):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, recondomain.ErrCommitFailed):
		return http.StatusInternalServerError, errorPayload{
			Type:    "commit_failed",
			Message: "reconciliation could not be committed; the session is unchanged",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, sessiondomain.ErrInvalidID),
		errors.Is(err, sessiondomain.ErrInvalidCounter),
		errors.Is(err, sessiondomain.ErrInvalidActor),
		errors.Is(err, sessiondomain.ErrInvalidStatus),
		errors.Is(err, rolldomain.ErrInvalidID),
		errors.Is(err, rolldomain.ErrInvalidMeters),
		errors.Is(err, rolldomain.ErrEmptyImage),
		errors.Is(err, ocr.ErrEmptyImage),
		errors.Is(err, rolldomain.ErrInvalidStatus),
		errors.Is(err, triagedomain.ErrInvalidFilter),
		errors.Is(err, triagedomain.ErrInvalidSort),
		errors.Is(err, triagedomain.ErrInvalidReviewer),
		errors.Is(err, triagedomain.ErrEmptyEdit),
		errors.Is(err, jobdomain.ErrInvalidID),
		errors.Is(err, jobdomain.ErrInvalidActor),
		errors.Is(err, recondomain.ErrInvalidReviewer),
		errors.Is(err, confidence.ErrInvalidLevel),
		errors.Is(err, imaging.ErrUnsupportedImage),
		errors.Is(err, storage.ErrInvalidPath),
		errors.Is(err, auditdomain.ErrInvalidSession):
		return true
	default:
		return false
	}
}

// isPreconditionError covers actions that are valid in general but not in the entity's current state.
func isPreconditionError(err error) bool {
	switch {
	case errors.Is(err, sessiondomain.ErrInvalidState),
		errors.Is(err, sessiondomain.ErrNotReady),
		errors.Is(err, triagedomain.ErrRollNotPending),
		errors.Is(err, triagedomain.ErrRecountAlreadyRequested),
		errors.Is(err, jobdomain.ErrJobFinished),
		errors.Is(err, jobdomain.ErrNoPhoto):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, sessiondomain.ErrSessionNumberConflict),
		errors.Is(err, rolldomain.ErrCaptureSequenceConflict),
		errors.Is(err, jobdomain.ErrJobAlreadyRunning),
		errors.Is(err, jobdomain.ErrSessionLocked):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sessiondomain.ErrNotFound),
		errors.Is(err, rolldomain.ErrNotFound),
		errors.Is(err, jobdomain.ErrNotFound),
		errors.Is(err, ledgerdomain.ErrNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, storage.ErrSigningKeyless),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// domainCode is the first snake_case sentinel in the chain, e.g. "roll_not_pending".
func domainCode(err error) string {
	for err != nil {
		if msg := err.Error(); msg != "" && !strings.ContainsAny(msg, " :") {
			return msg
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func preconditionMessage(err error) string {
	switch {
	case errors.Is(err, sessiondomain.ErrNotReady):
		return "session still has rolls pending review"
	case errors.Is(err, sessiondomain.ErrInvalidState):
		return "session is not in a state that allows this action"
	case errors.Is(err, triagedomain.ErrRollNotPending):
		return "roll is not pending review"
	case errors.Is(err, triagedomain.ErrRecountAlreadyRequested):
		return "recount already requested"
	case errors.Is(err, jobdomain.ErrJobFinished):
		return "job already finished"
	case errors.Is(err, jobdomain.ErrNoPhoto):
		return "roll has no photo"
	default:
		return "precondition failed"
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	if code := domainCode(err); code != "" {
		return code
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "empty_edit":
		return "no fields to change"
	case "empty_image":
		return "image is required"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog feeds the request logger a stable error type and code.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	if status >= http.StatusInternalServerError && code == "" {
		code = "internal"
	}
	return payload.Type, code
}

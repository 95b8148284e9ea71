package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pcmid/clipchan/internal/errs"
)

// writeError maps an internal error to a JSON envelope and status code,
// following the gin.H{"status":"error", ...} convention. Unlike the old
// radio handlers' substring matching, clipchan's error taxonomy is typed
// so this dispatches on errors.Is/As.
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	c.JSON(status, gin.H{
		"status": "error",
		"error": gin.H{
			"code":    code,
			"message": err.Error(),
		},
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, errs.ErrConflict):
		return http.StatusConflict, "CONFLICT"
	case errors.Is(err, errs.ErrSessionInvalid):
		return http.StatusUnauthorized, "SESSION_INVALID"
	case errors.Is(err, errs.ErrQrExpired):
		return http.StatusGone, "QR_EXPIRED"
	case errors.Is(err, errs.ErrTimeout):
		return http.StatusRequestTimeout, "TIMEOUT"
	case errors.Is(err, errs.ErrWbiExpired):
		return http.StatusUnauthorized, "WBI_EXPIRED"
	default:
		var upstreamErr *errs.UpstreamError
		if errors.As(err, &upstreamErr) {
			return http.StatusBadGateway, "UPSTREAM_ERROR"
		}
		var storageErr *errs.StorageError
		if errors.As(err, &storageErr) {
			return http.StatusInternalServerError, "STORAGE_ERROR"
		}
		var pipelineErr *errs.PipelineError
		if errors.As(err, &pipelineErr) {
			return http.StatusInternalServerError, "PIPELINE_ERROR"
		}
		return http.StatusInternalServerError, "INTERNAL"
	}
}

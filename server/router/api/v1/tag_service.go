package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/server/runner/tagging"
)

const retryAfterSeconds = "30"

// TagBatchRequest is the body of TagBatch.
type TagBatchRequest struct {
	Refs []string `json:"refs"`
}

// TagBatchResponse carries results in request order. Error and Code are set when
// the batch failed; 503 marks failures that may succeed on retry.
type TagBatchResponse struct {
	Results []tagging.Result `json:"results"`
	Error   string           `json:"error,omitempty"`
	Code    string           `json:"code,omitempty"`
}

// TagBatch tags a list of references.
// POST /api/v1/tag
func (s *APIV1Service) TagBatch(c echo.Context) error {
	var req TagBatchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if len(req.Refs) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "refs must not be empty"})
	}
	if len(req.Refs) > maxBatchRefs {
		return c.JSON(http.StatusRequestEntityTooLarge, map[string]string{"error": "too many refs"})
	}
	for _, ref := range req.Refs {
		if strings.TrimSpace(ref) == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "refs must not contain empty values"})
		}
	}

	results, err := s.Tagger.TagBatch(c.Request().Context(), req.Refs)
	s.stats.Invalidate()
	if err != nil {
		code := terrors.GetCodeFromError(err, "")
		slog.Error("tag batch failed", "refs", len(req.Refs), "code", code, "error", err)
		// Oracle and persistence failures are worth retrying; the rest are not.
		status := http.StatusInternalServerError
		if terrors.IsRetryable(err) {
			status = http.StatusServiceUnavailable
			c.Response().Header().Set("Retry-After", retryAfterSeconds)
		}
		return c.JSON(status, &TagBatchResponse{Results: results, Error: err.Error(), Code: string(code)})
	}
	return c.JSON(http.StatusOK, &TagBatchResponse{Results: results})
}

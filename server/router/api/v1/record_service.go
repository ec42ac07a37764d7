package v1

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/tagcache/store"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Record is the API representation of a cached tag record.
type Record struct {
	ContentID       string    `json:"content_id"`
	SimHash         *uint64   `json:"simhash,omitempty"`
	Tags            []string  `json:"tags"`
	FileDescription *string   `json:"file_description,omitempty"`
	Timestamp       time.Time `json:"ts"`
}

func convertRecordFromStore(r *store.TagRecord) *Record {
	return &Record{
		ContentID:       r.ContentID,
		SimHash:         r.SimHash,
		Tags:            r.Tags,
		FileDescription: r.FileDescription,
		Timestamp:       r.Timestamp,
	}
}

// ListRecordsResponse is the response of ListRecords.
type ListRecordsResponse struct {
	Records []*Record `json:"records"`
}

// GetRecord returns one record by content id.
// GET /api/v1/records/:id
func (s *APIV1Service) GetRecord(c echo.Context) error {
	id := c.Param("id")
	if err := store.ValidateContentID(id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	rec, ok := s.Store.GetByID(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "record not found"})
	}
	return c.JSON(http.StatusOK, convertRecordFromStore(rec))
}

// ListRecords lists records, newest first.
// GET /api/v1/records?filter=&tag=&resolved=&limit=
func (s *APIV1Service) ListRecords(c echo.Context) error {
	find := &store.FindTagRecord{
		Filter: c.QueryParam("filter"),
		Limit:  defaultListLimit,
	}
	if tag := c.QueryParam("tag"); tag != "" {
		find.Tag = &tag
	}
	if v := c.QueryParam("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid resolved parameter"})
		}
		find.ResolvedOnly = resolved
	}
	if v := c.QueryParam("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid limit parameter"})
		}
		find.Limit = min(limit, maxListLimit)
	}

	if find.Filter != "" {
		if _, err := store.CompileFilter(find.Filter); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}
	records, err := s.Store.ListRecords(c.Request().Context(), find)
	if err != nil {
		slog.Warn("failed to list records", "filter", find.Filter, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list records"})
	}

	resp := &ListRecordsResponse{Records: make([]*Record, 0, len(records))}
	for _, r := range records {
		resp.Records = append(resp.Records, convertRecordFromStore(r))
	}
	return c.JSON(http.StatusOK, resp)
}

package domain

import (
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stocktake/internal/confidence"
	rolldomain "github.com/smallbiznis/stocktake/internal/countroll/domain"
	"github.com/smallbiznis/stocktake/pkg/db/pagination"
)

type Filter string

const (
	FilterAll              Filter = "all"
	FilterPending          Filter = "pending"
	FilterHighConfidence   Filter = "high_confidence"
	FilterReadyForApproval Filter = "ready_for_approval"
)

var (
	ErrInvalidFilter = errors.New("invalid_filter")
	ErrInvalidSort   = errors.New("invalid_sort_column")
)

func ParseFilter(raw string) (Filter, error) {
	f := Filter(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterPending, FilterHighConfidence, FilterReadyForApproval:
		return f, nil
	default:
		return "", ErrInvalidFilter
	}
}

// SortColumns is the whitelist of columns a reviewer may sort by.
var SortColumns = map[string]struct{}{
	"capture_sequence":     {},
	"created_at":           {},
	"ocr_confidence_score": {},
	"counter_quality":      {},
	"counter_color":        {},
	"counter_lot_number":   {},
	"counter_meters":       {},
	"status":               {},
	"reviewed_at":          {},
}

type Sort struct {
	Column string
	Desc   bool
}

// Query is the reviewer's view state: which session, which rows, in which order, which page.
type Query struct {
	SessionID snowflake.ID
	Filter    Filter
	Sort      Sort
	Page      int
	PageSize  int
}

type Page struct {
	pagination.PageInfo
	Rolls []rolldomain.CountRoll `json:"rolls"`
}

// BuildListQuery turns a reviewer query into a repository filter and a normalized page.
func BuildListQuery(q Query, defaultPageSize, maxPageSize int) (rolldomain.ListFilter, pagination.Request, error) {
	page := pagination.Request{Page: q.Page, PageSize: q.PageSize}.Normalize(defaultPageSize, maxPageSize)
	filter := rolldomain.ListFilter{
		SessionID: q.SessionID,
		Limit:     page.Limit(),
		Offset:    page.Offset(),
	}

	switch q.Filter {
	case FilterAll, "":
	case FilterPending:
		filter.Statuses = []rolldomain.Status{rolldomain.StatusPendingReview}
	case FilterHighConfidence:
		filter.Levels = []confidence.Level{confidence.High}
	case FilterReadyForApproval:
		filter.Statuses = []rolldomain.Status{rolldomain.StatusPendingReview}
		filter.Levels = []confidence.Level{confidence.High}
		filter.ExcludeManual = true
		filter.ExcludeDuplicates = true
	default:
		return rolldomain.ListFilter{}, pagination.Request{}, ErrInvalidFilter
	}

	column := strings.ToLower(strings.TrimSpace(q.Sort.Column))
	if column == "" {
		column = "capture_sequence"
	}
	if _, ok := SortColumns[column]; !ok {
		return rolldomain.ListFilter{}, pagination.Request{}, ErrInvalidSort
	}
	direction := "ASC"
	if q.Sort.Desc {
		direction = "DESC"
	}
	filter.OrderBy = column + " " + direction + ", id ASC"

	return filter, page, nil
}

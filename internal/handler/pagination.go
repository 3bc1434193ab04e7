package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// PaginationMeta defines the structure for pagination metadata.
type PaginationMeta struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// PaginatedResponse defines the structure for a paginated list of any type.
type PaginatedResponse[T any] struct {
	Data []T            `json:"data"`
	Meta PaginationMeta `json:"meta"`
}

// NewPaginatedResponse creates a new PaginatedResponse.
func NewPaginatedResponse[T any](data []T, totalItems int64, page, limit int) PaginatedResponse[T] {
	if limit <= 0 {
		limit = 1
	}
	if data == nil {
		data = []T{}
	}
	return PaginatedResponse[T]{
		Data: data,
		Meta: PaginationMeta{
			TotalItems:  totalItems,
			TotalPages:  int(pageCount(totalItems, int64(limit))),
			CurrentPage: page,
			PageSize:    limit,
		},
	}
}

// pageCount is ceil(total/limit) for limit > 0.
func pageCount(total, limit int64) int64 {
	n := total / limit
	if total%limit != 0 {
		n++
	}
	return n
}

// pageParams reads page and limit from the query string, clamped to sane
// values.
func pageParams(c *gin.Context) (page, limit int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err = strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// Paginate slices an already loaded list. Friend lists are bounded by the
// friend set, so they are loaded whole and cut here.
func Paginate[T any](items []T, page, limit int) PaginatedResponse[T] {
	total := len(items)
	if limit < 1 {
		limit = 1
	}
	// start stays within items even where (page-1)*limit would overflow.
	start := total
	if page >= 1 && int64(page-1) < pageCount(int64(total), int64(limit)) {
		start = (page - 1) * limit
	}
	end := total
	if total-start > limit {
		end = start + limit
	}
	return NewPaginatedResponse(items[start:end], int64(total), page, limit)
}

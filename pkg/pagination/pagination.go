package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// DefaultPageSize is the fixed number of rows shown per page.
const DefaultPageSize = 20

// Page describes one page of a result set. Pages are numbered from 1 and
// From/To are the 1-based positions of the first and last row shown; both
// are 0 for an empty result.
type Page struct {
	Page       int `json:"page"`
	Size       int `json:"size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
	From       int `json:"from"`
	To         int `json:"to"`
}

// Paginate derives the page layout for total rows. page is clamped into
// [1, TotalPages]; a non-positive size uses DefaultPageSize.
func Paginate(total, page, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}
	totalPages := (total + size - 1) / size
	if totalPages < 1 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	p := Page{Page: page, Size: size, Total: total, TotalPages: totalPages}
	if total > 0 {
		p.From = p.Offset() + 1
		p.To = p.Offset() + size
		if p.To > total {
			p.To = total
		}
	}
	return p
}

// Offset is the 0-based index of the first row on the page.
func (p Page) Offset() int {
	return (p.Page - 1) * p.Size
}

func (p Page) HasNext() bool {
	return p.Page < p.TotalPages
}

func (p Page) HasPrevious() bool {
	return p.Page > 1
}

// Slice returns the bounds of the page within a slice of p.Total rows.
func (p Page) Slice() (start, end int) {
	if p.Total == 0 {
		return 0, 0
	}
	return p.From - 1, p.To
}

// PageFromContext reads the requested page number from the "page" query
// parameter. Missing or malformed values give page 1.
func PageFromContext(c echo.Context) int {
	page, err := strconv.Atoi(c.QueryParam("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// Response wraps a paginated API response.
type Response struct {
	Data        interface{} `json:"data"`
	Pagination  Page        `json:"pagination"`
	HasNext     bool        `json:"has_next"`
	HasPrevious bool        `json:"has_previous"`
}

func NewResponse(data interface{}, page Page) *Response {
	return &Response{
		Data:        data,
		Pagination:  page,
		HasNext:     page.HasNext(),
		HasPrevious: page.HasPrevious(),
	}
}

package models

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

// HasMore reports whether another page follows.
func (p Page[T]) HasMore() bool {
	return int64(p.Page*p.PageSize) < p.Total
}

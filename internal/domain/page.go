package domain

type Page struct {
	Page   int
	Limit  int
	Offset int
}

// PageResult 分页列表统一出参
type PageResult[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

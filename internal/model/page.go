package model

const (
	// DefaultLimit используется, если размер страницы не задан.
	DefaultLimit = 10
	// MaxLimit ограничивает размер страницы.
	MaxLimit = 100
)

// PageRequest описывает параметры постраничной выборки.
type PageRequest struct {
	Search string `json:"search" validate:"max=128"`
	Offset int    `json:"offset" validate:"gte=0"`
	Limit  int    `json:"limit" validate:"gt=0,lte=100"`
}

// Normalize подставляет размер страницы по умолчанию.
func (p PageRequest) Normalize() PageRequest {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	return p
}

// Pagination описывает положение страницы в полной выборке.
type Pagination struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// Page содержит элементы страницы и сведения о пагинации.
type Page[T any] struct {
	Items      []T        `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// NewPage создаёт страницу для запроса req.
func NewPage[T any](items []T, req PageRequest, total int) *Page[T] {
	if items == nil {
		items = []T{}
	}
	return &Page[T]{
		Items: items,
		Pagination: Pagination{
			Offset: req.Offset,
			Limit:  req.Limit,
			Total:  total,
		},
	}
}

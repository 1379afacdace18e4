package calendar

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

// Page — одна страница элементов.
type Page[T any] struct {
	Items    []T  `json:"items"`
	Page     int  `json:"page"` // с 1
	PageSize int  `json:"page_size"`
	Total    int  `json:"total"`
	HasNext  bool `json:"has_next"`
	HasPrev  bool `json:"has_prev"`
}

// PageRequest — параметры постраничной выборки из БД.
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize подставляет дефолты и ограничивает размер страницы.
func (p PageRequest) Normalize() PageRequest {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageRequest) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.PageSize
}

func (p PageRequest) Limit() int {
	return p.Normalize().PageSize
}

// NewPage собирает страницу из уже выбранных элементов и общего количества.
func NewPage[T any](items []T, req PageRequest, total int64) Page[T] {
	req = req.Normalize()
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:    items,
		Page:     req.Page,
		PageSize: req.PageSize,
		Total:    int(total),
		HasPrev:  req.Page > 1,
		HasNext:  int64(req.Page*req.PageSize) < total,
	}
}

// Paginate нарезает срез в памяти.
func Paginate[T any](items []T, page, pageSize int) Page[T] {
	req := PageRequest{Page: page, PageSize: pageSize}.Normalize()
	total := len(items)
	start := min(req.Offset(), total)
	end := min(start+req.PageSize, total)
	return NewPage(items[start:end], req, int64(total))
}

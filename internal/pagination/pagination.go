package pagination

// Page describes one clamped page of a list
type Page struct {
	Page       int  `json:"page"`
	PageSize   int  `json:"page_size"`
	TotalItems int  `json:"total_items"`
	TotalPages int  `json:"total_pages"`
	HasPrev    bool `json:"has_prev"`
	HasNext    bool `json:"has_next"`
}

// Paginate clamps page into [1, TotalPages] and pageSize into [1, maxSize].
// An empty list still has one (empty) page. A maxSize <= 0 disables the upper bound.
func Paginate(totalItems, page, pageSize, maxSize int) Page {
	if pageSize < 1 {
		pageSize = 1
	}
	if maxSize > 0 && pageSize > maxSize {
		pageSize = maxSize
	}
	if totalItems < 0 {
		totalItems = 0
	}

	totalPages := (totalItems + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	return Page{
		Page:       page,
		PageSize:   pageSize,
		TotalItems: totalItems,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}
}

// Bounds returns the half-open item range [start, end) covered by p
func (p Page) Bounds() (int, int) {
	start := (p.Page - 1) * p.PageSize
	if start > p.TotalItems {
		start = p.TotalItems
	}
	end := start + p.PageSize
	if end > p.TotalItems {
		end = p.TotalItems
	}
	return start, end
}

// Slice returns the items on page p
func Slice[T any](items []T, p Page) []T {
	start, end := p.Bounds()
	if start >= len(items) {
		return []T{}
	}
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

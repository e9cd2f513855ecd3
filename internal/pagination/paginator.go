// Package pagination slices an in-memory list into fixed-size, 1-based pages.
package pagination

import "sync"

const (
	DefaultPageSize     = 15
	DefaultVisiblePages = 5
)

// Page is a snapshot of the current page.
type Page[T any] struct {
	Items      []T `json:"items"`
	PageNumber int `json:"pageNumber"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}

// Paginator holds a list and a cursor. The cursor always stays within
// [1, TotalPages].
type Paginator[T any] struct {
	mu       sync.RWMutex
	items    []T
	pageSize int
	current  int
}

// New returns a paginator over items.
func New[T any](items []T, pageSize int) *Paginator[T] {
	p := &Paginator[T]{}
	p.Initialize(items, pageSize)
	return p
}

// Initialize replaces the list and resets the cursor to page 1. A pageSize of
// zero or less selects DefaultPageSize.
func (p *Paginator[T]) Initialize(items []T, pageSize int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append([]T(nil), items...)
	p.pageSize = pageSize
	p.current = 1
}

func (p *Paginator[T]) size() int {
	if p.pageSize <= 0 {
		return DefaultPageSize
	}
	return p.pageSize
}

func (p *Paginator[T]) cursor() int {
	if p.current < 1 {
		return 1
	}
	return p.current
}

func (p *Paginator[T]) totalPages() int {
	n := (len(p.items) + p.size() - 1) / p.size()
	if n < 1 {
		return 1
	}
	return n
}

// TotalPages is ceil(len/pageSize), at least 1.
func (p *Paginator[T]) TotalPages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.totalPages()
}

// CurrentPage returns the 1-based cursor.
func (p *Paginator[T]) CurrentPage() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor()
}

func (p *Paginator[T]) bounds() (start, end int) {
	start = (p.cursor() - 1) * p.size()
	end = min(start+p.size(), len(p.items))
	if start > end {
		start = end
	}
	return start, end
}

// CurrentPageItems returns a copy of the items on the current page.
func (p *Paginator[T]) CurrentPageItems() []T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start, end := p.bounds()
	return append([]T{}, p.items[start:end]...)
}

// NextPage moves forward one page and reports whether the cursor moved.
func (p *Paginator[T]) NextPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.move(p.cursor() + 1)
}

// PreviousPage moves back one page and reports whether the cursor moved.
func (p *Paginator[T]) PreviousPage() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.move(p.cursor() - 1)
}

// GoToPage jumps to page n. Out of range pages are ignored and report false.
func (p *Paginator[T]) GoToPage(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.move(n)
}

func (p *Paginator[T]) move(n int) bool {
	if n < 1 || n > p.totalPages() || n == p.cursor() {
		return false
	}
	p.current = n
	return true
}

// Page returns a snapshot of the current page.
func (p *Paginator[T]) Page() Page[T] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start, end := p.bounds()
	return Page[T]{
		Items:      append([]T{}, p.items[start:end]...),
		PageNumber: p.cursor(),
		PageSize:   p.size(),
		TotalItems: len(p.items),
		TotalPages: p.totalPages(),
	}
}

// Range returns the 1-based positions of the first and last item shown, or
// 0, 0 for an empty list.
func (p *Paginator[T]) Range() (first, last int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	start, end := p.bounds()
	if start == end {
		return 0, 0
	}
	return start + 1, end
}

// VisiblePages returns a window of at most max page numbers around the cursor
// for a page selector. max <= 0 selects DefaultVisiblePages.
func (p *Paginator[T]) VisiblePages(max int) []int {
	if max <= 0 {
		max = DefaultVisiblePages
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	total, cur := p.totalPages(), p.cursor()
	first := cur - max/2
	if first+max-1 > total {
		first = total - max + 1
	}
	if first < 1 {
		first = 1
	}
	pages := make([]int, 0, max)
	for n := first; n <= total && len(pages) < max; n++ {
		pages = append(pages, n)
	}
	return pages
}

package report

// DefaultPageSize rows per report page.
const DefaultPageSize = 10

// Page is one slice of a decoded table.
type Page struct {
	Number     int   `json:"number"`
	Size       int   `json:"size"`
	TotalRows  int   `json:"totalRows"`
	TotalPages int   `json:"totalPages"`
	HasPrev    bool  `json:"hasPrev"`
	HasNext    bool  `json:"hasNext"`
	Rows       []Row `json:"rows"`
}

// Paginate returns page number (1-based) of rows. Out of range numbers are
// clamped to the first or last page. An empty table has zero pages.
func Paginate(rows []Row, number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	total := len(rows)
	pages := (total + size - 1) / size

	if number > pages {
		number = pages
	}
	if number < 1 {
		number = 1
	}

	p := Page{Number: number, Size: size, TotalRows: total, TotalPages: pages, Rows: []Row{}}
	if pages == 0 {
		return p
	}
	start := (number - 1) * size
	end := start + size
	if end > total {
		end = total
	}
	p.Rows = rows[start:end]
	p.HasPrev = number > 1
	p.HasNext = number < pages
	return p
}

package pagination

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

// Request is an offset page request; Page is 1-based.
type Request struct {
	Page     int `form:"page,default=1" json:"page"`
	PageSize int `form:"page_size" json:"page_size"`
}

type PageInfo struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	HasMore    bool  `json:"has_more"`
}

// Normalize clamps the request into range using the given defaults.
// A non-positive defaultSize or maxSize falls back to the package constants.
func (r Request) Normalize(defaultSize, maxSize int) Request {
	if defaultSize <= 0 {
		defaultSize = DefaultPageSize
	}
	if maxSize <= 0 {
		maxSize = MaxPageSize
	}
	if r.Page < 1 {
		r.Page = 1
	}
	if r.PageSize <= 0 {
		r.PageSize = defaultSize
	}
	if r.PageSize > maxSize {
		r.PageSize = maxSize
	}
	return r
}

func (r Request) Offset() int {
	if r.Page < 1 {
		return 0
	}
	return (r.Page - 1) * r.PageSize
}

func (r Request) Limit() int {
	return r.PageSize
}

func BuildPageInfo(req Request, total int64) PageInfo {
	info := PageInfo{Page: req.Page, PageSize: req.PageSize, TotalItems: total}
	if req.PageSize > 0 {
		info.TotalPages = int((total + int64(req.PageSize) - 1) / int64(req.PageSize))
	}
	info.HasMore = int64(req.Offset()+req.PageSize) < total
	return info
}

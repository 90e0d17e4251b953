package repo

// SortDirection 排序方向
type SortDirection string

const (
	ASC  SortDirection = "ASC"
	DESC SortDirection = "DESC"
)

func (s SortDirection) IsValid() bool { return s == ASC || s == DESC }

// QueryOptions 分页查询选项。Filters 的键为属性名加可选后缀
// （_like/_gt/_gte/_lt/_lte/_ne/_in/_not_in），值为字符串形式。
type QueryOptions struct {
	Page    int                      `json:"page"`
	Size    int                      `json:"size"`
	Order   string                   `json:"order"`
	Sorts   map[string]SortDirection `json:"sorts"`
	Filters map[string]string        `json:"filters"`
}

// PagedResult 分页结果
type PagedResult[T any] struct {
	Data       []*T  `json:"data"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalPages int   `json:"total_pages"`
}

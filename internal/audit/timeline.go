package audit

import "time"

// TimelineFilters holds the activity log filters.
type TimelineFilters struct {
	From     time.Time
	To       time.Time
	Actor    string
	Entity   string
	Action   string
	Page     int
	PageSize int
}

// TimelineRow is one audit entry as displayed.
type TimelineRow struct {
	At       time.Time
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     string
}

// PagingInfo is simple offset paging metadata.
type PagingInfo struct {
	Page     int
	HasNext  bool
	PageSize int
	PrevPage int
	NextPage int
}

// FiltersViewModel echoes the filters back to the template.
type FiltersViewModel struct {
	From   time.Time
	To     time.Time
	Actor  string
	Entity string
	Action string
}

// ViewModel is the data behind the activity page.
type ViewModel struct {
	Filters  FiltersViewModel
	Rows     []TimelineRow
	Paging   PagingInfo
	Entities []string
}

// Entities lists the audit entity names written by the app.
func Entities() []string {
	return []string{"receipt_batch", "receipt_group", "receipt_rule", "receipt_transaction", "role", "short_link", "user"}
}

package dto

// DashboardResponse aggregates the at-a-glance view for one date.
type DashboardResponse struct {
	Date         string             `json:"date"`
	Sessions     []DashboardSession `json:"sessions"`
	NextUp       *DashboardSession  `json:"nextUp,omitempty"`
	PendingCount int                `json:"pendingCount"`
	WeekConflict bool               `json:"weekConflict"`
	MonthUnpaid  int                `json:"monthUnpaid"`
}

// DashboardSession is a compact session row with its derived status.
type DashboardSession struct {
	ID        string `json:"id"`
	Student   string `json:"student"`
	Date      string `json:"date,omitempty"`
	Day       string `json:"day"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
	Status    string `json:"status"`
	Pending   bool   `json:"pending"`
	Cancelled bool   `json:"cancelled"`
}

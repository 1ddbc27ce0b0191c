package dto

// CalendarFeedResponse carries a signed, time-limited URL for the ICS feed.
type CalendarFeedResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

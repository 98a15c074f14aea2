package models

type SearchContextResponse struct {
	Count int           `json:"count"`
	Notes []ContextNote `json:"notes"`
}

type SendMessageResponse struct {
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
}

type MessagesResponse struct {
	SessionID string    `json:"session_id"`
	Count     int       `json:"count"`
	Messages  []Message `json:"messages"`
}

type TagSearchResponse struct {
	Query string `json:"query"`
	Count int    `json:"count"`
	Tags  []Tag  `json:"tags"`
}

type RefreshTagsResponse struct {
	UpdatedCount int  `json:"updated_count"`
	Stale        bool `json:"stale,omitempty"`
}

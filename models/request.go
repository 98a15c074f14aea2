package models

// CaptureRequest carries an already-captured payload from the frontend.
// Image is base64 in transit (standard encoding/json []byte handling).
type CaptureRequest struct {
	SessionID    string  `json:"session_id,omitempty"`
	SelectedText *string `json:"selected_text,omitempty"`
	Image        []byte  `json:"image,omitempty"`
	SourceApp    string  `json:"source_app,omitempty"`
	SourceURL    string  `json:"source_url,omitempty"`
}

type SearchContextRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type SendMessageRequest struct {
	SessionID          string `json:"session_id,omitempty"`
	Text               string `json:"text"`
	UseExtendedContext bool   `json:"use_extended_context"`
	SmarterAnalysis    bool   `json:"smarter_analysis,omitempty"`
}

type ClearConversationRequest struct {
	SessionID string `json:"session_id"`
}

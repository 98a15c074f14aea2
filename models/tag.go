package models

// Tag is a labeled category sourced from the remote catalog.
type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

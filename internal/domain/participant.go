package domain

// Participant identifies one connected client instance. It exists only while
// the connection is alive; the same user reconnecting gets a new ConnectionID.
type Participant struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
}

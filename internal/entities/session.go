package entities

// Session identifies the user on whose behalf a transaction is submitted.
// It is passed explicitly to every call that needs it.
type Session struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Phone    string `json:"phone,omitempty"`
}

// Identity is the sender identity recorded on transactions.
func (s Session) Identity() string {
	if s.Username != "" {
		return s.Username
	}
	return s.UserID
}

// Valid reports whether the session carries any identity at all.
func (s Session) Valid() bool {
	return s.Identity() != ""
}

package models

const UnknownSender = "Unknown User"

// Sender is the display identity joined from the sender's profile. Both
// fields are empty when the profile row is missing.
type Sender struct {
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	Label       string `json:"label"`
}

// ResolveLabel fills Label with the first non-empty of display name, email
// and UnknownSender.
func (s Sender) ResolveLabel() Sender {
	switch {
	case s.DisplayName != "":
		s.Label = s.DisplayName
	case s.Email != "":
		s.Label = s.Email
	default:
		s.Label = UnknownSender
	}
	return s
}

// User is the signed-in identity.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

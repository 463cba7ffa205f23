package model

import "time"

// Source is a configured origin of time records.
type Source struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Kind         SourceKind `json:"kind"`
	BaseURL      string     `json:"base_url,omitempty"`
	APIToken     string     `json:"-"`
	PollSchedule string     `json:"poll_schedule,omitempty"`
	Enabled      bool       `json:"enabled"`
	CreatedAt    time.Time  `json:"created_at"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
}

// HasToken reports whether the source carries an API credential.
func (s *Source) HasToken() bool {
	return s.APIToken != ""
}

// EmployeeMapping links a source account id to a user of the booking
// system, so bookings are registered on that user's behalf.
type EmployeeMapping struct {
	ID             int64     `json:"id"`
	AccountID      string    `json:"account_id"`
	DisplayName    *string   `json:"display_name,omitempty"`
	TargetUserID   int64     `json:"target_user_id"`
	TargetUserName *string   `json:"target_user_name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

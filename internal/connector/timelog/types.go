package timelog

import "github.com/google/uuid"

// listResponse is the target's HAL-style list envelope: items are nested
// as Entities[i].Properties.
type listResponse[T any] struct {
	Entities []struct {
		Properties T `json:"Properties"`
	} `json:"Entities"`
	Properties struct {
		TotalRecord string `json:"TotalRecord"`
		TotalPage   string `json:"TotalPage"`
		PageNumber  string `json:"PageNumber"`
	} `json:"Properties"`
}

func (r listResponse[T]) Data() []T {
	out := make([]T, len(r.Entities))
	for i, e := range r.Entities {
		out[i] = e.Properties
	}
	return out
}

type Project struct {
	ProjectID   int     `json:"ProjectID"`
	ID          string  `json:"ID"`
	Name        string  `json:"Name"`
	No          *string `json:"No"`
	Description *string `json:"Description"`
	CustomerID  int     `json:"CustomerID"`
}

type Task struct {
	TaskID       int     `json:"TaskID"`
	ID           string  `json:"ID"`
	Name         string  `json:"Name"`
	No           *string `json:"No"`
	ProjectID    int     `json:"ProjectID"`
	ParentTaskID *int    `json:"ParentTaskID"`
	IsActive     *bool   `json:"IsActive"`
}

// Active reports the task's active flag; tasks without one are active.
func (t Task) Active() bool {
	return t.IsActive == nil || *t.IsActive
}

type User struct {
	UserID    int     `json:"UserID"`
	FirstName string  `json:"FirstName"`
	LastName  string  `json:"LastName"`
	Email     *string `json:"Email"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	switch {
	case u.FirstName == "":
		return u.LastName
	case u.LastName == "":
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// TimeRegistration is a booking request.
type TimeRegistration struct {
	ID        uuid.UUID `json:"ID"`
	TaskID    int       `json:"TaskID"`
	GroupType int       `json:"GroupType"`
	Date      string    `json:"Date"`
	Hours     float64   `json:"Hours"`
	Comment   string    `json:"Comment"`
	Billable  bool      `json:"Billable"`
	UserID    *int64    `json:"UserID,omitempty"`
}

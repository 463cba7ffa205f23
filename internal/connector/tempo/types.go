package tempo

type pagedResponse struct {
	Results  []Worklog `json:"results"`
	Metadata struct {
		Count  int    `json:"count"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
		Next   string `json:"next"`
	} `json:"metadata"`
}

// Worklog is one time record as returned by the source API.
type Worklog struct {
	TempoWorklogID   int64       `json:"tempoWorklogId"`
	Issue            *IssueRef   `json:"issue"`
	TimeSpentSeconds int         `json:"timeSpentSeconds"`
	BillableSeconds  int         `json:"billableSeconds"`
	StartDate        string      `json:"startDate"`
	StartTime        *string     `json:"startTime"`
	Description      *string     `json:"description"`
	Author           *Author     `json:"author"`
	Attributes       *Attributes `json:"attributes"`
}

// IssueRef points at the issue the time was logged against.
type IssueRef struct {
	ID   int64  `json:"id"`
	Self string `json:"self"`
}

// Author identifies the person who logged the time.
type Author struct {
	AccountID string `json:"accountId"`
	Self      string `json:"self"`
}

// Attributes are the work attributes configured in the source (e.g. _WorkType_).
type Attributes struct {
	Values []AttributeValue `json:"values"`
}

type AttributeValue struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
}

// Package jira is a read-only client for the issue tracker: issue
// enrichment for worklogs and account display names.
package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/model"
)

// CustomFieldPrefix marks tenant-defined issue fields.
const CustomFieldPrefix = "customfield_"

// Config holds issue tracker credentials.
type Config struct {
	BaseURL  string
	Email    string
	APIToken string

	HTTP connhttp.ClientConfig
}

// ValidationError reports an unusable Config field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &ValidationError{Field: "baseUrl", Message: "required"}
	}
	if c.Email == "" {
		return &ValidationError{Field: "email", Message: "required"}
	}
	if c.APIToken == "" {
		return &ValidationError{Field: "apiToken", Message: "required"}
	}
	return nil
}

// Client talks to the issue tracker REST API.
type Client struct {
	http *connhttp.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("jira config: %w", err)
	}
	hc := cfg.HTTP
	hc.BaseURL = cfg.BaseURL
	hc.Auth = connhttp.AtlassianAuth{Email: cfg.Email, APIToken: cfg.APIToken}
	return &Client{http: connhttp.NewClient(hc)}, nil
}

// IssueDetails is what enrichment takes from an issue.
type IssueDetails struct {
	ID          string
	Key         string
	Summary     string
	ProjectKey  string
	ProjectName string

	// CustomFields holds every customfield_* field in response order.
	// String values are kept as text, null as MetaNull, anything else as
	// raw JSON.
	CustomFields model.Metadata
}

type issueResponse struct {
	ID     string          `json:"id"`
	Key    string          `json:"key"`
	Fields json.RawMessage `json:"fields"`
}

type issueFields struct {
	Summary string `json:"summary"`
	Project *struct {
		Key  string `json:"key"`
		Name string `json:"name"`
	} `json:"project"`
}

// Issue fetches one issue by numeric id with all fields.
func (c *Client) Issue(ctx context.Context, issueID int64) (IssueDetails, error) {
	var resp issueResponse
	path := "/rest/api/3/issue/" + strconv.FormatInt(issueID, 10)
	if err := c.http.GetJSON(ctx, path, nil, &resp); err != nil {
		return IssueDetails{}, fmt.Errorf("get issue %d: %w", issueID, err)
	}

	details := IssueDetails{ID: resp.ID, Key: resp.Key}
	if len(resp.Fields) == 0 {
		return details, nil
	}

	var fields issueFields
	if err := json.Unmarshal(resp.Fields, &fields); err != nil {
		return IssueDetails{}, fmt.Errorf("decode issue %d fields: %w", issueID, err)
	}
	details.Summary = fields.Summary
	if fields.Project != nil {
		details.ProjectKey = fields.Project.Key
		details.ProjectName = fields.Project.Name
	}

	all, err := model.ParseMetadata(resp.Fields)
	if err != nil {
		return IssueDetails{}, fmt.Errorf("decode issue %d fields: %w", issueID, err)
	}
	for _, f := range all {
		if strings.HasPrefix(f.Key, CustomFieldPrefix) {
			details.CustomFields = append(details.CustomFields, f)
		}
	}
	return details, nil
}

// User is an issue tracker account.
type User struct {
	AccountID    string `json:"accountId"`
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// User fetches an account by id.
func (c *Client) User(ctx context.Context, accountID string) (User, error) {
	var u User
	if err := c.http.GetJSON(ctx, "/rest/api/3/user", url.Values{"accountId": {accountID}}, &u); err != nil {
		return User{}, fmt.Errorf("get user %s: %w", accountID, err)
	}
	return u, nil
}

// DisplayName returns the account's display name, satisfying
// directory.Lookup.
func (c *Client) DisplayName(ctx context.Context, accountID string) (string, error) {
	u, err := c.User(ctx, accountID)
	if err != nil {
		return "", err
	}
	return u.DisplayName, nil
}

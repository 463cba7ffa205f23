// Package timelog is a client for the time-registration target: the
// project/task taxonomy, its users, and booking creation.
package timelog

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	connhttp "github.com/roach88/timebridge/internal/connector/http"
)

// PageSize is the list page size requested from the target.
const PageSize = 500

// GroupTypeProject books against a project task (3 would be absence).
const GroupTypeProject = 1

type Config struct {
	BaseURL string
	APIKey  string

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
	if c.APIKey == "" {
		return &ValidationError{Field: "apiKey", Message: "required"}
	}
	return nil
}

// Client talks to the booking target.
type Client struct {
	http *connhttp.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("timelog config: %w", err)
	}
	hc := cfg.HTTP
	hc.BaseURL = cfg.BaseURL
	hc.Auth = connhttp.BearerToken{Token: cfg.APIKey}
	return &Client{http: connhttp.NewClient(hc)}, nil
}

// Projects lists the active projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	query := url.Values{}
	query.Set("$pagesize", strconv.Itoa(PageSize))
	query.Set("isActive", "true")

	var resp listResponse[Project]
	if err := c.http.GetJSON(ctx, "/v1/project/get-all", query, &resp); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return resp.Data(), nil
}

// Tasks lists the tasks of one project by its target id.
func (c *Client) Tasks(ctx context.Context, projectID int) ([]Task, error) {
	query := url.Values{}
	query.Set("$pagesize", strconv.Itoa(PageSize))
	query.Set("projectId", strconv.Itoa(projectID))

	var resp listResponse[Task]
	if err := c.http.GetJSON(ctx, "/v1/task/filter", query, &resp); err != nil {
		return nil, fmt.Errorf("list tasks of project %d: %w", projectID, err)
	}
	return resp.Data(), nil
}

// Users lists the target's users, for employee mapping.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	query := url.Values{}
	query.Set("$pagesize", strconv.Itoa(PageSize))

	var resp listResponse[User]
	if err := c.http.GetJSON(ctx, "/v1/user/get-all", query, &resp); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return resp.Data(), nil
}

// CreateTimeRegistration books one registration. A rejection is returned
// as a *connhttp.HTTPError carrying the status code and response body.
func (c *Client) CreateTimeRegistration(ctx context.Context, reg TimeRegistration) error {
	if reg.ID == uuid.Nil {
		return fmt.Errorf("create time registration: missing request id")
	}
	if _, err := c.http.PostJSON(ctx, "/v1/time-registration", reg); err != nil {
		return fmt.Errorf("create time registration %s: %w", reg.ID, err)
	}
	return nil
}

// Package tempo is a client for the worklog source API.
package tempo

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	connhttp "github.com/roach88/timebridge/internal/connector/http"
	"github.com/roach88/timebridge/internal/model"
)

const (
	DefaultBaseURL  = "https://api.tempo.io/4"
	DefaultPageSize = 5000
)

// Config holds the connection settings for one worklog source.
type Config struct {
	BaseURL  string
	Token    string
	PageSize int

	// HTTP carries transport tuning; BaseURL and Auth are overwritten.
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

// Validate fills defaults and rejects a missing token.
func (c *Config) Validate() error {
	if c.Token == "" {
		return &ValidationError{Field: "token", Message: "required"}
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return nil
}

// Client reads worklogs from the source API.
type Client struct {
	http     *connhttp.Client
	pageSize int
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tempo config: %w", err)
	}
	hc := cfg.HTTP
	hc.BaseURL = cfg.BaseURL
	hc.Auth = connhttp.BearerToken{Token: cfg.Token}
	return &Client{
		http:     connhttp.NewClient(hc),
		pageSize: cfg.PageSize,
	}, nil
}

// Worklogs returns every worklog with a start date in [from, to].
//
// Pages are requested with offset/limit until a page is short or the
// response carries no next link.
func (c *Client) Worklogs(ctx context.Context, from, to model.Date) ([]Worklog, error) {
	var all []Worklog
	offset := 0
	for {
		query := url.Values{}
		query.Set("from", from.String())
		query.Set("to", to.String())
		query.Set("offset", strconv.Itoa(offset))
		query.Set("limit", strconv.Itoa(c.pageSize))

		var page pagedResponse
		if err := c.http.GetJSON(ctx, "/worklogs", query, &page); err != nil {
			return nil, fmt.Errorf("fetch worklogs at offset %d: %w", offset, err)
		}
		all = append(all, page.Results...)

		slog.Debug("fetched worklog page",
			"offset", offset,
			"count", len(page.Results),
			"total", len(all))

		if page.Metadata.Next == "" || len(page.Results) < c.pageSize {
			break
		}
		offset += c.pageSize
	}
	return all, nil
}

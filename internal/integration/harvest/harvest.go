// Package harvest reads project budgets and team hours from the Harvest v2
// API.
package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/integration"
)

const (
	DefaultBaseURL   = "https://api.harvestapp.com/v2"
	defaultUserAgent = "switchboard (https://github.com/zulandar/switchboard)"
	maxPages         = 20
)

// Config holds the credentials for a Client.
type Config struct {
	AccountID string
	Token     string
	BaseURL   string // defaults to DefaultBaseURL
	UserAgent string
	Timeout   time.Duration
}

// Client is a Harvest API client.
type Client struct {
	baseURL   string
	accountID string
	token     string
	userAgent string
	http      *http.Client
}

var (
	_ integration.TimeTracking = (*Client)(nil)
	_ integration.Pinger       = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("harvest: account id is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("harvest: token is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   base,
		accountID: cfg.AccountID,
		token:     cfg.Token,
		userAgent: ua,
		http:      &http.Client{Timeout: timeout},
	}, nil
}

// Error is a non-2xx Harvest response.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("harvest: status %d: %s", e.StatusCode, e.Message)
}

// Company returns the account's company name. It doubles as the
// credentials check.
func (c *Client) Company(ctx context.Context) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.get(ctx, "/company", nil, &resp); err != nil {
		return "", err
	}
	return resp.Name, nil
}

// Ping verifies the credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Company(ctx)
	return err
}

type page struct {
	NextPage *int `json:"next_page"`
}

type budgetRow struct {
	ProjectID       int64    `json:"project_id"`
	ProjectName     string   `json:"project_name"`
	ClientName      string   `json:"client_name"`
	IsActive        bool     `json:"is_active"`
	Budget          *float64 `json:"budget"`
	BudgetSpent     float64  `json:"budget_spent"`
	BudgetRemaining *float64 `json:"budget_remaining"`
}

// Projects returns projects with their budget position from the project
// budget report. Projects without a budget report a zero Budget.
func (c *Client) Projects(ctx context.Context, activeOnly bool) ([]integration.Project, error) {
	q := url.Values{}
	if activeOnly {
		q.Set("is_active", "true")
	}
	var out []integration.Project
	err := c.paginate(ctx, "/reports/project_budget", q, func(data []byte) (*int, error) {
		var resp struct {
			page
			Results []budgetRow `json:"results"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			p := integration.Project{
				ID:       r.ProjectID,
				Name:     r.ProjectName,
				Client:   r.ClientName,
				Spent:    r.BudgetSpent,
				IsActive: r.IsActive,
			}
			if r.Budget != nil {
				p.Budget = *r.Budget
			}
			out = append(out, p)
		}
		return resp.NextPage, nil
	})
	return out, err
}

// TeamHours returns hours logged per person in [from, to] alongside their
// weekly capacity.
func (c *Client) TeamHours(ctx context.Context, from, to time.Time) ([]integration.PersonHours, error) {
	capacity, err := c.capacities(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("from", from.Format("20060102"))
	q.Set("to", to.Format("20060102"))
	var out []integration.PersonHours
	err = c.paginate(ctx, "/reports/time/team", q, func(data []byte) (*int, error) {
		var resp struct {
			page
			Results []struct {
				UserID     int64   `json:"user_id"`
				UserName   string  `json:"user_name"`
				TotalHours float64 `json:"total_hours"`
			} `json:"results"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Results {
			out = append(out, integration.PersonHours{
				Name:     r.UserName,
				Hours:    r.TotalHours,
				Capacity: capacity[r.UserID],
			})
		}
		return resp.NextPage, nil
	})
	return out, err
}

// capacities maps active user ids to weekly capacity in hours.
func (c *Client) capacities(ctx context.Context) (map[int64]float64, error) {
	q := url.Values{}
	q.Set("is_active", "true")
	out := make(map[int64]float64)
	err := c.paginate(ctx, "/users", q, func(data []byte) (*int, error) {
		var resp struct {
			page
			Users []struct {
				ID             int64 `json:"id"`
				WeeklyCapacity int64 `json:"weekly_capacity"` // seconds
			} `json:"users"`
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, err
		}
		for _, u := range resp.Users {
			out[u.ID] = float64(u.WeeklyCapacity) / 3600
		}
		return resp.NextPage, nil
	})
	return out, err
}

// paginate follows next_page links until exhausted or maxPages is reached.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, fn func([]byte) (*int, error)) error {
	pageNum := 1
	for i := 0; i < maxPages; i++ {
		q.Set("page", strconv.Itoa(pageNum))
		var raw json.RawMessage
		if err := c.get(ctx, path, q, &raw); err != nil {
			return err
		}
		next, err := fn(raw)
		if err != nil {
			return fmt.Errorf("harvest: decode %s: %w", path, err)
		}
		if next == nil {
			return nil
		}
		pageNum = *next
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, dest any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("harvest: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Harvest-Account-Id", c.accountID)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("harvest: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("harvest: read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		var env struct {
			Message string `json:"error_description"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &env) == nil && env.Message != "" {
			msg = env.Message
		}
		return &Error{StatusCode: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("harvest: decode %s: %w", path, err)
	}
	return nil
}

package account

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"livecap/internal/httpx"
	"livecap/transcript"
)

var ErrNoToken = errors.New("not signed in")

// TokenSource supplies the bearer token issued by the auth collaborator.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// Usage is the account service's view of consumed minutes.
type Usage struct {
	Tier                 string `json:"tier"`
	UsedMinutesToday     int    `json:"usedMinutesToday"`
	UsedMinutesThisMonth int    `json:"usedMinutesThisMonth"`
	DailyLimit           *int   `json:"dailyLimit,omitempty"`
	MonthlyLimit         *int   `json:"monthlyLimit,omitempty"`
}

type Note struct {
	ID              string               `json:"id,omitempty"`
	Title           string               `json:"title"`
	SessionType     string               `json:"sessionType"`
	Content         string               `json:"content"`
	Segments        []transcript.Segment `json:"segments"`
	Engine          string               `json:"engine"`
	SourceLanguage  string               `json:"sourceLanguage"`
	TargetLanguage  string               `json:"targetLanguage,omitempty"`
	DurationMinutes int                  `json:"durationMinutes"`
	StartedAt       time.Time            `json:"startedAt"`
	CreatedAt       time.Time            `json:"createdAt"`
}

// Client talks to the remote account service.
type Client struct {
	BaseURL string

	tokens TokenSource
	http   *httpx.TracedClient
}

func NewClient(baseURL string, tokens TokenSource, client *httpx.TracedClient) *Client {
	if client == nil {
		client = httpx.NewTracedClient()
	}
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), tokens: tokens, http: client}
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	headers := map[string]string{"Authorization": "Bearer " + tok}
	return c.http.DoJSON(ctx, method, c.BaseURL+path, headers, body, dest)
}

func (c *Client) TimeUsage(ctx context.Context) (Usage, error) {
	var u Usage
	err := c.do(ctx, http.MethodGet, "/time-usage", nil, &u)
	return u, err
}

type addTimeUsageRequest struct {
	Minutes      int    `json:"minutes"`
	SessionType  string `json:"sessionType"`
	SessionTitle string `json:"sessionTitle"`
}

func (c *Client) AddTimeUsage(ctx context.Context, minutes int, sessionType, title string) error {
	return c.do(ctx, http.MethodPost, "/add-time-usage", addTimeUsageRequest{
		Minutes:      minutes,
		SessionType:  sessionType,
		SessionTitle: title,
	}, nil)
}

type saveNoteResponse struct {
	ID string `json:"id"`
}

// SaveNote stores a session and returns the id assigned by the service.
func (c *Client) SaveNote(ctx context.Context, n Note) (string, error) {
	var resp saveNoteResponse
	if err := c.do(ctx, http.MethodPost, "/save-note", n, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) Notes(ctx context.Context) ([]Note, error) {
	var notes []Note
	err := c.do(ctx, http.MethodGet, "/get-notes", nil, &notes)
	return notes, err
}

// Ping checks reachability and credentials.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.TimeUsage(ctx)
	return err
}

// IsAuthError reports whether err was a rejected credential.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrNoToken) {
		return true
	}
	var se *httpx.StatusError
	return errors.As(err, &se) && (se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden)
}

package translator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"livecap/internal/httpx"
)

const (
	DefaultGoogleURL   = "https://translate.googleapis.com/translate_a/single"
	DefaultMyMemoryURL = "https://api.mymemory.translated.net/get"
	DefaultLibreURL    = "https://libretranslate.com"
)

// NewProvider builds a provider by name: google, mymemory or libre.
func NewProvider(name, endpoint, apiKey string, client *httpx.TracedClient) (Provider, error) {
	if client == nil {
		client = httpx.NewTracedClient()
	}
	switch strings.ToLower(name) {
	case "", "google":
		return &Google{URL: or(endpoint, DefaultGoogleURL), client: client}, nil
	case "mymemory":
		return &MyMemory{URL: or(endpoint, DefaultMyMemoryURL), Email: apiKey, client: client}, nil
	case "libre", "libretranslate":
		return &Libre{URL: or(endpoint, DefaultLibreURL), APIKey: apiKey, client: client}, nil
	}
	return nil, fmt.Errorf("unknown translation provider %q", name)
}

// Known reports whether NewProvider accepts name.
func Known(name string) bool {
	switch strings.ToLower(name) {
	case "", "google", "mymemory", "libre", "libretranslate":
		return true
	}
	return false
}

func or(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// Google uses the public gtx endpoint, which answers with nested arrays.
type Google struct {
	URL    string
	client *httpx.TracedClient
}

func (g *Google) Name() string { return "google" }

func (g *Google) Translate(ctx context.Context, text, from, to string) (string, error) {
	q := url.Values{}
	q.Set("client", "gtx")
	q.Set("sl", or(from, "auto"))
	q.Set("tl", to)
	q.Set("dt", "t")
	q.Set("q", text)

	var raw []any
	if err := g.client.DoJSON(ctx, http.MethodGet, g.URL+"?"+q.Encode(), nil, nil, &raw); err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", ErrEmptyTranslation
	}
	sentences, ok := raw[0].([]any)
	if !ok {
		return "", fmt.Errorf("google: unexpected response shape")
	}
	var b strings.Builder
	for _, s := range sentences {
		parts, ok := s.([]any)
		if !ok || len(parts) == 0 {
			continue
		}
		if str, ok := parts[0].(string); ok {
			b.WriteString(str)
		}
	}
	return b.String(), nil
}

type MyMemory struct {
	URL    string
	Email  string // raises the anonymous daily limit
	client *httpx.TracedClient
}

func (m *MyMemory) Name() string { return "mymemory" }

type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string `json:"translatedText"`
	} `json:"responseData"`
	ResponseStatus  any    `json:"responseStatus"`
	ResponseDetails string `json:"responseDetails"`
}

func (m *MyMemory) Translate(ctx context.Context, text, from, to string) (string, error) {
	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", from+"|"+to)
	if m.Email != "" {
		q.Set("de", m.Email)
	}

	var resp myMemoryResponse
	if err := m.client.DoJSON(ctx, http.MethodGet, m.URL+"?"+q.Encode(), nil, nil, &resp); err != nil {
		return "", err
	}
	if status := fmt.Sprint(resp.ResponseStatus); status != "200" {
		return "", fmt.Errorf("mymemory: status %s: %s", status, resp.ResponseDetails)
	}
	return resp.ResponseData.TranslatedText, nil
}

type Libre struct {
	URL    string
	APIKey string
	client *httpx.TracedClient
}

func (l *Libre) Name() string { return "libre" }

type libreRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key,omitempty"`
}

type libreResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error"`
}

func (l *Libre) Translate(ctx context.Context, text, from, to string) (string, error) {
	req := libreRequest{Q: text, Source: or(from, "auto"), Target: to, Format: "text", APIKey: l.APIKey}
	var resp libreResponse
	if err := l.client.DoJSON(ctx, http.MethodPost, strings.TrimRight(l.URL, "/")+"/translate", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("libre: %s", resp.Error)
	}
	return resp.TranslatedText, nil
}

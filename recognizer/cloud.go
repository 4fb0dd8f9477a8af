package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"livecap/audio"
	"livecap/internal/httpx"
)

const (
	DefaultDeepgramAPI    = "https://api.deepgram.com"
	DefaultDeepgramStream = "wss://api.deepgram.com/v1/listen"
	DefaultDeepgramModel  = "nova-3"
)

// Deepgram is the cloud recognizer. Availability is verified with an
// authenticated request before each session.
type Deepgram struct {
	APIKey      string
	Model       string
	APIURL      string
	StreamURL   string
	DialTimeout time.Duration

	client *httpx.TracedClient
}

func NewDeepgram(apiKey string, client *httpx.TracedClient) *Deepgram {
	if client == nil {
		client = httpx.NewTracedClient()
	}
	return &Deepgram{
		APIKey:      apiKey,
		Model:       DefaultDeepgramModel,
		APIURL:      DefaultDeepgramAPI,
		StreamURL:   DefaultDeepgramStream,
		DialTimeout: DefaultDialTimeout,
		client:      client,
	}
}

func (d *Deepgram) Kind() Kind { return Cloud }

func (d *Deepgram) headers() map[string]string {
	return map[string]string{"Authorization": "Token " + d.APIKey}
}

func (d *Deepgram) Probe(ctx context.Context) error {
	if d.APIKey == "" {
		return &EngineError{Engine: Cloud, Reason: ReasonUnsupported, Cause: errors.New("DEEPGRAM_API_KEY not set")}
	}
	err := d.client.DoJSON(ctx, http.MethodGet, strings.TrimRight(d.APIURL, "/")+"/v1/projects", d.headers(), nil, nil)
	if err == nil {
		return nil
	}
	var se *httpx.StatusError
	status := 0
	if errors.As(err, &se) {
		status = se.Code
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", err, ctx.Err())
	}
	return &EngineError{Engine: Cloud, Reason: classifyStatus(status, err), Cause: err}
}

func (d *Deepgram) Start(ctx context.Context, lang string, onPhrase PhraseFunc) (Handle, error) {
	if d.APIKey == "" {
		return nil, &EngineError{Engine: Cloud, Reason: ReasonUnsupported}
	}
	endpoint, err := url.Parse(d.StreamURL)
	if err != nil {
		return nil, err
	}

	q := endpoint.Query()
	model := d.Model
	if model == "" {
		model = DefaultDeepgramModel
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", audio.Channels))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if lang != "" {
		q.Set("language", lang)
	}
	endpoint.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.APIKey)

	c, err := dialWS(ctx, Cloud, endpoint.String(), headers, d.DialTimeout)
	if err != nil {
		return nil, err
	}
	return newStream(Cloud, &deepgramStream{wsConn: c}, onPhrase), nil
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStream struct {
	*wsConn
}

func (s *deepgramStream) Send(pcm []byte) error { return s.sendBinary(pcm) }

func (s *deepgramStream) CloseSend() error {
	return s.sendText([]byte(`{"type":"Finalize"}`))
}

func (s *deepgramStream) Recv() (streamUpdate, error) {
	data, err := s.read()
	if err != nil {
		return streamUpdate{}, err
	}
	return parseDeepgram(data)
}

func parseDeepgram(data []byte) (streamUpdate, error) {
	var resp deepgramStreamResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return streamUpdate{}, err
	}
	if resp.Type != "" && resp.Type != "Results" {
		return streamUpdate{}, nil
	}

	var u streamUpdate
	if len(resp.Channel.Alternatives) > 0 {
		u.Text = strings.TrimSpace(resp.Channel.Alternatives[0].Transcript)
		u.Confidence = resp.Channel.Alternatives[0].Confidence
	}
	u.Final = resp.IsFinal || resp.SpeechFinal || resp.FromFinalize
	u.Finalize = resp.FromFinalize
	return u, nil
}

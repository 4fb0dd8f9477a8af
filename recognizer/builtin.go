package recognizer

import (
	"context"
	"encoding/json"
	"time"

	"livecap/audio"
	"livecap/log"
)

const DefaultBuiltInURL = "ws://127.0.0.1:2700"

// Local is the built-in continuous recognizer, a Vosk server on the local
// machine. The stream is restarted whenever it ends until stopped.
type Local struct {
	URL          string
	RestartDelay time.Duration
	DialTimeout  time.Duration
}

func NewLocal(url string) *Local {
	return &Local{URL: url, RestartDelay: DefaultRestartDelay, DialTimeout: DefaultDialTimeout}
}

func (l *Local) Kind() Kind { return BuiltIn }

// Probe reports unsupported when no local endpoint is configured. The
// server itself is not contacted; a missing server surfaces as restarts.
func (l *Local) Probe(ctx context.Context) error {
	if l.URL == "" {
		return &EngineError{Engine: BuiltIn, Reason: ReasonUnsupported}
	}
	return ctx.Err()
}

func (l *Local) Start(ctx context.Context, lang string, onPhrase PhraseFunc) (Handle, error) {
	if err := l.Probe(ctx); err != nil {
		return nil, err
	}
	if lang != "" {
		log.Infof("built-in recognizer uses the server model; requested language %s", lang)
	}
	h, err := newSupervised(ctx, BuiltIn, l.RestartDelay, func(ctx context.Context) (Handle, error) {
		raw, err := l.dial(ctx)
		if err != nil {
			return nil, err
		}
		return newStream(BuiltIn, raw, onPhrase), nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
		Words      int `json:"words"`
	} `json:"config"`
}

type voskResponse struct {
	Text    *string `json:"text"`
	Partial *string `json:"partial"`
	Result  []struct {
		Conf float64 `json:"conf"`
		Word string  `json:"word"`
	} `json:"result"`
}

type voskStream struct {
	*wsConn
}

func (l *Local) dial(ctx context.Context) (rawStream, error) {
	c, err := dialWS(ctx, BuiltIn, l.URL, nil, l.DialTimeout)
	if err != nil {
		return nil, err
	}
	var cfg voskConfig
	cfg.Config.SampleRate = audio.SampleRate
	cfg.Config.Words = 1
	msg, _ := json.Marshal(cfg)
	if err := c.sendText(msg); err != nil {
		c.Close()
		return nil, &EngineError{Engine: BuiltIn, Reason: ReasonNetworkError, Cause: err}
	}
	return &voskStream{wsConn: c}, nil
}

func (s *voskStream) Send(pcm []byte) error { return s.sendBinary(pcm) }

func (s *voskStream) CloseSend() error {
	return s.sendText([]byte(`{"eof" : 1}`))
}

func (s *voskStream) Recv() (streamUpdate, error) {
	data, err := s.read()
	if err != nil {
		return streamUpdate{}, err
	}
	return parseVosk(data)
}

func parseVosk(data []byte) (streamUpdate, error) {
	var resp voskResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return streamUpdate{}, err
	}
	if resp.Text == nil {
		return streamUpdate{}, nil // partial
	}
	conf := 1.0
	if len(resp.Result) > 0 {
		var sum float64
		for _, w := range resp.Result {
			sum += w.Conf
		}
		conf = sum / float64(len(resp.Result))
	}
	return streamUpdate{Text: *resp.Text, Final: true, Confidence: conf}, nil
}

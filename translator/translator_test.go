package translator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"livecap/internal/httpx"
)

type stubProvider struct {
	out   string
	err   error
	panic bool
	calls int
	from  string
	to    string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Translate(_ context.Context, text, from, to string) (string, error) {
	s.calls++
	s.from, s.to = from, to
	if s.panic {
		panic("boom")
	}
	return s.out, s.err
}

func TestTranslateFailOpen(t *testing.T) {
	tests := []struct {
		name     string
		provider *stubProvider
		want     string
		failures int
	}{
		{"success", &stubProvider{out: " hola "}, "hola", 0},
		{"error", &stubProvider{err: errors.New("503")}, "hello", 1},
		{"empty", &stubProvider{out: "  "}, "hello", 1},
		{"panic", &stubProvider{panic: true}, "hello", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.provider, Options{})
			if got := tr.Translate(context.Background(), "hello", "en-US", "es-ES"); got != tt.want {
				t.Errorf("Translate = %q, want %q", got, tt.want)
			}
			if st := tr.Stats(); st.Failures != tt.failures || st.Attempts != 1 {
				t.Errorf("stats = %+v", st)
			}
			if tt.provider.from != "en" || tt.provider.to != "es" {
				t.Errorf("provider got %s->%s, want primary subtags", tt.provider.from, tt.provider.to)
			}
		})
	}
}

func TestTranslateSkips(t *testing.T) {
	p := &stubProvider{out: "x"}
	tr := New(p, Options{})
	for _, c := range [][3]string{
		{"hello", "en-US", "en-GB"},
		{"hello", "EN", "en"},
		{"   ", "en", "es"},
	} {
		if got := tr.Translate(context.Background(), c[0], c[1], c[2]); got != c[0] {
			t.Errorf("Translate(%q) = %q, want unchanged", c, got)
		}
	}
	if p.calls != 0 {
		t.Errorf("provider called %d times for skipped input", p.calls)
	}

	var nilTr *Translator
	if got := nilTr.Translate(context.Background(), "hi", "en", "fr"); got != "hi" {
		t.Errorf("nil translator = %q", got)
	}
}

func TestBreakerOpensAndFailsOpen(t *testing.T) {
	p := &stubProvider{err: errors.New("down")}
	tr := New(p, Options{BreakerThreshold: 2})
	for i := 0; i < 5; i++ {
		if got := tr.Translate(context.Background(), "hello", "en", "fr"); got != "hello" {
			t.Fatalf("Translate = %q", got)
		}
	}
	if p.calls != 2 {
		t.Errorf("provider calls = %d, want 2 before the breaker opened", p.calls)
	}
	if st := tr.Stats(); st.Failures != 5 {
		t.Errorf("failures = %d, want 5", st.Failures)
	}
}

func TestPrimary(t *testing.T) {
	for in, want := range map[string]string{"en-US": "en", "zh_Hant_TW": "zh", " PT-br ": "pt", "de": "de", "": ""} {
		if got := Primary(in); got != want {
			t.Errorf("Primary(%q) = %q, want %q", in, got, want)
		}
	}
}

func newClient(srv *httptest.Server) *httpx.TracedClient {
	return httpx.WithHTTPClient(srv.Client())
}

func TestGoogleProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("client") != "gtx" || q.Get("sl") != "en" || q.Get("tl") != "es" || q.Get("q") != "Hello. World." {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`[[["Hola. ","Hello. ",null,null,10],["Mundo.","World.",null,null,10]],null,"en"]`))
	}))
	defer srv.Close()

	p, err := NewProvider("google", srv.URL, "", newClient(srv))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Translate(context.Background(), "Hello. World.", "en", "es")
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hola. Mundo." {
		t.Errorf("got %q", got)
	}
}

func TestMyMemoryProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if lp := r.URL.Query().Get("langpair"); lp != "en|de" {
			t.Errorf("langpair = %q", lp)
		}
		if strings.Contains(r.URL.RawQuery, "quota") {
			w.Write([]byte(`{"responseData":{"translatedText":""},"responseStatus":"429","responseDetails":"quota"}`))
			return
		}
		w.Write([]byte(`{"responseData":{"translatedText":"Hallo"},"responseStatus":200}`))
	}))
	defer srv.Close()

	p, _ := NewProvider("mymemory", srv.URL, "", newClient(srv))
	if got, err := p.Translate(context.Background(), "Hello", "en", "de"); err != nil || got != "Hallo" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := p.Translate(context.Background(), "quota", "en", "de"); err == nil {
		t.Error("expected error for non-200 responseStatus")
	}
}

func TestLibreProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/translate" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"translatedText":"Bonjour"}`))
	}))
	defer srv.Close()

	p, _ := NewProvider("libre", srv.URL+"/", "key", newClient(srv))
	if got, err := p.Translate(context.Background(), "Hello", "en", "fr"); err != nil || got != "Bonjour" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestNewProviderUnknown(t *testing.T) {
	if _, err := NewProvider("babelfish", "", "", nil); err == nil {
		t.Error("expected error")
	}
}

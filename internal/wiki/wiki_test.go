package wiki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"
)

func testSite(t *testing.T, pattern string, handler http.HandlerFunc) *Site {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Site{
		Host:   srv.Listener.Addr().String(),
		api:    srv.URL,
		script: regexp.MustCompile(pattern),
		client: srv.Client(),
	}
}

type pageJSON map[string]any

func servePages(t *testing.T, w http.ResponseWriter, pages map[string]pageJSON) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]any{
		"query": map[string]any{"pages": pages},
	})
	if err != nil {
		t.Errorf("encode: %v", err)
	}
}

func TestExpandTitles(t *testing.T) {
	tests := []struct{ in, want string }{
		{"京沪线", "京沪线|京沪铁路"},
		{"CRH380A", "CRH380A"},
		{"京九铁路", "京九铁路"},
	}
	for _, tt := range tests {
		if got := ExpandTitles(tt.in); got != tt.want {
			t.Errorf("ExpandTitles(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSearchPriorityOrderWins(t *testing.T) {
	first := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		// The preferred site answers slowly but must still win.
		time.Sleep(30 * time.Millisecond)
		servePages(t, w, map[string]pageJSON{
			"10": {"pageid": 10, "title": "东风4型", "extract": "东风4型是内燃机车。"},
		})
	})
	second := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		servePages(t, w, map[string]pageJSON{
			"20": {"pageid": 20, "title": "东风4型", "extract": "另一个条目。"},
		})
	})

	c := &Client{Sites: []*Site{first, second}}
	text, ok := c.Search(context.Background(), "东风4型")
	if !ok {
		t.Fatal("expected a hit")
	}
	if text != "东风4型是内燃机车。" {
		t.Errorf("text = %q", text)
	}
}

func TestSearchFallsToNextSiteOnMiss(t *testing.T) {
	miss := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		servePages(t, w, map[string]pageJSON{
			"-1": {"title": "东风4型", "missing": ""},
		})
	})
	hit := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		servePages(t, w, map[string]pageJSON{
			"20": {"pageid": 20, "title": "东风4型", "extract": "找到了。"},
		})
	})

	c := &Client{Sites: []*Site{miss, hit}}
	text, ok := c.Search(context.Background(), "东风4型")
	if !ok || text != "找到了。" {
		t.Errorf("got %q, %v", text, ok)
	}
}

func TestSearchScriptGateSkipsSite(t *testing.T) {
	var called bool
	gated := testSite(t, `^[0-9]+$`, func(w http.ResponseWriter, r *http.Request) {
		called = true
		servePages(t, w, map[string]pageJSON{
			"10": {"pageid": 10, "extract": "不应出现。"},
		})
	})

	c := &Client{Sites: []*Site{gated}}
	if _, ok := c.Search(context.Background(), "京沪线"); ok {
		t.Error("gated site must not produce a result")
	}
	if called {
		t.Error("site was queried despite failing the writing-script gate")
	}
}

func TestSearchSentenceFallback(t *testing.T) {
	site := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("exintro") != "" {
			// Intro with no sentence boundary forces the full re-query.
			servePages(t, w, map[string]pageJSON{
				"10": {"pageid": 10, "extract": "韶山1型"},
			})
			return
		}
		if q.Get("pageids") != "10" {
			t.Errorf("full query pageids = %q", q.Get("pageids"))
		}
		servePages(t, w, map[string]pageJSON{
			"10": {"pageid": 10, "extract": "第一行\n\n第二行\n第三行\n第四行\n第五行\n第六行"},
		})
	})

	c := &Client{Sites: []*Site{site}}
	text, ok := c.Search(context.Background(), "韶山1型")
	if !ok {
		t.Fatal("expected a hit")
	}
	want := "第一行\n第二行\n第三行\n第四行\n第五行"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestSearchAppendsThumbnail(t *testing.T) {
	site := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		servePages(t, w, map[string]pageJSON{
			"10": {
				"pageid":    10,
				"extract":   "和谐3型电力机车。",
				"thumbnail": map[string]any{"source": "https://img.example/hxd3.jpg", "width": 800},
			},
		})
	})

	c := &Client{Sites: []*Site{site}}
	text, _ := c.Search(context.Background(), "HXD3")
	want := "和谐3型电力机车。[CQ:image,file=https://img.example/hxd3.jpg]"
	if text != want {
		t.Errorf("text = %q, want %q", text, want)
	}
}

func TestSearchCleansNoise(t *testing.T) {
	site := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		servePages(t, w, map[string]pageJSON{
			"10": {"pageid": 10, "extract": "公式{\\displaystyle v=ds/dt}结束。"},
		})
	})
	c := &Client{Sites: []*Site{site}}
	text, _ := c.Search(context.Background(), "公式")
	if text != "公式 结束。" {
		t.Errorf("text = %q", text)
	}
}

func TestExtractsTitleExpansionQuery(t *testing.T) {
	var got url.Values
	site := testSite(t, ".", func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		servePages(t, w, map[string]pageJSON{})
	})
	c := &Client{Sites: []*Site{site}}
	c.Search(context.Background(), "京沪线")
	if got.Get("titles") != "京沪线|京沪铁路" {
		t.Errorf("titles = %q", got.Get("titles"))
	}
	if got.Get("exsentences") != "2" || got.Get("redirects") != "1" {
		t.Errorf("query = %v", got)
	}
}

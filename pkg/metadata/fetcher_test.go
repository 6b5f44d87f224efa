package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"clipscope/pkg/domain"
)

const samplePage = `<!doctype html><html><head>
<title>Fallback Title</title>
<meta name="twitter:title" content="Twitter Title">
<meta property="og:title" content="OG Title">
<meta name="twitter:image:src" content="https://img.example.com/t.jpg">
<meta name="author" content="Some Author">
</head><body></body></html>`

func TestFetchOpenGraphPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept-Language"); got != DefaultAcceptLanguage {
			t.Errorf("accept-language = %q", got)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	f := NewFetcher(Config{HTTPClient: srv.Client()})
	meta, err := f.Fetch(context.Background(), srv.URL+"/video/1", domain.PlatformBilibili)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Title != "OG Title" {
		t.Fatalf("title = %q", meta.Title)
	}
	if meta.Thumbnail != "https://img.example.com/t.jpg" {
		t.Fatalf("thumbnail = %q", meta.Thumbnail)
	}
	if meta.Author != "Some Author" {
		t.Fatalf("author = %q", meta.Author)
	}
	if meta.IsEmbeddable || meta.Source != SourceOpenGraph {
		t.Fatalf("unexpected flags: %+v", meta)
	}
}

func TestFetchOpenGraphTolerantOfMissingTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><head><title> Only Title </title></head></html>"))
	}))
	defer srv.Close()

	meta, err := NewFetcher(Config{HTTPClient: srv.Client()}).Fetch(context.Background(), srv.URL, domain.PlatformDouyin)
	if err != nil {
		t.Fatalf("missing tags must not fail: %v", err)
	}
	if meta.Title != "Only Title" || meta.Author != "" || meta.Thumbnail != "" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestFetchYouTubePrefersOEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "json" || !strings.Contains(r.URL.Query().Get("url"), "/watch") {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"title":         "Never Gonna",
			"author_name":   "Rick",
			"thumbnail_url": "https://i.ytimg.com/vi/x/hq.jpg",
			"html":          `<iframe src="https://www.youtube.com/embed/x"></iframe>`,
		})
	})
	mux.HandleFunc("/watch", func(w http.ResponseWriter, _ *http.Request) {
		t.Errorf("page should not be scraped when oembed succeeds")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(Config{HTTPClient: srv.Client(), OEmbedEndpoint: srv.URL + "/oembed"})
	meta, err := f.Fetch(context.Background(), srv.URL+"/watch?v=x", domain.PlatformYouTube)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Title != "Never Gonna" || meta.Author != "Rick" || !meta.IsEmbeddable || meta.Source != SourceOEmbed {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
}

func TestFetchYouTubeFallsBackToOpenGraph(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oembed", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})
	mux.HandleFunc("/watch", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(samplePage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := NewFetcher(Config{HTTPClient: srv.Client(), OEmbedEndpoint: srv.URL + "/oembed"})
	meta, err := f.Fetch(context.Background(), srv.URL+"/watch?v=x", domain.PlatformYouTube)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if meta.Source != SourceOpenGraph || meta.Title != "OG Title" {
		t.Fatalf("expected open graph fallback, got %+v", meta)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewFetcher(Config{}).Fetch(context.Background(), addr, domain.PlatformTikTok)
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
}

func TestSandboxEmbed(t *testing.T) {
	in := `<iframe src="a"></iframe><iframe src="b"></iframe>`
	out := SandboxEmbed(in)
	if strings.Count(out, `sandbox="allow-scripts allow-same-origin allow-presentation"`) != 2 {
		t.Fatalf("expected both iframes sandboxed: %s", out)
	}
	if SandboxEmbed(out) != out {
		t.Fatalf("sandboxing must be idempotent")
	}
	if SandboxEmbed("") != "" {
		t.Fatalf("empty markup stays empty")
	}
}

func TestSandboxEmbedEachTag(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want int
	}{
		{"after sandboxed tag", `<iframe sandbox="allow-scripts" src="a"></iframe><iframe src="https://evil"></iframe>`, 1},
		{"uppercase", `<IFRAME SRC="https://player.example.com/1"></IFRAME>`, 1},
		{"sandbox in query string", `<iframe src="https://player.example.com/?sandbox=1"></iframe>`, 1},
		{"bare attribute", `<iframe sandbox src="a"></iframe>`, 0},
		{"no iframe", `<div>hello</div>`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := SandboxEmbed(tc.in)
			if got := strings.Count(out, sandboxAttrs); got != tc.want {
				t.Fatalf("added %d sandbox attributes, want %d: %s", got, tc.want, out)
			}
			if SandboxEmbed(out) != out {
				t.Fatalf("not idempotent: %s", out)
			}
		})
	}
	out := SandboxEmbed(`<iframe sandbox="allow-scripts"></iframe><iframe src="https://evil"></iframe>`)
	if !strings.HasSuffix(out, `<iframe `+sandboxAttrs+` src="https://evil"></iframe>`) {
		t.Fatalf("second iframe left unrestricted: %s", out)
	}
}

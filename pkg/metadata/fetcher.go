package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"clipscope/internal/util"
	"clipscope/pkg/domain"
	"clipscope/pkg/shareurl"
)

const (
	DefaultOEmbedEndpoint = "https://www.youtube.com/oembed"
	DefaultAcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"

	SourceOEmbed    = "oembed"
	SourceOpenGraph = "og"

	defaultMaxBodyBytes = 2 << 20
	defaultTimeout      = 10 * time.Second
)

// ErrFetch marks a network failure while retrieving a page. Missing tags
// are never an error.
var ErrFetch = errors.New("metadata fetch failed")

// Config configures metadata retrieval.
type Config struct {
	HTTPClient     *http.Client
	OEmbedEndpoint string
	UserAgent      string
	AcceptLanguage string
	MaxBodyBytes   int64
}

// Fetcher retrieves title, author, thumbnail and embed markup for a page.
type Fetcher struct {
	client         *http.Client
	oembedEndpoint string
	userAgent      string
	acceptLanguage string
	maxBody        int64
}

func NewFetcher(cfg Config) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	endpoint := strings.TrimSpace(cfg.OEmbedEndpoint)
	if endpoint == "" {
		endpoint = DefaultOEmbedEndpoint
	}
	ua := strings.TrimSpace(cfg.UserAgent)
	if ua == "" {
		ua = shareurl.MobileUserAgent
	}
	lang := strings.TrimSpace(cfg.AcceptLanguage)
	if lang == "" {
		lang = DefaultAcceptLanguage
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Fetcher{
		client:         client,
		oembedEndpoint: endpoint,
		userAgent:      ua,
		acceptLanguage: lang,
		maxBody:        maxBody,
	}
}

// Fetch returns metadata for pageURL. YouTube pages try oEmbed first and
// fall back to Open Graph scraping on any oEmbed failure; every other
// platform is scraped directly.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, platform domain.PlatformID) (domain.MediaMetadata, error) {
	if platform == domain.PlatformYouTube {
		meta, err := f.fetchOEmbed(ctx, pageURL)
		if err == nil {
			return meta, nil
		}
		util.LoggerFromContext(ctx).Debug("oembed failed, falling back to open graph", "url", pageURL, "err", err)
	}
	return f.fetchOpenGraph(ctx, pageURL)
}

type oembedResponse struct {
	Title        string `json:"title"`
	AuthorName   string `json:"author_name"`
	ThumbnailURL string `json:"thumbnail_url"`
	HTML         string `json:"html"`
}

func (f *Fetcher) fetchOEmbed(ctx context.Context, pageURL string) (domain.MediaMetadata, error) {
	endpoint, err := url.Parse(f.oembedEndpoint)
	if err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("parse oembed endpoint: %w", err)
	}
	q := endpoint.Query()
	q.Set("url", pageURL)
	q.Set("format", "json")
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return domain.MediaMetadata{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.MediaMetadata{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.MediaMetadata{}, fmt.Errorf("oembed status %d", resp.StatusCode)
	}
	var payload oembedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, f.maxBody)).Decode(&payload); err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("decode oembed: %w", err)
	}
	return domain.MediaMetadata{
		Title:        strings.TrimSpace(payload.Title),
		Author:       strings.TrimSpace(payload.AuthorName),
		Thumbnail:    strings.TrimSpace(payload.ThumbnailURL),
		EmbedHTML:    payload.HTML,
		IsEmbeddable: true,
		Source:       SourceOEmbed,
	}, nil
}

var (
	titleTags     = []string{"og:title", "twitter:title"}
	thumbnailTags = []string{"og:image", "twitter:image", "twitter:image:src"}
	authorTags    = []string{"og:site_name", "author"}
)

func (f *Fetcher) fetchOpenGraph(ctx context.Context, pageURL string) (domain.MediaMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", f.acceptLanguage)
	resp, err := f.client.Do(req)
	if err != nil {
		return domain.MediaMetadata{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	meta := domain.MediaMetadata{Source: SourceOpenGraph}
	// Non-2xx pages and unparseable markup simply yield empty fields.
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		util.LoggerFromContext(ctx).Debug("parse html failed", "url", pageURL, "err", err)
		return meta, nil
	}
	meta.Title = pickMeta(doc, titleTags)
	if meta.Title == "" {
		meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	meta.Thumbnail = pickMeta(doc, thumbnailTags)
	meta.Author = pickMeta(doc, authorTags)
	return meta, nil
}

// pickMeta returns the first non-empty content among names, matching each
// against both the property and name attributes.
func pickMeta(doc *goquery.Document, names []string) string {
	for _, name := range names {
		var found string
		doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			key, ok := s.Attr("property")
			if !ok || key == "" {
				key, _ = s.Attr("name")
			}
			if !strings.EqualFold(strings.TrimSpace(key), name) {
				return true
			}
			if content, ok := s.Attr("content"); ok && strings.TrimSpace(content) != "" {
				found = strings.TrimSpace(content)
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}

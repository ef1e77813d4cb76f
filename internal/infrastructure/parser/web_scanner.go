package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"TelegramPipeline/internal/config"
	"TelegramPipeline/internal/domain"
	"TelegramPipeline/internal/scanner"
)

const (
	previewBaseURL = "https://t.me"
	userAgent      = "TelegramPipeline/1.0"
)

var backgroundURLExpr = regexp.MustCompile(`background-image:\s*url\(['"]?([^'")]+)['"]?\)`)

// Selectors of media blocks that are not downloadable photos.
var otherMediaSelectors = []string{
	".tgme_widget_message_video_player",
	".tgme_widget_message_roundvideo_player",
	".tgme_widget_message_document",
	".tgme_widget_message_voice",
	".tgme_widget_message_sticker_wrap",
	".tgme_widget_message_poll",
	".tgme_widget_message_location_wrap",
	".message_media_not_supported_wrap",
}

// WebScanner reads the public channel preview at t.me/s/<handle>.
// It needs no credentials but cannot see forward counts.
type WebScanner struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

var _ scanner.Scanner = (*WebScanner)(nil)

// NewWebScanner wires an HTTP client; baseURL defaults to https://t.me.
func NewWebScanner(client *http.Client, baseURL string, logger *slog.Logger) *WebScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if baseURL == "" {
		baseURL = previewBaseURL
	}
	return &WebScanner{client: client, baseURL: strings.TrimSuffix(baseURL, "/"), logger: logger}
}

// Name identifies the strategy inside the registry.
func (w *WebScanner) Name() string {
	return config.ScannerWeb
}

// Scan pages backwards through the preview until req.Limit posts are collected
// or the history is exhausted. Posts come back newest first.
func (w *WebScanner) Scan(ctx context.Context, req scanner.Request) ([]scanner.Post, error) {
	handle, err := scanner.Handle(req.Channel.Address)
	if err != nil {
		return nil, err
	}

	var (
		posts  []scanner.Post
		seen   = map[int64]struct{}{}
		before int64
	)

	for req.Limit <= 0 || len(posts) < req.Limit {
		pageURL, err := buildPageURL(w.baseURL, handle, before)
		if err != nil {
			return nil, err
		}

		doc, err := w.fetchDocument(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", handle, err)
		}

		page := w.extractPosts(doc, handle)
		fresh := 0
		for _, post := range page {
			if _, ok := seen[post.ID]; ok {
				continue
			}
			seen[post.ID] = struct{}{}
			posts = append(posts, post)
			fresh++
		}
		w.debug("preview page parsed", "channel", handle, "before", before, "posts", len(page), "new", fresh)

		if fresh == 0 {
			break
		}
		before = oldestID(page)
		if before <= 1 {
			break
		}
	}

	sort.SliceStable(posts, func(i, j int) bool { return posts[i].ID > posts[j].ID })
	if req.Limit > 0 && len(posts) > req.Limit {
		posts = posts[:req.Limit]
	}
	return posts, nil
}

func (w *WebScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request preview: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("preview returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

func (w *WebScanner) extractPosts(doc *goquery.Document, handle string) []scanner.Post {
	var posts []scanner.Post
	doc.Find(".tgme_widget_message[data-post]").Each(func(_ int, sel *goquery.Selection) {
		post, err := parsePost(sel)
		if err != nil {
			w.debug("skip preview entry", "channel", handle, "error", err)
			return
		}
		if post.Media == domain.MediaPhoto {
			post.Photo = w.photoDownloader(post.photoURL)
		}
		posts = append(posts, post.Post)
	})
	return posts
}

type previewPost struct {
	scanner.Post
	photoURL string
}

func parsePost(sel *goquery.Selection) (previewPost, error) {
	var post previewPost

	dataPost, _ := sel.Attr("data-post")
	idx := strings.LastIndexByte(dataPost, '/')
	if idx < 0 {
		return post, fmt.Errorf("unexpected data-post %q", dataPost)
	}
	id, err := strconv.ParseInt(dataPost[idx+1:], 10, 64)
	if err != nil {
		return post, fmt.Errorf("parse post id %q: %w", dataPost, err)
	}
	post.ID = id

	// Caption-less posts carry "" like the API client does.
	text := ""
	if textSel := sel.Find(".tgme_widget_message_text").First(); textSel.Length() > 0 {
		textSel.Find("br").ReplaceWithHtml("\n")
		text = strings.TrimSpace(textSel.Text())
	}
	post.Text = &text

	if raw, ok := sel.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = ts.UTC()
			post.Date = &ts
		}
	}

	if views, ok := parseViews(sel.Find(".tgme_widget_message_views").First().Text()); ok {
		post.Views = &views
	}

	if photo := sel.Find(".tgme_widget_message_photo_wrap").First(); photo.Length() > 0 {
		style, _ := photo.Attr("style")
		if m := backgroundURLExpr.FindStringSubmatch(style); m != nil {
			post.Media = domain.MediaPhoto
			post.photoURL = m[1]
			return post, nil
		}
		post.Media = domain.MediaOther
		return post, nil
	}

	for _, selector := range otherMediaSelectors {
		if sel.Find(selector).Length() > 0 {
			post.Media = domain.MediaOther
			break
		}
	}
	return post, nil
}

// parseViews understands "845", "1.2K" and "3.4M".
func parseViews(raw string) (int64, bool) {
	raw = strings.TrimSpace(strings.ToUpper(raw))
	if raw == "" {
		return 0, false
	}

	mult := 1.0
	switch {
	case strings.HasSuffix(raw, "K"):
		mult = 1_000
		raw = strings.TrimSuffix(raw, "K")
	case strings.HasSuffix(raw, "M"):
		mult = 1_000_000
		raw = strings.TrimSuffix(raw, "M")
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return int64(v*mult + 0.5), true
}

func (w *WebScanner) photoDownloader(photoURL string) scanner.Photo {
	return scanner.PhotoFunc(func(ctx context.Context, out io.Writer) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoURL, nil)
		if err != nil {
			return fmt.Errorf("build photo request: %w", err)
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := w.client.Do(req)
		if err != nil {
			return fmt.Errorf("request photo: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("photo returned %s", resp.Status)
		}
		if _, err := io.Copy(out, resp.Body); err != nil {
			return fmt.Errorf("copy photo: %w", err)
		}
		return nil
	})
}

func oldestID(posts []scanner.Post) int64 {
	var oldest int64
	for i, p := range posts {
		if i == 0 || p.ID < oldest {
			oldest = p.ID
		}
	}
	return oldest
}

func buildPageURL(base, handle string, before int64) (string, error) {
	parsed, err := url.Parse(base + "/s/" + url.PathEscape(handle))
	if err != nil {
		return "", fmt.Errorf("invalid preview url for %s: %w", handle, err)
	}

	if before > 0 {
		query := parsed.Query()
		query.Set("before", strconv.FormatInt(before, 10))
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (w *WebScanner) debug(msg string, args ...any) {
	if w.logger != nil {
		w.logger.Debug(msg, args...)
	}
}

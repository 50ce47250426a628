package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/rs/zerolog"
)

// DefaultMaxRedirects bounds how many Location hops one fetch may follow.
const DefaultMaxRedirects = 5

// DownloadError is returned for any terminal fetch failure.
type DownloadError struct {
	URL        string
	StatusCode int
	Message    string
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: %s (status %d)", e.URL, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %s", e.URL, e.Message)
}

var (
	// "Published to web" share link: /spreadsheets/d/e/{id}/pub...
	rePublishedSheet = regexp.MustCompile(`^(https://docs\.google\.com/spreadsheets/d/e/[a-zA-Z0-9_-]+)/pub.*$`)
	// Regular share link: /spreadsheets/d/{id}/...
	reShareSheet = regexp.MustCompile(`^https://docs\.google\.com/spreadsheets/d/([a-zA-Z0-9_-]+)(?:/.*)?$`)
)

// TranslateSheetURL rewrites known Google Sheets share-link shapes to their
// direct CSV-export form. Output is stable: feeding a rewritten URL back in
// returns it unchanged. Anything else passes through verbatim.
func TranslateSheetURL(raw string) string {
	// The published shape must be checked first: its path also matches the
	// share pattern with "e" as the spreadsheet id.
	if m := rePublishedSheet.FindStringSubmatch(raw); m != nil {
		return m[1] + "/pub?output=csv"
	}
	if m := reShareSheet.FindStringSubmatch(raw); m != nil {
		return "https://docs.google.com/spreadsheets/d/" + m[1] + "/export?format=csv&gid=0"
	}
	return raw
}

// Fetcher downloads remote resources, following redirects manually so the
// hop count stays bounded and observable.
type Fetcher struct {
	client       *http.Client
	maxRedirects int
	logger       *zerolog.Logger
}

func NewFetcher(maxRedirects int, logger *zerolog.Logger) *Fetcher {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Fetcher{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: maxRedirects,
		logger:       logger,
	}
}

// Fetch returns the body of the final 200 response as text. No retries:
// a failed fetch fails the whole execution.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	current := TranslateSheetURL(rawURL)

	redirects := 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", &DownloadError{URL: current, Message: err.Error()}
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return "", &DownloadError{URL: current, Message: err.Error()}
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()

			redirects++
			if redirects > f.maxRedirects {
				return "", &DownloadError{URL: rawURL, StatusCode: resp.StatusCode, Message: "too many redirects"}
			}
			if location == "" {
				return "", &DownloadError{URL: current, StatusCode: resp.StatusCode, Message: "redirect without Location header"}
			}

			next, err := resolveLocation(current, location)
			if err != nil {
				return "", &DownloadError{URL: current, StatusCode: resp.StatusCode, Message: fmt.Sprintf("invalid redirect location: %v", err)}
			}

			f.logger.Debug().Str("from", current).Str("to", next).Int("hop", redirects).Msg("following redirect")
			current = next
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", &DownloadError{URL: current, StatusCode: resp.StatusCode, Message: "unexpected status"}
		}
		if readErr != nil {
			return "", &DownloadError{URL: current, Message: readErr.Error()}
		}

		return string(body), nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

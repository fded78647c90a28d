package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/elee1766/parley/src/aisdk"
)

const maxErrorBody = 64 * 1024

// StatusOverloaded is the non-standard status Anthropic returns when its
// API is temporarily overloaded.
const StatusOverloaded = 529

// KindForStatus maps an HTTP status code to an error kind.
func KindForStatus(status int) error {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return aisdk.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, StatusOverloaded:
		return aisdk.ErrBackendUnavailable
	case http.StatusTooManyRequests:
		return aisdk.ErrRateLimited
	}
	if status >= 400 && status < 500 {
		return aisdk.ErrInvalidRequest
	}
	return aisdk.ErrGenerationFailed
}

func readError(backend string, resp *http.Response) (*aisdk.Error, []byte) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	e := &aisdk.Error{
		Kind:       KindForStatus(resp.StatusCode),
		Backend:    backend,
		StatusCode: resp.StatusCode,
		Message:    ErrorText(resp.Header.Get("Content-Type"), body),
	}
	if e.Message == "" {
		e.Message = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	}
	return e, body
}

// ErrorText extracts a human readable message from an error body. It
// understands the common JSON error envelopes and HTML error pages.
func ErrorText(contentType string, body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "text/html" || bytes.HasPrefix(bytes.ToLower(body), []byte("<!doctype html")) || bytes.HasPrefix(bytes.ToLower(body), []byte("<html")) {
		if text := htmlText(body); text != "" {
			return text
		}
	}

	if msg := jsonErrorMessage(body); msg != "" {
		return msg
	}
	return string(body)
}

// jsonErrorMessage understands {"error":{"message":...}}, {"error":"..."}
// and {"message":"..."}.
func jsonErrorMessage(body []byte) string {
	var envelope struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if len(envelope.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		}
		if err := json.Unmarshal(envelope.Error, &nested); err == nil && nested.Message != "" {
			if nested.Type != "" {
				return nested.Type + ": " + nested.Message
			}
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(envelope.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	return envelope.Message
}

func htmlText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	heading := strings.TrimSpace(doc.Find("h1").First().Text())
	switch {
	case title != "" && heading != "" && title != heading:
		return title + ": " + heading
	case title != "":
		return title
	case heading != "":
		return heading
	}
	return strings.Join(strings.Fields(doc.Find("body").Text()), " ")
}

// ParseRetryAfter parses a Retry-After header given in seconds or as an
// HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

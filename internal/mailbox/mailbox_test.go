package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"jobmail/internal/retry"
)

func b64(s string) string { return base64.URLEncoding.EncodeToString([]byte(s)) }

func TestParseCredentials(t *testing.T) {
	cases := map[string]string{
		"direct":    `{"client_id":"id","client_secret":"secret"}`,
		"installed": `{"installed":{"client_id":"id","client_secret":"secret"}}`,
		"web":       `{"web":{"client_id":"id","client_secret":"secret"}}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := ParseCredentials([]byte(in))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if c.ClientID != "id" || c.ClientSecret != "secret" {
				t.Fatalf("got %+v", c)
			}
		})
	}
	if _, err := ParseCredentials([]byte(`{"other":{}}`)); err == nil {
		t.Fatalf("expected error for unknown layout")
	}
	cfg, err := OAuthConfig([]byte(cases["installed"]))
	if err != nil {
		t.Fatalf("oauth config: %v", err)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != gmail.GmailModifyScope {
		t.Fatalf("scopes: %v", cfg.Scopes)
	}
}

func TestTokenCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", "token.json")
	in := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Now().Add(time.Hour).Round(time.Second)}
	if err := SaveToken(path, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := LoadToken(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.AccessToken != "a" || out.RefreshToken != "r" || !out.Expiry.Equal(in.Expiry) {
		t.Fatalf("got %+v", out)
	}
}

func TestTokenSource_RequiresAuthorization(t *testing.T) {
	cfg := &oauth2.Config{}
	_, err := TokenSource(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.json"), "", nil)
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("want ErrNotAuthorized, got %v", err)
	}
}

func TestParse_PrefersPlainText(t *testing.T) {
	msg := &gmail.Message{
		Id:           "m1",
		Snippet:      "snippet",
		InternalDate: 1717243200000,
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Your application"},
				{Name: "from", Value: "HR <hr@example.com>"},
			},
			Parts: []*gmail.MessagePart{
				{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
					{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<p>html</p>")}},
					{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: b64("plain body")}},
				}},
			},
		},
	}
	m := Parse(msg)
	if m.Subject != "Your application" || m.From != "HR <hr@example.com>" {
		t.Fatalf("headers: %+v", m)
	}
	if m.Body != "plain body" {
		t.Fatalf("body: %q", m.Body)
	}
	if !m.Unread {
		t.Fatalf("UNREAD not detected")
	}
	if !m.ReceivedAt.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("received: %v", m.ReceivedAt)
	}
}

func TestParse_FallsBackToHTMLThenSnippet(t *testing.T) {
	html := &gmail.Message{Payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
		{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: b64("<div>hi</div>")}},
	}}}
	if got := Parse(html).Body; got != "<div>hi</div>" {
		t.Fatalf("html fallback: %q", got)
	}
	bare := &gmail.Message{Snippet: "just a snippet", Payload: &gmail.MessagePart{}}
	m := Parse(bare)
	if m.Body != "just a snippet" || m.Subject != "No Subject" {
		t.Fatalf("snippet fallback: %+v", m)
	}
}

func TestQueries(t *testing.T) {
	now := time.Date(2024, 6, 8, 9, 0, 0, 0, time.UTC)
	if got := UnreadSince(now, 7); got != "is:unread after:2024/06/01" {
		t.Fatalf("UnreadSince: %q", got)
	}
	if got := LabelQuery("Rejected", time.Time{}); got != `label:"Rejected"` {
		t.Fatalf("LabelQuery: %q", got)
	}
	if got := LabelQuery("Rejected", now); got != `label:"Rejected" after:2024/06/08` {
		t.Fatalf("LabelQuery since: %q", got)
	}
}

func TestTransient(t *testing.T) {
	if !Transient(&googleapi.Error{Code: 503}) || !Transient(&googleapi.Error{Code: 429}) {
		t.Fatalf("5xx and 429 should be retried")
	}
	if Transient(&googleapi.Error{Code: 404}) {
		t.Fatalf("404 should not be retried")
	}
	if Transient(context.Canceled) {
		t.Fatalf("cancellation should not be retried")
	}
}

// fakeGmail serves the handful of Gmail endpoints the client uses.
type fakeGmail struct {
	mu       sync.Mutex
	failOnce bool
	labels   []*gmail.Label
	modified map[string]gmail.ModifyMessageRequest
}

func (f *fakeGmail) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/users/me/messages"):
		if f.failOnce {
			f.failOnce = false
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":{"code":503,"message":"busy"}}`)
			return
		}
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = io.WriteString(w, `{"messages":[{"id":"a"},{"id":"b"}],"nextPageToken":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"messages":[{"id":"c"}]}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/users/me/labels"):
		_ = json.NewEncoder(w).Encode(gmail.ListLabelsResponse{Labels: f.labels})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/users/me/labels"):
		var l gmail.Label
		_ = json.NewDecoder(r.Body).Decode(&l)
		l.Id = "Label_" + l.Name
		f.labels = append(f.labels, &l)
		_ = json.NewEncoder(w).Encode(l)
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/modify"):
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-2]
		var req gmail.ModifyMessageRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.modified[id] = req
		_, _ = io.WriteString(w, `{"id":"`+id+`"}`)
	default:
		http.NotFound(w, r)
	}
}

func newFakeClient(t *testing.T, f *fakeGmail) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewWithOptions(context.Background(), nil, option.WithEndpoint(srv.URL+"/"), option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c.WithPolicy(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
}

func TestClient_ListFollowsPagesAndRetries(t *testing.T) {
	f := &fakeGmail{failOnce: true, modified: map[string]gmail.ModifyMessageRequest{}}
	c := newFakeClient(t, f)

	ids, err := c.List(context.Background(), "is:unread", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("ids: %v", ids)
	}

	ids, err = c.List(context.Background(), "is:unread", 2)
	if err != nil {
		t.Fatalf("limited list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("limit not honoured: %v", ids)
	}
}

func TestClient_EnsureLabelsAndApply(t *testing.T) {
	f := &fakeGmail{
		labels:   []*gmail.Label{{Id: "Label_1", Name: "Rejected"}},
		modified: map[string]gmail.ModifyMessageRequest{},
	}
	c := newFakeClient(t, f)
	ctx := context.Background()

	ids, err := c.EnsureLabels(ctx, []string{"Rejected", "Uncertain"})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if ids["Rejected"] != "Label_1" || ids["Uncertain"] != "Label_Uncertain" {
		t.Fatalf("ids: %v", ids)
	}

	if err := c.Apply(ctx, "m1", ids["Rejected"], true); err != nil {
		t.Fatalf("apply: %v", err)
	}
	req := f.modified["m1"]
	if len(req.AddLabelIds) != 1 || req.AddLabelIds[0] != "Label_1" {
		t.Fatalf("add: %v", req.AddLabelIds)
	}
	if len(req.RemoveLabelIds) != 1 || req.RemoveLabelIds[0] != "UNREAD" {
		t.Fatalf("remove: %v", req.RemoveLabelIds)
	}
}

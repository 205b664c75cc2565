// Package mailbox работает с Gmail: поиск писем, чтение, метки.
package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"jobmail/internal/retry"
)

const (
	user        = "me"
	unreadLabel = "UNREAD"
	pageSize    = 100
)

// Message письмо в том виде, в каком его видит конвейер.
type Message struct {
	ID         string
	ThreadID   string
	Subject    string
	From       string
	Date       string
	ReceivedAt time.Time
	// InternalDate в миллисекундах, как отдаёт Gmail.
	InternalDate int64
	Snippet      string
	Body         string
	Unread       bool
	LabelIDs     []string
}

// Label метка почтового ящика.
type Label struct {
	ID   string
	Name string
}

// Mailbox операции, которые нужны сбору данных и классификации.
type Mailbox interface {
	// List возвращает id писем по запросу Gmail. limit <= 0 означает все страницы.
	List(ctx context.Context, query string, limit int64) ([]string, error)
	Get(ctx context.Context, id string) (Message, error)
	Labels(ctx context.Context) ([]Label, error)
	// EnsureLabels создаёт недостающие пользовательские метки и возвращает name -> id.
	EnsureLabels(ctx context.Context, names []string) (map[string]string, error)
	// Apply ставит метку и, если markRead, снимает UNREAD.
	Apply(ctx context.Context, id, labelID string, markRead bool) error
}

// Client реализация Mailbox поверх Gmail API.
type Client struct {
	svc    *gmail.Service
	policy retry.Policy
	logger *zap.Logger
}

// New создаёт клиента с авторизованным источником токенов.
func New(ctx context.Context, src oauth2.TokenSource, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}, opts...)
	return NewWithOptions(ctx, logger, opts...)
}

// NewWithOptions создаёт клиента с произвольными опциями транспорта.
func NewWithOptions(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	policy := retry.DefaultPolicy(logger)
	policy.Retryable = Transient
	return &Client{svc: svc, policy: policy, logger: logger}, nil
}

// Connect собирает клиента из конфигурации: credentials, кэш токена, refresh token.
func Connect(ctx context.Context, credentialsJSON, credentialsPath, tokenPath, refreshToken string, logger *zap.Logger) (*Client, error) {
	creds, err := ReadCredentials(credentialsJSON, credentialsPath)
	if err != nil {
		return nil, err
	}
	cfg, err := OAuthConfig(creds)
	if err != nil {
		return nil, err
	}
	src, err := TokenSource(ctx, cfg, tokenPath, refreshToken, logger)
	if err != nil {
		return nil, err
	}
	return New(ctx, src, logger)
}

// WithPolicy заменяет политику повторов, предикат Transient сохраняется.
func (c *Client) WithPolicy(p retry.Policy) *Client {
	if p.Retryable == nil {
		p.Retryable = Transient
	}
	if p.Logger == nil {
		p.Logger = c.logger
	}
	c.policy = p
	return c
}

func (c *Client) List(ctx context.Context, query string, limit int64) ([]string, error) {
	var ids []string
	pageToken := ""
	for {
		call := c.svc.Users.Messages.List(user).Q(query).MaxResults(pageSize)
		if limit > 0 {
			call = call.MaxResults(min(pageSize, limit-int64(len(ids))))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := retry.Value(ctx, c.policy, "messages.list", func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
			return call.Context(ctx).Do()
		})
		if err != nil {
			return nil, fmt.Errorf("list messages %q: %w", query, err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || (limit > 0 && int64(len(ids)) >= limit) {
			break
		}
		pageToken = resp.NextPageToken
	}
	if limit > 0 && int64(len(ids)) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *Client) Get(ctx context.Context, id string) (Message, error) {
	msg, err := retry.Value(ctx, c.policy, "messages.get", func(ctx context.Context) (*gmail.Message, error) {
		return c.svc.Users.Messages.Get(user, id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return Parse(msg), nil
}

func (c *Client) Labels(ctx context.Context) ([]Label, error) {
	resp, err := retry.Value(ctx, c.policy, "labels.list", func(ctx context.Context) (*gmail.ListLabelsResponse, error) {
		return c.svc.Users.Labels.List(user).Context(ctx).Do()
	})
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	out := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		out = append(out, Label{ID: l.Id, Name: l.Name})
	}
	return out, nil
}

func (c *Client) EnsureLabels(ctx context.Context, names []string) (map[string]string, error) {
	existing, err := c.Labels(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(names))
	for _, l := range existing {
		ids[l.Name] = l.ID
	}

	out := make(map[string]string, len(names))
	for _, name := range names {
		if id, ok := ids[name]; ok {
			out[name] = id
			continue
		}
		created, err := retry.Value(ctx, c.policy, "labels.create", func(ctx context.Context) (*gmail.Label, error) {
			return c.svc.Users.Labels.Create(user, &gmail.Label{
				Name:                  name,
				LabelListVisibility:   "labelShow",
				MessageListVisibility: "show",
			}).Context(ctx).Do()
		})
		if err != nil {
			return nil, fmt.Errorf("create label %q: %w", name, err)
		}
		c.logger.Info("created gmail label", zap.String("label", name), zap.String("id", created.Id))
		out[name] = created.Id
	}
	return out, nil
}

func (c *Client) Apply(ctx context.Context, id, labelID string, markRead bool) error {
	req := &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}}
	if markRead {
		req.RemoveLabelIds = []string{unreadLabel}
	}
	_, err := retry.Value(ctx, c.policy, "messages.modify", func(ctx context.Context) (*gmail.Message, error) {
		return c.svc.Users.Messages.Modify(user, id, req).Context(ctx).Do()
	})
	if err != nil {
		return fmt.Errorf("modify message %s: %w", id, err)
	}
	return nil
}

// Transient сообщает, стоит ли повторять запрос: 429, 5xx и сетевые ошибки.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	var rerr *oauth2.RetrieveError
	return !errors.As(err, &rerr)
}

// Parse извлекает заголовки, дату и текст из сообщения Gmail.
func Parse(msg *gmail.Message) Message {
	m := Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		LabelIDs:     msg.LabelIds,
	}
	if msg.InternalDate > 0 {
		m.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	for _, id := range msg.LabelIds {
		if id == unreadLabel {
			m.Unread = true
		}
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				m.Subject = h.Value
			case "from":
				m.From = h.Value
			case "date":
				m.Date = h.Value
			}
		}
		m.Body = Body(msg.Payload)
	}
	if m.Subject == "" {
		m.Subject = "No Subject"
	}
	if m.Body == "" {
		m.Body = m.Snippet
	}
	return m
}

// Body возвращает текст письма: text/plain если он есть, иначе text/html.
func Body(payload *gmail.MessagePart) string {
	if payload == nil {
		return ""
	}
	if len(payload.Parts) == 0 {
		return decode(payload.Body)
	}
	var plain, html strings.Builder
	walkParts(payload.Parts, &plain, &html)
	if plain.Len() > 0 {
		return plain.String()
	}
	return html.String()
}

func walkParts(parts []*gmail.MessagePart, plain, html *strings.Builder) {
	for _, p := range parts {
		switch {
		case p.MimeType == "text/plain" && p.Body != nil && p.Body.Data != "":
			plain.WriteString(decode(p.Body))
		case p.MimeType == "text/html" && p.Body != nil && p.Body.Data != "":
			html.WriteString(decode(p.Body))
		case len(p.Parts) > 0:
			walkParts(p.Parts, plain, html)
		}
	}
}

func decode(body *gmail.MessagePartBody) string {
	if body == nil || body.Data == "" {
		return ""
	}
	// Gmail отдаёт base64url, иногда без паддинга.
	data := strings.TrimRight(body.Data, "=")
	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return strings.ToValidUTF8(string(raw), "")
}

// UnreadSince запрос непрочитанных писем за последние days дней.
func UnreadSince(now time.Time, days int) string {
	since := now.AddDate(0, 0, -days)
	return fmt.Sprintf("is:unread after:%s", since.Format("2006/01/02"))
}

// LabelQuery запрос писем с меткой, опционально начиная с даты.
func LabelQuery(label string, since time.Time) string {
	q := fmt.Sprintf("label:%q", label)
	if !since.IsZero() {
		q += " after:" + since.Format("2006/01/02")
	}
	return q
}

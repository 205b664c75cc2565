package mailbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"

	"jobmail/internal/fileutil"
)

// ErrNotAuthorized означает, что нет ни сохранённого токена, ни refresh token.
var ErrNotAuthorized = errors.New("gmail: no cached token or refresh token, run gmail-auth-helper first")

// Scopes нужны для чтения писем, установки меток и снятия UNREAD.
var Scopes = []string{gmail.GmailModifyScope}

// OAuthClient описывает OAuth2 client из Google Cloud Console.
type OAuthClient struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	RedirectURIs []string `json:"redirect_uris"`
	AuthURI      string   `json:"auth_uri"`
	TokenURI     string   `json:"token_uri"`
}

type credentialsFile struct {
	Installed *OAuthClient `json:"installed,omitempty"`
	Web       *OAuthClient `json:"web,omitempty"`
}

// ParseCredentials принимает как «плоский» JSON клиента, так и файл
// credentials.json с секцией installed или web.
func ParseCredentials(data []byte) (*OAuthClient, error) {
	var direct OAuthClient
	if err := json.Unmarshal(data, &direct); err == nil && direct.ClientID != "" && direct.ClientSecret != "" {
		return &direct, nil
	}

	var file credentialsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	switch {
	case file.Installed != nil && file.Installed.ClientID != "":
		return file.Installed, nil
	case file.Web != nil && file.Web.ClientID != "":
		return file.Web, nil
	}
	return nil, errors.New("no valid credentials found in JSON, expected 'installed' or 'web' section")
}

// ReadCredentials берёт JSON из значения переменной, а если оно пустое, из файла.
func ReadCredentials(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, errors.New("either GMAIL_CREDENTIALS_JSON or GMAIL_CREDENTIALS_JSON_PATH is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	return data, nil
}

// OAuthConfig строит oauth2.Config для desktop-приложения.
func OAuthConfig(credentials []byte) (*oauth2.Config, error) {
	c, err := ParseCredentials(credentials)
	if err != nil {
		return nil, err
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}, nil
}

// LoadToken читает закэшированный токен.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return tok, nil
}

// SaveToken атомарно сохраняет токен с правами 0600.
func SaveToken(path string, tok *oauth2.Token) error {
	return fileutil.WriteAtomic(path, 0o600, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(tok)
	})
}

// TokenSource возвращает источник токенов: сначала кэш, затем refresh token
// из окружения. Обновлённый токен записывается обратно в кэш.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokenPath, refreshToken string, logger *zap.Logger) (oauth2.TokenSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	tok, err := LoadToken(tokenPath)
	switch {
	case err == nil:
		if tok.Valid() {
			logger.Debug("using cached gmail token", zap.String("path", tokenPath))
		} else {
			logger.Info("cached gmail token expired, refreshing")
		}
	case refreshToken != "":
		logger.Info("using gmail refresh token from environment")
		tok = &oauth2.Token{RefreshToken: refreshToken}
	default:
		return nil, ErrNotAuthorized
	}
	if tok.RefreshToken == "" && refreshToken != "" {
		tok.RefreshToken = refreshToken
	}

	src := &cachingSource{
		base:   oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)),
		path:   tokenPath,
		last:   tok.AccessToken,
		logger: logger,
	}
	return src, nil
}

// cachingSource сохраняет новый токен на диск при каждой смене access token.
type cachingSource struct {
	base   oauth2.TokenSource
	path   string
	last   string
	logger *zap.Logger
}

func (s *cachingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("gmail token: %w", err)
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := SaveToken(s.path, tok); err != nil {
			s.logger.Warn("failed to cache refreshed gmail token", zap.Error(err))
		}
	}
	return tok, nil
}

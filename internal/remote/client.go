// Package remote talks to the hemotrack backend: session issuance and log upload
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gmsas95/hemotrack/internal/config"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/security"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const logUploadBatch = 500

// Client issues sessions and uploads application logs
type Client struct {
	oauth   *oauth2.Config
	http    *resty.Client
	store   *store.Store
	scanner *security.SecretScanner
	logger  *zap.Logger
}

// LogEntry is one uploaded log line
type LogEntry struct {
	ID        uint            `json:"id"`
	Level     string          `json:"level"`
	Message   string          `json:"message"`
	Fields    json.RawMessage `json:"fields,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type logBatch struct {
	InstallationID string     `json:"installation_id"`
	Logs           []LogEntry `json:"logs"`
}

// Session describes the persisted remote session without exposing the token
type Session struct {
	TokenType string    `json:"token_type"`
	Expiry    time.Time `json:"expiry,omitempty"`
	Valid     bool      `json:"valid"`
}

// NewClient creates a remote client
func NewClient(cfg config.RemoteConfig, st *store.Store, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	tokenURL := cfg.TokenURL
	if tokenURL == "" && cfg.BaseURL != "" {
		tokenURL = cfg.BaseURL + "/oauth/token"
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(timeout).
			SetRetryCount(3).
			SetRetryWaitTime(1 * time.Second).
			SetRetryMaxWaitTime(5 * time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		store:   st,
		scanner: security.NewSecretScanner(),
		logger:  logger,
	}
}

// Login exchanges credentials for a session token and persists it
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if c.oauth.Endpoint.TokenURL == "" {
		return nil, apperrors.ErrConfigInvalid.WithMessage("remote token URL is not configured")
	}

	tok, err := c.oauth.PasswordCredentialsToken(ctx, username, password)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return nil, apperrors.ErrLoginRejected.WithCause(err)
		}
		return nil, fmt.Errorf("failed to obtain session: %w", err)
	}

	if err := c.saveToken(tok); err != nil {
		return nil, err
	}

	c.logger.Info("Remote session established", zap.Time("expiry", tok.Expiry))
	return sessionOf(tok), nil
}

// Logout forgets the persisted session
func (c *Client) Logout() error {
	return c.store.DeleteSession(store.SessionRemote)
}

// Session returns the current session, or nil if none is stored
func (c *Client) Session() (*Session, error) {
	tok, err := c.token()
	if err != nil || tok == nil {
		return nil, err
	}
	return sessionOf(tok), nil
}

func sessionOf(tok *oauth2.Token) *Session {
	return &Session{TokenType: tok.Type(), Expiry: tok.Expiry, Valid: tok.Valid()}
}

func (c *Client) saveToken(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	var ttl time.Duration
	if !tok.Expiry.IsZero() {
		ttl = time.Until(tok.Expiry)
		if ttl <= 0 {
			return apperrors.ErrLoginRejected.WithMessage("issued token is already expired")
		}
	}
	return c.store.SetSession(store.SessionRemote, data, ttl)
}

func (c *Client) token() (*oauth2.Token, error) {
	data, err := c.store.GetSession(store.SessionRemote)
	if err != nil || data == nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &tok, nil
}

// UploadLogs posts every not yet uploaded log line and marks the accepted ones
func (c *Client) UploadLogs(ctx context.Context) (int, error) {
	tok, err := c.token()
	if err != nil {
		return 0, err
	}
	if tok == nil || !tok.Valid() {
		return 0, apperrors.ErrNoSession
	}

	installationID, err := c.store.InstallationID()
	if err != nil {
		return 0, err
	}

	total := 0
	for {
		rows, err := c.store.Logs.ListUnsent(ctx, logUploadBatch)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			break
		}

		batch := logBatch{InstallationID: installationID, Logs: make([]LogEntry, 0, len(rows))}
		ids := make([]uint, 0, len(rows))
		for _, r := range rows {
			e := LogEntry{
				ID:        r.ID,
				Level:     r.Level,
				Message:   c.scanner.Redact(r.Message),
				CreatedAt: r.CreatedAt,
			}
			if r.Fields != "" {
				redacted := c.scanner.Redact(r.Fields)
				if json.Valid([]byte(redacted)) {
					e.Fields = json.RawMessage(redacted)
				} else {
					// redaction can break the object; ship it as a string instead
					e.Fields, _ = json.Marshal(redacted)
				}
			}
			batch.Logs = append(batch.Logs, e)
			ids = append(ids, r.ID)
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(tok.AccessToken).
			SetBody(batch).
			Post("/api/v1/logs")
		if err != nil {
			return total, fmt.Errorf("failed to upload logs: %w", err)
		}
		switch {
		case resp.StatusCode() == http.StatusUnauthorized:
			if err := c.Logout(); err != nil {
				c.logger.Warn("Failed to clear rejected session", zap.Error(err))
			}
			return total, apperrors.ErrUnauthorized.WithMessage("remote rejected the session")
		case resp.IsError():
			return total, fmt.Errorf("log upload returned %d", resp.StatusCode())
		}

		if err := c.store.Logs.MarkSent(ctx, ids); err != nil {
			return total, err
		}
		total += len(ids)

		if len(rows) < logUploadBatch {
			break
		}
	}

	if total > 0 {
		c.logger.Info("Logs uploaded", zap.Int("count", total))
	}
	return total, nil
}

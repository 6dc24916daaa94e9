package avito

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Filichkin/AV-ASSISTANT/app/config"
	"github.com/samber/do"
)

const maxPageSize = 100

// Client talks to the Avito Messenger API over authenticated HTTPS. The
// bearer token is acquired lazily and refreshed only in reaction to a 401,
// never proactively. Safe for concurrent use: the token is guarded by mu and
// a refresh is single-flight, callers that raced on the same stale token
// reuse the replacement instead of re-authenticating again.
type Client struct {
	clientID     string
	clientSecret string
	userID       int64
	baseURL      string

	httpClient *http.Client

	mu    sync.Mutex
	token string
}

func NewClient(di *do.Injector) (*Client, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return New(cfg.Avito), nil
}

func New(cfg config.Avito) *Client {
	return &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		userID:       cfg.UserID,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetChats lists one page of chats (the API caps limit at 100, the client
// does not paginate on its own).
func (c *Client) GetChats(ctx context.Context, unreadOnly bool, limit, offset int) ([]Chat, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	query := url.Values{}
	query.Set("unread_only", strconv.FormatBool(unreadOnly))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	endpoint := fmt.Sprintf("%s/messenger/v2/accounts/%d/chats?%s", c.baseURL, c.userID, query.Encode())

	body, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var result chatsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Body: "malformed chats response"}
	}

	slog.Debug("Fetched chats", "count", len(result.Chats))

	return result.Chats, nil
}

func (c *Client) GetUnreadChats(ctx context.Context) ([]Chat, error) {
	return c.GetChats(ctx, true, maxPageSize, 0)
}

// GetMessages fetches up to limit messages of a chat via the v3 endpoint.
// Order is unspecified.
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	endpoint := fmt.Sprintf("%s/messenger/v3/accounts/%d/chats/%s/messages/?limit=%d",
		c.baseURL, c.userID, chatID, limit)

	body, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return nil, err
	}

	var messages []Message
	if err := json.Unmarshal(body, &messages); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Body: "malformed messages response"}
	}

	slog.Debug("Fetched messages", "chat_id", chatID, "count", len(messages))

	return messages, nil
}

// SendMessage delivers a text reply through the v1 endpoint. The client does
// not deduplicate, the caller must not send the same answer twice.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (*SentMessage, error) {
	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/chats/%s/messages", c.baseURL, c.userID, chatID)

	payload, err := json.Marshal(map[string]any{
		"message": map[string]string{"text": text},
		"type":    "text",
	})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var sent SentMessage
	if err := json.Unmarshal(body, &sent); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Body: "malformed send response"}
	}

	slog.Info("Message sent", "chat_id", chatID)

	return &sent, nil
}

// MarkChatRead acknowledges a chat. Best-effort: failures are logged and
// reported as false, never escalated.
func (c *Client) MarkChatRead(ctx context.Context, chatID string) bool {
	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/chats/%s/read", c.baseURL, c.userID, chatID)

	body, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	})
	if err != nil {
		slog.Warn("Failed to mark chat as read", "chat_id", chatID, "error", err)
		return false
	}

	var result readResponse
	if err := json.Unmarshal(body, &result); err != nil {
		slog.Warn("Malformed mark-read response", "chat_id", chatID)
		return false
	}

	return result.OK
}

// UploadImage uploads image bytes and returns image id to size-url mappings.
func (c *Client) UploadImage(ctx context.Context, data []byte) (map[string]map[string]string, error) {
	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/uploadImages", c.baseURL, c.userID)

	body, err := c.do(ctx, func() (*http.Request, error) {
		var buf bytes.Buffer
		writer := multipart.NewWriter(&buf)

		part, err := writer.CreateFormFile("uploadfile[]", "image.jpg")
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var images map[string]map[string]string
	if err := json.Unmarshal(body, &images); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Body: "malformed upload response"}
	}

	return images, nil
}

// SendImageMessage sends a previously uploaded image to a chat.
func (c *Client) SendImageMessage(ctx context.Context, chatID, imageID string) (*SentMessage, error) {
	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/chats/%s/messages/image", c.baseURL, c.userID, chatID)

	payload, err := json.Marshal(map[string]string{"image_id": imageID})
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	body, err := c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var sent SentMessage
	if err := json.Unmarshal(body, &sent); err != nil {
		return nil, &RemoteError{Status: http.StatusOK, Body: "malformed send response"}
	}

	return &sent, nil
}

// DeleteMessage removes a sent message. Allowed within one hour of sending.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	endpoint := fmt.Sprintf("%s/messenger/v1/accounts/%d/chats/%s/messages/%s",
		c.baseURL, c.userID, chatID, messageID)

	_, err := c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	})
	return err
}

// authenticate exchanges client credentials for a bearer token. The caller
// must hold mu.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/token",
		strings.NewReader(form.Encode()))
	if err != nil {
		return &AuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AuthError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return &AuthError{Err: fmt.Errorf("token endpoint returned %d", resp.StatusCode)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return &AuthError{Err: err}
	}
	if token.AccessToken == "" {
		return &AuthError{Err: fmt.Errorf("token missing in response")}
	}

	c.token = token.AccessToken
	slog.Info("Access token acquired")

	return nil
}

// currentToken returns the shared token, authenticating first if none has
// been acquired yet.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}

	return c.token, nil
}

// refreshToken replaces a token the platform rejected. Only the first caller
// holding a given stale token re-authenticates; the rest reuse its result.
func (c *Client) refreshToken(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == stale {
		if err := c.authenticate(ctx); err != nil {
			return "", err
		}
	}

	return c.token, nil
}

// do executes an authenticated request built by build. On a 401 it
// re-authenticates and retries the original request exactly once; a second
// 401 surfaces as a RemoteError.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error)) ([]byte, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	body, status, err := c.send(build, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		slog.Warn("Token expired, re-authenticating")

		token, err = c.refreshToken(ctx, token)
		if err != nil {
			return nil, err
		}

		body, status, err = c.send(build, token)
		if err != nil {
			return nil, err
		}
	}

	if status < 200 || status >= 300 {
		return nil, &RemoteError{Status: status, Body: strings.TrimSpace(string(body))}
	}

	return body, nil
}

func (c *Client) send(build func() (*http.Request, error), token string) ([]byte, int, error) {
	req, err := build()
	if err != nil {
		return nil, 0, &TransportError{Err: err}
	}

	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Err: err}
	}

	return body, resp.StatusCode, nil
}

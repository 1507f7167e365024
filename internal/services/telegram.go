// Telegram Bot API implementation of the adapter contracts
//
// Telegram is never a push target (nothing to "search" in a channel); it
// participates as a payload source for channel audio and as the upload side of
// the pull-shaped directions.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aminsaedi/navaar/internal/shared"
	"golang.org/x/time/rate"
)

const telegramBaseURL = "https://api.telegram.org"

type telegramFile struct {
	FileID       string `json:"file_id"`
	FileUniqueID string `json:"file_unique_id"`
	FilePath     string `json:"file_path"`
	FileSize     int64  `json:"file_size"`
}

type telegramMessage struct {
	MessageID int64 `json:"message_id"`
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
	ErrorCode   int             `json:"error_code"`
}

// TelegramService implements [Downloader] and [Uploader] against one channel.
//
// Bot API file downloads are capped at 20 MB, which covers typical audio
// messages; larger files fail permanently rather than retrying forever.
type TelegramService struct {
	token      string
	channelID  int64
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewTelegramService creates a Telegram client for the given bot token and channel.
func NewTelegramService(token string, channelID int64) (*TelegramService, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: telegram bot token required", shared.ErrMissingCredentials)
	}

	return &TelegramService{
		token:     token,
		channelID: channelID,
		// sendAudio to a single chat is limited to roughly one message per second
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
		httpClient: http.DefaultClient,
	}, nil
}

func (t *TelegramService) apiURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", telegramBaseURL, t.token, method)
}

func (t *TelegramService) call(ctx context.Context, method string, params url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL(method), strings.NewReader(params.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	return decodeTelegramResponse(resp.Body, result)
}

// FetchPayload downloads a channel audio file by its file id (getFile + file download).
func (t *TelegramService) FetchPayload(ctx context.Context, externalID string) (*Payload, error) {
	params := url.Values{}
	params.Set("file_id", externalID)

	var file telegramFile
	if err := t.call(ctx, "getFile", params, &file); err != nil {
		return nil, err
	}

	fileURL := fmt.Sprintf("%s/file/bot%s/%s", telegramBaseURL, t.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: file download status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio payload: %w", err)
	}

	name := file.FilePath
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	return &Payload{
		Data:     data,
		FileName: name,
		MIMEType: resp.Header.Get("Content-Type"),
	}, nil
}

// Upload posts the payload to the channel via sendAudio and returns the new
// message id as the Telegram-side external identifier.
func (t *TelegramService) Upload(ctx context.Context, p *Payload, d Descriptors) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{
		"chat_id":   strconv.FormatInt(t.channelID, 10),
		"title":     d.Title,
		"performer": d.Artist,
	}
	if d.DurationSeconds > 0 {
		fields["duration"] = strconv.Itoa(d.DurationSeconds)
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("audio", p.FileName)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(p.Data); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL("sendAudio"), &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	var msg telegramMessage
	if err := decodeTelegramResponse(resp.Body, &msg); err != nil {
		return "", err
	}

	return strconv.FormatInt(msg.MessageID, 10), nil
}

func decodeTelegramResponse(body io.Reader, result any) error {
	var envelope telegramResponse
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !envelope.OK {
		// 400s (bad file id, file too big) will not recover on retry; 429 and 5xx will.
		if envelope.ErrorCode >= 400 && envelope.ErrorCode < 500 && envelope.ErrorCode != http.StatusTooManyRequests {
			return fmt.Errorf("%w: telegram: %s", shared.ErrPermanent, envelope.Description)
		}
		return fmt.Errorf("%w: telegram: %s", shared.ErrAPIRequest, envelope.Description)
	}

	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}

	return nil
}

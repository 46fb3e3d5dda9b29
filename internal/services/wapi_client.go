package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/batilieri/multichat-system/internal/config"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Credentials select the vendor instance a call acts on
type Credentials struct {
	InstanceID string
	Token      string
}

// WAPIClient talks to the W-API gateway. Regular calls are not retried;
// media calls retry transport failures with a fixed wait.
type WAPIClient struct {
	api   *resty.Client
	media *resty.Client
}

func NewWAPIClient(cfg config.WAPIConfig) *WAPIClient {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")

	api := resty.New()
	api.SetBaseURL(baseURL)
	api.SetTimeout(cfg.Timeout)
	api.SetHeader("Accept", "application/json")

	attempts := cfg.MediaAttempts
	if attempts < 1 {
		attempts = 1
	}
	wait := cfg.MediaRetryWait

	media := resty.New()
	media.SetBaseURL(baseURL)
	media.SetTimeout(cfg.Timeout)
	media.SetRetryCount(attempts - 1)
	media.SetRetryWaitTime(wait)
	media.SetRetryMaxWaitTime(wait)
	media.SetRetryAfter(func(*resty.Client, *resty.Response) (time.Duration, error) {
		return wait, nil
	})
	media.AddRetryCondition(func(_ *resty.Response, err error) bool {
		return err != nil
	})
	media.OnError(func(req *resty.Request, err error) {
		log.Warn().Err(err).Str("url", req.URL).Int("attempt", req.Attempt).Msg("w-api media request failed")
	})

	return &WAPIClient{api: api, media: media}
}

func (c *WAPIClient) request(ctx context.Context, client *resty.Client, cred Credentials) *resty.Request {
	return client.R().
		SetContext(ctx).
		SetAuthToken(cred.Token).
		SetQueryParam("instanceId", cred.InstanceID)
}

// vendorBody is the envelope W-API uses for most answers
type vendorBody map[string]interface{}

func (b vendorBody) str(keys ...string) string {
	for _, k := range keys {
		switch v := b[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func (b vendorBody) flag(key string) bool {
	switch v := b[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	}
	return false
}

// decode turns a vendor response into a body or a VendorError
func decode(resp *resty.Response, err error, op string) (vendorBody, error) {
	if err != nil {
		return nil, fmt.Errorf("w-api %s: %w", op, err)
	}

	var body vendorBody
	if raw := bytes.TrimSpace(resp.Body()); len(raw) > 0 && raw[0] == '{' {
		if jerr := json.Unmarshal(raw, &body); jerr != nil && resp.IsSuccess() {
			return nil, fmt.Errorf("w-api %s: invalid response: %w", op, jerr)
		}
	}

	if !resp.IsSuccess() {
		msg := body.str("message", "error")
		if msg == "" {
			msg = strings.TrimSpace(string(resp.Body()))
		}
		return nil, &VendorError{Status: resp.StatusCode(), Message: msg}
	}
	if body.flag("error") {
		return nil, &VendorError{Status: resp.StatusCode(), Message: body.str("message")}
	}
	return body, nil
}

// InstanceStatus is the connection state reported by the vendor
type InstanceStatus struct {
	Connected bool   `json:"connected"`
	Phone     string `json:"phone"`
}

func (c *WAPIClient) Status(ctx context.Context, cred Credentials) (InstanceStatus, error) {
	resp, err := c.request(ctx, c.api, cred).Get("/instance/status-instance")
	body, err := decode(resp, err, "status")
	if err != nil {
		return InstanceStatus{}, err
	}
	return InstanceStatus{
		Connected: body.flag("connected"),
		Phone:     body.str("connectedPhone", "phone"),
	}, nil
}

// QRCode returns the raw pairing code; rendering is left to the caller
func (c *WAPIClient) QRCode(ctx context.Context, cred Credentials) (string, error) {
	resp, err := c.request(ctx, c.api, cred).
		SetQueryParam("image", "disable").
		Get("/instance/qr-code")
	body, err := decode(resp, err, "qr-code")
	if err != nil {
		return "", err
	}
	code := body.str("qrcode", "qrCode", "code")
	if code == "" {
		return "", &VendorError{Status: resp.StatusCode(), Message: "empty qr code"}
	}
	return code, nil
}

func (c *WAPIClient) Disconnect(ctx context.Context, cred Credentials) error {
	resp, err := c.request(ctx, c.api, cred).Get("/instance/disconnect")
	_, err = decode(resp, err, "disconnect")
	return err
}

// Send endpoints by persisted tipo
var sendEndpoints = map[string]string{
	"texto":       "/message/send-text",
	"imagem":      "/message/send-image",
	"video":       "/message/send-video",
	"audio":       "/message/send-audio",
	"documento":   "/message/send-document",
	"sticker":     "/message/send-sticker",
	"contato":     "/message/send-contact",
	"enquete":     "/message/send-poll",
	"localizacao": "/message/send-location",
	"lista":       "/message/send-list",
}

// SendMessage posts an outbound message and returns the vendor message id
func (c *WAPIClient) SendMessage(ctx context.Context, cred Credentials, tipo string, body map[string]interface{}) (string, error) {
	endpoint, ok := sendEndpoints[tipo]
	if !ok {
		return "", invalidf("unsupported message type %q", tipo)
	}
	resp, err := c.request(ctx, c.api, cred).SetBody(body).Post(endpoint)
	out, err := decode(resp, err, "send")
	if err != nil {
		return "", err
	}
	return out.str("messageId", "insertedId", "id"), nil
}

func (c *WAPIClient) SendReaction(ctx context.Context, cred Credentials, phone, messageID, emoji string) error {
	resp, err := c.request(ctx, c.api, cred).
		SetBody(map[string]interface{}{"phone": phone, "messageId": messageID, "reaction": emoji}).
		Post("/message/send-reaction")
	_, err = decode(resp, err, "send-reaction")
	return err
}

func (c *WAPIClient) RemoveReaction(ctx context.Context, cred Credentials, phone, messageID string) error {
	resp, err := c.request(ctx, c.api, cred).
		SetBody(map[string]interface{}{"phone": phone, "messageId": messageID}).
		Post("/message/remove-reaction")
	_, err = decode(resp, err, "remove-reaction")
	return err
}

func (c *WAPIClient) EditMessage(ctx context.Context, cred Credentials, phone, messageID, text string) error {
	resp, err := c.request(ctx, c.api, cred).
		SetBody(map[string]interface{}{"phone": phone, "messageId": messageID, "text": text}).
		Post("/message/edit-message")
	_, err = decode(resp, err, "edit-message")
	return err
}

func (c *WAPIClient) DeleteMessage(ctx context.Context, cred Credentials, phone, messageID string) error {
	resp, err := c.request(ctx, c.api, cred).
		SetQueryParam("phone", phone).
		SetQueryParam("messageId", messageID).
		Delete("/message/delete")
	_, err = decode(resp, err, "delete")
	return err
}

// MediaRequest is the descriptor sent to download-media
type MediaRequest struct {
	MessageID  string `json:"messageId"`
	Type       string `json:"type"`
	Mimetype   string `json:"mimetype,omitempty"`
	MediaKey   string `json:"mediaKey"`
	DirectPath string `json:"directPath"`
}

// DownloadMedia asks the vendor to decrypt an asset and returns its link
func (c *WAPIClient) DownloadMedia(ctx context.Context, cred Credentials, req MediaRequest) (string, error) {
	resp, err := c.request(ctx, c.media, cred).SetBody(req).Post("/message/download-media")
	body, err := decode(resp, err, "download-media")
	if err != nil {
		return "", err
	}
	link := body.str("fileLink", "link", "url")
	if link == "" {
		return "", &VendorError{Status: resp.StatusCode(), Message: "download-media returned no fileLink"}
	}
	return link, nil
}

// FetchFile streams the asset at link into w
func (c *WAPIClient) FetchFile(ctx context.Context, link string, w io.Writer) (int64, error) {
	resp, err := c.media.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(link)
	if err != nil {
		return 0, fmt.Errorf("w-api fetch file: %w", err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() != http.StatusOK {
		return 0, &VendorError{Status: resp.StatusCode(), Message: "file link answered " + resp.Status()}
	}
	n, err := io.Copy(w, raw)
	if err != nil {
		return n, fmt.Errorf("w-api fetch file: %w", err)
	}
	return n, nil
}

// VendorChat is one entry of the vendor's chat listing
type VendorChat struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Picture     string `json:"profilePicture"`
	LastMessage int64  `json:"lastMessageTime"`
	Unread      int    `json:"unread"`
}

func (c *WAPIClient) FetchChats(ctx context.Context, cred Credentials, page, perPage int) ([]VendorChat, error) {
	resp, err := c.request(ctx, c.api, cred).
		SetQueryParam("page", strconv.Itoa(page)).
		SetQueryParam("perPage", strconv.Itoa(perPage)).
		Get("/chats/fetch-chats")
	if _, err := decode(resp, err, "fetch-chats"); err != nil {
		return nil, err
	}

	var out struct {
		Chats []VendorChat `json:"chats"`
		Data  []VendorChat `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		// some versions answer with a bare array
		var list []VendorChat
		if lerr := json.Unmarshal(resp.Body(), &list); lerr != nil {
			return nil, fmt.Errorf("w-api fetch-chats: invalid response: %w", err)
		}
		return list, nil
	}
	if len(out.Chats) == 0 {
		return out.Data, nil
	}
	return out.Chats, nil
}

func (c *WAPIClient) FetchChat(ctx context.Context, cred Credentials, chatID string) (VendorChat, error) {
	resp, err := c.request(ctx, c.api, cred).
		SetQueryParam("chatId", chatID).
		Get("/chats/fetch-chat")
	body, err := decode(resp, err, "fetch-chat")
	if err != nil {
		return VendorChat{}, err
	}
	return VendorChat{
		ID:      body.str("id", "chatId"),
		Name:    body.str("name", "pushName"),
		Picture: body.str("profilePicture", "profilePictureUrl"),
	}, nil
}

func (c *WAPIClient) ProfilePicture(ctx context.Context, cred Credentials, phone string) (string, error) {
	resp, err := c.request(ctx, c.api, cred).
		SetQueryParam("phone", phone).
		Get("/contacts/profile-picture")
	body, err := decode(resp, err, "profile-picture")
	if err != nil {
		return "", err
	}
	return body.str("profilePictureUrl", "link", "url"), nil
}

// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mail

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// DefaultBaseURL is the production mail API endpoint.
const DefaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

const defaultSendTimeout = 30 * time.Second

// Sender delivers reminder emails through the external mail service's REST
// API as the configured sending account.
type Sender struct {
	httpClient  *http.Client
	baseURL     string
	from        string
	sendTimeout time.Duration
}

// SenderConfig configures a Sender.
type SenderConfig struct {
	// HTTPClient must carry the sending account's OAuth credentials.
	HTTPClient *http.Client

	// BaseURL overrides the mail API endpoint (used in tests).
	BaseURL string

	// From is the sending address placed in the From header.
	From string
}

// NewSender creates a mail sender.
func NewSender(cfg SenderConfig) *Sender {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Sender{
		httpClient:  httpClient,
		baseURL:     baseURL,
		from:        cfg.From,
		sendTimeout: defaultSendTimeout,
	}
}

// Send delivers one email with both HTML and plain-text alternatives and
// returns the service-assigned message ID.
func (s *Sender) Send(ctx context.Context, to, subject, htmlBody, textBody string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	raw := buildMIME(s.from, to, subject, htmlBody, textBody)

	reqBody, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString(raw),
	})
	if err != nil {
		return "", fmt.Errorf("marshal send request: %w", err)
	}

	url := s.baseURL + "/users/me/messages/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send mail to %s: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("mail API returned HTTP %d: %s", resp.StatusCode, snippet)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	return result.ID, nil
}

// SendReminder composes and delivers one reminder email.
func (s *Sender) SendReminder(ctx context.Context, to string, r Reminder) (string, error) {
	subject, htmlBody, textBody := r.Compose()
	return s.Send(ctx, to, subject, htmlBody, textBody)
}

// buildMIME assembles a multipart/alternative message. The subject is
// Q-encoded so emoji survive the header.
func buildMIME(from, to, subject, htmlBody, textBody string) []byte {
	const boundary = "syllabuskitty-alt"

	var buf bytes.Buffer
	if from != "" {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	buf.WriteString(textBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	buf.WriteString(htmlBody)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

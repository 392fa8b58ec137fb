package emailgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Gateway represents an email delivery gateway interface
type Gateway interface {
	// SendEmail submits one message and returns the provider message id.
	// correlationID is embedded as a custom argument so asynchronous
	// provider events can be matched back to the tracking record.
	SendEmail(ctx context.Context, to, subject, htmlBody, correlationID string) (string, error)
	// GetDeliveryStatus asks the provider for the current disposition of a
	// previously accepted message.
	GetDeliveryStatus(ctx context.Context, messageID string) (string, error)
}

// SendError is a transport failure reported by the provider.
type SendError struct {
	Code    int
	Message string
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("send failed (%d): %s", e.Code, e.Message)
	}
	return "send failed: " + e.Message
}

// HTTPGateway sends mail through a JSON HTTP provider API
type HTTPGateway struct {
	BaseURL     string
	APIKey      string
	FromAddress string
	FromName    string
	httpClient  *http.Client
}

// NewHTTPGateway creates a new HTTPGateway
func NewHTTPGateway(baseURL, apiKey, fromAddress, fromName string) Gateway {
	return &HTTPGateway{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		FromAddress: fromAddress,
		FromName:    fromName,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendEmail sends an email through the provider API
func (g *HTTPGateway) SendEmail(ctx context.Context, to, subject, htmlBody, correlationID string) (string, error) {
	requestBody := map[string]interface{}{
		"to":       to,
		"subject":  subject,
		"html":     htmlBody,
		"from":     g.FromAddress,
		"fromName": g.FromName,
		"customArgs": map[string]string{
			"trackingId": correlationID,
		},
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/v3/mail/send", bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("X-Tracking-Id", correlationID)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &SendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SendError{Message: "failed to read response body: " + err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SendError{Code: resp.StatusCode, Message: string(body)}
	}

	var response struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		// some providers return an empty body and put the id in a header
		if id := resp.Header.Get("X-Message-Id"); id != "" {
			return id, nil
		}
		return "", &SendError{Message: "failed to parse response: " + err.Error()}
	}

	return response.MessageID, nil
}

// GetDeliveryStatus queries the provider message status endpoint
func (g *HTTPGateway) GetDeliveryStatus(ctx context.Context, messageID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/v3/messages/"+messageID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", &SendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SendError{Message: "failed to read response body: " + err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &SendError{Code: resp.StatusCode, Message: string(body)}
	}

	var response struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", &SendError{Message: "failed to parse response: " + err.Error()}
	}
	return response.Status, nil
}

// MockGateway represents a mock email gateway for local development and tests
type MockGateway struct {
	Name string
}

// NewMockGateway creates a new MockGateway
func NewMockGateway(name string) Gateway {
	return &MockGateway{Name: name}
}

// SendEmail simulates a successful send
func (g *MockGateway) SendEmail(ctx context.Context, to, subject, htmlBody, correlationID string) (string, error) {
	msgID := fmt.Sprintf("%s-MOCK-%s", g.Name, uuid.NewString())
	fmt.Printf("[%s Mock Gateway] Simulating SendEmail to %s: %q -> %s\n", g.Name, to, subject, msgID)
	return msgID, nil
}

// GetDeliveryStatus simulates a delivered disposition
func (g *MockGateway) GetDeliveryStatus(ctx context.Context, messageID string) (string, error) {
	return "delivered", nil
}

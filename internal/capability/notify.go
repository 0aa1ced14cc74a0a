// Package capability provides the built-in capability bodies registered
// with the chain registry: notification delivery, instruction injection,
// restricted file reads, and Lua-scripted extensions.
package capability

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/loopagent/loopagent/internal/chain"
	"github.com/loopagent/loopagent/internal/state"
)

const ntfyDefaultBaseURL = "https://ntfy.sh"

// Notifier sends push notifications through an ntfy topic and records a
// system message in the chat transcript for each one sent.
type Notifier struct {
	baseURL  string
	topic    string
	client   *http.Client
	messages *state.MessageStore // optional
}

// NewNotifier creates a notifier for the given topic. messages may be nil.
func NewNotifier(baseURL, topic string, messages *state.MessageStore) *Notifier {
	if baseURL == "" {
		baseURL = ntfyDefaultBaseURL
	}
	return &Notifier{
		baseURL:  strings.TrimRight(baseURL, "/"),
		topic:    topic,
		client:   &http.Client{Timeout: 15 * time.Second},
		messages: messages,
	}
}

// Descriptor returns the send_notification capability descriptor.
func (n *Notifier) Descriptor() chain.Descriptor {
	return chain.Descriptor{
		Name:        "send_notification",
		Description: "Send a push notification to the user",
		Args: []chain.ArgSpec{
			{Name: "message", Type: "string", Description: "The notification text to send", Required: true},
		},
	}
}

// Invoke sends the notification.
func (n *Notifier) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return nil, fmt.Errorf("notification message must be a non-empty string")
	}
	if n.topic == "" {
		return nil, fmt.Errorf("notification topic is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		n.baseURL+"/"+n.topic, strings.NewReader(message))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Title", "LoopAgent Notification")
	req.Header.Set("Priority", "default")
	req.Header.Set("Tags", "bell")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("send notification: status %d: %s", resp.StatusCode, string(body))
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	if n.messages != nil {
		if _, err := n.messages.Save(ctx, "System", "Notification sent: "+message, ts); err != nil {
			log.Printf("capability: recording notification message: %v", err)
		}
	}

	return map[string]any{
		"success":      true,
		"message":      "Notification sent successfully",
		"notification": message,
		"timestamp":    ts,
	}, nil
}

// RegisterNotifier registers the send_notification capability.
func RegisterNotifier(reg *chain.Registry, n *Notifier) error {
	return reg.Register(n.Descriptor(), n.Invoke)
}

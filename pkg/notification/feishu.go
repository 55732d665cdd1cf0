package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"camwatch/pkg/constants"
	"camwatch/pkg/interfaces"
	"camwatch/pkg/logger"
	"camwatch/pkg/status"
)

// FeishuNotifier sends operator alerts to Feishu (Lark)
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
	sanitizer  *status.Sanitizer
}

// NewFeishuNotifier creates a new Feishu notifier.
// Priority: webhookURL argument > FEISHU_WEBHOOK_URL environment variable.
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL == "" {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
	}
	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured, reconcile alerts will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		sanitizer: status.NewSanitizer(),
	}
}

// Enabled reports whether a webhook is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// alertable only failures, conflicts and swept orphans page an operator
func alertable(action string) bool {
	switch constants.Action(action) {
	case constants.ActionFail, constants.ActionConflict, constants.ActionSweep:
		return true
	}
	return false
}

// Record implements interfaces.EventRecorder; routine actions are ignored
func (f *FeishuNotifier) Record(ctx context.Context, event *interfaces.ReconcileEvent) error {
	if f.webhookURL == "" || event == nil || !alertable(event.Action) {
		return nil
	}

	payload, err := json.Marshal(f.buildEventMessage(f.sanitizer.SanitizeEvent(event)))
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu alert sent for stream %s (%s)", event.Stream, event.Action)
	return nil
}

func headerTemplate(action string) string {
	if constants.Action(action) == constants.ActionFail {
		return "red"
	}
	return "orange"
}

func field(label, value string) map[string]interface{} {
	if value == "" {
		value = "-"
	}
	return map[string]interface{}{
		"is_short": true,
		"text": map[string]interface{}{
			"content": fmt.Sprintf("**%s**\n%s", label, value),
			"tag":     "lark_md",
		},
	}
}

// buildEventMessage builds a Feishu message card for a reconcile event
func (f *FeishuNotifier) buildEventMessage(event *interfaces.ReconcileEvent) map[string]interface{} {
	detail := event.Reason
	if event.Error != "" {
		hint := f.sanitizer.Describe(status.FailureKind(event.ErrorKind), event.Error)
		detail = fmt.Sprintf("%s (%s)\n%s\n**Suggestion**: %s", hint.UserMessage, hint.ErrorCode, event.Error, hint.Suggestion)
	}

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": headerTemplate(event.Action),
				"title": map[string]interface{}{
					"content": fmt.Sprintf("camwatch: %s on %s", event.Action, event.Stream),
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag":    "div",
					"fields": []interface{}{field("Stream", event.Stream), field("Action", event.Action)},
				},
				map[string]interface{}{
					"tag":    "div",
					"fields": []interface{}{field("Worker", event.WorkerID), field("Previous Worker", event.PrevWorkerID)},
				},
				map[string]interface{}{
					"tag":    "div",
					"fields": []interface{}{field("Producer Bytes", event.Producer), field("Consumer Bytes", event.Consumer)},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Detail**: %s", detail),
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "note",
					"elements": []interface{}{
						map[string]interface{}{
							"content": fmt.Sprintf("Event %s at %s", event.EventID, event.Timestamp.UTC().Format("2006-01-02 15:04:05")),
							"tag":     "plain_text",
						},
					},
				},
			},
		},
	}
}

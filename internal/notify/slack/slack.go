// Package slack sends triage notifications to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/warden/internal/alert"
	"github.com/linnemanlabs/warden/internal/triage"
)

const (
	maxStepsShown = 5
	httpTimeout   = 10 * time.Second
)

// Notifier posts triage outcomes to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Notify is a no-op.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// Notify posts an alert's triage result to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Notify(ctx context.Context, a *alert.Alert, r *triage.Result) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(a, r)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *alert.Alert, r *triage.Result) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a, r),
			{"type": "divider"},
			fieldsBlock(a, r),
			{"type": "divider"},
			stepsBlock(r),
			{"type": "divider"},
			contextBlock(a, r),
		},
	}
}

func headerBlock(a *alert.Alert, r *triage.Result) map[string]any {
	title := "Triage Complete"
	if r.Status == triage.StatusFailed {
		title = "Triage Failed"
	}
	text := fmt.Sprintf("%s %s: %s", verdictEmoji(r), title, a.Name)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *alert.Alert, r *triage.Result) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Level:* %s", a.Level),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Verdict:* %s", effectiveVerdict(r)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Source IPs:* %s", joinOrDash(a.SourceIP)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Duration:* %.1fs", float64(r.ProcessingTimeMs)/1000),
		},
	}
	if r.TIMatching != nil {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*TI checked:* %d", r.TIMatching.TotalChecked),
		}, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*TI malicious:* %d", r.TIMatching.MaliciousFound),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func stepsBlock(r *triage.Result) map[string]any {
	text := "_No investigation steps available._"
	if r.Analysis != nil && len(r.Analysis.InvestigationSteps) > 0 {
		var b strings.Builder
		for i, step := range r.Analysis.InvestigationSteps {
			if i == maxStepsShown {
				fmt.Fprintf(&b, "_…and %d more._", len(r.Analysis.InvestigationSteps)-maxStepsShown)
				break
			}
			fmt.Fprintf(&b, "%d. *%s* — %s\n", step.Step, step.Title, step.Details)
		}
		text = b.String()
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Investigation steps*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert, r *triage.Result) map[string]any {
	ts := r.CompletedAt
	if ts.IsZero() {
		ts = r.CreatedAt
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("warden • alert %s • %s", a.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

// effectiveVerdict prefers the analysis conclusion over the early
// threat-intel verdict.
func effectiveVerdict(r *triage.Result) string {
	if r.Analysis != nil {
		return string(r.Analysis.Conclusion)
	}
	if r.Verdict != nil {
		return string(*r.Verdict)
	}
	return "unknown"
}

func verdictEmoji(r *triage.Result) string {
	if r.Status == triage.StatusFailed {
		return "⚠️" // warning sign
	}
	switch effectiveVerdict(r) {
	case string(triage.VerdictMalicious):
		return "\U0001f534" // red circle
	case string(triage.VerdictBenign):
		return "\U0001f7e2" // green circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

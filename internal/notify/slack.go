package notify

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
)

// Slack posts notifications to an incoming webhook
type Slack struct {
	webhookURL string
	client     *http.Client
}

type slackMessage struct {
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
	Footer string       `json:"footer"`
	TS     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlack creates a Slack notifier
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func slackColor(l Level) string {
	switch l {
	case LevelSuccess:
		return "good"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#439FE0"
	}
}

func buildSlackMessage(n Notification, now time.Time) slackMessage {
	att := slackAttachment{
		Color:  slackColor(n.Level),
		Text:   n.Message,
		Footer: "vlm-rationales",
		TS:     now.Unix(),
	}
	if lines := n.DetailLines(); len(lines) > 0 {
		att.Text += "\n```\n" + strings.Join(lines, "\n") + "\n```"
	}
	for _, s := range n.Stats {
		att.Fields = append(att.Fields, slackField{Title: s.Label, Value: strconv.Itoa(s.Value), Short: true})
	}
	return slackMessage{Text: "*" + n.Title + "*", Attachments: []slackAttachment{att}}
}

// Send posts n to the webhook
func (s *Slack) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(buildSlackMessage(n, time.Now()))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

package alert

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// attachment colours keyed to alert level; losses and halts stand out
// in the channel at a glance.
var slackColors = map[Level]string{
	Info:     "#36a64f",
	Warning:  "#ffcc00",
	Error:    "#ff0000",
	Critical: "#8b0000",
}

// SlackChannel posts trade events to an incoming webhook, one
// attachment per event.
type SlackChannel struct {
	webhookURL string
	client     *http.Client
}

func NewSlackChannel(webhookURL string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, alert Payload) error {
	if s.webhookURL == "" {
		return nil
	}

	color, ok := slackColors[alert.Level]
	if !ok {
		color = slackColors[Info]
	}

	fields := make([]map[string]interface{}, 0, len(alert.Fields))
	for _, k := range sortedKeys(alert.Fields) {
		fields = append(fields, map[string]interface{}{
			"title": k,
			"value": alert.Fields[k],
			"short": true,
		})
	}

	payload := map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":   color,
				"pretext": fmt.Sprintf("[%s] %s", alert.Level, alert.Title),
				"text":    alert.Message,
				"fields":  fields,
				"ts":      alert.Timestamp.Unix(),
				"footer":  "premium-trader",
			},
		},
	}

	return postJSON(ctx, s.client, s.webhookURL, payload)
}

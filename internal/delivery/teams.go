package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ats-workflow/internal/ratelimit"
)

const (
	defaultTeamsTimeout = 5 * time.Second
	adaptiveCardType    = "application/vnd.microsoft.card.adaptive"
)

// TeamsChannel 通过 incoming webhook 发送 Adaptive Card
type TeamsChannel struct {
	webhookURL string
	client     *http.Client
	limiter    *ratelimit.Limiter
}

var _ Channel = (*TeamsChannel)(nil)

// NewTeamsChannel webhookURL 为空时 Deliver 直接返回
func NewTeamsChannel(webhookURL string, timeout time.Duration, limiter *ratelimit.Limiter) *TeamsChannel {
	if timeout <= 0 {
		timeout = defaultTeamsTimeout
	}
	return &TeamsChannel{
		webhookURL: strings.TrimSpace(webhookURL),
		client:     &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (t *TeamsChannel) Name() string { return "teams" }

// Deliver 先取令牌再发送；只有配置了 teams.max_retries 时 429/5xx 才按退避重试
func (t *TeamsChannel) Deliver(ctx context.Context, env Envelope) error {
	if t.webhookURL == "" {
		return nil
	}
	body, err := json.Marshal(buildTeamsMessage(env))
	if err != nil {
		return fmt.Errorf("序列化 teams 卡片失败: %w", err)
	}
	if t.limiter == nil {
		return t.post(ctx, body)
	}
	return t.limiter.Do(ctx, func() error { return t.post(ctx, body) })
}

func (t *TeamsChannel) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("teams webhook 请求失败: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		err := fmt.Errorf("teams webhook 返回状态码 %d", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return ratelimit.Retryable(err)
		}
		return err
	}
	return nil
}

// cardTitle "shortlist_for_approval" -> "Shortlist For Approval"
func cardTitle(t string) string {
	words := strings.Fields(strings.ReplaceAll(t, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// buildTeamsMessage 生成 webhook 消息体
func buildTeamsMessage(env Envelope) map[string]interface{} {
	card := map[string]interface{}{
		"$schema": "http://adaptivecards.io/schemas/adaptive-card.json",
		"type":    "AdaptiveCard",
		"version": "1.4",
		"msteams": map[string]interface{}{"width": "Full"},
		"body": []interface{}{
			map[string]interface{}{
				"type":   "TextBlock",
				"size":   "Large",
				"weight": "Bolder",
				"text":   cardTitle(string(env.Type)),
			},
			map[string]interface{}{
				"type": "TextBlock",
				"text": env.Message,
				"wrap": true,
			},
			map[string]interface{}{
				"type": "FactSet",
				"facts": []interface{}{
					map[string]string{"title": "Candidate", "value": orDefault(env.CandidateName, "Unknown")},
					map[string]string{"title": "Position", "value": orDefault(env.Position, "N/A")},
					map[string]string{"title": "Priority", "value": orDefault(string(env.Priority), "normal")},
					map[string]string{"title": "Action Required", "value": yesNo(env.ActionRequired)},
				},
			},
		},
		"actions": []interface{}{
			map[string]interface{}{
				"type":  "Action.OpenUrl",
				"title": "View Candidate",
				"url":   env.ViewURL,
			},
		},
	}
	return map[string]interface{}{
		"type": "message",
		"attachments": []interface{}{
			map[string]interface{}{
				"contentType": adaptiveCardType,
				"contentUrl":  nil,
				"content":     card,
			},
		},
	}
}

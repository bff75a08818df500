package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"polyagent/internal/errs"
	"polyagent/internal/pkg/retry"
)

// 中文说明：
// Telegram 通知器：在 dry-run 下单完成后，将市场、方向、金额与分析摘要推送至指定群/频道。

const defaultTelegramAPI = "https://api.telegram.org"

type Telegram struct {
	BotToken string
	ChatID   string
	// BaseURL 覆盖 Bot API 地址（测试用）。
	BaseURL string
	Client  *http.Client
	Retry   retry.Policy
}

func NewTelegram(botToken, chatID string) *Telegram {
	pol := retry.DefaultPolicy(3)
	pol.Name = "telegram.send"
	pol.MaxDelay = 5 * time.Second
	return &Telegram{
		BotToken: botToken,
		ChatID:   chatID,
		Client:   &http.Client{Timeout: 15 * time.Second},
		Retry:    pol,
	}
}

// SendText 发送 Markdown 文本；429/5xx 与网络错误按 Retry 策略重试。
func (t *Telegram) SendText(ctx context.Context, text string) error {
	if t.BotToken == "" || t.ChatID == "" {
		return errs.Configf("Telegram 配置不完整")
	}
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = defaultTelegramAPI
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", base, t.BotToken)
	body, err := json.Marshal(map[string]any{
		"chat_id":    t.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	_, err = retry.Do(ctx, t.Retry, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, errs.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return struct{}{}, errs.Transient("telegram", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		switch {
		case resp.StatusCode/100 == 2:
			return struct{}{}, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return struct{}{}, errs.Transient("telegram", fmt.Errorf("telegram status=%d", resp.StatusCode))
		default:
			return struct{}{}, errs.Permanent(fmt.Errorf("telegram status=%d", resp.StatusCode))
		}
	})
	return err
}

package notifier

import (
	"fmt"
	"strings"
	"time"

	"polyagent/internal/decision"
	"polyagent/internal/executor"
	textutil "polyagent/internal/pkg/text"
)

const maxStructuredMessageLen = 3800

// MessageSection 表示通知中的一个段落。
type MessageSection struct {
	Title string
	Lines []string
}

// StructuredMessage 描述统一格式的推送消息。
type StructuredMessage struct {
	Icon      string
	Title     string
	Sections  []MessageSection
	Footer    string
	Timestamp time.Time
}

// RenderMarkdown 生成 Markdown 文本，自动裁剪长度。
func (m StructuredMessage) RenderMarkdown() string {
	var b strings.Builder
	header := strings.TrimSpace(strings.TrimSpace(m.Icon + " " + m.Title))
	if header != "" {
		b.WriteString(header + "\n\n")
	}
	if block := renderSections(m.Sections); block != "" {
		b.WriteString(block)
	}
	if footer := strings.TrimSpace(m.Footer); footer != "" {
		b.WriteString(sanitize(footer))
		b.WriteString("\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("时间：" + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxStructuredMessageLen {
		body = body[:maxStructuredMessageLen] + "..."
	}
	return body
}

func renderSections(secs []MessageSection) string {
	hasContent := false
	for _, sec := range secs {
		if len(sanitizeLines(sec.Lines)) > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent {
		return ""
	}
	var b strings.Builder
	b.WriteString("```\n")
	for idx, sec := range secs {
		lines := sanitizeLines(sec.Lines)
		if len(lines) == 0 {
			continue
		}
		title := strings.TrimSpace(sec.Title)
		if title != "" {
			b.WriteString(sanitize(title))
			b.WriteString("\n")
		}
		for _, line := range lines {
			b.WriteString("- ")
			b.WriteString(sanitize(line))
			b.WriteString("\n")
		}
		if idx != len(secs)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString("```\n\n")
	return b.String()
}

func sanitizeLines(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if text := strings.TrimSpace(line); text != "" {
			out = append(out, text)
		}
	}
	return out
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "```", "'''")
	return s
}

// OrderMessage 渲染已下单的订单及其对应的分析结论。
func OrderMessage(m decision.MarketSnapshot, d decision.TradeDecision, res executor.OrderResult) StructuredMessage {
	out := d.Source
	lines := []string{
		fmt.Sprintf("方向：%s (%s)", d.Side, d.Side.OutcomeLabel()),
		fmt.Sprintf("金额：%.2f USDC", d.Amount),
		fmt.Sprintf("建议：%s，置信度 %.0f%%，模式 %s", out.Recommendation, out.Confidence*100, out.Mode),
	}
	sections := []MessageSection{
		{Title: "市场", Lines: []string{m.Question, "ID: " + m.ID}},
		{Title: "订单", Lines: append(lines, fmt.Sprintf("订单号：%s 状态：%s", res.OrderID, res.Status))},
	}
	if reason := strings.TrimSpace(out.Reasoning); reason != "" {
		sections = append(sections, MessageSection{Title: "理由", Lines: []string{textutil.Truncate(reason, 600)}})
	}
	return StructuredMessage{
		Icon:      "🧪",
		Title:     "Dry-run 下单",
		Sections:  sections,
		Footer:    out.TraceURL,
		Timestamp: res.PlacedAt,
	}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"polyagent/internal/errs"
	"polyagent/internal/logger"
	textutil "polyagent/internal/pkg/text"
)

// 中文说明：
// OpenAIChatClient：兼容 OpenAI / DeepSeek / Qwen 的聊天补全接口（/v1/chat/completions）。
// 支持 function calling：模型返回 tool_calls 时经由 Invocation.Caller 分发，再把结果回填继续对话。
// 重试由上层 retry.Do 负责，这里只负责把失败归类为可重试 / 不可重试。

const defaultMaxToolRounds = 8

type OpenAIChatClient struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	MaxToolRounds int
	ExtraHeaders  map[string]string
	HTTPClient    *http.Client
}

func (c *OpenAIChatClient) ID() string {
	return "openai:" + c.Model
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

// Run 发送 inv，并循环处理工具调用直到模型给出文本回答。
func (c *OpenAIChatClient) Run(ctx context.Context, inv Invocation) (Result, error) {
	url := c.endpoint()
	messages := c.initialMessages(inv)
	tools, schemas := c.toolDefs(inv.Tools)
	tag := logger.LLMTag{Kind: "analysis", Model: c.Model, TraceRef: inv.TraceRef, Mode: inv.Mode}

	maxRounds := c.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	res := Result{Model: c.Model}
	for round := 1; round <= maxRounds; round++ {
		res.Rounds = round
		body := c.requestBody(inv, messages, tools)
		payload, err := json.Marshal(body)
		if err != nil {
			return res, errs.Permanent(fmt.Errorf("encode request: %w", err))
		}
		if round == 1 {
			logger.LogLLMRequest(tag, inv.Instructions, inv.Input, toolNames(inv.Tools), string(payload))
			logger.Debugf("[AI] 请求: POST %s, headers=%v, tools=%d", url, c.maskedHeaders(), len(tools))
		}
		msg, model, err := c.complete(ctx, url, payload)
		if err != nil {
			return res, err
		}
		if model != "" {
			res.Model = model
		}
		if len(msg.ToolCalls) == 0 {
			text := strings.TrimSpace(msg.Content)
			logger.LogLLMResponse(tag, msg.Content)
			if text == "" {
				return res, errs.Transient("model", errors.New("empty completion"))
			}
			res.Text = text
			return res, nil
		}
		if inv.Caller == nil {
			return res, errs.Permanent(fmt.Errorf("model requested %d tool calls but no tools are available", len(msg.ToolCalls)))
		}
		messages = append(messages, chatMessage{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})
		for _, call := range msg.ToolCalls {
			out, err := c.dispatch(ctx, inv.Caller, schemas, call)
			if err != nil {
				return res, err
			}
			res.ToolCalls++
			logger.LogLLMToolCall(tag, call.Function.Name, call.Function.Arguments, out)
			messages = append(messages, chatMessage{Role: "tool", ToolCallID: call.ID, Content: out})
		}
	}
	return res, errs.Permanent(fmt.Errorf("tool loop exceeded %d rounds", maxRounds))
}

func (c *OpenAIChatClient) endpoint() string {
	// 规范化 BaseURL，避免用户把完整的 /chat/completions 也写进了配置导致重复路径
	url := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if url == "" {
		url = "https://api.openai.com/v1"
	}
	url = strings.TrimSuffix(url, "/chat/completions")
	return url + "/chat/completions"
}

func (c *OpenAIChatClient) initialMessages(inv Invocation) []chatMessage {
	msgs := make([]chatMessage, 0, 3)
	if s := strings.TrimSpace(inv.Instructions); s != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: s})
	}
	if len(inv.Context) > 0 {
		if raw, err := json.Marshal(inv.Context); err == nil {
			msgs = append(msgs, chatMessage{Role: "system", Content: "Context: " + string(raw)})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: inv.Input})
	return msgs
}

func (c *OpenAIChatClient) requestBody(inv Invocation, messages []chatMessage, tools []chatTool) map[string]any {
	body := map[string]any{"model": c.Model, "messages": messages}
	reasoning := isReasoningModel(c.Model)
	if inv.MaxTokens > 0 {
		if reasoning {
			body["max_completion_tokens"] = inv.MaxTokens
		} else {
			body["max_tokens"] = inv.MaxTokens
		}
	}
	// o1/o3 系列不接受 temperature 参数。
	if inv.Temperature != nil && !reasoning {
		body["temperature"] = *inv.Temperature
	}
	if len(tools) > 0 {
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}
	return body
}

func (c *OpenAIChatClient) toolDefs(in []Tool) ([]chatTool, map[string]*jsonschema.Schema) {
	if len(in) == 0 {
		return nil, nil
	}
	tools := make([]chatTool, 0, len(in))
	schemas := make(map[string]*jsonschema.Schema, len(in))
	for _, t := range in {
		params := t.Parameters
		if len(bytes.TrimSpace(params)) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		tools = append(tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
		schema, err := compileSchema(t.Name, params)
		if err != nil {
			logger.Warnf("[AI] tool %s schema ignored: %v", t.Name, err)
			continue
		}
		schemas[t.Name] = schema
	}
	return tools, schemas
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	res := name + ".schema.json"
	if err := compiler.AddResource(res, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(res)
}

// dispatch 返回 tool 消息内容。参数错误与工具自身失败回传给模型；
// 工具服务器传输失败则中止本次调用。
func (c *OpenAIChatClient) dispatch(ctx context.Context, caller ToolCaller, schemas map[string]*jsonschema.Schema, call chatToolCall) (string, error) {
	name := call.Function.Name
	args := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			return fmt.Sprintf("error: arguments for %s are not valid JSON: %v", name, err), nil
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			return fmt.Sprintf("error: arguments for %s must be a JSON object", name), nil
		}
		args = obj
	}
	if schema, ok := schemas[name]; ok {
		if err := schema.Validate(args); err != nil {
			return fmt.Sprintf("error: invalid arguments for %s: %v", name, err), nil
		}
	}
	out, err := caller.CallTool(ctx, name, args)
	if err != nil {
		var tsErr *errs.ToolServerError
		if errors.As(err, &tsErr) || ctx.Err() != nil {
			return "", err
		}
		return fmt.Sprintf("error: %v", err), nil
	}
	return out, nil
}

func (c *OpenAIChatClient) complete(ctx context.Context, url string, payload []byte) (chatMessage, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return chatMessage{}, "", errs.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	// 覆盖/补充自定义请求头（若配置中提供）
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return chatMessage{}, "", fmt.Errorf("model request: %w", ctx.Err())
		}
		return chatMessage{}, "", errs.Transient("model", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg := errorMessage(resp)
		statusErr := fmt.Errorf("status=%d: %s", resp.StatusCode, msg)
		if retryableStatus(resp.StatusCode) {
			return chatMessage{}, "", &errs.TransientRemoteError{Op: "model", StatusCode: resp.StatusCode, Err: statusErr}
		}
		return chatMessage{}, "", errs.Permanent(statusErr)
	}

	var r chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return chatMessage{}, "", errs.Transient("model", fmt.Errorf("decode response: %w", err))
	}
	if len(r.Choices) == 0 {
		return chatMessage{}, "", errs.Transient("model", errors.New("empty choices"))
	}
	return r.Choices[0].Message, r.Model, nil
}

func (c *OpenAIChatClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// maskedHeaders 组装将要发送的头信息（授权头做掩码，仅展示后 4 位）。
func (c *OpenAIChatClient) maskedHeaders() map[string]string {
	hlog := map[string]string{"Content-Type": "application/json"}
	if c.APIKey != "" {
		hlog["Authorization"] = "Bearer ****" + tail(c.APIKey)
	}
	for k, v := range c.ExtraHeaders {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "key") || strings.Contains(lk, "token") || strings.Contains(lk, "auth") {
			v = "****" + tail(v)
		}
		hlog[k] = v
	}
	return hlog
}

func tail(s string) string {
	if len(s) > 4 {
		return s[len(s)-4:]
	}
	return ""
}

func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eresp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &eresp) == nil && strings.TrimSpace(eresp.Error.Message) != "" {
		return strings.TrimSpace(eresp.Error.Message)
	}
	if body := strings.TrimSpace(string(raw)); body != "" {
		return textutil.Truncate(body, 200)
	}
	return resp.Status
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") || strings.HasPrefix(m, "o4")
}

func toolNames(tools []Tool) []string {
	if len(tools) == 0 {
		return nil
	}
	out := make([]string, 0, len(tools))
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

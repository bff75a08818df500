package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter installs the transcript sink for model requests and responses.
// A nil writer disables transcripts.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

type llmSection struct {
	Title string
	Body  string
}

// LLMTag identifies one transcript entry.
type LLMTag struct {
	Kind     string
	Model    string
	TraceRef string
	Mode     string
}

func (t LLMTag) header() string {
	var b strings.Builder
	b.WriteString("[LLM]")
	for _, part := range []string{t.Kind, t.Model, t.Mode} {
		if part == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(part)
		b.WriteString("]")
	}
	if t.TraceRef != "" {
		b.WriteString(" trace=")
		b.WriteString(t.TraceRef)
	}
	return b.String()
}

func logLLM(tag LLMTag, sections []llmSection) {
	llmMu.Lock()
	l := llmLog
	llmMu.Unlock()
	if l == nil {
		return
	}
	var b strings.Builder
	b.WriteString(tag.header())
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

func LogLLMRequest(tag LLMTag, instructions, input string, tools []string, payload string) {
	tag.Kind += "-request"
	sections := []llmSection{
		{Title: "INSTRUCTIONS", Body: instructions},
		{Title: "INPUT", Body: input},
	}
	if len(tools) > 0 {
		sections = append(sections, llmSection{Title: "TOOLS", Body: strings.Join(tools, ", ")})
	}
	llmMu.Lock()
	dump := llmDumpPayload
	llmMu.Unlock()
	if dump && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: payload})
	}
	logLLM(tag, sections)
}

func LogLLMResponse(tag LLMTag, raw string) {
	tag.Kind += "-response"
	logLLM(tag, []llmSection{{Title: "RAW", Body: raw}})
}

func LogLLMToolCall(tag LLMTag, tool, args, result string) {
	tag.Kind += "-tool"
	logLLM(tag, []llmSection{
		{Title: "TOOL", Body: tool},
		{Title: "ARGS", Body: args},
		{Title: "RESULT", Body: result},
	})
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

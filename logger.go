package souschef

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// AttemptLogger records each LLM round trip of a generation pipeline or the
// assistant loop.
type AttemptLogger interface {
	LogAttempt(attempt AttemptLog) error
}

// NewAttemptLogFilePath returns a file path tagged with the component and a
// cleaned up model id so logs from different models are easy to tell apart.
func NewAttemptLogFilePath(dir, component, model string) string {
	if dir == "" {
		dir = "./logs"
	}
	clean := strings.NewReplacer(":", "_", "/", "_").Replace(strings.ToLower(model))
	return fmt.Sprintf("%s/%d.%s.%s.json", strings.TrimRight(dir, "/"), time.Now().Unix(), component, clean)
}

// AttemptLog is a single round trip with the model.
type AttemptLog struct {
	Component string        `json:"component"`
	Attempt   int           `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id,omitempty"`
	LLMInput  string        `json:"llm_input,omitempty"`
	LLMOutput any           `json:"llm_output"`
	ToolCalls []ToolCallLog `json:"tool_calls,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ToolCallLog is a tool execution made during an attempt.
type ToolCallLog struct {
	Name     string         `json:"name"`
	Channel  string         `json:"channel,omitempty"`
	Decision string         `json:"decision,omitempty"`
	Input    map[string]any `json:"input"`
	Output   map[string]any `json:"output"`
	Error    string         `json:"error,omitempty"`
}

// FileAttemptLogger buffers attempts and writes them as one JSON document on Flush.
type FileAttemptLogger struct {
	mu       sync.Mutex
	attempts []AttemptLog
	writer   io.Writer
}

func NewFileAttemptLogger(writer io.Writer) *FileAttemptLogger {
	return &FileAttemptLogger{
		attempts: make([]AttemptLog, 0),
		writer:   writer,
	}
}

// LogAttempt buffers the attempt; nothing is written until Flush.
func (l *FileAttemptLogger) LogAttempt(attempt AttemptLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
	return nil
}

// Flush writes all buffered attempts and clears the buffer.
func (l *FileAttemptLogger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.writer == nil {
		return nil
	}

	data, err := json.MarshalIndent(map[string]any{
		"session": map[string]any{
			"timestamp": time.Now(),
			"attempts":  l.attempts,
		},
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal attempt log: %w", err)
	}

	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write attempt log: %w", err)
	}

	l.attempts = l.attempts[:0]
	return nil
}

// Attempts returns a copy of the buffered attempts.
func (l *FileAttemptLogger) Attempts() []AttemptLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]AttemptLog(nil), l.attempts...)
}

type NoOpAttemptLogger struct{}

func NewNoOpAttemptLogger() *NoOpAttemptLogger {
	return &NoOpAttemptLogger{}
}

func (nop *NoOpAttemptLogger) LogAttempt(AttemptLog) error {
	return nil
}

// StdoutAttemptLogger writes each attempt as a JSON line (Lambda/CloudWatch).
type StdoutAttemptLogger struct {
	mu  sync.Mutex
	out io.Writer
}

func NewStdoutAttemptLogger() *StdoutAttemptLogger {
	return &StdoutAttemptLogger{out: os.Stdout}
}

func (l *StdoutAttemptLogger) LogAttempt(attempt AttemptLog) error {
	data, err := json.Marshal(attempt)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = fmt.Fprintln(l.out, string(data))
	return err
}

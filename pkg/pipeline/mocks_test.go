package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/CrMo2001/intelli-vis/pkg/sandbox"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type llmCall struct {
	System string
	User   string
}

// mockLLM returns responses in order, repeating the last one.
type mockLLM struct {
	mu        sync.Mutex
	responses []string
	err       error
	calls     []llmCall
}

func (m *mockLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, llmCall{System: systemPrompt, User: userPrompt})
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", errors.New("no response configured")
	}
	i := len(m.calls) - 1
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i], nil
}

// mockGenerator records its inputs and returns scripted results.
type mockGenerator struct {
	mu      sync.Mutex
	inputs  []GenerateInput
	results []*CodeGenerationResult
	err     error
	errAt   int // 1-based attempt that fails; 0 uses err on every call
}

func (m *mockGenerator) Generate(ctx context.Context, in GenerateInput) (*CodeGenerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, in)
	n := len(m.inputs)
	if m.err != nil && (m.errAt == 0 || m.errAt == n) {
		return nil, m.err
	}
	if len(m.results) == 0 {
		mapping := make(map[string]string, len(in.Channels))
		for _, ch := range in.Channels {
			mapping[ch.Name] = "col_" + ch.Name
		}
		return &CodeGenerationResult{Code: fmt.Sprintf("script-%d", n), ChannelMapping: mapping}, nil
	}
	i := n - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i], nil
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// mockExecutor returns outcomes in order, repeating the last one.
type mockExecutor struct {
	mu       sync.Mutex
	scripts  []string
	outcomes []sandbox.Outcome
}

func (m *mockExecutor) Execute(ctx context.Context, script string) sandbox.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts = append(m.scripts, script)
	i := len(m.scripts) - 1
	if i >= len(m.outcomes) {
		i = len(m.outcomes) - 1
	}
	return m.outcomes[i]
}

func (m *mockExecutor) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.scripts)
}

func success(records ...map[string]any) sandbox.Outcome {
	if records == nil {
		records = []map[string]any{}
	}
	return sandbox.Outcome{Records: records}
}

func failure(kind sandbox.FailureKind, msg, tb string) sandbox.Outcome {
	return sandbox.Outcome{Failure: &sandbox.Failure{Kind: kind, Message: msg, Traceback: tb}}
}

type mockClassifier struct {
	classification Classification
	err            error
	inputs         []ClassifyInput
}

func (m *mockClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	m.inputs = append(m.inputs, in)
	return m.classification, m.err
}

type mockResponder struct {
	response string
	err      error
	calls    int
}

func (m *mockResponder) Respond(ctx context.Context, query string, columns []string, records []map[string]any) (string, error) {
	m.calls++
	return m.response, m.err
}

type mockReports struct {
	path     string
	err      error
	calls    int
	province string
	year     int
}

func (m *mockReports) GenerateReport(ctx context.Context, province string, year int) (string, error) {
	m.calls++
	m.province, m.year = province, year
	return m.path, m.err
}

type panickingClassifier struct{}

func (panickingClassifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	panic("boom")
}

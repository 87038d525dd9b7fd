// Package sandbox runs untrusted generated scripts in a separate interpreter
// process and turns what they print into rows or a typed failure.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	DefaultInterpreter    = "python3"
	DefaultScriptSuffix   = ".py"
	DefaultTimeout        = 60 * time.Second
	DefaultMaxOutputBytes = 16 << 20

	// Malformed stdout is echoed back in the traceback, truncated to this.
	malformedEchoBytes = 2048
)

type FailureKind string

const (
	FailureNonzeroExit     FailureKind = "nonzero_exit"
	FailureNoOutput        FailureKind = "no_output"
	FailureMalformedOutput FailureKind = "malformed_output"
	FailureScriptError     FailureKind = "script_error"
	FailureTimeout         FailureKind = "timeout"
	FailureOutputTooLarge  FailureKind = "output_too_large"
	FailureLaunchFailed    FailureKind = "launch_failed"
)

// Failure describes an execution that did not yield rows.
type Failure struct {
	Kind      FailureKind
	Message   string
	Traceback string
}

func (f *Failure) Error() string {
	return f.Message
}

// Outcome holds exactly one of Records or Failure. Columns lists the record
// keys in the order the script printed them.
type Outcome struct {
	Records  []map[string]any
	Columns  []string
	Failure  *Failure
	Duration time.Duration
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

type Config struct {
	Logger         *slog.Logger
	Runner         Runner
	Clock          clockwork.Clock
	Interpreter    string
	ScriptSuffix   string
	TempDir        string
	Timeout        time.Duration
	MaxOutputBytes int64
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultInterpreter
	}
	if cfg.ScriptSuffix == "" {
		cfg.ScriptSuffix = DefaultScriptSuffix
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Runner == nil {
		cfg.Runner = &ExecRunner{Timeout: cfg.Timeout, MaxOutputBytes: cfg.MaxOutputBytes}
	}
	return nil
}

type Executor struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Executor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Executor{log: cfg.Logger, cfg: cfg}, nil
}

// Execute writes script to a fresh temporary file, runs the interpreter on
// it, and removes the file before returning on every path.
func (e *Executor) Execute(ctx context.Context, script string) Outcome {
	start := e.cfg.Clock.Now()
	outcome := e.execute(ctx, script)
	outcome.Duration = e.cfg.Clock.Since(start)

	executionDuration.Observe(outcome.Duration.Seconds())
	if outcome.OK() {
		executionsTotal.WithLabelValues("success").Inc()
		e.log.Debug("sandbox: execution succeeded", "rows", len(outcome.Records), "duration", outcome.Duration)
	} else {
		executionsTotal.WithLabelValues(string(outcome.Failure.Kind)).Inc()
		e.log.Info("sandbox: execution failed", "kind", outcome.Failure.Kind, "error", outcome.Failure.Message, "duration", outcome.Duration)
	}
	return outcome
}

func (e *Executor) execute(ctx context.Context, script string) Outcome {
	f, err := os.CreateTemp(e.cfg.TempDir, "intellivis-*"+e.cfg.ScriptSuffix)
	if err != nil {
		return failed(FailureLaunchFailed, fmt.Sprintf("Error in code execution: failed to create script file: %v", err), "")
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.log.Warn("sandbox: failed to remove script file", "path", path, "error", err)
		}
	}()

	if _, err := f.WriteString(script); err != nil {
		f.Close()
		return failed(FailureLaunchFailed, fmt.Sprintf("Error in code execution: failed to write script file: %v", err), "")
	}
	if err := f.Close(); err != nil {
		return failed(FailureLaunchFailed, fmt.Sprintf("Error in code execution: failed to write script file: %v", err), "")
	}

	stdout, stderr, err := e.cfg.Runner.Run(ctx, e.cfg.Interpreter, []string{path}, nil)
	if err != nil {
		return classifyRunError(err, stderr)
	}
	return ParseOutput(stdout)
}

// classifyRunError maps a runner error to a failure kind. Stdout is never
// parsed once the process has failed.
func classifyRunError(err error, stderr string) Outcome {
	var exitErr interface{ ExitCode() int }
	switch {
	case errors.Is(err, ErrTimeout):
		return failed(FailureTimeout, err.Error(), strings.TrimSpace(stderr))
	case errors.Is(err, ErrOutputTooLarge):
		return failed(FailureOutputTooLarge, err.Error(), "")
	case errors.As(err, &exitErr) && exitErr.ExitCode() > 0:
		detail := strings.TrimSpace(stderr)
		if detail == "" {
			detail = err.Error()
		}
		return failed(FailureNonzeroExit, "Error executing code: "+detail, strings.TrimSpace(stderr))
	case errors.As(err, &exitErr):
		// Killed by a signal without a timeout.
		return failed(FailureNonzeroExit, "Error executing code: "+err.Error(), strings.TrimSpace(stderr))
	default:
		return failed(FailureLaunchFailed, "Error in code execution: "+err.Error(), "")
	}
}

// ParseOutput interprets a script's stdout: a JSON array of objects is
// success, an object carrying "error" is a script-reported failure, anything
// else is malformed.
func ParseOutput(stdout string) Outcome {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return failed(FailureNoOutput, "No output from data processing script", "")
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return failed(FailureMalformedOutput, fmt.Sprintf("Malformed output from data processing script: %v", err), echo(trimmed))
	}
	if dec.More() {
		return failed(FailureMalformedOutput, "Malformed output from data processing script: more than one JSON value on stdout", echo(trimmed))
	}

	switch v := value.(type) {
	case []any:
		records := make([]map[string]any, 0, len(v))
		for i, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return failed(FailureMalformedOutput, fmt.Sprintf("Malformed output from data processing script: row %d is not an object", i), echo(trimmed))
			}
			records = append(records, normalizeRow(row))
		}
		return Outcome{Records: records, Columns: MergeColumns(firstRowKeys(trimmed), records)}
	case map[string]any:
		if msg, ok := v["error"]; ok {
			tb, _ := v["traceback"].(string)
			return failed(FailureScriptError, fmt.Sprint(msg), tb)
		}
	}
	return failed(FailureMalformedOutput, "Malformed output from data processing script: expected a JSON array of row objects", echo(trimmed))
}

// normalizeRow turns json.Number values into int64 when integral and float64
// otherwise so records marshal back the way the script printed them.
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		row[k] = normalizeValue(v)
	}
	return row
}

func normalizeValue(v any) any {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case map[string]any:
		return normalizeRow(n)
	case []any:
		for i := range n {
			n[i] = normalizeValue(n[i])
		}
		return n
	}
	return v
}

func echo(s string) string {
	if len(s) <= malformedEchoBytes {
		return s
	}
	return s[:malformedEchoBytes] + "..."
}

func failed(kind FailureKind, msg, traceback string) Outcome {
	return Outcome{Failure: &Failure{Kind: kind, Message: msg, Traceback: traceback}}
}

// firstRowKeys returns the keys of the first object in a JSON array, in
// document order.
func firstRowKeys(data string) []string {
	dec := json.NewDecoder(strings.NewReader(data))
	if t, err := dec.Token(); err != nil || t != json.Delim('[') {
		return nil
	}
	if t, err := dec.Token(); err != nil || t != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return keys
		}
		key, ok := t.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

// MergeColumns returns ordered followed by any keys present in records but
// missing from ordered, sorted.
func MergeColumns(ordered []string, records []map[string]any) []string {
	seen := make(map[string]struct{}, len(ordered))
	columns := make([]string, 0, len(ordered))
	for _, c := range ordered {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		columns = append(columns, c)
	}
	var extra []string
	for _, row := range records {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

// FormatRecords renders up to maxRows records as a tab-separated table for
// inclusion in prompts. When columns is empty the record keys are used.
func FormatRecords(columns []string, records []map[string]any, maxRows int) string {
	if len(records) == 0 {
		return "(no rows)"
	}
	columns = MergeColumns(columns, records)

	var buf bytes.Buffer
	buf.WriteString(strings.Join(columns, "\t"))
	buf.WriteByte('\n')
	for i, row := range records {
		if maxRows > 0 && i >= maxRows {
			fmt.Fprintf(&buf, "... (%d more rows)\n", len(records)-maxRows)
			break
		}
		for j, c := range columns {
			if j > 0 {
				buf.WriteByte('\t')
			}
			if v, ok := row[c]; ok && v != nil {
				fmt.Fprint(&buf, v)
			}
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}

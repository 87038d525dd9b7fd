package pipeline

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultCodeTemplate loads the requested sheet, runs the generated fragment
// and prints either the result rows or an {error, traceback} object as a
// single line of JSON. Literal braces are doubled.
const DefaultCodeTemplate = `import json
import traceback

import numpy as np
import pandas as pd

try:
    df = pd.read_excel({data_path}, sheet_name={sheet_name})

    # ------ BEGIN GENERATED CODE ------
    {generated_code}
    # ------ END GENERATED CODE ------

    print(processed_df.to_json(orient='records', force_ascii=False))
except Exception as e:
    print(json.dumps({{'error': f'Code execution error: {{e}}', 'traceback': traceback.format_exc()}}, ensure_ascii=False))
`

const (
	placeholderDataPath      = "data_path"
	placeholderSheetName     = "sheet_name"
	placeholderGeneratedCode = "generated_code"
)

// RenderTemplate expands {data_path}, {sheet_name} and {generated_code} in
// tmpl in a single pass, so braces inside substituted values are never
// reinterpreted. {{ and }} produce literal braces.
//
// data_path and sheet_name become Python literals, so a template must not
// wrap them in quotes; an adjacent quote is an error. An empty sheet name
// selects the first sheet. The fragment is dedented and every line after the
// first is indented to the placeholder's column.
func RenderTemplate(tmpl, dataPath, sheetName, fragment string) (string, error) {
	values := map[string]string{
		placeholderDataPath:  pythonString(dataPath),
		placeholderSheetName: pythonSheet(sheetName),
	}

	var out strings.Builder
	out.Grow(len(tmpl) + len(fragment))
	sawFragment := false

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			out.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			out.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end == -1 {
				return "", fmt.Errorf("unterminated placeholder at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			start := i
			i += end + 2

			if name == placeholderGeneratedCode {
				sawFragment = true
				out.WriteString(indentFragment(fragment, currentIndent(out.String())))
				continue
			}
			v, ok := values[name]
			if !ok {
				return "", fmt.Errorf("unknown placeholder {%s}", name)
			}
			if isQuote(tmpl, start-1) || isQuote(tmpl, i) {
				return "", fmt.Errorf("placeholder {%s} must not be quoted; it expands to a Python literal", name)
			}
			out.WriteString(v)
		case c == '}':
			return "", fmt.Errorf("single '}' at offset %d", i)
		default:
			out.WriteByte(c)
			i++
		}
	}

	if !sawFragment {
		return "", fmt.Errorf("template has no {%s} placeholder", placeholderGeneratedCode)
	}
	return out.String(), nil
}

func isQuote(s string, i int) bool {
	return i >= 0 && i < len(s) && (s[i] == '\'' || s[i] == '"')
}

// currentIndent returns the leading whitespace of the last line of s, or ""
// if that line has anything else before the cursor.
func currentIndent(s string) string {
	line := s[strings.LastIndexByte(s, '\n')+1:]
	if strings.TrimLeft(line, " \t") != "" {
		return ""
	}
	return line
}

func indentFragment(fragment, indent string) string {
	lines := dedent(strings.Split(strings.ReplaceAll(fragment, "\r\n", "\n"), "\n"))
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != "" {
			lines[i] = indent + lines[i]
		}
	}
	return strings.Join(lines, "\n")
}

// dedent removes the common leading whitespace of the non-blank lines and
// blanks out whitespace-only lines.
func dedent(lines []string) []string {
	prefix := ""
	first := true
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		lead := l[:len(l)-len(strings.TrimLeft(l, " \t"))]
		if first {
			prefix, first = lead, false
			continue
		}
		for !strings.HasPrefix(lead, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		if strings.TrimSpace(l) == "" {
			out[i] = ""
			continue
		}
		out[i] = strings.TrimPrefix(l, prefix)
	}
	return out
}

// pythonString quotes s as a Python 3 string literal. Go's escape sequences
// are a subset of Python's, so strconv.Quote is sufficient.
func pythonString(s string) string {
	return strconv.Quote(s)
}

func pythonSheet(name string) string {
	if strings.TrimSpace(name) == "" {
		return "0"
	}
	return pythonString(name)
}

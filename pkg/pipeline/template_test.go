package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntelliVis_Pipeline_RenderTemplate_Default(t *testing.T) {
	t.Parallel()

	fragment := "processed_df = df[df['year'] >= 2020]\nif len(processed_df) == 0:\n    processed_df = df"
	code, err := RenderTemplate(DefaultCodeTemplate, "/data/energy.xlsx", "gdp", fragment)
	require.NoError(t, err)

	assert.Contains(t, code, `df = pd.read_excel("/data/energy.xlsx", sheet_name="gdp")`)
	assert.Contains(t, code, "    processed_df = df[df['year'] >= 2020]\n    if len(processed_df) == 0:\n        processed_df = df\n")
	assert.Contains(t, code, "{'error': f'Code execution error: {e}', 'traceback': traceback.format_exc()}")
	assert.NotContains(t, code, "{generated_code}")
	assert.NotContains(t, code, "{{")
}

func TestIntelliVis_Pipeline_RenderTemplate_EmptySheetSelectsFirst(t *testing.T) {
	t.Parallel()

	code, err := RenderTemplate(DefaultCodeTemplate, "a.xlsx", "  ", "processed_df = df")
	require.NoError(t, err)
	assert.Contains(t, code, `sheet_name=0)`)
}

func TestIntelliVis_Pipeline_RenderTemplate_QuotesLiterals(t *testing.T) {
	t.Parallel()

	code, err := RenderTemplate("p = {data_path}\ns = {sheet_name}\n{generated_code}\n", `C:\data\it's "x".xlsx`, "能源{平衡}", "x = 1")
	require.NoError(t, err)
	assert.Equal(t, "p = \"C:\\\\data\\\\it's \\\"x\\\".xlsx\"\ns = \"能源{平衡}\"\nx = 1\n", code)
}

func TestIntelliVis_Pipeline_RenderTemplate_DedentsFragment(t *testing.T) {
	t.Parallel()

	fragment := "        a = 1\n\n        if a:\n            b = 2\n   \n"
	code, err := RenderTemplate("try:\n    {generated_code}\nexcept Exception:\n    pass\n", "p", "s", fragment)
	require.NoError(t, err)
	assert.Equal(t, "try:\n    a = 1\n\n    if a:\n        b = 2\n\n\nexcept Exception:\n    pass\n", code)
}

func TestIntelliVis_Pipeline_RenderTemplate_FragmentBracesUntouched(t *testing.T) {
	t.Parallel()

	code, err := RenderTemplate("{generated_code}", "p", "s", "m = {'a': '{data_path}'}")
	require.NoError(t, err)
	assert.Equal(t, "m = {'a': '{data_path}'}", code)
}

func TestIntelliVis_Pipeline_RenderTemplate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, tmpl, msg string
	}{
		{"unknown placeholder", "{generated_code} {nope}", "unknown placeholder {nope}"},
		{"unterminated", "{generated_code} {data_path", "unterminated placeholder"},
		{"single closing brace", "{generated_code} }", "single '}'"},
		{"missing fragment slot", "print({data_path})", "no {generated_code} placeholder"},
		{"single-quoted path", "pd.read_excel('{data_path}')\n{generated_code}", "placeholder {data_path} must not be quoted"},
		{"double-quoted sheet", "sheet_name=\"{sheet_name}\"\n{generated_code}", "placeholder {sheet_name} must not be quoted"},
		{"leading quote only", "p = '{data_path}\n{generated_code}", "placeholder {data_path} must not be quoted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := RenderTemplate(tt.tmpl, "p", "s", "x = 1")
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.msg), err.Error())
		})
	}
}

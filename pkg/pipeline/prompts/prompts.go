// Package prompts embeds the system prompts used by the query pipeline.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS

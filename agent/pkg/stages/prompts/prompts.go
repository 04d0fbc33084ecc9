// Package prompts embeds the prompt templates used by the turn stages.
package prompts

import "embed"

//go:embed *.md
var PromptsFS embed.FS

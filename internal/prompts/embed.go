// Package prompts provides the per-language prompt packs with override support.
package prompts

import "embed"

//go:embed examples.yaml languages/*/*.md languages/*/*.yaml
var embeddedFS embed.FS

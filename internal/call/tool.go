package call

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MrWong99/kindred/internal/prompt"
	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// toolTimeout bounds one tool invocation. Tool handlers run on the
// transport's receive goroutine.
const toolTimeout = 5 * time.Second

// RememberTool is the tool definition offered to the model when tools are
// enabled.
func RememberTool() s2s.ToolDefinition {
	return s2s.ToolDefinition{
		Name:        prompt.RememberToolName,
		Description: "Remember a short fact about the user so it can be brought up in future calls.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fact": map[string]any{
					"type":        "string",
					"description": "A short third-person statement, e.g. \"Works as a nurse\".",
				},
				"importance": map[string]any{
					"type": "string",
					"enum": []string{string(memory.ImportanceLow), string(memory.ImportanceMedium), string(memory.ImportanceHigh)},
				},
				"category": map[string]any{
					"type": "string",
					"enum": []string{
						string(memory.CategoryPersonal),
						string(memory.CategoryPreference),
						string(memory.CategoryExperience),
						string(memory.CategoryEmotion),
						string(memory.CategoryRelationship),
					},
				},
			},
			"required": []string{"fact"},
		},
	}
}

type rememberArgs struct {
	Fact       string `json:"fact"`
	Importance string `json:"importance"`
	Category   string `json:"category"`
}

type rememberResult struct {
	Stored bool `json:"stored"`
	New    bool `json:"new"`
}

// handleTool implements [s2s.ToolCallHandler].
func (c *Controller) handleTool(name, args string) (string, error) {
	if name != prompt.RememberToolName {
		return "", fmt.Errorf("call: unknown tool %q", name)
	}
	var in rememberArgs
	if err := json.Unmarshal([]byte(args), &in); err != nil {
		return "", fmt.Errorf("call: decode %s arguments: %w", name, err)
	}

	c.mu.Lock()
	base, ex := c.ctx, c.extractor
	c.mu.Unlock()
	if ex == nil {
		return "", fmt.Errorf("call: %s before the call connected", name)
	}

	ctx, cancel := context.WithTimeout(base, toolTimeout)
	defer cancel()
	added, err := ex.Remember(ctx, c.cfg.CompanionID, memory.FactInput{
		Text:       in.Fact,
		Importance: memory.Importance(in.Importance),
		Category:   memory.Category(in.Category),
	})
	if err != nil {
		return "", fmt.Errorf("call: %s: %w", name, err)
	}

	out, err := json.Marshal(rememberResult{Stored: true, New: added})
	if err != nil {
		return "", fmt.Errorf("call: encode %s result: %w", name, err)
	}
	return string(out), nil
}

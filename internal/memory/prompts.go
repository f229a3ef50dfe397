// Summarization prompts and request builders for memory condensation.
//
// USAGE:
//   - BuildSummaryRequest() renders the upstream chat request
//   - ExtractSummary() pulls the assistant text out of the upstream JSON
package memory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/compresr/pitch-gateway/internal/upstream"
)

// =============================================================================
// System Prompt
// =============================================================================

// SystemPromptSummary asks for a long-term takeaway, not a transcript recap.
const SystemPromptSummary = `你是零售销售培训的记忆整理助手。你的任务是把一段训练记录提炼成长期有用的要点。

要求:
1. 只输出 1-2 条要点,每条以 "- " 开头,单独一行
2. 保留客户类型、主要异议、有效话术和需要改进的地方
3. 删除寒暄、重复和无关细节
4. 不要解释,不要添加标题或其他说明`

// =============================================================================
// User Prompt Template
// =============================================================================

// UserPromptSummary wraps the text to condense.
func UserPromptSummary(source string) string {
	return fmt.Sprintf(`训练记录:
%s

请按要求输出 1-2 条要点。`, source)
}

// =============================================================================
// Request Builder / Response Extractor
// =============================================================================

// summaryMaxTokens bounds the completion; two short bullets fit easily.
const summaryMaxTokens = 256

// BuildSummaryRequest creates the buffered chat request for a summary.
func BuildSummaryRequest(model, source string) upstream.ChatRequest {
	return upstream.ChatRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPromptSummary},
			{Role: openai.ChatMessageRoleUser, Content: UserPromptSummary(source)},
		},
		MaxTokens: summaryMaxTokens,
	}
}

var errEmptySummary = errors.New("upstream response has no summary text")

// ExtractSummary returns the assistant text from an OpenAI-style response.
func ExtractSummary(raw []byte) (string, error) {
	text := strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if text == "" {
		return "", errEmptySummary
	}
	return text, nil
}

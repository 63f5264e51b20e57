package rag

import (
	"fmt"
	"strings"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

// maxHistoryTurns caps the conversation turns replayed to the model.
const maxHistoryTurns = 6

const systemPrompt = `You are Autophile, an intelligent document assistant. Your role is to provide clear, well-formatted answers about documents.

RESPONSE FORMAT:
- Use **bold** for key terms and emphasis
- Use bullet points or numbered lists for multiple items
- Use headers (## or ###) to organize longer responses
- Keep paragraphs short and scannable
- Include citations in the format [p. X] inline when referencing specific content

RULES:
1. Only answer based on the provided document context
2. If information is not found, clearly state "This information was not found in the document"
3. Be concise but comprehensive
4. For summaries, structure with clear sections
5. Quote key text in "quotes" when relevant`

const contextSeparator = "\n\n---\n\n"

// BuildContext renders chunks in rank order as labelled sources.
func BuildContext(chunks []models.DocumentChunk) string {
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		section := ""
		if ch.SectionHeading != "" {
			section = " (" + ch.SectionHeading + ")"
		}
		parts[i] = fmt.Sprintf("[Source %d - Page %d%s]\n%s", i+1, ch.PageNumber, section, ch.Content)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildUserMessage places the context block ahead of the literal question.
func BuildUserMessage(query string, chunks []models.DocumentChunk) string {
	return "Answer based on these document excerpts:\n\n" +
		BuildContext(chunks) +
		"\n\n---\n\n**Question:** " + query +
		"\n\nProvide a clear, well-formatted response with page citations."
}

// recentHistory keeps the last maxHistoryTurns turns, oldest first.
func recentHistory(history []core.Turn) []core.Turn {
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	return append([]core.Turn(nil), history...)
}

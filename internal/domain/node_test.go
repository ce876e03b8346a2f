package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentValidate(t *testing.T) {
	t.Run("EmptyIsAllowed", func(t *testing.T) {
		assert.NoError(t, Content{}.Validate(KindConversation))
	})

	t.Run("MatchingVariant", func(t *testing.T) {
		c := Content{Diagram: &DiagramContent{Source: "graph TD"}}
		assert.NoError(t, c.Validate(KindDiagram))
	})

	t.Run("MismatchedVariant", func(t *testing.T) {
		c := Content{Terminal: &TerminalContent{Command: "ls"}}
		assert.Error(t, c.Validate(KindDiagram))
	})

	t.Run("MultipleVariants", func(t *testing.T) {
		c := Content{
			RichText: &RichTextContent{Markdown: "x"},
			Terminal: &TerminalContent{Command: "ls"},
		}
		assert.Error(t, c.Validate(KindRichText))
	})
}

func TestContentMerge(t *testing.T) {
	t.Run("NewKeysOverwriteUnspecifiedSurvive", func(t *testing.T) {
		c := Content{Conversation: &ConversationContent{Question: "q", Response: "old", Layout: "left"}}

		merged, err := c.Merge(KindConversation, map[string]json.RawMessage{
			"response": json.RawMessage(`"new"`),
		})
		require.NoError(t, err)

		assert.Equal(t, "q", merged.Conversation.Question)
		assert.Equal(t, "new", merged.Conversation.Response)
		assert.Equal(t, "left", merged.Conversation.Layout)
	})

	t.Run("NestedValuesReplacedWholesale", func(t *testing.T) {
		c := Content{Conversation: &ConversationContent{
			Thread: []Turn{{Role: "user", Text: "a"}, {Role: "assistant", Text: "b"}},
		}}

		merged, err := c.Merge(KindConversation, map[string]json.RawMessage{
			"thread": json.RawMessage(`[{"role":"user","text":"only"}]`),
		})
		require.NoError(t, err)

		require.Len(t, merged.Conversation.Thread, 1)
		assert.Equal(t, "only", merged.Conversation.Thread[0].Text)
	})

	t.Run("MergeIntoEmptyPayload", func(t *testing.T) {
		merged, err := Content{}.Merge(KindRichText, map[string]json.RawMessage{
			"markdown": json.RawMessage(`"# title"`),
		})
		require.NoError(t, err)
		assert.Equal(t, "# title", merged.RichText.Markdown)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := Content{}.Merge(NodeKind("sticker"), nil)
		assert.Error(t, err)
	})
}

func TestSettingsRedacted(t *testing.T) {
	s := Settings{AgentName: "Ada", APIKey: "sk-ant-secret"}
	redacted := s.Redacted()

	assert.Equal(t, "********", redacted.APIKey)
	assert.Equal(t, "Ada", redacted.AgentName)
	// The original is untouched.
	assert.Equal(t, "sk-ant-secret", s.APIKey)
}

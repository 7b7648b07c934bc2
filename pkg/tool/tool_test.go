package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdesalvo/Morgana-sub001/pkg/contextvars"
	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

func TestRuntime_GetContextVariable_MissTellsModelWhatToDo(t *testing.T) {
	rt := NewRuntime(contextvars.New(nil))
	msg := rt.GetContextVariable("account_id")
	assert.Contains(t, msg, "account_id")
	assert.Contains(t, msg, "SetContextVariable")
}

func TestRuntime_SetThenGetContextVariable(t *testing.T) {
	rt := NewRuntime(contextvars.New(nil))
	rt.SetContextVariable("account_id", "acct-1")
	assert.Equal(t, "acct-1", rt.GetContextVariable("account_id"))
}

func TestRuntime_SetQuickReplies_RoundTrip(t *testing.T) {
	vars := contextvars.New(nil)
	rt := NewRuntime(vars)

	msg := rt.SetQuickReplies(`[{"id":"1","label":"Yes","value":"yes"}]`)
	assert.Equal(t, "Quick replies set.", msg)

	replies := ExtractQuickReplies(vars)
	require.Len(t, replies, 1)
	assert.Equal(t, "Yes", replies[0].Label)
}

func TestRuntime_SetQuickReplies_InvalidJSON(t *testing.T) {
	rt := NewRuntime(contextvars.New(nil))
	msg := rt.SetQuickReplies(`not json`)
	assert.Contains(t, msg, "Error")
}

func TestRuntime_SetRichCard_WithinLimits(t *testing.T) {
	vars := contextvars.New(nil)
	rt := NewRuntime(vars)

	msg := rt.SetRichCard(`{"title":"Order","components":[{"kind":"text_block","text":"hi"}]}`)
	assert.Equal(t, "Rich card set.", msg)

	card := ExtractRichCard(vars)
	require.NotNil(t, card)
	assert.Equal(t, "Order", card.Title)
}

func TestRuntime_SetRichCard_ExceedsNestingDepth(t *testing.T) {
	vars := contextvars.New(nil)
	rt := NewRuntime(vars)

	// three nested sections put the innermost text_block at depth 4, over the limit of 3.
	nested := `{"title":"t","components":[{"kind":"section","components":[{"kind":"section","components":[{"kind":"section","components":[{"kind":"text_block","text":"x"}]}]}]}]}`
	msg := rt.SetRichCard(nested)
	assert.Contains(t, msg, "nesting depth")

	assert.Nil(t, ExtractRichCard(vars), "a rejected card must not be stored")
}

func TestRuntime_SetRichCard_ExceedsComponentCount(t *testing.T) {
	vars := contextvars.New(nil)
	rt := NewRuntime(vars)

	components := ""
	for i := 0; i < 51; i++ {
		if i > 0 {
			components += ","
		}
		components += `{"kind":"text_block","text":"x"}`
	}
	msg := rt.SetRichCard(`{"title":"t","components":[` + components + `]}`)
	assert.Contains(t, msg, "component count")
}

func TestCardDepth_OnlyCountsSectionNesting(t *testing.T) {
	// a "list" component carrying nested components does not add a level:
	// the helper only descends into "section" components.
	depth := cardDepth([]model.RichCardComponent{
		{Kind: "list", Section: []model.RichCardComponent{{Kind: "text_block"}}},
	}, 1)
	assert.Equal(t, 1, depth)
}

func oneParamDef(toolName, paramName string, required bool) []model.ToolDefinition {
	return []model.ToolDefinition{
		{Name: toolName, Parameters: []model.ToolParameter{{Name: paramName, Required: required}}},
	}
}

func TestValidateAgainst_Success(t *testing.T) {
	defs := oneParamDef("CheckBalance", "account_id", true)
	err := ValidateAgainst(defs, map[string]MethodSpec{
		"CheckBalance": {Params: []ParamSpec{{Name: "account_id", Optional: false}}},
	})
	assert.NoError(t, err)
}

func TestValidateAgainst_RequiredParamMappedToOptionalMethodParam(t *testing.T) {
	defs := oneParamDef("CheckBalance", "account_id", true)
	err := ValidateAgainst(defs, map[string]MethodSpec{
		"CheckBalance": {Params: []ParamSpec{{Name: "account_id", Optional: true}}},
	})
	assert.Error(t, err)
}

func TestValidateAgainst_NoMatchingMethod(t *testing.T) {
	defs := []model.ToolDefinition{{Name: "CheckBalance"}}
	err := ValidateAgainst(defs, map[string]MethodSpec{})
	assert.Error(t, err)
}

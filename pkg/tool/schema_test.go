package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

func TestBuildSchema_MarksRequiredParametersOnly(t *testing.T) {
	def := model.ToolDefinition{
		Name:        "CheckBalance",
		Description: "Look up an account balance.",
		Parameters: []model.ToolParameter{
			{Name: "account_id", Description: "account id", Required: true},
			{Name: "currency", Description: "currency code", Required: false},
		},
	}

	schema := BuildSchema(def)
	require.NotNil(t, schema)
	assert.Equal(t, "CheckBalance", schema.Title)
	assert.Equal(t, []string{"account_id"}, schema.Required)

	accountIDProp, ok := schema.Properties.Get("account_id")
	require.True(t, ok)
	assert.Equal(t, "string", accountIDProp.Type)
}

func TestBuildSchema_NoRequiredParameters_YieldsEmptyRequiredList(t *testing.T) {
	def := model.ToolDefinition{
		Name: "Ping",
		Parameters: []model.ToolParameter{
			{Name: "note", Required: false},
		},
	}

	schema := BuildSchema(def)
	assert.Empty(t, schema.Required)
}

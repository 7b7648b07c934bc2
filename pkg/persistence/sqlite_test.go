package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

func openTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLiteStore("file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_LoadMissing_ReturnsFalse(t *testing.T) {
	s := openTestSQLiteStore(t)
	_, ok, err := s.Load(model.AgentIdentifier{Intent: "billing", ConversationID: "load-missing"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_SaveThenLoad_RoundTrips(t *testing.T) {
	s := openTestSQLiteStore(t)
	id := model.AgentIdentifier{Intent: "billing", ConversationID: "round-trip"}
	payload := Payload{
		MessageHistory:      []HistoryMessage{{Role: "user", Content: "hi"}},
		ContextVariables:    map[string]any{"account_id": "acct-1"},
		SharedVariableNames: []string{"account_id"},
	}

	require.NoError(t, s.Save(id, payload))

	loaded, ok, err := s.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload.MessageHistory, loaded.MessageHistory)
	assert.Equal(t, payload.SharedVariableNames, loaded.SharedVariableNames)
	assert.Equal(t, "acct-1", loaded.ContextVariables["account_id"])
}

func TestSQLiteStore_Save_UpsertsOnConflict(t *testing.T) {
	s := openTestSQLiteStore(t)
	id := model.AgentIdentifier{Intent: "billing", ConversationID: "upsert"}

	require.NoError(t, s.Save(id, Payload{ContextVariables: map[string]any{"v": "first"}}))
	require.NoError(t, s.Save(id, Payload{ContextVariables: map[string]any{"v": "second"}}))

	loaded, ok, err := s.Load(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", loaded.ContextVariables["v"])
}

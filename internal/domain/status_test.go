package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" in_progress ")
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, st)

	_, err = ParseStatus("MILK")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestTransitionTableCoversEveryStatus(t *testing.T) {
	for _, st := range AllStatuses {
		_, ok := transitions[st]
		assert.True(t, ok, "status %s missing from transition table", st)
	}
	assert.Len(t, transitions, len(AllStatuses))
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusCreated, StatusInProgress},
		{StatusInProgress, StatusReady},
		{StatusInProgress, StatusExpired},
		{StatusInProgress, StatusCanceled},
		{StatusInProgress, StatusDispute},
		{StatusReady, StatusDispute},
		{StatusDispute, StatusReady},
		{StatusDispute, StatusCanceled},
	}
	for _, pair := range allowed {
		assert.True(t, pair[0].CanTransition(pair[1]), "%s -> %s", pair[0], pair[1])
	}

	denied := [][2]Status{
		{StatusReady, StatusInProgress},
		{StatusReady, StatusCanceled},
		{StatusExpired, StatusReady},
		{StatusCanceled, StatusInProgress},
		{StatusInProgress, StatusCreated},
		{StatusInProgress, Status{}},
	}
	for _, pair := range denied {
		assert.False(t, pair[0].CanTransition(pair[1]), "%s -> %s", pair[0], pair[1])
	}

	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusCanceled.Terminal())
	assert.False(t, StatusReady.Terminal())
}

func TestStatusJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Status Status `json:"status"`
	}{StatusReady})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"READY"}`, string(b))

	var out struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"DISPUTE"}`), &out))
	assert.Equal(t, StatusDispute, out.Status)

	require.Error(t, json.Unmarshal([]byte(`{"status":"MILK"}`), &out))
}

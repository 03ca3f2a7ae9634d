package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRegisterRaiseUpserts(t *testing.T) {
	er := NewErrorRegister(nil)
	er.Raise(ErrorEntry{ID: "gps", Message: "no fix", Level: LevelWarn})
	er.Raise(ErrorEntry{ID: "gps", Message: "gps lost", Level: LevelError})

	require.Equal(t, 1, er.Len())
	e, ok := er.Get("gps")
	require.True(t, ok)
	assert.Equal(t, "gps lost", e.Message)
	assert.Equal(t, LevelError, e.Level)
}

func TestErrorRegisterClear(t *testing.T) {
	er := NewErrorRegister(nil)
	er.Raise(ErrorEntry{ID: "battery", Message: "low", Level: LevelWarn})

	assert.False(t, er.Clear("unknown"), "unknown id is a no-op")
	assert.Equal(t, 1, er.Len())

	assert.True(t, er.Clear("battery"))
	assert.Equal(t, 0, er.Len())
	assert.False(t, er.Clear("battery"))
}

func TestErrorRegisterActiveSorted(t *testing.T) {
	er := NewErrorRegister(nil)
	er.Raise(ErrorEntry{ID: "rc"})
	er.Raise(ErrorEntry{ID: "ekf"})
	er.Raise(ErrorEntry{ID: "gps"})

	active := er.Active()
	require.Len(t, active, 3)
	assert.Equal(t, "ekf", active[0].ID)
	assert.Equal(t, "gps", active[1].ID)
	assert.Equal(t, "rc", active[2].ID)
}

func TestErrorEntryUnmarshal(t *testing.T) {
	var e ErrorEntry
	require.NoError(t, json.Unmarshal([]byte(`{"id":"gps","message":"no fix","level":"warn"}`), &e))
	assert.Equal(t, ErrorEntry{ID: "gps", Message: "no fix", Level: LevelWarn}, e)

	var legacy ErrorEntry
	require.NoError(t, json.Unmarshal([]byte(`{"error_id":"link","name":"link lost","level":"info"}`), &legacy))
	assert.Equal(t, ErrorEntry{ID: "link", Message: "link lost", Level: LevelInfo}, legacy)
}

func TestParseErrorLevel(t *testing.T) {
	assert.Equal(t, LevelInfo, ParseErrorLevel("INFO"))
	assert.Equal(t, LevelWarn, ParseErrorLevel("warning"))
	assert.Equal(t, LevelError, ParseErrorLevel("error"))
	assert.Equal(t, LevelError, ParseErrorLevel("catastrophic"))
	assert.Equal(t, LevelError, ParseErrorLevel(""))
}

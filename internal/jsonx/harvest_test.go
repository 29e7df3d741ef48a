package jsonx

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarvest_JSONFence(t *testing.T) {
	t.Parallel()

	text := "Here is the plan:\n```json\n{\"em_id\": 1, \"task\": \"core\"}\n```\nDone."
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"em_id": 1, "task": "core"}`, string(raw))
}

func TestHarvest_PrefersJSONFenceOverEarlierPlainFence(t *testing.T) {
	t.Parallel()

	text := "```\nnot json at all\n```\n```json\n[1,2,3]\n```"
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.Equal(t, "[1,2,3]", string(raw))
}

func TestHarvest_AnyFence(t *testing.T) {
	t.Parallel()

	text := "Result:\n```\n{\"ok\": true}\n```"
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestHarvest_BraceMatching(t *testing.T) {
	t.Parallel()

	text := `The workers are {"worker_id": 1, "files": ["a.go", "b.go"], "note": "has } in string"} as requested.`
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"worker_id": 1`)
	assert.Contains(t, string(raw), `has } in string`)
}

func TestHarvest_WidestSpanWins(t *testing.T) {
	t.Parallel()

	// The array wraps the objects, so the array is the widest valid span.
	text := `Tasks: [{"id":1},{"id":2}] end`
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":1},{"id":2}]`, string(raw))

	text = `Plain list: [1, 2, 3] end`
	raw, err = Harvest(text)
	require.NoError(t, err)
	assert.Equal(t, `[1, 2, 3]`, string(raw))
}

func TestHarvest_WholeString(t *testing.T) {
	t.Parallel()

	raw, err := Harvest(`  "just a string"  `)
	require.NoError(t, err)
	assert.Equal(t, `"just a string"`, string(raw))
}

func TestHarvest_StripsANSI(t *testing.T) {
	t.Parallel()

	text := "\x1b[32m{\"green\": true}\x1b[0m"
	raw, err := Harvest(text)
	require.NoError(t, err)
	assert.JSONEq(t, `{"green": true}`, string(raw))
}

func TestHarvest_NoJSON(t *testing.T) {
	t.Parallel()

	_, err := Harvest("I could not produce a breakdown, sorry.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no valid JSON")
}

func TestHarvest_OversizeInput(t *testing.T) {
	t.Parallel()

	_, err := Harvest(strings.Repeat("x", maxInputBytes+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestHarvestInto(t *testing.T) {
	t.Parallel()

	var got []struct {
		EMID int    `json:"em_id"`
		Task string `json:"task"`
	}
	text := "```json\n[{\"em_id\":1,\"task\":\"Core\"},{\"em_id\":2,\"task\":\"Testing\"}]\n```"
	require.NoError(t, HarvestInto(text, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "Core", got[0].Task)
	assert.Equal(t, 2, got[1].EMID)
}

func TestHarvestInto_ShapeMismatch(t *testing.T) {
	t.Parallel()

	var got []int
	err := HarvestInto(`{"not": "an array"}`, &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	t := NewTable("close", []string{"2330", "2317"})
	t.UpsertRow("2024-06-07", map[string]float64{"2330": 850, "2317": 98.5})
	t.UpsertRow("2024-06-10", map[string]float64{"2330": 855, "2317": 99})
	return t
}

func TestAppendRowsMergesOnlyNewerDates(t *testing.T) {
	base := sampleTable()

	incoming := NewTable("close", []string{"2330", "2317"})
	incoming.UpsertRow("2024-06-10", map[string]float64{"2330": 999, "2317": 999}) // duplicate date, must be dropped
	incoming.UpsertRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})
	incoming.UpsertRow("2024-06-12", map[string]float64{"2330": 858, "2317": 101})

	added := base.AppendRows(incoming)

	assert.Equal(t, 2, added)
	assert.Equal(t, []string{"2024-06-07", "2024-06-10", "2024-06-11", "2024-06-12"}, base.Dates)

	// The duplicate 06-10 row must not overwrite the cached values.
	v, ok := base.Value("2024-06-10", "2330")
	require.True(t, ok)
	assert.Equal(t, 855.0, v)
}

func TestAppendRowsIsIdempotent(t *testing.T) {
	base := sampleTable()
	incoming := NewTable("close", []string{"2330", "2317"})
	incoming.UpsertRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})

	base.AppendRows(incoming)
	snapshot := base.Clone()

	added := base.AppendRows(incoming)
	assert.Equal(t, 0, added)
	assert.True(t, base.Equal(snapshot))
}

func TestAppendRowsAddsUnseenColumns(t *testing.T) {
	base := sampleTable()
	incoming := NewTable("close", []string{"2330", "2454"})
	incoming.UpsertRow("2024-06-11", map[string]float64{"2330": 860, "2454": 1200})

	base.AppendRows(incoming)

	v, ok := base.Value("2024-06-11", "2454")
	require.True(t, ok)
	assert.Equal(t, 1200.0, v)

	// Older rows get NaN for the new column.
	v, ok = base.Value("2024-06-07", "2454")
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))
}

func TestUpsertRowReplacesInPlace(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-10", map[string]float64{"2330": 857})

	assert.Equal(t, 2, table.RowCount())
	v, _ := table.Value("2024-06-10", "2330")
	assert.Equal(t, 857.0, v)

	// Untouched columns of the row are preserved.
	v, _ = table.Value("2024-06-10", "2317")
	assert.Equal(t, 99.0, v)
}

func TestUpsertRowKeepsDatesSorted(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-05", map[string]float64{"2330": 840})

	assert.Equal(t, []string{"2024-06-05", "2024-06-07", "2024-06-10"}, table.Dates)
	assert.NoError(t, table.Validate())
}

func TestSplitBefore(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})

	before := table.SplitBefore("2024-06-11")
	assert.Equal(t, []string{"2024-06-07", "2024-06-10"}, before.Dates)
	// Receiver unchanged.
	assert.Equal(t, 3, table.RowCount())
}

func TestTail(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-11", map[string]float64{"2330": 860, "2317": 100})

	tail := table.Tail(2)
	assert.Equal(t, []string{"2024-06-10", "2024-06-11"}, tail.Dates)

	// Oversized n returns everything.
	assert.Equal(t, 3, table.Tail(10).RowCount())
}

func TestJSONRoundTripPreservesShapeAndMissingValues(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-11", map[string]float64{"2330": 860}) // 2317 left NaN

	data, err := json.Marshal(table)
	require.NoError(t, err)

	var decoded Table
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.True(t, table.Equal(&decoded))
	assert.Equal(t, table.Columns, decoded.Columns)
	assert.Equal(t, table.Dates, decoded.Dates)

	v, ok := decoded.Value("2024-06-11", "2317")
	require.True(t, ok)
	assert.True(t, math.IsNaN(v))
}

func TestColumnSkipsMissingValues(t *testing.T) {
	table := sampleTable()
	table.UpsertRow("2024-06-11", map[string]float64{"2330": 860}) // no 2317 value

	dates, values := table.Column("2317")
	assert.Equal(t, []string{"2024-06-07", "2024-06-10"}, dates)
	assert.Equal(t, []float64{98.5, 99}, values)
}

func TestValidateRejectsRaggedRows(t *testing.T) {
	table := sampleTable()
	table.Values[0] = table.Values[0][:1]
	assert.Error(t, table.Validate())
}

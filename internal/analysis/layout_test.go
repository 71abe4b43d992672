package analysis

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func table(title string, rows ...[]any) Result {
	if rows == nil {
		rows = [][]any{}
	}
	return Result{Kind: KindTabular, Title: title, Columns: []string{"Label", "Count"}, Rows: rows}
}

func healthyBatch() Batch {
	endpoints := DefaultCatalog()
	results := make([]Result, len(endpoints))
	for i, ep := range endpoints {
		results[i] = table(ep.Title, []any{"x", json.Number("1")})
	}
	results[8] = Result{Kind: KindTimeline, Title: "Activity Timeline", Series: []Point{{Time: "00:00", Count: "3"}}}
	return Batch{Endpoints: endpoints, Results: results}
}

func indexes(panels []Panel) []int {
	out := make([]int, 0, len(panels))
	for _, p := range panels {
		out = append(out, p.Index)
	}
	return out
}

func assertTotal(t *testing.T, batch Batch, plan Plan) {
	t.Helper()
	counts := map[int]int{}
	if plan.FeaturedPie != nil {
		counts[plan.FeaturedPie.Index]++
	}
	if plan.FeaturedTimeline != nil {
		counts[plan.FeaturedTimeline.Index]++
	}
	for _, group := range [][]Panel{plan.TopRow, plan.Grouped, plan.Overflow} {
		for _, p := range group {
			counts[p.Index]++
		}
	}
	for _, i := range plan.Hidden {
		counts[i]++
	}
	for i := 0; i < batch.Len(); i++ {
		assert.Equal(t, 1, counts[i], "position %d must be placed exactly once", i)
	}
	assert.Len(t, counts, batch.Len())
}

func TestAssignSlots_AllHealthy(t *testing.T) {
	batch := healthyBatch()

	plan := AssignSlots(batch)

	require.NotNil(t, plan.FeaturedPie)
	require.NotNil(t, plan.FeaturedTimeline)
	assert.Equal(t, 3, plan.FeaturedPie.Index)
	assert.Equal(t, []Slice{{Label: "x", Count: 1}}, plan.FeaturedPie.Slices)
	assert.Equal(t, 8, plan.FeaturedTimeline.Index)
	assert.Equal(t, []int{0, 1, 4}, indexes(plan.TopRow))
	assert.Equal(t, []int{2, 6}, indexes(plan.Grouped))
	assert.Equal(t, []int{5, 7}, indexes(plan.Overflow))
	assert.Empty(t, plan.Hidden)
	assertTotal(t, batch, plan)

	slots := plan.Slots()
	assert.Equal(t, SlotFeaturedPie, slots[3])
	assert.Equal(t, SlotGrouped, slots[6])
	assert.Equal(t, SlotOverflow, slots[7])
}

func TestAssignSlots_Deterministic(t *testing.T) {
	batch := healthyBatch()
	assert.Equal(t, AssignSlots(batch), AssignSlots(batch))
}

func TestAssignSlots_FailedChartsHideFailedTablesShowErrorLine(t *testing.T) {
	batch := healthyBatch()
	batch.Results[3] = Normalize("Request Status", nil, assert.AnError)
	batch.Results[8] = Normalize("Activity Timeline", []byte(`{"foo":1}`), nil)
	batch.Results[0] = Normalize("Top Referers", nil, assert.AnError)
	batch.Results[7] = Normalize("Data Exfiltration", []byte(`{"foo":1}`), nil)

	plan := AssignSlots(batch)

	assert.Nil(t, plan.FeaturedPie)
	assert.Nil(t, plan.FeaturedTimeline)
	assert.ElementsMatch(t, []int{3, 8}, plan.Hidden)
	assert.Equal(t, "Could not load table data for: Top Referers", plan.TopRow[0].ErrorLine)
	assert.Empty(t, plan.TopRow[1].ErrorLine)
	assert.Equal(t, "Could not load table data for: Data Exfiltration", plan.Overflow[1].ErrorLine)
	assertTotal(t, batch, plan)
}

func TestAssignSlots_EmptyChartsAreHidden(t *testing.T) {
	batch := healthyBatch()
	batch.Results[3] = table("Request Status")
	batch.Results[8] = Result{Kind: KindTimeline, Title: "Activity Timeline", Series: []Point{}}

	plan := AssignSlots(batch)

	assert.Nil(t, plan.FeaturedPie)
	assert.Nil(t, plan.FeaturedTimeline)
	assert.Equal(t, []int{3, 8}, plan.Hidden)
	assertTotal(t, batch, plan)
}

func TestAssignSlots_WithoutTimelineEndpoint(t *testing.T) {
	batch := healthyBatch()
	batch.Endpoints = batch.Endpoints[:8]
	batch.Results = batch.Results[:8]

	plan := AssignSlots(batch)

	assert.Nil(t, plan.FeaturedTimeline)
	assert.Empty(t, plan.Hidden)
	assertTotal(t, batch, plan)
}

func TestAssignSlots_MatchesOnRoleNotIndex(t *testing.T) {
	batch := healthyBatch()
	// Reverse the catalog: roles travel with their results.
	n := batch.Len()
	for i := 0; i < n/2; i++ {
		j := n - 1 - i
		batch.Endpoints[i], batch.Endpoints[j] = batch.Endpoints[j], batch.Endpoints[i]
		batch.Results[i], batch.Results[j] = batch.Results[j], batch.Results[i]
	}

	plan := AssignSlots(batch)

	require.NotNil(t, plan.FeaturedPie)
	require.NotNil(t, plan.FeaturedTimeline)
	assert.Equal(t, RoleRequestStatus, plan.FeaturedPie.Endpoint.Role)
	assert.Equal(t, RoleActivityTimeline, plan.FeaturedTimeline.Endpoint.Role)
	assert.Equal(t, RoleTopReferers, plan.TopRow[0].Endpoint.Role)
	assert.Equal(t, []int{1, 3}, indexes(plan.Overflow), "overflow keeps ascending index order")
	assertTotal(t, batch, plan)
}

func TestAssignSlots_DuplicateRolesOverflow(t *testing.T) {
	batch := healthyBatch()
	batch.Endpoints = append(batch.Endpoints,
		Endpoint{Role: RoleTopReferers, Path: "/top-referers?n=50", Title: "More Referers"},
		Endpoint{Role: RoleOther, Path: "/extra"},
	)
	batch.Results = append(batch.Results, table("More Referers"), Normalize("", nil, assert.AnError))

	plan := AssignSlots(batch)

	assert.Equal(t, []int{5, 7, 9, 10}, indexes(plan.Overflow))
	assert.Equal(t, "Could not load table data for: Dataset 11", plan.Overflow[3].ErrorLine)
	assertTotal(t, batch, plan)
}

func TestAssignSlots_EmptyBatch(t *testing.T) {
	plan := AssignSlots(Batch{})

	assert.Nil(t, plan.FeaturedPie)
	assert.Empty(t, plan.TopRow)
	assert.Empty(t, plan.Overflow)
	assert.Empty(t, plan.Slots())
}

package analysis

import (
	"fmt"
	"strings"
)

// Slot names a place in the dashboard layout.
type Slot string

const (
	SlotFeaturedPie      Slot = "featured-pie"
	SlotFeaturedTimeline Slot = "featured-timeline"
	SlotTopRow           Slot = "top-row"
	SlotGrouped          Slot = "grouped"
	SlotOverflow         Slot = "overflow"
	SlotHidden           Slot = "hidden"
)

var (
	topRowRoles  = []Role{RoleTopReferers, RoleTopPageVisits, Role404ErrorIPs}
	groupedRoles = []Role{RoleCheckDomains, RoleBurstActivity}
)

// Panel is one batch position placed in a slot.
type Panel struct {
	Index     int      `json:"index"`
	Endpoint  Endpoint `json:"endpoint"`
	Result    Result   `json:"result"`
	ErrorLine string   `json:"error_line,omitempty"`
	Slices    []Slice  `json:"slices,omitempty"`
}

// Plan is the layout of one batch. Every batch position appears exactly once
// across the featured panels, TopRow, Grouped, Overflow and Hidden.
type Plan struct {
	FeaturedPie      *Panel  `json:"featured_pie,omitempty"`
	FeaturedTimeline *Panel  `json:"featured_timeline,omitempty"`
	TopRow           []Panel `json:"top_row"`
	Grouped          []Panel `json:"grouped"`
	Overflow         []Panel `json:"overflow"`
	Hidden           []int   `json:"hidden"`
}

// Slots returns the slot of every placed position.
func (p Plan) Slots() map[int]Slot {
	out := map[int]Slot{}
	if p.FeaturedPie != nil {
		out[p.FeaturedPie.Index] = SlotFeaturedPie
	}
	if p.FeaturedTimeline != nil {
		out[p.FeaturedTimeline.Index] = SlotFeaturedTimeline
	}
	for _, panel := range p.TopRow {
		out[panel.Index] = SlotTopRow
	}
	for _, panel := range p.Grouped {
		out[panel.Index] = SlotGrouped
	}
	for _, panel := range p.Overflow {
		out[panel.Index] = SlotOverflow
	}
	for _, idx := range p.Hidden {
		out[idx] = SlotHidden
	}
	return out
}

// AssignSlots places every batch position by its endpoint role:
//
//   - request-status goes to the featured pie when it has rows,
//   - activity-timeline goes to the featured timeline when it has points,
//   - top-referers, top-page-visits and 404-error-ips fill the top row,
//   - check-domains and burst-activity fill the grouped panel,
//   - everything else lands in the overflow grid in index order.
//
// Only the first position of a role is claimed by its slot. A featured chart
// without data is hidden, while a failed table keeps its slot and carries an
// error line.
func AssignSlots(batch Batch) Plan {
	plan := Plan{
		TopRow:   []Panel{},
		Grouped:  []Panel{},
		Overflow: []Panel{},
		Hidden:   []int{},
	}
	claimed := make([]bool, batch.Len())

	firstOf := func(role Role) int {
		for i := 0; i < batch.Len(); i++ {
			if !claimed[i] && endpointAt(batch, i).Role == role {
				return i
			}
		}
		return -1
	}

	if i := firstOf(RoleRequestStatus); i >= 0 {
		claimed[i] = true
		res := batch.Results[i]
		if res.Kind == KindTabular && len(res.Rows) > 0 {
			panel := newPanel(batch, i)
			panel.Slices = res.Slices()
			plan.FeaturedPie = &panel
		} else {
			plan.Hidden = append(plan.Hidden, i)
		}
	}

	if i := firstOf(RoleActivityTimeline); i >= 0 {
		claimed[i] = true
		res := batch.Results[i]
		if res.Kind == KindTimeline && len(res.Series) > 0 {
			panel := newPanel(batch, i)
			plan.FeaturedTimeline = &panel
		} else {
			plan.Hidden = append(plan.Hidden, i)
		}
	}

	for _, role := range topRowRoles {
		if i := firstOf(role); i >= 0 {
			claimed[i] = true
			plan.TopRow = append(plan.TopRow, newTablePanel(batch, i))
		}
	}
	for _, role := range groupedRoles {
		if i := firstOf(role); i >= 0 {
			claimed[i] = true
			plan.Grouped = append(plan.Grouped, newTablePanel(batch, i))
		}
	}

	for i := 0; i < batch.Len(); i++ {
		if !claimed[i] {
			plan.Overflow = append(plan.Overflow, newTablePanel(batch, i))
		}
	}
	return plan
}

func endpointAt(batch Batch, i int) Endpoint {
	if i < len(batch.Endpoints) {
		return batch.Endpoints[i]
	}
	return Endpoint{Role: RoleOther}
}

func newPanel(batch Batch, i int) Panel {
	return Panel{Index: i, Endpoint: endpointAt(batch, i), Result: batch.Results[i]}
}

// newTablePanel sets the inline error line for anything a table renderer
// cannot draw.
func newTablePanel(batch Batch, i int) Panel {
	panel := newPanel(batch, i)
	if panel.Result.Kind != KindTabular {
		panel.ErrorLine = "Could not load table data for: " + datasetName(panel)
	}
	return panel
}

func datasetName(panel Panel) string {
	if name := strings.TrimSpace(panel.Endpoint.Title); name != "" {
		return name
	}
	if name := strings.TrimSpace(panel.Result.Title); name != "" && !panel.Result.Failed() {
		return name
	}
	return fmt.Sprintf("Dataset %d", panel.Index+1)
}

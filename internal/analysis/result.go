package analysis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags the shape of a normalized Result.
type Kind string

const (
	KindTabular  Kind = "tabular"
	KindTimeline Kind = "timeline"
	KindFailed   Kind = "failed"
)

// Titles given to failed results.
const (
	TitleError     = "Error"
	TitleMalformed = "Malformed Data"
)

// Cause classifies why a result failed.
type Cause string

const (
	CauseNone            Cause = ""
	CauseAuthUnavailable Cause = "auth_unavailable"
	CauseNetwork         Cause = "network"
	CauseHTTPStatus      Cause = "http_status"
	CauseCanceled        Cause = "canceled"
	CauseMalformed       Cause = "malformed"
)

// Point is one timeline sample.
type Point struct {
	Time  string      `json:"time"`
	Count json.Number `json:"count"`
}

// Slice is one pie-chart category.
type Slice struct {
	Label string  `json:"label"`
	Count float64 `json:"count"`
}

// Result is the normalized form of one endpoint response. Only the fields of
// its Kind are populated.
type Result struct {
	Kind    Kind     `json:"kind"`
	Title   string   `json:"title"`
	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty"`
	Series  []Point  `json:"series,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Cause   Cause    `json:"cause,omitempty"`
}

func (r Result) Failed() bool { return r.Kind == KindFailed }

// Slices reads a tabular result as (label, count) pairs from the first two
// columns of every row. Rows whose second cell is not numeric are skipped.
func (r Result) Slices() []Slice {
	if r.Kind != KindTabular {
		return nil
	}
	out := make([]Slice, 0, len(r.Rows))
	for _, row := range r.Rows {
		if len(row) < 2 {
			continue
		}
		count, ok := cellNumber(row[1])
		if !ok {
			continue
		}
		out = append(out, Slice{Label: CellString(row[0]), Count: count})
	}
	return out
}

// Batch is the ordered set of results produced from one upload.
// len(Results) == len(Endpoints) always holds.
type Batch struct {
	ID         uuid.UUID  `json:"id"`
	Endpoints  []Endpoint `json:"endpoints"`
	Results    []Result   `json:"results"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

func (b Batch) Len() int { return len(b.Results) }

// FailedCount returns how many positions hold a Failed result.
func (b Batch) FailedCount() int {
	n := 0
	for _, r := range b.Results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// CellString renders a table cell for display.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		blob, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(blob)
	}
}

func cellNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"logdash/internal/auth"
	"logdash/internal/connectors/backend"
)

// Normalize classifies one endpoint response. Rules apply in order:
//
//  1. fetchErr != nil                      -> Failed "Error"
//  2. object with columns[] and rows[][]   -> Tabular
//  3. object with data[] of {time, count}  -> Timeline
//  4. anything else                        -> Failed "Malformed Data"
//
// The payload's own non-empty title wins over titleHint.
func Normalize(titleHint string, raw []byte, fetchErr error) Result {
	if fetchErr != nil {
		return Result{
			Kind:   KindFailed,
			Title:  TitleError,
			Reason: fetchErr.Error(),
			Cause:  CauseOf(fetchErr),
		}
	}

	obj, err := decodeObject(raw)
	if err != nil {
		return malformed("invalid JSON object: " + err.Error())
	}

	title := titleHint
	if s, ok := obj["title"].(string); ok && strings.TrimSpace(s) != "" {
		title = s
	}

	if columns, rows, ok := tabularFields(obj); ok {
		return Result{Kind: KindTabular, Title: title, Columns: columns, Rows: rows}
	}
	if series, ok := timelineField(obj); ok {
		return Result{Kind: KindTimeline, Title: title, Series: series}
	}
	return malformed("no columns/rows or data fields")
}

// CauseOf maps a fetch error to its failure cause.
func CauseOf(err error) Cause {
	var httpErr *backend.HTTPError
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, auth.ErrAuthUnavailable):
		return CauseAuthUnavailable
	case errors.As(err, &httpErr):
		return CauseHTTPStatus
	case errors.Is(err, context.Canceled):
		return CauseCanceled
	default:
		return CauseNetwork
	}
}

func malformed(reason string) Result {
	return Result{Kind: KindFailed, Title: TitleMalformed, Reason: reason, Cause: CauseMalformed}
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("null payload")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return obj, nil
}

func tabularFields(obj map[string]any) ([]string, [][]any, bool) {
	rawCols, ok := obj["columns"].([]any)
	if !ok {
		return nil, nil, false
	}
	rawRows, ok := obj["rows"].([]any)
	if !ok {
		return nil, nil, false
	}

	columns := make([]string, len(rawCols))
	for i, c := range rawCols {
		columns[i] = CellString(c)
	}
	rows := make([][]any, len(rawRows))
	for i, r := range rawRows {
		row, ok := r.([]any)
		if !ok {
			return nil, nil, false
		}
		rows[i] = row
	}
	return columns, rows, true
}

func timelineField(obj map[string]any) ([]Point, bool) {
	rawData, ok := obj["data"].([]any)
	if !ok {
		return nil, false
	}

	series := make([]Point, len(rawData))
	for i, item := range rawData {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		ts, ok := timeLabel(rec["time"])
		if !ok {
			return nil, false
		}
		count, ok := countValue(rec["count"])
		if !ok {
			return nil, false
		}
		series[i] = Point{Time: ts, Count: count}
	}
	return series, true
}

func timeLabel(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	default:
		return "", false
	}
}

func countValue(v any) (json.Number, bool) {
	switch x := v.(type) {
	case json.Number:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return "", false
		}
		return json.Number(s), true
	default:
		return "", false
	}
}

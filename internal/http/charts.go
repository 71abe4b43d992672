package http

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"logdash/internal/analysis"
)

var chartPalette = []string{
	"#0e5d8f", "#cb4b16", "#3c763d", "#8a6d3b", "#6c71c4",
	"#2aa198", "#d33682", "#b58900", "#586e75", "#0971b2",
}

const (
	pieRadius  = 90.0
	pieCenter  = 100.0
	lineWidth  = 640.0
	lineHeight = 220.0
	linePad    = 28.0
)

type pieSegment struct {
	Label   string
	Count   float64
	Percent float64
	Path    string
	Color   string
	Full    bool
}

// pieSegments lays out SVG arcs for positive slices. Zero and negative
// counts still appear in the legend but take no arc.
func pieSegments(slices []analysis.Slice) []pieSegment {
	total := 0.0
	for _, s := range slices {
		if s.Count > 0 {
			total += s.Count
		}
	}

	out := make([]pieSegment, 0, len(slices))
	angle := -math.Pi / 2
	for i, s := range slices {
		seg := pieSegment{Label: s.Label, Count: s.Count, Color: chartPalette[i%len(chartPalette)]}
		if total > 0 && s.Count > 0 {
			frac := s.Count / total
			seg.Percent = frac * 100
			if frac >= 0.9999 {
				seg.Full = true
			} else {
				end := angle + frac*2*math.Pi
				seg.Path = arcPath(angle, end)
				angle = end
			}
		}
		out = append(out, seg)
	}
	return out
}

func arcPath(start, end float64) string {
	x1 := pieCenter + pieRadius*math.Cos(start)
	y1 := pieCenter + pieRadius*math.Sin(start)
	x2 := pieCenter + pieRadius*math.Cos(end)
	y2 := pieCenter + pieRadius*math.Sin(end)
	large := 0
	if end-start > math.Pi {
		large = 1
	}
	return fmt.Sprintf("M%.2f,%.2f L%.2f,%.2f A%.2f,%.2f 0 %d 1 %.2f,%.2f Z",
		pieCenter, pieCenter, x1, y1, pieRadius, pieRadius, large, x2, y2)
}

type timelineChart struct {
	Points   string
	MaxCount float64
	First    string
	Last     string
	Samples  int
}

// timelineGeometry scales a series into an SVG polyline. Counts that do not
// parse as numbers plot as zero.
func timelineGeometry(series []analysis.Point) timelineChart {
	chart := timelineChart{Samples: len(series)}
	if len(series) == 0 {
		return chart
	}
	chart.First = series[0].Time
	chart.Last = series[len(series)-1].Time

	counts := make([]float64, len(series))
	for i, p := range series {
		if v, err := p.Count.Float64(); err == nil && v > 0 {
			counts[i] = v
		}
		if counts[i] > chart.MaxCount {
			chart.MaxCount = counts[i]
		}
	}

	plotW := lineWidth - 2*linePad
	plotH := lineHeight - 2*linePad
	pts := make([]string, len(series))
	for i, c := range counts {
		x := lineWidth / 2
		if len(series) > 1 {
			x = linePad + float64(i)*plotW/float64(len(series)-1)
		}
		y := lineHeight - linePad
		if chart.MaxCount > 0 {
			y -= c / chart.MaxCount * plotH
		}
		pts[i] = fmt.Sprintf("%.2f,%.2f", x, y)
	}
	chart.Points = strings.Join(pts, " ")
	return chart
}

// formatNumber prints v with at most prec decimals and no trailing zeros.
func formatNumber(v float64, prec int) string {
	s := strconv.FormatFloat(v, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	}
	return s
}

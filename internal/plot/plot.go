// Package plot renders the results charts: subset lengths as bars and the
// information criteria of every evaluated scheme as lines.
package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/psantana5/pfrun/internal/report"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// ErrNoData is returned when a chart would have nothing to draw
var ErrNoData = errors.New("not enough data to plot")

// Format selects the output encoding
type Format string

const (
	PNG Format = "png"
	SVG Format = "svg"
)

// ParseFormat accepts "png" or "svg" in any case
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case PNG:
		return PNG, nil
	case SVG:
		return SVG, nil
	default:
		return "", fmt.Errorf("unsupported plot format %q (use png or svg)", s)
	}
}

func (f Format) renderer() chart.RendererProvider {
	if f == SVG {
		return chart.SVG
	}
	return chart.PNG
}

const (
	chartWidth  = 1024
	chartHeight = 512
)

func lineStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: col,
		StrokeWidth: 2,
		DotColor:    col,
		DotWidth:    3,
	}
}

// SubsetLengths draws one bar per charset with a known length
func SubsetLengths(w io.Writer, charsets []report.Charset, format Format) error {
	var bars []chart.Value
	max := 0.0
	for _, cs := range charsets {
		if cs.Length == nil {
			continue
		}
		v := float64(*cs.Length)
		bars = append(bars, chart.Value{Label: cs.Name, Value: v})
		max = math.Max(max, v)
	}
	if len(bars) == 0 || max == 0 {
		return ErrNoData
	}

	bc := chart.BarChart{
		Title:      "Subset lengths (sites)",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		Width:      chartWidth,
		Height:     chartHeight,
		BarWidth:   barWidth(len(bars)),
		YAxis: chart.YAxis{
			Name:  "sites",
			Range: &chart.ContinuousRange{Min: 0, Max: max},
		},
		Bars: bars,
	}
	if err := bc.Render(format.renderer(), w); err != nil {
		return fmt.Errorf("failed to render subset lengths: %w", err)
	}
	return nil
}

func barWidth(n int) int {
	w := (chartWidth - 120) / (2 * n)
	if w > 60 {
		return 60
	}
	if w < 4 {
		return 4
	}
	return w
}

// SchemeScores draws AIC, AICc and BIC against the scheme's position in
// rows. Callers pass rows in the order they want on the x axis.
func SchemeScores(w io.Writer, rows []report.SchemeRow, format Format) error {
	if len(rows) < 2 {
		return ErrNoData
	}

	series := []chart.Series{
		scoreSeries("AIC", rows, report.ColumnAIC, chart.ColorBlue),
		scoreSeries("AICc", rows, report.ColumnAICc, chart.ColorGreen),
		scoreSeries("BIC", rows, report.ColumnBIC, chart.ColorRed),
	}
	var visible []chart.Series
	for _, s := range series {
		if cs := s.(chart.ContinuousSeries); len(cs.XValues) > 0 {
			visible = append(visible, s)
		}
	}
	if len(visible) == 0 {
		return ErrNoData
	}

	ch := chart.Chart{
		Title:      "Information criteria by scheme",
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 12, Bottom: 16}},
		Width:      chartWidth,
		Height:     chartHeight,
		XAxis:      chart.XAxis{Name: "scheme rank"},
		YAxis:      chart.YAxis{Name: "score"},
		Series:     visible,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	if err := ch.Render(format.renderer(), w); err != nil {
		return fmt.Errorf("failed to render scheme scores: %w", err)
	}
	return nil
}

// scoreSeries drops non-finite values
func scoreSeries(name string, rows []report.SchemeRow, col report.SchemeColumn, color drawing.Color) chart.Series {
	s := chart.ContinuousSeries{Name: name, Style: lineStyle(color)}
	for i, r := range rows {
		v := r.Value(col)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.XValues = append(s.XValues, float64(i+1))
		s.YValues = append(s.YValues, v)
	}
	return s
}

// WriteFiles renders every chart the analysis has data for into dir and
// returns the written paths. Charts without data are skipped.
func WriteFiles(dir string, a *report.Analysis, rows []report.SchemeRow, format Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plot directory: %w", err)
	}

	var written []string
	render := func(name string, draw func(io.Writer) error) error {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.%s", name, a.JobID, format))
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		drawErr := draw(f)
		closeErr := f.Close()
		if drawErr != nil {
			os.Remove(path)
			if errors.Is(drawErr, ErrNoData) {
				return nil
			}
			return drawErr
		}
		if closeErr != nil {
			return fmt.Errorf("failed to write %s: %w", path, closeErr)
		}
		written = append(written, path)
		return nil
	}

	if err := render("subset_lengths", func(w io.Writer) error {
		return SubsetLengths(w, a.Charsets, format)
	}); err != nil {
		return written, err
	}
	if err := render("scheme_scores", func(w io.Writer) error {
		return SchemeScores(w, rows, format)
	}); err != nil {
		return written, err
	}
	return written, nil
}

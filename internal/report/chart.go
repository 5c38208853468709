// Package report renders session charts.
package report

import (
	"bytes"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"example.com/repcount/internal/recorder"
)

var (
	elbowColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	hipColor   = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	repColor   = color.RGBA{R: 44, G: 160, B: 44, A: 255}
)

// AngleChart plots elbow and hip angles over time and marks each counted repetition. The
// result is a PNG image.
func AngleChart(title string, records []recorder.FrameRecord) ([]byte, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Angle (deg)"
	p.Y.Min = 0
	p.Y.Max = 190
	p.Add(plotter.NewGrid())

	if len(records) > 0 {
		elbows := make(plotter.XYs, 0, len(records))
		hips := make(plotter.XYs, 0, len(records))
		var reps plotter.XYs
		previous := records[0].Count
		for _, rec := range records {
			seconds := rec.TimestampMS / 1000
			elbows = append(elbows, plotter.XY{X: seconds, Y: rec.ElbowAngle})
			hips = append(hips, plotter.XY{X: seconds, Y: rec.HipAngle})
			if rec.Count > previous {
				reps = append(reps, plotter.XY{X: seconds, Y: rec.ElbowAngle})
				previous = rec.Count
			}
		}

		elbowLine, err := plotter.NewLine(elbows)
		if err != nil {
			return nil, fmt.Errorf("elbow line: %w", err)
		}
		elbowLine.Color = elbowColor
		elbowLine.Width = vg.Points(1)
		p.Add(elbowLine)
		p.Legend.Add("elbow", elbowLine)

		hipLine, err := plotter.NewLine(hips)
		if err != nil {
			return nil, fmt.Errorf("hip line: %w", err)
		}
		hipLine.Color = hipColor
		hipLine.Width = vg.Points(1)
		p.Add(hipLine)
		p.Legend.Add("hip", hipLine)

		if len(reps) > 0 {
			marks, err := plotter.NewScatter(reps)
			if err != nil {
				return nil, fmt.Errorf("rep marks: %w", err)
			}
			marks.GlyphStyle.Color = repColor
			marks.GlyphStyle.Radius = vg.Points(3)
			marks.GlyphStyle.Shape = draw.CircleGlyph{}
			p.Add(marks)
			p.Legend.Add("rep", marks)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	writer, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("chart writer: %w", err)
	}
	var buf bytes.Buffer
	if _, err := writer.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}

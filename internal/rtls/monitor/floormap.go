package monitor

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// FloorMapHandler renders a live floor map (HTML) of current tag and
// reader positions using go-echarts. positions and readers are sampled on
// every request.
func FloorMapHandler(positions func() []rtls.ActiveTag, readers func() []rtls.ReaderDescriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tags := positions()
		descs := readers()

		tagData := make([]opts.ScatterData, 0, len(tags))
		var maxExtent float64
		for _, t := range tags {
			tagData = append(tagData, opts.ScatterData{
				Name:  t.TagID,
				Value: []interface{}{t.Estimate.X, t.Estimate.Y, t.Estimate.Confidence},
			})
			maxExtent = maxAbs(maxExtent, t.Estimate.X, t.Estimate.Y)
		}
		readerData := make([]opts.ScatterData, 0, len(descs))
		for _, d := range descs {
			readerData = append(readerData, opts.ScatterData{
				Name:  d.ID,
				Value: []interface{}{d.Position.X, d.Position.Y, 1.0},
			})
			maxExtent = maxAbs(maxExtent, d.Position.X, d.Position.Y)
		}
		pad := maxExtent * 1.1
		if pad < 10 {
			pad = 10
		}

		scatter := charts.NewScatter()
		scatter.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{PageTitle: "Tag Floor Map", Theme: "dark", Width: "900px", Height: "900px"}),
			charts.WithTitleOpts(opts.Title{Title: "Live Floor Map", Subtitle: fmt.Sprintf("tags=%d readers=%d", len(tagData), len(readerData))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		)
		scatter.AddSeries("tags", tagData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
		scatter.AddSeries("readers", readerData, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 16}))

		var buf bytes.Buffer
		if err := scatter.Render(&buf); err != nil {
			http.Error(w, fmt.Sprintf("render floor map: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func maxAbs(current float64, values ...float64) float64 {
	for _, v := range values {
		if v < 0 {
			v = -v
		}
		if v > current {
			current = v
		}
	}
	return current
}

// Package monitor provides diagnostic visualisations for the locating
// pipeline: per-tag RSSI time-series plots for survey and tuning runs, and
// a live floor-map view of current positions.
package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// linePalette colors one line per reader on a tag's plot.
var linePalette = []color.RGBA{
	{R: 31, G: 119, B: 180, A: 255},
	{R: 255, G: 127, B: 14, A: 255},
	{R: 44, G: 160, B: 44, A: 255},
	{R: 214, G: 39, B: 40, A: 255},
	{R: 148, G: 103, B: 189, A: 255},
	{R: 140, G: 86, B: 75, A: 255},
}

// RSSISample is one recorded observation for plotting.
type RSSISample struct {
	Timestamp time.Time
	RSSI      float64
}

// RSSIPlotter accumulates per-tag, per-reader RSSI series during a run and
// renders one PNG per tag afterwards. Intended for survey and path-loss
// tuning sessions, not steady-state production.
type RSSIPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	startTime time.Time

	// samples key is "tagID|readerID"
	samples map[string][]RSSISample
}

// NewRSSIPlotter creates a disabled plotter; call Start to begin
// recording.
func NewRSSIPlotter() *RSSIPlotter {
	return &RSSIPlotter{samples: make(map[string][]RSSISample)}
}

// Start clears prior samples and begins recording into outputDir.
func (rp *RSSIPlotter) Start(outputDir string) error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create plot output dir: %w", err)
	}
	rp.enabled = true
	rp.outputDir = outputDir
	rp.startTime = time.Time{}
	rp.samples = make(map[string][]RSSISample)
	return nil
}

// Record adds one observation. No-op while the plotter is stopped.
func (rp *RSSIPlotter) Record(reading rtls.TagReading) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if !rp.enabled {
		return
	}
	if rp.startTime.IsZero() {
		rp.startTime = reading.Timestamp
	}
	key := reading.TagID + "|" + reading.ReaderID
	rp.samples[key] = append(rp.samples[key], RSSISample{
		Timestamp: reading.Timestamp,
		RSSI:      reading.RSSI,
	})
}

// Stop ends recording and renders one PNG per tag, each with a line per
// reader.
func (rp *RSSIPlotter) Stop() error {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	if !rp.enabled {
		return nil
	}
	rp.enabled = false

	// Regroup samples by tag, then reader.
	byTag := make(map[string]map[string][]RSSISample)
	for key, series := range rp.samples {
		var tagID, readerID string
		for i := 0; i < len(key); i++ {
			if key[i] == '|' {
				tagID, readerID = key[:i], key[i+1:]
				break
			}
		}
		if byTag[tagID] == nil {
			byTag[tagID] = make(map[string][]RSSISample)
		}
		byTag[tagID][readerID] = series
	}

	for tagID, readers := range byTag {
		if err := rp.renderTag(tagID, readers); err != nil {
			return err
		}
	}
	return nil
}

func (rp *RSSIPlotter) renderTag(tagID string, readers map[string][]RSSISample) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("RSSI over time: tag %s", tagID)
	p.X.Label.Text = "Seconds since start"
	p.Y.Label.Text = "RSSI (dBm)"
	p.Legend.Top = true

	readerIDs := make([]string, 0, len(readers))
	for id := range readers {
		readerIDs = append(readerIDs, id)
	}
	sort.Strings(readerIDs)

	for i, readerID := range readerIDs {
		series := readers[readerID]
		pts := make(plotter.XYs, 0, len(series))
		for _, s := range series {
			pts = append(pts, plotter.XY{
				X: s.Timestamp.Sub(rp.startTime).Seconds(),
				Y: s.RSSI,
			})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("build line for %s/%s: %w", tagID, readerID, err)
		}
		line.Width = vg.Points(1)
		line.Color = linePalette[i%len(linePalette)]
		p.Add(line)
		p.Legend.Add(readerID, line)
	}

	out := filepath.Join(rp.outputDir, fmt.Sprintf("rssi_%s.png", tagID))
	if err := p.Save(14*vg.Inch, 6*vg.Inch, out); err != nil {
		return fmt.Errorf("save plot %s: %w", out, err)
	}
	return nil
}

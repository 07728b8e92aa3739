// Command position-report renders an HTML activity report from the tag
// event log: per-zone event and distinct-tag counts over a lookback
// window, charted with go-echarts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/wareline-data/tagfind/internal/db"
)

var (
	dbPath   = flag.String("db", "tagfind.db", "Path to the sqlite database")
	lookback = flag.Duration("since", 24*time.Hour, "Report window")
	outPath  = flag.String("out", "position-report.html", "Output HTML file")
)

func main() {
	flag.Parse()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	since := time.Now().Add(-*lookback)
	activity, err := store.ZoneActivitySince(context.Background(), since)
	if err != nil {
		log.Fatalf("failed to query zone activity: %v", err)
	}
	if len(activity) == 0 {
		log.Printf("no tag events since %s, nothing to report", since.Format(time.RFC3339))
		return
	}

	zones := make([]string, 0, len(activity))
	eventCounts := make([]opts.BarData, 0, len(activity))
	tagCounts := make([]opts.BarData, 0, len(activity))
	for _, z := range activity {
		label := z.ZoneID
		if label == "" {
			label = "(unzoned)"
		}
		zones = append(zones, label)
		eventCounts = append(eventCounts, opts.BarData{Value: z.EventCount})
		tagCounts = append(tagCounts, opts.BarData{Value: z.TagCount})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Zone Activity", Width: "100%", Height: "720px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Zone Activity",
			Subtitle: fmt.Sprintf("since %s", since.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(zones).
		AddSeries("events", eventCounts).
		AddSeries("distinct tags", tagCounts)

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer out.Close()
	if err := bar.Render(out); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d zones)", *outPath, len(zones))
}

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"showreel/internal/api"
	"showreel/internal/queue"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		t.SetStyle(table.StyleLight)
	} else {
		t.SetStyle(table.StyleDefault)
		t.Style().Options.DrawBorder = false
		t.Style().Options.SeparateColumns = true
	}
	return t
}

func renderItemsTable(w io.Writer, items []api.Item) {
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Stage", "Title", "Retries", "Updated", "Error"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Title", WidthMax: 40},
		{Name: "Error", WidthMax: 40},
		{Name: "Retries", Align: text.AlignRight},
	})
	for _, item := range items {
		t.AppendRow(table.Row{
			item.ID,
			item.Stage,
			item.Title,
			item.RetryCount,
			item.UpdatedAt.Local().Format("2006-01-02 15:04"),
			item.ErrorMessage,
		})
	}
	t.Render()
}

func renderStatusTable(w io.Writer, status api.Status) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Stage", "Count"})
	t.SetColumnConfigs([]table.ColumnConfig{{Name: "Count", Align: text.AlignRight}})
	for _, stage := range queue.AllStatuses() {
		if count, ok := status.Stages[string(stage)]; ok && count > 0 {
			t.AppendRow(table.Row{string(stage), count})
		}
	}
	t.AppendFooter(table.Row{"total", status.Total})
	t.Render()
}

func printItem(w io.Writer, item api.Item) {
	fmt.Fprintf(w, "id:      %d\n", item.ID)
	fmt.Fprintf(w, "title:   %s\n", item.Title)
	fmt.Fprintf(w, "stage:   %s\n", item.Stage)
	if item.Owner != "" {
		fmt.Fprintf(w, "owner:   %s\n", item.Owner)
	}
	if item.RenderJobID != "" {
		fmt.Fprintf(w, "render:  %s\n", item.RenderJobID)
	}
	if item.RenderedAssetURL != "" {
		fmt.Fprintf(w, "video:   %s\n", item.RenderedAssetURL)
	}
	if item.PublishID != "" {
		fmt.Fprintf(w, "publish: %s\n", item.PublishID)
	}
	if item.ScheduledAt != nil {
		fmt.Fprintf(w, "release: %s\n", item.ScheduledAt.Local().Format(time.RFC1123))
	}
	if item.RetryCount > 0 {
		fmt.Fprintf(w, "retries: %d (last failed stage: %s)\n", item.RetryCount, item.LastFailedStage)
	}
	if item.ErrorMessage != "" {
		fmt.Fprintf(w, "error:   %s\n", item.ErrorMessage)
	}
	fmt.Fprintf(w, "updated: %s\n", item.UpdatedAt.Local().Format(time.RFC1123))
}

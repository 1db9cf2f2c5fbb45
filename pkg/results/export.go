package results

import (
	"bytes"
	"strconv"
	"strings"

	"trisplits/pkg/helper"
	"trisplits/pkg/model"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
)

const (
	FormatCSV      = "csv"
	FormatText     = "text"
	FormatMarkdown = "markdown"
)

// Export renders the board's items row by row. Missing splits and totals
// use a fixed placeholder so every row has the same shape.
func Export(board model.RaceResultBoard, format string) (string, error) {
	var b bytes.Buffer
	t := table.NewWriter()
	t.SetOutputMirror(&b)
	t.AppendHeader(table.Row{"RANK", "BIB", "NAME", "SWIM", "CYCLE", "RUN", "TOTAL"})

	for _, item := range board.Items {
		rank := "-"
		if item.Ranked() {
			rank = strconv.Itoa(item.Rank)
		}
		row := table.Row{rank, item.BibNumber, item.ParticipantName}
		for _, seg := range model.SegmentOrder {
			rec, ok := item.SegmentTimes[seg]
			if !ok {
				row = append(row, helper.NoTimePlaceholder)
				continue
			}
			row = append(row, helper.ToSplit(rec.StartTime, rec.EndTime))
		}
		row = append(row, helper.ToClockPtr(item.TotalDuration))
		t.AppendRow(row)
	}

	switch strings.ToLower(format) {
	case FormatCSV:
		t.RenderCSV()
	case FormatText:
		t.SetStyle(table.StyleRounded)
		t.AppendSeparator()
		t.Render()
	case FormatMarkdown:
		t.RenderMarkdown()
	default:
		return "", errors.Wrapf(model.ErrUnsupportedFormat, "%q", format)
	}
	return b.String(), nil
}

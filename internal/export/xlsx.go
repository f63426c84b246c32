// Package export renders job listings as spreadsheets.
package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/open-oni/oni-admin/internal/jobs"
)

// SheetName is the worksheet holding the job rows.
const SheetName = "Jobs"

// ContentType is the MIME type of the workbook produced by Jobs.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var headers = []string{
	"Job ID",
	"Kind",
	"Target",
	"Status",
	"Info",
	"Created At",
	"Updated At",
}

// Jobs writes list into a single-sheet XLSX workbook.
func Jobs(list []jobs.Job) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	// Rename the default sheet rather than leaving an empty one behind.
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}

	for i, job := range list {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(SheetName, cell, v)
		}

		write(1, job.ID)
		write(2, job.Kind.Label())
		write(3, job.Target)
		write(4, job.Status.Label())
		write(5, job.Info)
		write(6, job.CreatedAt.UTC().Format(time.RFC3339))
		write(7, job.UpdatedAt.UTC().Format(time.RFC3339))
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38) // id
	_ = f.SetColWidth(SheetName, "B", "B", 14) // kind
	_ = f.SetColWidth(SheetName, "C", "C", 32) // target
	_ = f.SetColWidth(SheetName, "D", "D", 12) // status
	_ = f.SetColWidth(SheetName, "E", "E", 60) // info
	_ = f.SetColWidth(SheetName, "F", "G", 22) // timestamps

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

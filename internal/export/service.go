package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/udayam-ai/extraction-gateway/internal/entity"
)

// Service produces XLSX bytes for completed extraction results, one
// sheet per extracted table.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ResultXLSX renders the result as a workbook. Sheet names come from
// the table names, de-duplicated and clamped to Excel's 31-char limit.
func (s *Service) ResultXLSX(jobID string, result *entity.ExtractionResult) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	seen := map[string]int{}
	for i, table := range result.Tables {
		sheet := sheetName(table.TableName, i, seen)
		if i == 0 {
			// excelize starts with a default sheet; rename it.
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return nil, fmt.Errorf("rename sheet: %w", err)
			}
		} else {
			if _, err := f.NewSheet(sheet); err != nil {
				return nil, fmt.Errorf("create sheet %q: %w", sheet, err)
			}
		}

		for col, h := range table.Headers {
			cell, _ := excelize.CoordinatesToCellName(col+1, 1)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return nil, fmt.Errorf("write header: %w", err)
			}
		}
		if len(table.Headers) > 0 {
			first, _ := excelize.CoordinatesToCellName(1, 1)
			last, _ := excelize.CoordinatesToCellName(len(table.Headers), 1)
			_ = f.SetCellStyle(sheet, first, last, headerStyle)
		}

		for rowIdx, row := range table.Rows {
			for col, v := range row {
				cell, _ := excelize.CoordinatesToCellName(col+1, rowIdx+2)
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return nil, fmt.Errorf("write row: %w", err)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"job_id", jobID,
		"tables", len(result.Tables),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func sheetName(name string, idx int, seen map[string]int) string {
	if name == "" {
		name = fmt.Sprintf("Table %d", idx+1)
	}
	// Excel rejects sheet names longer than 31 chars.
	if len(name) > 31 {
		name = name[:31]
	}
	if n := seen[name]; n > 0 {
		seen[name] = n + 1
		suffix := fmt.Sprintf(" (%d)", n+1)
		if len(name)+len(suffix) > 31 {
			name = name[:31-len(suffix)]
		}
		name += suffix
	} else {
		seen[name] = 1
	}
	return name
}

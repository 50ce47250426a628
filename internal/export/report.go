package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"karavan/internal/database"
	"karavan/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// ReportWriter renders execution history into an Excel workbook on disk.
type ReportWriter struct {
	db     *database.DB
	path   string
	logger *zerolog.Logger
}

func NewReportWriter(db *database.DB, path string, logger *zerolog.Logger) *ReportWriter {
	return &ReportWriter{db: db, path: path, logger: logger}
}

// WriteJobReport exports the recent executions of a job and returns the
// file path.
func (w *ReportWriter) WriteJobReport(ctx context.Context, job *models.ImportJob, limit int) (string, error) {
	if err := os.MkdirAll(w.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	executions, err := w.db.ListExecutions(ctx, job.ID, limit, 0)
	if err != nil {
		return "", fmt.Errorf("error getting executions: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Executions"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Job: %s (%s)", job.Name, job.CronExpr))
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "left"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)
	_ = f.MergeCell(sheetName, "A1", "H1")

	headers := []string{
		"Execution ID", "Status", "Started", "Finished",
		"Processed", "Imported", "Failed", "Error",
	}
	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	for i, exec := range executions {
		row := i + 3
		_ = f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), exec.ID)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), statusLabel(exec.Status))
		_ = f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), exec.StartedAt.Format("02.01.2006 15:04:05"))
		if exec.FinishedAt != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("D%d", row), exec.FinishedAt.Format("02.01.2006 15:04:05"))
		}
		_ = f.SetCellValue(sheetName, fmt.Sprintf("E%d", row), exec.ItemsProcessed)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("F%d", row), exec.ItemsImported)
		_ = f.SetCellValue(sheetName, fmt.Sprintf("G%d", row), exec.ItemsFailed)
		if exec.ErrorMessage != nil {
			_ = f.SetCellValue(sheetName, fmt.Sprintf("H%d", row), *exec.ErrorMessage)
		}

		if styleID, err := w.rowStyle(f, exec); err == nil {
			_ = f.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("H%d", row), styleID)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "B", 14)
	_ = f.SetColWidth(sheetName, "C", "D", 20)
	_ = f.SetColWidth(sheetName, "E", "G", 12)
	_ = f.SetColWidth(sheetName, "H", "H", 50)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("executions_%s_%s.xlsx", job.ID, time.Now().Format("2006-01-02_15-04-05"))
	filePath := filepath.Join(w.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	w.logger.Info().Str("file_path", filePath).Str("job_id", job.ID).Msg("Excel report created")
	return filePath, nil
}

func statusLabel(status models.ExecutionStatus) string {
	switch status {
	case models.ExecutionCompleted:
		return "✅ completed"
	case models.ExecutionFailed:
		return "❌ failed"
	default:
		return "⏳ processing"
	}
}

// rowStyle colors the row by outcome: red for failed runs, yellow for runs
// with partial row failures, green otherwise.
func (w *ReportWriter) rowStyle(f *excelize.File, exec models.ExecutionLog) (int, error) {
	color := "#C6EFCE"
	switch {
	case exec.Status == models.ExecutionFailed:
		color = "#FFC7CE"
	case exec.ItemsFailed > 0:
		color = "#FFEB9C"
	case exec.Status == models.ExecutionProcessing:
		color = "#FFFFFF"
	}

	return f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
}

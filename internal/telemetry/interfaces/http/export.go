package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	telemetry "planter-cloud/internal/telemetry/domain"
)

func formatCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// BuildReadingsPDF renders a minimal PDF for a plant's reading history.
func BuildReadingsPDF(plantID string, from, to time.Time, readings []telemetry.Reading) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Sensor Readings")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Plant: %s", plantID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("From: %s", from.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("To: %s", to.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Rows: %d", len(readings)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Recorded", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Temperature", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Humidity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Soil Moisture", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Water Level", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Light Level", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, r := range readings {
		pdf.CellFormat(50, 6, r.RecordedAt.Format("2006-01-02 15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, formatCell(r.Temperature), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, formatCell(r.Humidity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, formatCell(r.SoilMoisture), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, formatCell(r.WaterLevel), "1", 0, "R", false, 0, "")
		pdf.CellFormat(35, 6, formatCell(r.LightLevel), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReadingsXLSX renders a minimal XLSX for a plant's reading history.
func BuildReadingsXLSX(plantID string, from, to time.Time, readings []telemetry.Reading) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	readingsSheet := "readings"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(readingsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Sensor Readings")
	_ = f.SetCellValue(summarySheet, "A3", "Plant")
	_ = f.SetCellValue(summarySheet, "B3", plantID)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", from.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", to.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A6", "Rows")
	_ = f.SetCellValue(summarySheet, "B6", len(readings))

	_ = f.SetCellValue(readingsSheet, "A1", "Recorded")
	_ = f.SetCellValue(readingsSheet, "B1", "Temperature")
	_ = f.SetCellValue(readingsSheet, "C1", "Humidity")
	_ = f.SetCellValue(readingsSheet, "D1", "Soil Moisture")
	_ = f.SetCellValue(readingsSheet, "E1", "Water Level")
	_ = f.SetCellValue(readingsSheet, "F1", "Light Level")
	for i, r := range readings {
		row := i + 2
		_ = f.SetCellValue(readingsSheet, fmt.Sprintf("A%d", row), r.RecordedAt.Format("2006-01-02 15:04:05"))
		setNumberCell(f, readingsSheet, "B", row, r.Temperature)
		setNumberCell(f, readingsSheet, "C", row, r.Humidity)
		setNumberCell(f, readingsSheet, "D", row, r.SoilMoisture)
		setNumberCell(f, readingsSheet, "E", row, r.WaterLevel)
		setNumberCell(f, readingsSheet, "F", row, r.LightLevel)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setNumberCell(f *excelize.File, sheet, col string, row int, v *float64) {
	if v == nil {
		return
	}
	_ = f.SetCellValue(sheet, fmt.Sprintf("%s%d", col, row), *v)
}

package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/retina/retina-export-back/internal/domain"
)

const manifestSheet = "Uploads"

// ManifestFilename is the spreadsheet placed at the root of every archive.
const ManifestFilename = "uploads.xlsx"

var manifestColumns = []struct {
	header string
	width  float64
}{
	{"ID", 10},
	{"Uploader SF Code", 20},
	{"Uploader Email", 30},
	{"Created At", 20},
	{"Image Category", 20},
	{"Outlet Name", 30},
	{"Outlet City", 20},
	{"Outlet Region", 20},
	{"Outlet Area", 20},
	{"Uploaded Filename", 40},
}

// WriteManifest writes the tabular index of every photo in the export.
func WriteManifest(path string, photos []domain.Photo) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	index, err := workbook.NewSheet(manifestSheet)
	if err != nil {
		return fmt.Errorf("create manifest sheet: %w", err)
	}
	workbook.SetActiveSheet(index)
	if err := workbook.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("drop default sheet: %w", err)
	}

	headers := make([]any, 0, len(manifestColumns))
	for i, column := range manifestColumns {
		headers = append(headers, column.header)
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("resolve column name: %w", err)
		}
		if err := workbook.SetColWidth(manifestSheet, name, name, column.width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if err := workbook.SetSheetRow(manifestSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write manifest header: %w", err)
	}

	for i, photo := range photos {
		row := []any{
			photo.ID,
			photo.UploaderCode,
			photo.UploaderEmail,
			photo.CreatedAt.Format("2006-01-02 15:04:05"),
			photo.ImageCategory,
			photo.Store.Name,
			photo.Store.City,
			photo.Store.Region,
			photo.Store.Area,
			photo.ObjectKey,
		}
		cell := fmt.Sprintf("A%d", i+2)
		if err := workbook.SetSheetRow(manifestSheet, cell, &row); err != nil {
			return fmt.Errorf("write manifest row %d: %w", i+1, err)
		}
	}

	if err := workbook.SaveAs(path); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}
	return nil
}

package extract

import (
	"strings"

	"github.com/xuri/excelize/v2"
)

// readXLSX joins every sheet's rows: cells tab-separated, rows
// newline-separated.
func readXLSX(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}

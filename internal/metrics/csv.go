package metrics

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"meshmon/internal/model"
)

var csvHeader = []string{
	"datetime",
	"from_id",
	"from_name",
	"hops",
	"rssi",
	"type",
	"information",
	"row_id",
}

// WriteCSV writes packet rows to CSV with a fixed column order.
func WriteCSV(w io.Writer, items []model.PacketEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// AppendCSV appends packet rows to the file at path, writing the header only
// when the file is new or empty.
func AppendCSV(path string, items []model.PacketEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	needHeader := true
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		needHeader = false
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if needHeader {
		if err := writer.Write(csvHeader); err != nil {
			return err
		}
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeRecords(writer *csv.Writer, items []model.PacketEntry) error {
	for _, p := range items {
		record := []string{
			p.Time,
			p.FromID,
			p.FromName,
			strconv.Itoa(p.Hops),
			p.Signal,
			p.Kind,
			p.Summary,
			p.RowID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}

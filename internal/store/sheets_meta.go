package store

import (
	"context"
	"encoding/json"
	"fmt"

	"gradeflow/internal/model"
)

// InsertSheetMeta 写入 Sheet 元信息（识别结果与列映射，用于追溯）
func (s *SQLiteStore) InsertSheetMeta(ctx context.Context, meta model.SheetMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sheets_meta (
			import_log_id, sheet_name, format, confidence, header_row,
			total_rows, imported_rows,
			columns_json, column_mapping_json, warnings_json,
			status, error_message, source_file
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		meta.ImportLogID, meta.SheetName, meta.Format, meta.Confidence, meta.HeaderRow,
		meta.TotalRows, meta.ImportedRows,
		orEmptyJSON(meta.ColumnsJSON), orEmptyJSON(meta.ColumnMappingJSON), orEmptyJSON(meta.WarningsJSON),
		meta.Status, meta.ErrorMessage, meta.SourceFile,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sheets_meta: %w", err)
	}
	return nil
}

// BuildJSON 序列化为 JSON，失败时返回 "[]"
func BuildJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func orEmptyJSON(s string) string {
	if s == "" {
		return "[]"
	}
	return s
}

package store

import (
	"context"
	"fmt"
	"time"

	"gradeflow/internal/model"
)

// CreateImportLog 创建导入日志，返回 import_log_id
func (s *SQLiteStore) CreateImportLog(ctx context.Context, log model.ImportLog) (int64, error) {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO import_logs (batch_id, filename, file_size, file_hash, total_sheets, status, started_at)
		VALUES (?, ?, ?, ?, ?, 'processing', ?)
	`, log.BatchID, log.Filename, log.FileSize, log.FileHash, log.TotalSheets, log.StartedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get import log id: %w", err)
	}
	return id, nil
}

// FinishImportLog 完成导入日志更新
func (s *SQLiteStore) FinishImportLog(ctx context.Context, log model.ImportLog) error {
	completed := time.Now()
	if log.CompletedAt != nil {
		completed = *log.CompletedAt
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE import_logs SET
			total_sheets = ?,
			imported_sheets = ?,
			skipped_sheets = ?,
			total_rows = ?,
			imported_rows = ?,
			error_rows = ?,
			status = ?,
			error_message = ?,
			completed_at = ?
		WHERE id = ?
	`, log.TotalSheets, log.ImportedSheets, log.SkippedSheets, log.TotalRows, log.ImportedRows, log.ErrorRows,
		log.Status, log.ErrorMessage, completed, log.ID)
	if err != nil {
		return fmt.Errorf("failed to update import log: %w", err)
	}
	return nil
}

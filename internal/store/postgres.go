package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gradeflow/internal/model"
)

// PostgresStore Postgres 存储（Supabase 托管数据库）
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres 创建连接池
func NewPostgres(ctx context.Context, opts Options) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	// Supabase 事务池（6543 端口）不支持预编译语句
	if opts.SimpleProtocol || cfg.ConnConfig.Port == 6543 || strings.Contains(cfg.ConnConfig.Host, "pooler.supabase.com") {
		cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if opts.AutoMigrate {
		if err := s.initSchema(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	schemaSQL, err := schemaFS.ReadFile("schema_postgres.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema_postgres.sql: %w", err)
	}
	if _, err := s.pool.Exec(ctx, string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Ping 检查连接
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgStudentColumns = `student_id, class_name, name, grade_level, created_at, updated_at`

// FindStudentsByClasses 查询指定班级的学生
func (s *PostgresStore) FindStudentsByClasses(ctx context.Context, classes []string) ([]model.Student, error) {
	classes = distinct(append([]string(nil), classes...))
	if len(classes) == 0 {
		return nil, nil
	}
	return s.queryStudents(ctx, `SELECT `+pgStudentColumns+` FROM students
		WHERE class_name = ANY($1) ORDER BY class_name, student_id`, classes)
}

// FindStudentsByIDs 查询指定学号的学生
func (s *PostgresStore) FindStudentsByIDs(ctx context.Context, ids []string) ([]model.Student, error) {
	ids = distinct(append([]string(nil), ids...))
	if len(ids) == 0 {
		return nil, nil
	}
	return s.queryStudents(ctx, `SELECT `+pgStudentColumns+` FROM students
		WHERE student_id = ANY($1) ORDER BY class_name, student_id`, ids)
}

// ListStudents 按条件查询学生
func (s *PostgresStore) ListStudents(ctx context.Context, f StudentFilter) ([]model.Student, error) {
	var where []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if f.ClassName != "" {
		where = append(where, "class_name = "+arg(f.ClassName))
	}
	if f.GradeLevel != "" {
		where = append(where, "grade_level = "+arg(f.GradeLevel))
	}
	if f.Keyword != "" {
		p := arg("%" + f.Keyword + "%")
		where = append(where, "(student_id ILIKE "+p+" OR name ILIKE "+p+")")
	}

	query := `SELECT ` + pgStudentColumns + ` FROM students`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY class_name, student_id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset)
	}
	return s.queryStudents(ctx, query, args...)
}

func (s *PostgresStore) queryStudents(ctx context.Context, query string, args ...any) ([]model.Student, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query students: %w", err)
	}
	defer rows.Close()

	var out []model.Student
	for rows.Next() {
		var st model.Student
		if err := rows.Scan(&st.StudentID, &st.ClassName, &st.Name, &st.GradeLevel, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ApplyImport 事务写入：学生新建/更新、考试、总分排名与各科成绩
func (s *PostgresStore) ApplyImport(ctx context.Context, batch model.ImportBatch) (model.ApplyResult, error) {
	var result model.ApplyResult

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	examID, err := resolvePgExam(ctx, tx, batch.Exam)
	if err != nil {
		return result, err
	}
	result.ExamID = examID

	now := time.Now()
	b := &pgx.Batch{}
	for _, st := range batch.Creates {
		b.Queue(`
			INSERT INTO students (student_id, class_name, name, grade_level, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			ON CONFLICT (student_id, class_name) DO UPDATE SET
				grade_level = excluded.grade_level,
				updated_at = excluded.updated_at
		`, st.StudentID, st.ClassName, st.Name, st.GradeLevel, now)
	}
	for _, st := range batch.Updates {
		b.Queue(`UPDATE students SET grade_level = $1, updated_at = $2 WHERE student_id = $3 AND class_name = $4`,
			st.GradeLevel, now, st.StudentID, st.ClassName)
	}
	if batch.ReplaceExisting {
		for _, r := range batch.Rows {
			b.Queue(`DELETE FROM grade_scores WHERE exam_id = $1 AND student_id = $2 AND class_name = $3`, examID, r.StudentID, r.ClassName)
			b.Queue(`DELETE FROM exam_results WHERE exam_id = $1 AND student_id = $2 AND class_name = $3`, examID, r.StudentID, r.ClassName)
		}
	}
	for _, r := range batch.Rows {
		b.Queue(`
			INSERT INTO exam_results (exam_id, student_id, class_name, total_score, class_rank, grade_rank, derived, row_no, source_sheet, batch_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (exam_id, student_id, class_name) DO UPDATE SET
				`+mergeResultSet+`,
				row_no = excluded.row_no,
				source_sheet = excluded.source_sheet,
				batch_id = excluded.batch_id
		`, examID, r.StudentID, r.ClassName, r.TotalScore, r.ClassRank, r.GradeRank, int(r.Derived), r.RowNo, batch.SourceSheet, batch.BatchID)
		for _, sc := range r.Scores {
			b.Queue(`
				INSERT INTO grade_scores (exam_id, student_id, class_name, subject, score, absent, subject_rank)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (exam_id, student_id, class_name, subject) DO UPDATE SET
					score = excluded.score,
					absent = excluded.absent,
					subject_rank = excluded.subject_rank
			`, examID, r.StudentID, r.ClassName, sc.Subject, sc.Score, sc.Absent, sc.Rank)
			result.ScoreRows++
		}
	}

	br := tx.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return model.ApplyResult{}, fmt.Errorf("failed to write import batch: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return model.ApplyResult{}, fmt.Errorf("failed to write import batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ApplyResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	result.CreatedStudents = len(batch.Creates)
	result.UpdatedStudents = len(batch.Updates)
	result.ResultRows = len(batch.Rows)
	return result, nil
}

// SaveDerived 写回重新计算的总分与排名
func (s *PostgresStore) SaveDerived(ctx context.Context, examID string, rows []*model.StudentRow) error {
	if len(rows) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(`
			UPDATE exam_results SET total_score = $1, class_rank = $2, grade_rank = $3, derived = $4
			WHERE exam_id = $5 AND student_id = $6 AND class_name = $7
		`, r.TotalScore, r.ClassRank, r.GradeRank, int(r.Derived), examID, r.StudentID, r.ClassName)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("failed to update exam results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func resolvePgExam(ctx context.Context, tx pgx.Tx, exam model.Exam) (string, error) {
	var id string
	var err error
	if exam.ID != "" {
		err = tx.QueryRow(ctx, `SELECT id FROM exams WHERE id = $1`, exam.ID).Scan(&id)
	} else {
		err = tx.QueryRow(ctx, `SELECT id FROM exams WHERE name = $1 AND exam_date = $2`, exam.Name, exam.ExamDate).Scan(&id)
		exam.ID = uuid.NewString()
	}
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to query exam: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO exams (id, name, exam_date, grade_level, created_at) VALUES ($1, $2, $3, $4, $5)
	`, exam.ID, exam.Name, exam.ExamDate, exam.GradeLevel, time.Now()); err != nil {
		return "", fmt.Errorf("failed to insert exam: %w", err)
	}
	return exam.ID, nil
}

// ListExams 考试列表（含参考人数与科目）
func (s *PostgresStore) ListExams(ctx context.Context) ([]model.ExamSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.id, e.name, e.exam_date, e.grade_level, e.created_at,
			(SELECT COUNT(*) FROM exam_results r WHERE r.exam_id = e.id),
			COALESCE((SELECT array_agg(DISTINCT g.subject ORDER BY g.subject) FROM grade_scores g WHERE g.exam_id = e.id), '{}')
		FROM exams e
		ORDER BY e.created_at DESC, e.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exams: %w", err)
	}
	defer rows.Close()

	var out []model.ExamSummary
	for rows.Next() {
		var e model.ExamSummary
		if err := rows.Scan(&e.ID, &e.Name, &e.ExamDate, &e.GradeLevel, &e.CreatedAt, &e.StudentCount, &e.Subjects); err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetExam 查询考试
func (s *PostgresStore) GetExam(ctx context.Context, id string) (model.Exam, error) {
	var e model.Exam
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, exam_date, grade_level, created_at FROM exams WHERE id = $1
	`, id).Scan(&e.ID, &e.Name, &e.ExamDate, &e.GradeLevel, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("failed to query exam: %w", err)
	}
	return e, nil
}

// GetExamScores 查询考试成绩
func (s *PostgresStore) GetExamScores(ctx context.Context, examID, className string) ([]*model.StudentRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.student_id, r.class_name, COALESCE(st.name, ''), COALESCE(st.grade_level, ''),
			r.total_score, r.class_rank, r.grade_rank, r.derived, r.row_no
		FROM exam_results r
		LEFT JOIN students st ON st.student_id = r.student_id AND st.class_name = r.class_name
		WHERE r.exam_id = $1 AND ($2::text = '' OR r.class_name = $2)
		ORDER BY r.class_name, r.row_no, r.student_id
	`, examID, className)
	if err != nil {
		return nil, fmt.Errorf("failed to query exam results: %w", err)
	}
	defer rows.Close()

	var out []*model.StudentRow
	index := make(map[model.StudentKey]*model.StudentRow)
	for rows.Next() {
		r := &model.StudentRow{}
		var derived int32
		if err := rows.Scan(&r.StudentID, &r.ClassName, &r.Name, &r.GradeLevel, &r.TotalScore, &r.ClassRank, &r.GradeRank, &derived, &r.RowNo); err != nil {
			return nil, fmt.Errorf("failed to scan exam result: %w", err)
		}
		r.Derived = model.DerivedFields(derived)
		index[r.Key()] = r
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scores, err := s.pool.Query(ctx, `
		SELECT student_id, class_name, subject, score, absent, subject_rank
		FROM grade_scores
		WHERE exam_id = $1 AND ($2::text = '' OR class_name = $2)
		ORDER BY ctid
	`, examID, className)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade scores: %w", err)
	}
	defer scores.Close()
	for scores.Next() {
		var key model.StudentKey
		var sc model.SubjectScore
		if err := scores.Scan(&key.StudentID, &key.ClassName, &sc.Subject, &sc.Score, &sc.Absent, &sc.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan grade score: %w", err)
		}
		if r, ok := index[key]; ok {
			r.Scores = append(r.Scores, sc)
		}
	}
	return out, scores.Err()
}

// CreateImportLog 创建导入日志
func (s *PostgresStore) CreateImportLog(ctx context.Context, log model.ImportLog) (int64, error) {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO import_logs (batch_id, filename, file_size, file_hash, total_sheets, status, started_at)
		VALUES ($1, $2, $3, $4, $5, 'processing', $6)
		RETURNING id
	`, log.BatchID, log.Filename, log.FileSize, log.FileHash, log.TotalSheets, log.StartedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	return id, nil
}

// FinishImportLog 完成导入日志更新
func (s *PostgresStore) FinishImportLog(ctx context.Context, log model.ImportLog) error {
	completed := time.Now()
	if log.CompletedAt != nil {
		completed = *log.CompletedAt
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE import_logs SET
			total_sheets = $1, imported_sheets = $2, skipped_sheets = $3,
			total_rows = $4, imported_rows = $5, error_rows = $6,
			status = $7, error_message = $8, completed_at = $9
		WHERE id = $10
	`, log.TotalSheets, log.ImportedSheets, log.SkippedSheets, log.TotalRows, log.ImportedRows, log.ErrorRows,
		log.Status, log.ErrorMessage, completed, log.ID)
	if err != nil {
		return fmt.Errorf("failed to update import log: %w", err)
	}
	return nil
}

// InsertSheetMeta 写入 Sheet 元信息
func (s *PostgresStore) InsertSheetMeta(ctx context.Context, meta model.SheetMeta) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sheets_meta (
			import_log_id, sheet_name, format, confidence, header_row,
			total_rows, imported_rows,
			columns_json, column_mapping_json, warnings_json,
			status, error_message, source_file
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
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

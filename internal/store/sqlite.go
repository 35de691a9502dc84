package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"gradeflow/internal/model"
)

//go:embed schema.sql schema_postgres.sql
var schemaFS embed.FS

const updateDerivedSQL = `
	UPDATE exam_results SET total_score = ?, class_rank = ?, grade_rank = ?, derived = ?
	WHERE exam_id = ? AND student_id = ? AND class_name = ?
`

// SQLiteStore SQLite 数据库存储层（本地单机模式）
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite 创建 SQLite 存储
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	// 确保 data 目录存在
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// SQLite 单连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// initSchema 初始化数据库结构
func (s *SQLiteStore) initSchema() error {
	schemaSQL, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema.sql: %w", err)
	}
	if _, err := s.db.Exec(string(schemaSQL)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Ping 检查连接
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// FindStudentsByClasses 查询指定班级的学生
func (s *SQLiteStore) FindStudentsByClasses(ctx context.Context, classes []string) ([]model.Student, error) {
	classes = distinct(append([]string(nil), classes...))
	if len(classes) == 0 {
		return nil, nil
	}
	query := `SELECT student_id, class_name, name, grade_level, created_at, updated_at
		FROM students WHERE class_name IN (` + placeholders(len(classes)) + `)
		ORDER BY class_name, student_id`
	return s.queryStudents(ctx, query, toArgs(classes)...)
}

// FindStudentsByIDs 查询指定学号的学生
func (s *SQLiteStore) FindStudentsByIDs(ctx context.Context, ids []string) ([]model.Student, error) {
	ids = distinct(append([]string(nil), ids...))
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT student_id, class_name, name, grade_level, created_at, updated_at
		FROM students WHERE student_id IN (` + placeholders(len(ids)) + `)
		ORDER BY class_name, student_id`
	return s.queryStudents(ctx, query, toArgs(ids)...)
}

// ListStudents 按条件查询学生
func (s *SQLiteStore) ListStudents(ctx context.Context, f StudentFilter) ([]model.Student, error) {
	var where []string
	var args []any
	if f.ClassName != "" {
		where = append(where, "class_name = ?")
		args = append(args, f.ClassName)
	}
	if f.GradeLevel != "" {
		where = append(where, "grade_level = ?")
		args = append(args, f.GradeLevel)
	}
	if f.Keyword != "" {
		where = append(where, "(student_id LIKE ? OR name LIKE ?)")
		args = append(args, "%"+f.Keyword+"%", "%"+f.Keyword+"%")
	}

	query := `SELECT student_id, class_name, name, grade_level, created_at, updated_at FROM students`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY class_name, student_id"
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	return s.queryStudents(ctx, query, args...)
}

func (s *SQLiteStore) queryStudents(ctx context.Context, query string, args ...any) ([]model.Student, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
func (s *SQLiteStore) ApplyImport(ctx context.Context, batch model.ImportBatch) (model.ApplyResult, error) {
	var result model.ApplyResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	examID, err := s.resolveExam(ctx, tx, batch.Exam)
	if err != nil {
		return result, err
	}
	result.ExamID = examID

	now := time.Now()
	for _, st := range batch.Creates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO students (student_id, class_name, name, grade_level, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (student_id, class_name) DO UPDATE SET
				grade_level = excluded.grade_level,
				updated_at = excluded.updated_at
		`, st.StudentID, st.ClassName, st.Name, st.GradeLevel, now, now); err != nil {
			return result, fmt.Errorf("failed to insert student %s: %w", st.StudentID, err)
		}
		result.CreatedStudents++
	}
	for _, st := range batch.Updates {
		if _, err := tx.ExecContext(ctx, `
			UPDATE students SET grade_level = ?, updated_at = ?
			WHERE student_id = ? AND class_name = ?
		`, st.GradeLevel, now, st.StudentID, st.ClassName); err != nil {
			return result, fmt.Errorf("failed to update student %s: %w", st.StudentID, err)
		}
		result.UpdatedStudents++
	}

	if batch.ReplaceExisting {
		for _, r := range batch.Rows {
			for _, table := range []string{"grade_scores", "exam_results"} {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM `+table+` WHERE exam_id = ? AND student_id = ? AND class_name = ?`,
					examID, r.StudentID, r.ClassName); err != nil {
					return result, fmt.Errorf("failed to clear existing scores: %w", err)
				}
			}
		}
	}

	resultStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exam_results (exam_id, student_id, class_name, total_score, class_rank, grade_rank, derived, row_no, source_sheet, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exam_id, student_id, class_name) DO UPDATE SET
			`+mergeResultSet+`,
			row_no = excluded.row_no,
			source_sheet = excluded.source_sheet,
			batch_id = excluded.batch_id
	`)
	if err != nil {
		return result, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer resultStmt.Close()

	scoreStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO grade_scores (exam_id, student_id, class_name, subject, score, absent, subject_rank)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exam_id, student_id, class_name, subject) DO UPDATE SET
			score = excluded.score,
			absent = excluded.absent,
			subject_rank = excluded.subject_rank
	`)
	if err != nil {
		return result, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer scoreStmt.Close()

	for _, r := range batch.Rows {
		if _, err := resultStmt.ExecContext(ctx,
			examID, r.StudentID, r.ClassName, r.TotalScore, r.ClassRank, r.GradeRank, int(r.Derived),
			r.RowNo, batch.SourceSheet, batch.BatchID,
		); err != nil {
			return result, fmt.Errorf("failed to insert result row %d: %w", r.RowNo, err)
		}
		result.ResultRows++

		for _, sc := range r.Scores {
			if _, err := scoreStmt.ExecContext(ctx,
				examID, r.StudentID, r.ClassName, sc.Subject, sc.Score, sc.Absent, sc.Rank,
			); err != nil {
				return result, fmt.Errorf("failed to insert score row %d: %w", r.RowNo, err)
			}
			result.ScoreRows++
		}
	}

	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// SaveDerived 写回重新计算的总分与排名
func (s *SQLiteStore) SaveDerived(ctx context.Context, examID string, rows []*model.StudentRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, updateDerivedSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.TotalScore, r.ClassRank, r.GradeRank, int(r.Derived),
			examID, r.StudentID, r.ClassName,
		); err != nil {
			return fmt.Errorf("failed to update result %s: %w", r.StudentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// resolveExam 按 ID 或（名称，日期）找到考试，不存在则创建
func (s *SQLiteStore) resolveExam(ctx context.Context, tx *sql.Tx, exam model.Exam) (string, error) {
	if exam.ID != "" {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM exams WHERE id = ?`, exam.ID).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to query exam: %w", err)
		}
	} else {
		var id string
		err := tx.QueryRowContext(ctx, `SELECT id FROM exams WHERE name = ? AND exam_date = ?`, exam.Name, exam.ExamDate).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("failed to query exam: %w", err)
		}
		exam.ID = uuid.NewString()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO exams (id, name, exam_date, grade_level, created_at) VALUES (?, ?, ?, ?, ?)
	`, exam.ID, exam.Name, exam.ExamDate, exam.GradeLevel, time.Now()); err != nil {
		return "", fmt.Errorf("failed to insert exam: %w", err)
	}
	return exam.ID, nil
}

// ListExams 考试列表（含参考人数与科目）
func (s *SQLiteStore) ListExams(ctx context.Context) ([]model.ExamSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.name, e.exam_date, e.grade_level, e.created_at, COUNT(r.student_id)
		FROM exams e LEFT JOIN exam_results r ON r.exam_id = e.id
		GROUP BY e.id, e.name, e.exam_date, e.grade_level, e.created_at
		ORDER BY e.created_at DESC, e.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exams: %w", err)
	}
	defer rows.Close()

	var out []model.ExamSummary
	index := make(map[string]int)
	for rows.Next() {
		var e model.ExamSummary
		if err := rows.Scan(&e.ID, &e.Name, &e.ExamDate, &e.GradeLevel, &e.CreatedAt, &e.StudentCount); err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subjects, err := s.db.QueryContext(ctx, `SELECT DISTINCT exam_id, subject FROM grade_scores ORDER BY exam_id, subject`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exam subjects: %w", err)
	}
	defer subjects.Close()
	for subjects.Next() {
		var examID, subject string
		if err := subjects.Scan(&examID, &subject); err != nil {
			return nil, fmt.Errorf("failed to scan exam subject: %w", err)
		}
		if i, ok := index[examID]; ok {
			out[i].Subjects = append(out[i].Subjects, subject)
		}
	}
	return out, subjects.Err()
}

// GetExam 查询考试
func (s *SQLiteStore) GetExam(ctx context.Context, id string) (model.Exam, error) {
	var e model.Exam
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, exam_date, grade_level, created_at FROM exams WHERE id = ?
	`, id).Scan(&e.ID, &e.Name, &e.ExamDate, &e.GradeLevel, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return e, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return e, fmt.Errorf("failed to query exam: %w", err)
	}
	return e, nil
}

// GetExamScores 查询考试成绩
func (s *SQLiteStore) GetExamScores(ctx context.Context, examID, className string) ([]*model.StudentRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.student_id, r.class_name, COALESCE(st.name, ''), COALESCE(st.grade_level, ''),
			r.total_score, r.class_rank, r.grade_rank, r.derived, r.row_no
		FROM exam_results r
		LEFT JOIN students st ON st.student_id = r.student_id AND st.class_name = r.class_name
		WHERE r.exam_id = ? AND (? = '' OR r.class_name = ?)
		ORDER BY r.class_name, r.row_no, r.student_id
	`, examID, className, className)
	if err != nil {
		return nil, fmt.Errorf("failed to query exam results: %w", err)
	}
	defer rows.Close()

	var out []*model.StudentRow
	index := make(map[model.StudentKey]*model.StudentRow)
	for rows.Next() {
		r := &model.StudentRow{}
		var total sql.NullFloat64
		var derived int
		if err := rows.Scan(&r.StudentID, &r.ClassName, &r.Name, &r.GradeLevel, &total, &r.ClassRank, &r.GradeRank, &derived, &r.RowNo); err != nil {
			return nil, fmt.Errorf("failed to scan exam result: %w", err)
		}
		r.Derived = model.DerivedFields(derived)
		if total.Valid {
			r.TotalScore = model.Float64Ptr(total.Float64)
		}
		index[r.Key()] = r
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scores, err := s.db.QueryContext(ctx, `
		SELECT student_id, class_name, subject, score, absent, subject_rank
		FROM grade_scores
		WHERE exam_id = ? AND (? = '' OR class_name = ?)
		ORDER BY rowid
	`, examID, className, className)
	if err != nil {
		return nil, fmt.Errorf("failed to query grade scores: %w", err)
	}
	defer scores.Close()
	for scores.Next() {
		var key model.StudentKey
		var sc model.SubjectScore
		var score sql.NullFloat64
		if err := scores.Scan(&key.StudentID, &key.ClassName, &sc.Subject, &score, &sc.Absent, &sc.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan grade score: %w", err)
		}
		if score.Valid {
			sc.Score = model.Float64Ptr(score.Float64)
		}
		if r, ok := index[key]; ok {
			r.Scores = append(r.Scores, sc)
		}
	}
	return out, scores.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

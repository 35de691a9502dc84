package store

import (
	"context"
	"errors"
	"fmt"

	"gradeflow/internal/model"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("not found")

// 支持的数据库驱动
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StudentFilter 学生查询条件
type StudentFilter struct {
	ClassName  string
	GradeLevel string
	Keyword    string // 学号或姓名包含
	Limit      int
	Offset     int
}

// Store 成绩数据存储
type Store interface {
	// FindStudentsByClasses 查询指定班级的全部学生（对账用）
	FindStudentsByClasses(ctx context.Context, classes []string) ([]model.Student, error)
	// FindStudentsByIDs 查询指定学号的学生（任意班级）
	FindStudentsByIDs(ctx context.Context, ids []string) ([]model.Student, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]model.Student, error)

	// ApplyImport 在一个事务中写入学生、考试与成绩
	ApplyImport(ctx context.Context, batch model.ImportBatch) (model.ApplyResult, error)

	ListExams(ctx context.Context) ([]model.ExamSummary, error)
	GetExam(ctx context.Context, id string) (model.Exam, error)
	// GetExamScores 查询考试成绩，className 为空时返回全部班级
	GetExamScores(ctx context.Context, examID, className string) ([]*model.StudentRow, error)
	// SaveDerived 写回整场考试重新计算的总分、排名与 Derived 标记
	SaveDerived(ctx context.Context, examID string, rows []*model.StudentRow) error

	CreateImportLog(ctx context.Context, log model.ImportLog) (int64, error)
	FinishImportLog(ctx context.Context, log model.ImportLog) error
	InsertSheetMeta(ctx context.Context, meta model.SheetMeta) error

	Ping(ctx context.Context) error
	Close() error
}

// Options 存储连接参数
type Options struct {
	Driver         string
	DSN            string
	MaxConns       int  // 仅 postgres
	SimpleProtocol bool // 经 PgBouncer / Supabase 连接池时使用简单协议
	AutoMigrate    bool // 仅 postgres：启动时执行建表语句
}

// Open 按驱动打开存储
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewSQLite(opts.DSN)
	case DriverPostgres:
		return NewPostgres(ctx, opts)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", opts.Driver)
	}
}

// mergeResultSet 成绩行冲突时的合并规则（SQLite 与 PostgreSQL 通用）：
// 新行未提供的总分/排名保留旧值；新行提供的字段清除旧的系统计算标记
const mergeResultSet = `total_score = COALESCE(excluded.total_score, exam_results.total_score),
			class_rank = CASE WHEN excluded.class_rank > 0 THEN excluded.class_rank ELSE exam_results.class_rank END,
			grade_rank = CASE WHEN excluded.grade_rank > 0 THEN excluded.grade_rank ELSE exam_results.grade_rank END,
			derived = (exam_results.derived & ~(
				(CASE WHEN excluded.total_score IS NOT NULL THEN 1 ELSE 0 END) |
				(CASE WHEN excluded.class_rank > 0 THEN 2 ELSE 0 END) |
				(CASE WHEN excluded.grade_rank > 0 THEN 4 ELSE 0 END))) | excluded.derived`

// distinct 去重并去掉空字符串
func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

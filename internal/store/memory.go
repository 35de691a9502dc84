package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gradeflow/internal/model"
)

type resultKey struct {
	ExamID string
	model.StudentKey
}

// MemoryStore 内存数据存储（试运行与接口测试）
type MemoryStore struct {
	mu       sync.RWMutex
	students map[model.StudentKey]model.Student
	exams    map[string]model.Exam
	results  map[resultKey]*model.StudentRow
	order    []resultKey // 成绩写入顺序
	logs     map[int64]model.ImportLog
	sheets   []model.SheetMeta
	nextID   int64
}

// NewMemory 创建内存存储
func NewMemory() *MemoryStore {
	return &MemoryStore{
		students: make(map[model.StudentKey]model.Student),
		exams:    make(map[string]model.Exam),
		results:  make(map[resultKey]*model.StudentRow),
		logs:     make(map[int64]model.ImportLog),
	}
}

// Ping 检查连接
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 关闭
func (s *MemoryStore) Close() error { return nil }

// FindStudentsByClasses 查询指定班级的学生
func (s *MemoryStore) FindStudentsByClasses(_ context.Context, classes []string) ([]model.Student, error) {
	set := make(map[string]bool)
	for _, c := range distinct(classes) {
		set[c] = true
	}
	return s.filterStudents(func(st model.Student) bool { return set[st.ClassName] }), nil
}

// FindStudentsByIDs 查询指定学号的学生
func (s *MemoryStore) FindStudentsByIDs(_ context.Context, ids []string) ([]model.Student, error) {
	set := make(map[string]bool)
	for _, id := range distinct(ids) {
		set[id] = true
	}
	return s.filterStudents(func(st model.Student) bool { return set[st.StudentID] }), nil
}

// ListStudents 按条件查询学生
func (s *MemoryStore) ListStudents(_ context.Context, f StudentFilter) ([]model.Student, error) {
	out := s.filterStudents(func(st model.Student) bool {
		if f.ClassName != "" && st.ClassName != f.ClassName {
			return false
		}
		if f.GradeLevel != "" && st.GradeLevel != f.GradeLevel {
			return false
		}
		if f.Keyword != "" && !strings.Contains(st.StudentID, f.Keyword) && !strings.Contains(st.Name, f.Keyword) {
			return false
		}
		return true
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) filterStudents(keep func(model.Student) bool) []model.Student {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Student
	for _, st := range s.students {
		if keep(st) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClassName != out[j].ClassName {
			return out[i].ClassName < out[j].ClassName
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

// ApplyImport 写入导入批次；持锁完成，等价于一个事务
func (s *MemoryStore) ApplyImport(ctx context.Context, batch model.ImportBatch) (model.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return model.ApplyResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result model.ApplyResult
	exam := batch.Exam
	if exam.ID == "" {
		for _, e := range s.exams {
			if e.Name == exam.Name && e.ExamDate == exam.ExamDate {
				exam = e
				break
			}
		}
	}
	if _, ok := s.exams[exam.ID]; !ok {
		if exam.ID == "" {
			exam.ID = uuid.NewString()
		}
		exam.CreatedAt = time.Now()
		s.exams[exam.ID] = exam
	}
	result.ExamID = exam.ID

	now := time.Now()
	for _, st := range batch.Creates {
		if old, ok := s.students[st.Key()]; ok {
			old.GradeLevel = st.GradeLevel
			old.UpdatedAt = now
			s.students[st.Key()] = old
		} else {
			st.CreatedAt, st.UpdatedAt = now, now
			s.students[st.Key()] = st
		}
		result.CreatedStudents++
	}
	for _, st := range batch.Updates {
		if old, ok := s.students[st.Key()]; ok {
			old.GradeLevel = st.GradeLevel
			old.UpdatedAt = now
			s.students[st.Key()] = old
		}
		result.UpdatedStudents++
	}

	for _, r := range batch.Rows {
		key := resultKey{ExamID: exam.ID, StudentKey: r.Key()}
		stored, ok := s.results[key]
		if !ok || batch.ReplaceExisting {
			stored = &model.StudentRow{StudentID: r.StudentID, ClassName: r.ClassName}
		}
		if !ok {
			s.order = append(s.order, key)
		}
		stored.RowNo = r.RowNo
		mergeResult(stored, r)
		for _, sc := range r.Scores {
			replaced := false
			for i := range stored.Scores {
				if stored.Scores[i].Subject == sc.Subject {
					stored.Scores[i] = sc
					replaced = true
				}
			}
			if !replaced {
				stored.Scores = append(stored.Scores, sc)
			}
			result.ScoreRows++
		}
		s.results[key] = stored
		result.ResultRows++
	}
	return result, nil
}

// mergeResult 合并总分与排名，规则同 mergeResultSet
func mergeResult(stored, in *model.StudentRow) {
	if in.TotalScore != nil {
		stored.TotalScore = in.TotalScore
		stored.Derived &^= model.DerivedTotal
	}
	if in.ClassRank > 0 {
		stored.ClassRank = in.ClassRank
		stored.Derived &^= model.DerivedClassRank
	}
	if in.GradeRank > 0 {
		stored.GradeRank = in.GradeRank
		stored.Derived &^= model.DerivedGradeRank
	}
	stored.Derived |= in.Derived
}

// SaveDerived 写回重新计算的总分与排名
func (s *MemoryStore) SaveDerived(_ context.Context, examID string, rows []*model.StudentRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		stored, ok := s.results[resultKey{ExamID: examID, StudentKey: r.Key()}]
		if !ok {
			continue
		}
		stored.TotalScore = r.TotalScore
		stored.ClassRank = r.ClassRank
		stored.GradeRank = r.GradeRank
		stored.Derived = r.Derived
	}
	return nil
}

// ListExams 考试列表
func (s *MemoryStore) ListExams(context.Context) ([]model.ExamSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.ExamSummary
	for _, e := range s.exams {
		summary := model.ExamSummary{Exam: e}
		subjects := make(map[string]bool)
		for key, r := range s.results {
			if key.ExamID != e.ID {
				continue
			}
			summary.StudentCount++
			for _, sc := range r.Scores {
				subjects[sc.Subject] = true
			}
		}
		for subject := range subjects {
			summary.Subjects = append(summary.Subjects, subject)
		}
		sort.Strings(summary.Subjects)
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// GetExam 查询考试
func (s *MemoryStore) GetExam(_ context.Context, id string) (model.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exams[id]
	if !ok {
		return model.Exam{}, fmt.Errorf("exam %s: %w", id, ErrNotFound)
	}
	return e, nil
}

// GetExamScores 查询考试成绩（返回副本）
func (s *MemoryStore) GetExamScores(_ context.Context, examID, className string) ([]*model.StudentRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.StudentRow
	for _, key := range s.order {
		if key.ExamID != examID || (className != "" && key.ClassName != className) {
			continue
		}
		r := *s.results[key]
		r.Scores = append([]model.SubjectScore(nil), r.Scores...)
		if st, ok := s.students[key.StudentKey]; ok {
			r.Name = st.Name
			r.GradeLevel = st.GradeLevel
		}
		out = append(out, &r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ClassName != out[j].ClassName {
			return out[i].ClassName < out[j].ClassName
		}
		return out[i].RowNo < out[j].RowNo
	})
	return out, nil
}

// CreateImportLog 创建导入日志
func (s *MemoryStore) CreateImportLog(_ context.Context, log model.ImportLog) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	log.ID = s.nextID
	log.Status = "processing"
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	s.logs[log.ID] = log
	return log.ID, nil
}

// FinishImportLog 完成导入日志
func (s *MemoryStore) FinishImportLog(_ context.Context, log model.ImportLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.logs[log.ID]
	if !ok {
		return fmt.Errorf("import log %d: %w", log.ID, ErrNotFound)
	}
	log.BatchID = old.BatchID
	log.Filename = old.Filename
	log.FileSize = old.FileSize
	log.FileHash = old.FileHash
	log.StartedAt = old.StartedAt
	if log.CompletedAt == nil {
		now := time.Now()
		log.CompletedAt = &now
	}
	s.logs[log.ID] = log
	return nil
}

// InsertSheetMeta 写入 Sheet 元信息
func (s *MemoryStore) InsertSheetMeta(_ context.Context, meta model.SheetMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta.ID = int64(len(s.sheets) + 1)
	meta.CreatedAt = time.Now()
	s.sheets = append(s.sheets, meta)
	return nil
}

// ImportLog 查询导入日志
func (s *MemoryStore) ImportLog(id int64) (model.ImportLog, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[id]
	return log, ok
}

// SheetMetas 返回已写入的 Sheet 元信息
func (s *MemoryStore) SheetMetas() []model.SheetMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.SheetMeta(nil), s.sheets...)
}

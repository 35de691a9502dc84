package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gradeflow/internal/model"
)

func newSQLiteForTest(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "gradeflow.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()
	testStoreContract(t, newSQLiteForTest(t))
}

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	testStoreContract(t, NewMemory())
}

func TestSQLiteStore_MergeAndSaveDerived(t *testing.T) {
	t.Parallel()
	testMergeAndSaveDerived(t, newSQLiteForTest(t))
}

func TestMemoryStore_MergeAndSaveDerived(t *testing.T) {
	t.Parallel()
	testMergeAndSaveDerived(t, NewMemory())
}

func TestSQLiteStore_ImportLogAndSheetMeta(t *testing.T) {
	t.Parallel()
	testImportLog(t, newSQLiteForTest(t))
}

func TestMemoryStore_ImportLogAndSheetMeta(t *testing.T) {
	t.Parallel()
	s := NewMemory()
	id := testImportLog(t, s)

	log, ok := s.ImportLog(id)
	if !ok || log.Status != "done" || log.CompletedAt == nil {
		t.Fatalf("log=%+v ok=%v", log, ok)
	}
	if metas := s.SheetMetas(); len(metas) != 1 || metas[0].ImportLogID != id {
		t.Fatalf("metas=%+v", metas)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Options{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error")
	}
	s, err := Open(context.Background(), Options{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	_ = s.Close()
}

func scoreOf(v float64) *float64 { return model.Float64Ptr(v) }

func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	batch := model.ImportBatch{
		BatchID: "b1",
		Exam:    model.Exam{Name: "期中考试", ExamDate: "2024-11-05", GradeLevel: "高一"},
		Creates: []model.Student{
			{StudentID: "1", Name: "张三", ClassName: "高一(1)班", GradeLevel: "高一"},
			{StudentID: "2", Name: "李四", ClassName: "高一(1)班", GradeLevel: "高一"},
			{StudentID: "3", Name: "王五", ClassName: "高一(2)班", GradeLevel: "高一"},
		},
		Rows: []*model.StudentRow{
			{RowNo: 2, StudentID: "1", ClassName: "高一(1)班", TotalScore: scoreOf(210), ClassRank: 1, Scores: []model.SubjectScore{
				{Subject: "语文", Score: scoreOf(120)},
				{Subject: "数学", Score: scoreOf(90), Rank: 2},
			}},
			{RowNo: 3, StudentID: "2", ClassName: "高一(1)班", Scores: []model.SubjectScore{
				{Subject: "语文", Absent: true},
			}},
			{RowNo: 4, StudentID: "3", ClassName: "高一(2)班", Scores: []model.SubjectScore{
				{Subject: "语文", Score: scoreOf(100)},
			}},
		},
		SourceSheet: "Sheet1",
	}

	res, err := s.ApplyImport(ctx, batch)
	if err != nil {
		t.Fatalf("apply import: %v", err)
	}
	if res.ExamID == "" || res.CreatedStudents != 3 || res.ResultRows != 3 || res.ScoreRows != 4 {
		t.Fatalf("result=%+v", res)
	}

	// 同名同日期的考试复用同一 ID
	again, err := s.ApplyImport(ctx, model.ImportBatch{Exam: batch.Exam})
	if err != nil {
		t.Fatalf("apply empty batch: %v", err)
	}
	if again.ExamID != res.ExamID {
		t.Fatalf("exam id changed: %s vs %s", again.ExamID, res.ExamID)
	}

	students, err := s.FindStudentsByClasses(ctx, []string{"高一(1)班", "高一(1)班", ""})
	if err != nil {
		t.Fatalf("find by classes: %v", err)
	}
	if len(students) != 2 || students[0].StudentID != "1" || students[1].Name != "李四" {
		t.Fatalf("students=%+v", students)
	}
	byID, err := s.FindStudentsByIDs(ctx, []string{"3"})
	if err != nil || len(byID) != 1 || byID[0].ClassName != "高一(2)班" {
		t.Fatalf("by id=%+v err=%v", byID, err)
	}

	listed, err := s.ListStudents(ctx, StudentFilter{Keyword: "王"})
	if err != nil || len(listed) != 1 || listed[0].StudentID != "3" {
		t.Fatalf("list=%+v err=%v", listed, err)
	}
	paged, err := s.ListStudents(ctx, StudentFilter{Limit: 2, Offset: 1})
	if err != nil || len(paged) != 2 || paged[0].StudentID != "2" {
		t.Fatalf("paged=%+v err=%v", paged, err)
	}

	exams, err := s.ListExams(ctx)
	if err != nil || len(exams) != 1 {
		t.Fatalf("exams=%+v err=%v", exams, err)
	}
	if exams[0].StudentCount != 3 {
		t.Fatalf("student count=%d", exams[0].StudentCount)
	}
	if diff := cmp.Diff([]string{"数学", "语文"}, exams[0].Subjects); diff != "" {
		t.Fatalf("subjects mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.GetExam(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing exam err=%v", err)
	}
	exam, err := s.GetExam(ctx, res.ExamID)
	if err != nil || exam.Name != "期中考试" {
		t.Fatalf("exam=%+v err=%v", exam, err)
	}

	scores, err := s.GetExamScores(ctx, res.ExamID, "高一(1)班")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("scores=%d", len(scores))
	}
	first := scores[0]
	if first.Name != "张三" || first.GradeLevel != "高一" || first.TotalScore == nil || *first.TotalScore != 210 || first.ClassRank != 1 {
		t.Fatalf("first=%+v", first)
	}
	wantScores := []model.SubjectScore{
		{Subject: "语文", Score: scoreOf(120)},
		{Subject: "数学", Score: scoreOf(90), Rank: 2},
	}
	if diff := cmp.Diff(wantScores, first.Scores); diff != "" {
		t.Fatalf("scores mismatch (-want +got):\n%s", diff)
	}
	if s2, _ := scores[1].Score("语文"); !s2.Absent || s2.Score != nil || scores[1].TotalScore != nil {
		t.Fatalf("absent row=%+v", scores[1])
	}

	all, err := s.GetExamScores(ctx, res.ExamID, "")
	if err != nil || len(all) != 3 {
		t.Fatalf("all scores=%d err=%v", len(all), err)
	}

	// 覆盖导入：只保留新文件中的科目
	replace := model.ImportBatch{
		Exam:            model.Exam{ID: res.ExamID},
		Updates:         []model.Student{{StudentID: "1", Name: "张三", ClassName: "高一(1)班", GradeLevel: "高一"}},
		ReplaceExisting: true,
		Rows: []*model.StudentRow{
			{RowNo: 2, StudentID: "1", ClassName: "高一(1)班", Scores: []model.SubjectScore{{Subject: "英语", Score: scoreOf(130)}}},
		},
	}
	if _, err := s.ApplyImport(ctx, replace); err != nil {
		t.Fatalf("replace import: %v", err)
	}
	scores, err = s.GetExamScores(ctx, res.ExamID, "高一(1)班")
	if err != nil {
		t.Fatalf("scores after replace: %v", err)
	}
	if len(scores[0].Scores) != 1 || scores[0].Scores[0].Subject != "英语" || scores[0].TotalScore != nil {
		t.Fatalf("after replace=%+v", scores[0])
	}
}

func testMergeAndSaveDerived(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	exam := model.Exam{Name: "月考", ExamDate: "2024-10-08", GradeLevel: "高一"}
	first, err := s.ApplyImport(ctx, model.ImportBatch{
		Exam:    exam,
		Creates: []model.Student{{StudentID: "1001", Name: "张三", ClassName: "高一(1)班", GradeLevel: "高一"}},
		Rows: []*model.StudentRow{{
			RowNo: 2, StudentID: "1001", ClassName: "高一(1)班",
			TotalScore: scoreOf(500), ClassRank: 3, GradeRank: 12,
			Scores: []model.SubjectScore{{Subject: "语文", Score: scoreOf(120)}},
		}},
	})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}

	// 第二个 Sheet 只有数学：已有的总分与排名不应被清空
	if _, err := s.ApplyImport(ctx, model.ImportBatch{
		Exam: exam,
		Rows: []*model.StudentRow{{
			RowNo: 2, StudentID: "1001", ClassName: "高一(1)班",
			Scores: []model.SubjectScore{{Subject: "数学", Score: scoreOf(60)}},
		}},
	}); err != nil {
		t.Fatalf("second import: %v", err)
	}
	rows, err := s.GetExamScores(ctx, first.ExamID, "")
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	got := rows[0]
	if got.TotalScore == nil || *got.TotalScore != 500 || got.ClassRank != 3 || got.GradeRank != 12 {
		t.Fatalf("merged row=%+v", got)
	}
	if len(got.Scores) != 2 || got.Derived != 0 {
		t.Fatalf("merged scores=%+v derived=%b", got.Scores, got.Derived)
	}

	got.TotalScore = scoreOf(180)
	got.ClassRank = 1
	got.Derived = model.DerivedTotal | model.DerivedClassRank
	if err := s.SaveDerived(ctx, first.ExamID, rows); err != nil {
		t.Fatalf("save derived: %v", err)
	}
	rows, err = s.GetExamScores(ctx, first.ExamID, "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *rows[0].TotalScore != 180 || rows[0].ClassRank != 1 || rows[0].GradeRank != 12 || rows[0].Derived != got.Derived {
		t.Fatalf("saved row=%+v", rows[0])
	}

	// 文件再次给出班级排名时清除对应的计算标记
	if _, err := s.ApplyImport(ctx, model.ImportBatch{
		Exam: exam,
		Rows: []*model.StudentRow{{RowNo: 2, StudentID: "1001", ClassName: "高一(1)班", ClassRank: 4}},
	}); err != nil {
		t.Fatalf("third import: %v", err)
	}
	rows, err = s.GetExamScores(ctx, first.ExamID, "")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if rows[0].ClassRank != 4 || rows[0].Derived != model.DerivedTotal || *rows[0].TotalScore != 180 {
		t.Fatalf("after file rank=%+v", rows[0])
	}
}

func testImportLog(t *testing.T, s Store) int64 {
	t.Helper()
	ctx := context.Background()

	id, err := s.CreateImportLog(ctx, model.ImportLog{BatchID: "b1", Filename: "成绩.xlsx", FileSize: 1024, TotalSheets: 2})
	if err != nil || id == 0 {
		t.Fatalf("create log id=%d err=%v", id, err)
	}
	if err := s.InsertSheetMeta(ctx, model.SheetMeta{
		ImportLogID:       id,
		SheetName:         "Sheet1",
		Format:            "wide",
		Confidence:        0.95,
		ColumnMappingJSON: BuildJSON([]string{"学号", "姓名"}),
		Status:            "imported",
	}); err != nil {
		t.Fatalf("insert sheet meta: %v", err)
	}
	if err := s.FinishImportLog(ctx, model.ImportLog{ID: id, TotalSheets: 2, ImportedSheets: 1, SkippedSheets: 1, Status: "done"}); err != nil {
		t.Fatalf("finish log: %v", err)
	}
	return id
}

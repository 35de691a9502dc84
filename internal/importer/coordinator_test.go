package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"gradeflow/internal/model"
	"gradeflow/internal/parser"
	"gradeflow/internal/store"
)

type testSheet struct {
	name string
	rows [][]string
}

func workbookBytes(t *testing.T, sheets ...testSheet) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				t.Fatalf("rename sheet: %v", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
		for r, row := range s.rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
				if err := f.SetCellValue(s.name, cell, v); err != nil {
					t.Fatalf("set cell: %v", err)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func newTestCoordinator(st store.Store) *Coordinator {
	c := NewCoordinator(st, zap.NewNop(), Options{})
	n := 0
	c.newID = func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}
	return c
}

var wideSheet = testSheet{
	name: "高一(1)班",
	rows: [][]string{
		{"2024年11月5日高一期中考试成绩单"},
		{"学号", "姓名", "班级", "语文", "数学", "英语", "总分"},
		{"2024001", "张三", "高一(1)班", "120", "130", "110", "360"},
		{"2024002", "李四", "高一(1)班", "100", "缺考", "90", "190"},
		{"2024001", "张三", "高一(1)班", "120", "130", "110", "360"},
	},
}

func collectWarnings(events []ProgressEvent) []model.WarningCode {
	var out []model.WarningCode
	for _, evt := range events {
		if evt.Type != EventWarning {
			continue
		}
		if w, ok := evt.Data.(model.Warning); ok {
			out = append(out, w.Code)
		}
	}
	return out
}

func TestImport_WideSheet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	var events []ProgressEvent
	report, err := c.Run(ctx, ImportOptions{
		Source:       Source{Filename: "期中.xlsx", Data: workbookBytes(t, wideSheet)},
		ComputeRanks: true,
	}, func(evt ProgressEvent) { events = append(events, evt) })
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	if events[0].Type != EventStart || events[len(events)-1].Type != EventDone {
		t.Fatalf("unexpected event order: first=%s last=%s", events[0].Type, events[len(events)-1].Type)
	}
	if report.TotalSheets != 1 || report.ImportedSheets != 1 || report.ImportedRows != 2 || report.ErrorSheets != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if diff := cmp.Diff([]model.WarningCode{model.WarnDuplicateRow}, collectWarnings(events)); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}

	exams, err := st.ListExams(ctx)
	if err != nil || len(exams) != 1 {
		t.Fatalf("exams=%+v err=%v", exams, err)
	}
	exam := exams[0]
	if exam.Name != "高一期中考试" || exam.ExamDate != "2024-11-05" || exam.GradeLevel != "高一" {
		t.Fatalf("unexpected exam: %+v", exam.Exam)
	}
	if report.Sheets[0].ExamID != exam.ID {
		t.Fatalf("report exam id=%q want %q", report.Sheets[0].ExamID, exam.ID)
	}

	rows, err := st.GetExamScores(ctx, exam.ID, "")
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	zhang, li := rows[0], rows[1]
	if zhang.StudentID != "2024001" || zhang.ClassRank != 1 || zhang.GradeRank != 1 {
		t.Fatalf("unexpected first row: %+v", zhang)
	}
	if li.ClassRank != 2 {
		t.Fatalf("li class rank=%d", li.ClassRank)
	}
	math, ok := li.Score("数学")
	if !ok || !math.Absent || math.Score != nil {
		t.Fatalf("li math=%+v ok=%v", math, ok)
	}

	log, ok := st.ImportLog(1)
	if !ok || log.Status != "done" || log.ImportedSheets != 1 || log.Filename != "期中.xlsx" || log.FileHash == "" {
		t.Fatalf("unexpected import log: %+v", log)
	}
	metas := st.SheetMetas()
	if len(metas) != 1 || metas[0].Status != StatusImported || metas[0].Format != "wide" || metas[0].ImportLogID != 1 {
		t.Fatalf("unexpected sheet metas: %+v", metas)
	}
}

func TestImport_LongSheetMatchesExistingStudents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	if _, err := c.Run(ctx, ImportOptions{
		Source: Source{Filename: "期中.xlsx", Data: workbookBytes(t, wideSheet)},
	}, nil); err != nil {
		t.Fatalf("first import: %v", err)
	}

	long := testSheet{name: "Sheet1", rows: [][]string{
		{"姓名", "班级", "科目", "成绩"},
		{"张三", "高一(1)班", "物理", "88"},
		{"张三", "高一(1)班", "化学", "91"},
		{"王五", "高一(1)班", "物理", "70"},
	}}
	var events []ProgressEvent
	report, err := c.Run(ctx, ImportOptions{
		Source:   Source{Filename: "选考.xlsx", Data: workbookBytes(t, long)},
		ExamName: "高一期中考试",
		ExamDate: "2024-11-05",
	}, func(evt ProgressEvent) { events = append(events, evt) })
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if report.Sheets[0].Format != parser.FormatLong || report.Sheets[0].Created != 1 || report.Sheets[0].Updated != 1 {
		t.Fatalf("unexpected sheet result: %+v", report.Sheets[0])
	}

	want := []model.WarningCode{model.WarnMatchedByName, model.WarnGeneratedID}
	if diff := cmp.Diff(want, collectWarnings(events)); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}

	exams, _ := st.ListExams(ctx)
	if len(exams) != 1 {
		t.Fatalf("expected the exam to be reused, got %d", len(exams))
	}
	rows, err := st.GetExamScores(ctx, exams[0].ID, "高一(1)班")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	byID := map[string]*model.StudentRow{}
	for _, r := range rows {
		byID[r.StudentID] = r
	}
	if got := len(byID["2024001"].Scores); got != 5 {
		t.Fatalf("张三 should have 5 subjects, got %d", got)
	}
	if _, ok := byID["gen-3"]; !ok {
		t.Fatalf("generated student missing: %v", byID)
	}
}

func TestImport_LowConfidenceNeedsConfirmation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	data := workbookBytes(t, testSheet{name: "Sheet1", rows: [][]string{
		{"学号", "班级", "语文", "数学"},
		{"1", "高一1班", "90", "80"},
	}})

	var confirm *parser.SheetAnalysis
	report, err := c.Run(ctx, ImportOptions{Source: Source{Filename: "a.xlsx", Data: data}}, func(evt ProgressEvent) {
		if evt.Type == EventNeedsConfirmation {
			sa := evt.Data.(parser.SheetAnalysis)
			confirm = &sa
		}
	})
	if !errors.Is(err, ErrNeedsConfirmation) {
		t.Fatalf("expected ErrNeedsConfirmation, got %v", err)
	}
	if report.ConfirmSheets != 1 || report.ImportedSheets != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if confirm == nil || confirm.Confidence.Score >= parser.ConfidenceThreshold {
		t.Fatalf("needs_confirmation event missing or wrong: %+v", confirm)
	}
	if exams, _ := st.ListExams(ctx); len(exams) != 0 {
		t.Fatalf("nothing should be written, got %d exams", len(exams))
	}
	if log, _ := st.ImportLog(1); log.Status != "partial" {
		t.Fatalf("log status=%q", log.Status)
	}

	report, err = c.Run(ctx, ImportOptions{Source: Source{Filename: "a.xlsx", Data: data}, Force: true}, nil)
	if err != nil || report.ImportedSheets != 1 {
		t.Fatalf("forced import report=%+v err=%v", report, err)
	}
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	report, err := c.Run(ctx, ImportOptions{
		Source: Source{Filename: "期中.xlsx", Data: workbookBytes(t, wideSheet)},
		DryRun: true,
	}, nil)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || report.ImportedRows != 2 || report.Sheets[0].Created != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if exams, _ := st.ListExams(ctx); len(exams) != 0 {
		t.Fatalf("dry run wrote %d exams", len(exams))
	}
	if _, ok := st.ImportLog(1); ok || len(st.SheetMetas()) != 0 {
		t.Fatalf("dry run should not write import logs")
	}
}

func TestImport_SkipsEmptySheetsAndKeepsGoing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	data := workbookBytes(t,
		testSheet{name: "说明", rows: [][]string{{"本表由教务处导出"}}},
		wideSheet,
	)
	report, err := c.Run(ctx, ImportOptions{Source: Source{Filename: "期中.xlsx", Data: data}}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.SkippedSheets != 1 || report.ImportedSheets != 1 {
		t.Fatalf("unexpected report: %+v", report.Sheets)
	}
	if report.Sheets[0].Status != StatusSkipped {
		t.Fatalf("first sheet status=%q", report.Sheets[0].Status)
	}
}

func TestImport_InvalidRowsAreDropped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	data := workbookBytes(t, testSheet{name: "Sheet1", rows: [][]string{
		{"学号", "姓名", "班级", "语文", "数学"},
		{"1", "张三", "高一1班", "90", "80"},
		{"2", "李四", "高一1班", "9999", "80"},
	}})
	var events []ProgressEvent
	report, err := c.Run(ctx, ImportOptions{Source: Source{Filename: "a.xlsx", Data: data}}, func(evt ProgressEvent) {
		events = append(events, evt)
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.ImportedRows != 1 || report.ErrorRows != 1 {
		t.Fatalf("imported=%d errors=%d", report.ImportedRows, report.ErrorRows)
	}
	if diff := cmp.Diff([]model.WarningCode{model.WarnInvalidRow}, collectWarnings(events)); diff != "" {
		t.Fatalf("warnings mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_UnreadableFile(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(store.NewMemory())
	_, err := c.Run(context.Background(), ImportOptions{Source: Source{Filename: "a.xls", Data: []byte("x")}}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestAnalyze_FromPath(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "期中.xlsx")
	if err := os.WriteFile(path, workbookBytes(t,
		wideSheet,
		testSheet{name: "Sheet2", rows: [][]string{{"学号", "班级", "语文"}, {"1", "高一1班", "90"}}},
	), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c := newTestCoordinator(store.NewMemory())
	res, err := c.Analyze(context.Background(), Source{FilePath: path}, AnalyzeOptions{})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Filename != "期中.xlsx" || len(res.Sheets) != 2 || !res.NeedsConfirmation {
		t.Fatalf("unexpected analysis: %+v", res)
	}
	if res.Sheets[0].SheetName != "高一(1)班" || res.Sheets[0].NeedsConfirmation {
		t.Fatalf("first sheet: %+v", res.Sheets[0])
	}
	if res.Threshold != parser.ConfidenceThreshold {
		t.Fatalf("threshold=%v", res.Threshold)
	}

	res, err = c.Analyze(context.Background(), Source{FilePath: path}, AnalyzeOptions{
		Formats: map[string]parser.SheetFormat{"Sheet2": parser.FormatWide},
		Overrides: map[string][]parser.ColumnOverride{
			"Sheet2": {{Index: 0, Field: parser.FieldName}},
		},
	})
	if err != nil {
		t.Fatalf("analyze with overrides: %v", err)
	}
	if res.Sheets[1].Structure.Reason != "用户指定" || res.Sheets[1].Classification.Columns[0].Source != parser.SourceUser {
		t.Fatalf("overrides not applied: %+v", res.Sheets[1])
	}
}

func TestImport_GradeRanksSpanClassSheets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	header := []string{"学号", "姓名", "班级", "语文", "数学", "英语", "总分"}
	class1 := testSheet{name: "高一(1)班", rows: [][]string{
		header,
		{"1001", "张三", "高一(1)班", "100", "80", "70", "250"},
		{"1002", "李四", "高一(1)班", "80", "60", "60", "200"},
	}}
	class2 := testSheet{name: "高一(2)班", rows: [][]string{
		header,
		{"2001", "王五", "高一(2)班", "100", "100", "80", "280"},
		{"2002", "赵六", "高一(2)班", "50", "50", "50", "150"},
	}}

	report, err := c.Run(ctx, ImportOptions{
		Source:       Source{Filename: "期中.xlsx", Data: workbookBytes(t, class1, class2)},
		ExamName:     "高一期中考试",
		ExamDate:     "2024-11-05",
		ComputeRanks: true,
	}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.ImportedSheets != 2 || report.Sheets[0].ExamID != report.Sheets[1].ExamID {
		t.Fatalf("unexpected report: %+v", report)
	}

	rows, err := st.GetExamScores(ctx, report.Sheets[0].ExamID, "")
	if err != nil {
		t.Fatalf("scores: %v", err)
	}
	type ranks struct {
		ID           string
		Class, Grade int
	}
	var got []ranks
	for _, r := range rows {
		got = append(got, ranks{ID: r.StudentID, Class: r.ClassRank, Grade: r.GradeRank})
	}
	want := []ranks{
		{ID: "1001", Class: 1, Grade: 2},
		{ID: "1002", Class: 2, Grade: 3},
		{ID: "2001", Class: 1, Grade: 1},
		{ID: "2002", Class: 2, Grade: 4},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ranks mismatch (-want +got):\n%s", diff)
	}
}

func TestImport_SingleSubjectSheetsMergeTotals(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := store.NewMemory()
	c := newTestCoordinator(st)

	header := []string{"学号", "姓名", "班级", "成绩"}
	chinese := testSheet{name: "语文", rows: [][]string{
		header,
		{"1001", "张三", "高一(1)班", "120"},
		{"1002", "李四", "高一(1)班", "90"},
	}}
	math := testSheet{name: "数学", rows: [][]string{
		header,
		{"1001", "张三", "高一(1)班", "60"},
		{"1002", "李四", "高一(1)班", "140"},
	}}

	report, err := c.Run(ctx, ImportOptions{
		Source:       Source{Filename: "单科.xlsx", Data: workbookBytes(t, chinese, math)},
		ExamName:     "高一月考",
		ExamDate:     "2024-10-08",
		Force:        true,
		ComputeRanks: true,
	}, nil)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.ImportedSheets != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	rows, err := st.GetExamScores(ctx, report.Sheets[0].ExamID, "")
	if err != nil || len(rows) != 2 {
		t.Fatalf("rows=%d err=%v", len(rows), err)
	}
	zhang, li := rows[0], rows[1]
	if len(zhang.Scores) != 2 || zhang.TotalScore == nil || *zhang.TotalScore != 180 {
		t.Fatalf("zhang=%+v", zhang)
	}
	if li.TotalScore == nil || *li.TotalScore != 230 {
		t.Fatalf("li=%+v", li)
	}
	if zhang.ClassRank != 2 || li.ClassRank != 1 || zhang.GradeRank != 2 || li.GradeRank != 1 {
		t.Fatalf("ranks zhang=%d/%d li=%d/%d", zhang.ClassRank, zhang.GradeRank, li.ClassRank, li.GradeRank)
	}
	if !li.Derived.Has(model.DerivedTotal | model.DerivedClassRank | model.DerivedGradeRank) {
		t.Fatalf("li derived=%b", li.Derived)
	}
}

package analysis

import (
	"testing"

	"gradeflow/internal/model"
)

func studentRow(id, class string, total float64) *model.StudentRow {
	return &model.StudentRow{StudentID: id, ClassName: class, GradeLevel: "高一", TotalScore: model.Float64Ptr(total)}
}

func TestComputeRanks_CompetitionRanking(t *testing.T) {
	t.Parallel()

	rows := []*model.StudentRow{
		studentRow("1", "高一(1)班", 300),
		studentRow("2", "高一(1)班", 280),
		studentRow("3", "高一(1)班", 280),
		studentRow("4", "高一(1)班", 250),
		studentRow("5", "高一(2)班", 290),
	}
	ComputeRanks(rows)

	wantClass := []int{1, 2, 2, 4, 1}
	wantGrade := []int{1, 3, 3, 5, 2}
	for i, row := range rows {
		if row.ClassRank != wantClass[i] || row.GradeRank != wantGrade[i] {
			t.Fatalf("row %s: class=%d grade=%d want %d/%d", row.StudentID, row.ClassRank, row.GradeRank, wantClass[i], wantGrade[i])
		}
	}
}

func TestComputeRanks_KeepsExistingAndFillsTotal(t *testing.T) {
	t.Parallel()

	withRank := studentRow("1", "高一(1)班", 200)
	withRank.ClassRank = 7
	noTotal := &model.StudentRow{
		StudentID: "2", ClassName: "高一(1)班", GradeLevel: "高一",
		Scores: []model.SubjectScore{
			{Subject: "语文", Score: model.Float64Ptr(120)},
			{Subject: "数学", Absent: true},
			{Subject: "英语", Score: model.Float64Ptr(110)},
		},
	}
	empty := &model.StudentRow{StudentID: "3", ClassName: "高一(1)班"}

	ComputeRanks([]*model.StudentRow{withRank, noTotal, empty})

	if withRank.ClassRank != 7 {
		t.Fatalf("existing rank overwritten: %d", withRank.ClassRank)
	}
	if noTotal.TotalScore == nil || *noTotal.TotalScore != 230 || noTotal.ClassRank != 1 {
		t.Fatalf("noTotal=%+v", noTotal)
	}
	if empty.TotalScore != nil || empty.ClassRank != 0 {
		t.Fatalf("row without scores should stay unranked: %+v", empty)
	}
}

func TestComputeRanks_RefreshesDerivedValues(t *testing.T) {
	t.Parallel()

	// 第二次计算时补齐了数学成绩：系统计算的总分与排名应刷新，文件给出的排名保持
	first := &model.StudentRow{
		StudentID: "1001", ClassName: "高一(1)班", GradeLevel: "高一",
		Scores: []model.SubjectScore{{Subject: "语文", Score: model.Float64Ptr(120)}},
	}
	second := &model.StudentRow{
		StudentID: "1002", ClassName: "高一(1)班", GradeLevel: "高一",
		Scores: []model.SubjectScore{{Subject: "语文", Score: model.Float64Ptr(90)}},
	}
	ComputeRanks([]*model.StudentRow{first, second})
	if first.ClassRank != 1 || second.ClassRank != 2 {
		t.Fatalf("first pass: %d/%d", first.ClassRank, second.ClassRank)
	}
	if !first.Derived.Has(model.DerivedTotal | model.DerivedClassRank | model.DerivedGradeRank) {
		t.Fatalf("derived flags not set: %b", first.Derived)
	}

	first.Scores = append(first.Scores, model.SubjectScore{Subject: "数学", Score: model.Float64Ptr(60)})
	second.Scores = append(second.Scores, model.SubjectScore{Subject: "数学", Score: model.Float64Ptr(140)})
	second.GradeRank = 9
	second.Derived &^= model.DerivedGradeRank
	ComputeRanks([]*model.StudentRow{first, second})

	if *first.TotalScore != 180 || *second.TotalScore != 230 {
		t.Fatalf("totals not refreshed: %v/%v", *first.TotalScore, *second.TotalScore)
	}
	if first.ClassRank != 2 || second.ClassRank != 1 {
		t.Fatalf("class ranks not refreshed: %d/%d", first.ClassRank, second.ClassRank)
	}
	if second.GradeRank != 9 {
		t.Fatalf("rank from file overwritten: %d", second.GradeRank)
	}
}

func TestComputeRanks_FileTotalNotDerived(t *testing.T) {
	t.Parallel()

	row := studentRow("1", "高一(1)班", 500)
	row.Scores = []model.SubjectScore{{Subject: "语文", Score: model.Float64Ptr(100)}}
	ComputeRanks([]*model.StudentRow{row})

	if *row.TotalScore != 500 || row.Derived.Has(model.DerivedTotal) {
		t.Fatalf("file total replaced: %v derived=%b", *row.TotalScore, row.Derived)
	}
	if row.ClassRank != 1 || row.GradeRank != 1 {
		t.Fatalf("ranks=%d/%d", row.ClassRank, row.GradeRank)
	}
}

package analysis

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gradeflow/internal/model"
)

func TestSubjectStats(t *testing.T) {
	t.Parallel()

	scores := []model.SubjectScore{
		{Subject: "语文", Score: model.Float64Ptr(130)},
		{Subject: "语文", Score: model.Float64Ptr(90)},
		{Subject: "语文", Score: model.Float64Ptr(80)},
		{Subject: "语文", Absent: true},
	}
	got := SubjectStats("语文", scores, 150)
	want := model.SubjectStat{
		Subject:       "语文",
		FullMarks:     150,
		Count:         3,
		Absent:        1,
		Mean:          100,
		Max:           130,
		Min:           80,
		PassRate:      0.67,
		ExcellentRate: 0.33,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("stat mismatch (-want +got):\n%s", diff)
	}
}

func TestFullMarks(t *testing.T) {
	t.Parallel()

	fm := DefaultFullMarks().Merge(map[string]float64{"物理": 110, "英语": 120})
	cases := map[string]float64{"语文": 150, "英语": 120, "物理": 110, "化学": 100}
	for subject, want := range cases {
		if got := fm.Of(subject); got != want {
			t.Fatalf("%s full marks=%v want=%v", subject, got, want)
		}
	}
}

func TestExamStats_FilterByClass(t *testing.T) {
	t.Parallel()

	rows := []*model.StudentRow{
		{ClassName: "高一(1)班", Scores: []model.SubjectScore{
			{Subject: "数学", Score: model.Float64Ptr(100)},
			{Subject: "语文", Score: model.Float64Ptr(120)},
		}},
		{ClassName: "高一(1)班", Scores: []model.SubjectScore{
			{Subject: "数学", Score: model.Float64Ptr(140)},
		}, TotalScore: model.Float64Ptr(140)},
		{ClassName: "高一(2)班", Scores: []model.SubjectScore{
			{Subject: "物理", Score: model.Float64Ptr(60)},
		}},
	}
	stats := ExamStats("e1", "高一(1)班", rows, DefaultFullMarks())

	if stats.Students != 2 || stats.TotalMean != 180 {
		t.Fatalf("students=%d totalMean=%v", stats.Students, stats.TotalMean)
	}
	var subjects []string
	for _, s := range stats.Subjects {
		subjects = append(subjects, s.Subject)
	}
	if diff := cmp.Diff([]string{"语文", "数学"}, subjects); diff != "" {
		t.Fatalf("subjects mismatch (-want +got):\n%s", diff)
	}
	if stats.Subjects[1].Mean != 120 || stats.Subjects[1].FullMarks != 150 {
		t.Fatalf("数学 stat=%+v", stats.Subjects[1])
	}
}

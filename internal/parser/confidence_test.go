package parser

import (
	"slices"
	"testing"
)

func TestScoreConfidence(t *testing.T) {
	t.Parallel()

	c := NewHeaderClassifier()
	cases := []struct {
		name    string
		headers []string
		format  SheetFormat
		want    float64
		confirm bool
	}{
		{"complete wide", []string{"学号", "姓名", "班级", "语文", "数学"}, FormatWide, 1, false},
		{"student id covers half of class", []string{"学号", "姓名", "语文", "数学"}, FormatWide, 0.9, false},
		{"no class at threshold", []string{"姓名", "语文", "数学"}, FormatWide, 0.8, false},
		{"no name", []string{"学号", "班级", "语文", "数学"}, FormatWide, 0.6, true},
		{"contains match", []string{"学生的姓名", "班级", "语文"}, FormatWide, 0.94, false},
		{"long", []string{"学号", "姓名", "班级", "科目", "成绩"}, FormatLong, 1, false},
		{"long missing score", []string{"学号", "姓名", "班级", "科目"}, FormatLong, 0.6, true},
		{"conflict penalty", []string{"学号", "考号", "姓名", "班级", "语文"}, FormatWide, 0.95, false},
		{"duplicate subject column not penalized", []string{"学号", "姓名", "班级", "语文", "语文成绩"}, FormatWide, 1, false},
		{"school name column", []string{"学校名称", "学号", "姓名", "班级", "语文", "年级排名"}, FormatWide, 1, false},
		{"unknown format", []string{"学号", "姓名", "班级"}, FormatUnknown, 0.6, true},
	}

	for _, tc := range cases {
		res := ScoreConfidence(c.Classify(tc.headers), tc.format)
		if res.Score != tc.want {
			t.Fatalf("%s: score=%.3f want=%.3f components=%v", tc.name, res.Score, tc.want, res.Components)
		}
		if got := NeedsConfirmation(res, tc.format, ConfidenceThreshold); got != tc.confirm {
			t.Fatalf("%s: needsConfirmation=%v want=%v", tc.name, got, tc.confirm)
		}
	}
}

func TestScoreConfidence_Missing(t *testing.T) {
	t.Parallel()

	res := ScoreConfidence(NewHeaderClassifier().Classify([]string{"学号", "语文"}), FormatWide)
	if !slices.Contains(res.Missing, FieldName) || !slices.Contains(res.Missing, FieldClass) {
		t.Fatalf("missing=%v", res.Missing)
	}
}

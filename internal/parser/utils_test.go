package parser

import "testing"

func TestNormalizeColumnName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"  语文（150分）\n": "语文(150分)",
		"学 号":          "学号",
		"【总分】":         "[总分]",
		"数学\r\n成绩":     "数学成绩",
	}
	for in, want := range cases {
		if got := NormalizeColumnName(in); got != want {
			t.Fatalf("NormalizeColumnName(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestNormalizeStudentID_ExcelArtifacts(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"20230101.0":  "20230101",
		"2.0230101E7": "20230101",
		" ２０２３ ":      "2023",
		"'00123":      "00123",
		"A-001":       "A-001",
	}
	for in, want := range cases {
		if got := NormalizeStudentID(in); got != want {
			t.Fatalf("NormalizeStudentID(%q)=%q want=%q", in, got, want)
		}
	}
}

func TestNormalizeClassName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, grade, want string
	}{
		{"高一3班", "", "高一(3)班"},
		{"高一（3）班", "", "高一(3)班"},
		{"高一年级03班", "", "高一(3)班"},
		{"初二(12)", "", "初二(12)班"},
		{"3", "高二", "高二(3)班"},
		{"3班", "", "3班"},
		{"实验班", "", "实验班"},
		{"", "高一", ""},
	}
	for _, c := range cases {
		if got := NormalizeClassName(c.in, c.grade); got != c.want {
			t.Fatalf("NormalizeClassName(%q,%q)=%q want=%q", c.in, c.grade, got, c.want)
		}
	}

	if got := InferGradeLevel("高一(3)班"); got != "高一" {
		t.Fatalf("InferGradeLevel got=%q", got)
	}
	if got := InferGradeLevel("实验班"); got != "" {
		t.Fatalf("InferGradeLevel got=%q", got)
	}
}

func TestClassFromSheetName(t *testing.T) {
	t.Parallel()

	if got, ok := ClassFromSheetName("高一3班"); !ok || got != "高一(3)班" {
		t.Fatalf("got=%q ok=%v", got, ok)
	}
	if _, ok := ClassFromSheetName("Sheet1"); ok {
		t.Fatalf("Sheet1 should not be a class")
	}
}

func TestExtractExamNameAndDate(t *testing.T) {
	t.Parallel()

	name, ok := ExtractExamName("2024学年第一学期期中考试成绩单")
	if !ok || name != "2024学年第一学期期中考试" {
		t.Fatalf("exam name got=%q ok=%v", name, ok)
	}
	if _, ok := ExtractExamName("学生名单"); ok {
		t.Fatalf("学生名单 should not be an exam title")
	}

	date, ok := ExtractExamDate("期中考试 2024年11月5日")
	if !ok || date != "2024-11-05" {
		t.Fatalf("exam date got=%q ok=%v", date, ok)
	}
	if _, ok := ExtractExamDate("2024-13-01"); ok {
		t.Fatalf("month 13 should be rejected")
	}
}

func TestParseScoreCell(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
		kind cellKind
	}{
		{"120", 120, cellNumber},
		{"１２０", 120, cellNumber},
		{"1,20", 120, cellNumber},
		{"95分", 95, cellNumber},
		{"87.5", 87.5, cellNumber},
		{"缺考", 0, cellAbsent},
		{"-", 0, cellAbsent},
		{"—", 0, cellAbsent},
		{"作弊", 0, cellAbsent},
		{"", 0, cellEmpty},
		{"abc", 0, cellInvalid},
		{"-5", 0, cellInvalid},
	}
	for _, c := range cases {
		got, kind := parseScoreCell(c.in)
		if kind != c.kind || got != c.want {
			t.Fatalf("parseScoreCell(%q)=(%v,%v) want=(%v,%v)", c.in, got, kind, c.want, c.kind)
		}
	}
}

func TestParseRank(t *testing.T) {
	t.Parallel()

	cases := map[string]int{"3": 3, "第3名": 3, "3.0": 3, "": 0, "x": 0, "0": 0}
	for in, want := range cases {
		if got := parseRank(in); got != want {
			t.Fatalf("parseRank(%q)=%d want=%d", in, got, want)
		}
	}
}

func TestMatchSubject_LongestAliasWins(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"信息技术":   "信息技术",
		"通用技术成绩": "通用技术",
		"道德与法治":  "政治",
		"外语":     "英语",
		"理科综合":   "理综",
	}
	for in, want := range cases {
		got, _, ok := MatchSubject(in)
		if !ok || got != want {
			t.Fatalf("MatchSubject(%q)=%q ok=%v want=%q", in, got, ok, want)
		}
	}
	if _, _, ok := MatchSubject("备注"); ok {
		t.Fatalf("备注 should not match a subject")
	}
}

func TestSubjectFromSheetName(t *testing.T) {
	t.Parallel()

	if s, ok := SubjectFromSheetName("物理成绩"); !ok || s != "物理" {
		t.Fatalf("got=%q ok=%v", s, ok)
	}
	if _, ok := SubjectFromSheetName("物理竞赛名单"); ok {
		t.Fatalf("物理竞赛名单 should not be a subject sheet")
	}
}

package parser

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectHeaderRow_TitleAboveHeader(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"2024学年第一学期期中考试成绩单"},
		{},
		{"学号", "姓名", "班级", "语文", "数学", ""},
		{"1", "张三", "高一1班", "90", "80"},
	}
	info, ok := DetectHeaderRow(rows, 0)
	if !ok {
		t.Fatalf("header not found")
	}
	want := HeaderInfo{
		RowIndex: 2,
		Depth:    1,
		Headers:  []string{"学号", "姓名", "班级", "语文", "数学"},
		Title:    "2024学年第一学期期中考试成绩单",
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Fatalf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectHeaderRow_TwoRowHeader(t *testing.T) {
	t.Parallel()

	rows := [][]string{
		{"姓名", "班级", "语文", "", "数学", ""},
		{"", "", "分数", "排名", "分数", "排名"},
		{"张三", "高一1班", "90", "3", "80", "5"},
	}
	info, ok := DetectHeaderRow(rows, 0)
	if !ok {
		t.Fatalf("header not found")
	}
	if info.RowIndex != 1 || info.Depth != 2 {
		t.Fatalf("row=%d depth=%d", info.RowIndex, info.Depth)
	}
	want := []string{"姓名", "班级", "语文分数", "语文排名", "数学分数", "数学排名"}
	if diff := cmp.Diff(want, info.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}

	cols := NewHeaderClassifier().Classify(info.Headers).Columns
	if cols[3].Field != FieldSubjectRank || cols[3].Subject != "语文" {
		t.Fatalf("语文排名 => %+v", cols[3])
	}
}

func TestDetectHeaderRow_VerticallyMergedParent(t *testing.T) {
	t.Parallel()

	// 纵向合并填充后，"姓名" 在两行中都出现
	rows := [][]string{
		{"姓名", "班级", "语文", "", "数学", ""},
		{"姓名", "班级", "成绩", "名次", "成绩", "名次"},
		{"张三", "高一1班", "90", "3", "80", "5"},
	}
	info, ok := DetectHeaderRow(rows, 0)
	if !ok || info.Depth != 2 || info.RowIndex != 1 {
		t.Fatalf("info=%+v ok=%v", info, ok)
	}
	want := []string{"姓名", "班级", "语文成绩", "语文名次", "数学成绩", "数学名次"}
	if diff := cmp.Diff(want, info.Headers); diff != "" {
		t.Fatalf("headers mismatch (-want +got):\n%s", diff)
	}
}

func TestDetectHeaderRow_NotFound(t *testing.T) {
	t.Parallel()

	if _, ok := DetectHeaderRow([][]string{{"a", "b"}, {"1", "2"}}, 0); ok {
		t.Fatalf("expected no header")
	}
}

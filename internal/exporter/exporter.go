package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"gradeflow/internal/analysis"
	"gradeflow/internal/model"
)

const (
	templateSheet = "成绩录入"
	readmeSheet   = "填写说明"
	statsSheet    = "统计"

	percentNumFmt = 10 // 0.00%
)

// DefaultSubjects 模板默认科目
var DefaultSubjects = []string{"语文", "数学", "英语", "物理", "化学", "生物", "政治", "历史", "地理"}

var templateNotes = []string{
	"1. 每行一名学生，学号与姓名至少填写一项。",
	"2. 班级填写如 高一(1)班，同一文件可包含多个班级。",
	"3. 缺考请填写 缺考，不要留 0 分。",
	"4. 可按需增删科目列，列名使用科目名称即可。",
	"5. 总分与排名可留空，导入时可自动计算。",
}

// NewTemplateWorkbook 创建宽表导入模板
func NewTemplateWorkbook(subjects []string) (*excelize.File, error) {
	if len(subjects) == 0 {
		subjects = DefaultSubjects
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", templateSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	headers := append([]string{"学号", "姓名", "班级"}, subjects...)
	headers = append(headers, "总分", "班级排名")
	if err := writeHeaderRow(f, templateSheet, 1, headers); err != nil {
		_ = f.Close()
		return nil, err
	}
	example := []interface{}{"2024001", "张三", "高一(1)班"}
	for range subjects {
		example = append(example, "")
	}
	if err := f.SetSheetRow(templateSheet, "A2", &example); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.SetPanes(templateSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		_ = f.Close()
		return nil, err
	}
	f.SetColWidth(templateSheet, "A", "A", 14)
	f.SetColWidth(templateSheet, "C", "C", 14)

	if _, err := f.NewSheet(readmeSheet); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, note := range templateNotes {
		f.SetCellValue(readmeSheet, fmt.Sprintf("A%d", i+1), note)
	}
	f.SetColWidth(readmeSheet, "A", "A", 60)

	f.SetActiveSheet(0)
	return f, nil
}

// WriteTemplate 输出导入模板
func WriteTemplate(w io.Writer, subjects []string) error {
	f, err := NewTemplateWorkbook(subjects)
	if err != nil {
		return fmt.Errorf("failed to build template: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}

// ExamWorkbook 导出一次考试的成绩（宽表）与统计
func ExamWorkbook(exam model.Exam, rows []*model.StudentRow, stats model.ExamStats, progress func(ProgressEvent)) (*excelize.File, error) {
	reportProgress(progress, 0, "准备导出")

	subjects := examSubjects(rows)
	sheet := sheetName(exam.Name)

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	headers := append([]string{"学号", "姓名", "班级"}, subjects...)
	headers = append(headers, "总分", "班级排名", "年级排名")

	title := strings.TrimSpace(exam.Name + "成绩单 " + exam.ExamDate)
	f.SetCellValue(sheet, "A1", title)
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := f.MergeCell(sheet, "A1", last); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeHeaderRow(f, sheet, 2, headers); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, r := range rows {
		values := []interface{}{r.StudentID, r.Name, r.ClassName}
		for _, subject := range subjects {
			values = append(values, scoreCell(r, subject))
		}
		var total interface{}
		if r.TotalScore != nil {
			total = *r.TotalScore
		}
		values = append(values, total, rankCell(r.ClassRank), rankCell(r.GradeRank))

		cell, _ := excelize.CoordinatesToCellName(1, i+3)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("写入第 %d 行失败: %w", i+3, err)
		}
		if len(rows) >= 10 && i%(len(rows)/10) == 0 {
			reportProgress(progress, 10+80*i/len(rows), "写入成绩")
		}
	}
	f.SetColWidth(sheet, "A", "A", 14)
	f.SetColWidth(sheet, "C", "C", 14)

	reportProgress(progress, 90, "写入统计")
	if err := writeStatsSheet(f, stats); err != nil {
		_ = f.Close()
		return nil, err
	}

	f.SetActiveSheet(0)
	reportProgress(progress, 100, "完成")
	return f, nil
}

// WriteExam 输出考试成绩工作簿
func WriteExam(w io.Writer, exam model.Exam, rows []*model.StudentRow, stats model.ExamStats) error {
	f, err := ExamWorkbook(exam, rows, stats, nil)
	if err != nil {
		return fmt.Errorf("failed to build exam workbook: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write exam workbook: %w", err)
	}
	return nil
}

func writeStatsSheet(f *excelize.File, stats model.ExamStats) error {
	if _, err := f.NewSheet(statsSheet); err != nil {
		return err
	}
	headers := []string{"科目", "满分", "人数", "缺考", "平均分", "最高分", "最低分", "及格率", "优秀率"}
	if err := writeHeaderRow(f, statsSheet, 1, headers); err != nil {
		return err
	}

	percent, _ := f.NewStyle(&excelize.Style{NumFmt: percentNumFmt})
	for i, s := range stats.Subjects {
		row := i + 2
		values := []interface{}{s.Subject, s.FullMarks, s.Count, s.Absent, s.Mean, s.Max, s.Min, s.PassRate, s.ExcellentRate}
		if err := f.SetSheetRow(statsSheet, fmt.Sprintf("A%d", row), &values); err != nil {
			return err
		}
		f.SetCellStyle(statsSheet, fmt.Sprintf("H%d", row), fmt.Sprintf("I%d", row), percent)
	}

	footer := len(stats.Subjects) + 3
	f.SetCellValue(statsSheet, fmt.Sprintf("A%d", footer), "参考人数")
	f.SetCellValue(statsSheet, fmt.Sprintf("B%d", footer), stats.Students)
	f.SetCellValue(statsSheet, fmt.Sprintf("A%d", footer+1), "总分均分")
	f.SetCellValue(statsSheet, fmt.Sprintf("B%d", footer+1), stats.TotalMean)
	return nil
}

func writeHeaderRow(f *excelize.File, sheet string, row int, headers []string) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	return f.SetRowStyle(sheet, row, row, headerStyle)
}

// examSubjects 成绩中出现的全部科目，按常见顺序
func examSubjects(rows []*model.StudentRow) []string {
	seen := map[string]bool{}
	var subjects []string
	for _, r := range rows {
		for _, s := range r.Scores {
			if !seen[s.Subject] {
				seen[s.Subject] = true
				subjects = append(subjects, s.Subject)
			}
		}
	}
	analysis.SortSubjects(subjects)
	return subjects
}

func scoreCell(r *model.StudentRow, subject string) interface{} {
	s, ok := r.Score(subject)
	switch {
	case !ok:
		return nil
	case s.Absent:
		return "缺考"
	case s.Score == nil:
		return nil
	}
	return *s.Score
}

func rankCell(rank int) interface{} {
	if rank <= 0 {
		return nil
	}
	return rank
}

// sheetName Excel 限制 Sheet 名 31 个字符且不能包含 []:*?/\
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		if strings.ContainsRune(`[]:*?/\`, r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" {
		return "成绩"
	}
	if runes := []rune(name); len(runes) > 31 {
		name = string(runes[:31])
	}
	return name
}

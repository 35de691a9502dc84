package parser

import (
	"fmt"
	"strings"

	"gradeflow/internal/model"
)

// ExtractOptions 数据行提取参数
type ExtractOptions struct {
	SheetName      string
	DataStart      int    // 首个数据行的行索引（0 起）
	ImpliedSubject string // 单科表：通用成绩列对应的科目
	DefaultClass   string // 无班级列时使用（如 Sheet 名为 "高一(3)班"）
}

// ExtractResult 数据行提取结果
type ExtractResult struct {
	Rows      []*model.StudentRow
	Warnings  []model.Warning
	Skipped   int    // 空行、汇总行
	ErrorRows int    // 缺少身份信息的行
	ExamName  string // 考试列中的首个值
}

func (r *ExtractResult) warn(code model.WarningCode, sheet string, rowNo int, row *model.StudentRow, format string, args ...any) {
	w := model.Warning{
		Code:    code,
		Sheet:   sheet,
		RowNo:   rowNo,
		Message: fmt.Sprintf(format, args...),
	}
	if row != nil {
		w.StudentID = row.StudentID
		w.ClassName = row.ClassName
	}
	r.Warnings = append(r.Warnings, w)
}

// rowExtractor 按列映射读取身份字段
type rowExtractor struct {
	opts   ExtractOptions
	cols   []ColumnMapping
	id     int
	name   int
	class  int
	grade  int
	total  int
	cRank  int
	gRank  int
	exam   int
	result ExtractResult
}

func newRowExtractor(cols []ColumnMapping, opts ExtractOptions) *rowExtractor {
	e := &rowExtractor{opts: opts, cols: cols}
	e.id = indexOf(cols, FieldStudentID)
	e.name = indexOf(cols, FieldName)
	e.class = indexOf(cols, FieldClass)
	e.grade = indexOf(cols, FieldGradeLevel)
	e.total = indexOf(cols, FieldTotalScore)
	e.cRank = indexOf(cols, FieldClassRank)
	e.gRank = indexOf(cols, FieldGradeRank)
	e.exam = indexOf(cols, FieldExam)

	if e.class < 0 && opts.DefaultClass == "" {
		e.result.warn(model.WarnMissingClass, opts.SheetName, 0, nil, "未找到班级列，学生将以空班级导入")
	}
	return e
}

// identity 解析行的身份字段；返回 nil 表示该行被跳过
func (e *rowExtractor) identity(row []string, rowNo int) *model.StudentRow {
	if isBlankRow(row) {
		e.result.Skipped++
		return nil
	}

	id := NormalizeStudentID(cellAt(row, e.id))
	name := NormalizeName(cellAt(row, e.name))
	if isSummaryRow(id, name, row) {
		e.result.Skipped++
		return nil
	}
	if id == "" && name == "" {
		e.result.ErrorRows++
		e.result.warn(model.WarnInvalidRow, e.opts.SheetName, rowNo, nil, "第 %d 行缺少学号和姓名", rowNo)
		return nil
	}

	grade := NormalizeGradeLevel(cellAt(row, e.grade))
	class := NormalizeClassName(cellAt(row, e.class), grade)
	if class == "" {
		class = e.opts.DefaultClass
	}
	if grade == "" {
		grade = InferGradeLevel(class)
	}

	if e.result.ExamName == "" {
		e.result.ExamName = strings.TrimSpace(cellAt(row, e.exam))
	}

	out := &model.StudentRow{
		RowNo:      rowNo,
		StudentID:  id,
		Name:       name,
		ClassName:  class,
		GradeLevel: grade,
	}
	e.readSummary(out, row)
	return out
}

// readSummary 读取总分与总分排名
func (e *rowExtractor) readSummary(out *model.StudentRow, row []string) {
	if e.total >= 0 {
		v, kind := parseScoreCell(cellAt(row, e.total))
		switch kind {
		case cellNumber:
			out.TotalScore = model.Float64Ptr(v)
		case cellInvalid:
			e.result.warn(model.WarnInvalidScore, e.opts.SheetName, out.RowNo, out,
				"总分无法解析：%q", cellAt(row, e.total))
		}
	}
	if r := parseRank(cellAt(row, e.cRank)); r > 0 && out.ClassRank == 0 {
		out.ClassRank = r
	}
	if r := parseRank(cellAt(row, e.gRank)); r > 0 && out.GradeRank == 0 {
		out.GradeRank = r
	}
}

// readScore 解析成绩单元格；无法解析时记告警并返回 false
func (e *rowExtractor) readScore(out *model.StudentRow, subject, raw string) (model.SubjectScore, bool) {
	v, kind := parseScoreCell(raw)
	switch kind {
	case cellNumber:
		return model.SubjectScore{Subject: subject, Score: model.Float64Ptr(v)}, true
	case cellAbsent:
		return model.SubjectScore{Subject: subject, Absent: true}, true
	case cellInvalid:
		e.result.warn(model.WarnInvalidScore, e.opts.SheetName, out.RowNo, out,
			"%s 成绩无法解析：%q", subject, raw)
	}
	return model.SubjectScore{}, false
}

// ExtractWide 提取宽表数据行：每行一个学生，每科一列
func ExtractWide(rows [][]string, cols []ColumnMapping, opts ExtractOptions) ExtractResult {
	e := newRowExtractor(cols, opts)

	scoreCols := columnsOf(cols, FieldSubjectScore)
	if opts.ImpliedSubject != "" {
		if col, ok := findColumn(cols, FieldScore); ok {
			col.Subject = opts.ImpliedSubject
			scoreCols = append(scoreCols, col)
		}
	}
	rankCols := columnsOf(cols, FieldSubjectRank)

	for i := opts.DataStart; i < len(rows); i++ {
		row := rows[i]
		out := e.identity(row, i+1)
		if out == nil {
			continue
		}
		for _, col := range scoreCols {
			if s, ok := e.readScore(out, col.Subject, cellAt(row, col.Index)); ok {
				out.SetScore(s)
			}
		}
		for _, col := range rankCols {
			rank := parseRank(cellAt(row, col.Index))
			if rank == 0 {
				continue
			}
			for j := range out.Scores {
				if out.Scores[j].Subject == col.Subject && out.Scores[j].Rank == 0 {
					out.Scores[j].Rank = rank
				}
			}
		}
		e.result.Rows = append(e.result.Rows, out)
	}
	return e.result
}

// ExtractLong 提取长表数据行：每行一个（学生，科目），按学生聚合
func ExtractLong(rows [][]string, cols []ColumnMapping, opts ExtractOptions) ExtractResult {
	e := newRowExtractor(cols, opts)
	subjectIdx := indexOf(cols, FieldSubject)
	scoreIdx := indexOf(cols, FieldScore)

	// 长表中的排名列随行对应科目
	rankIdx := indexOf(cols, FieldSubjectRank)
	if rankIdx < 0 && e.cRank >= 0 && cols[e.cRank].Confidence < 1 {
		rankIdx = e.cRank
		e.cRank = -1
	}

	byKey := make(map[string]*model.StudentRow)
	for i := opts.DataStart; i < len(rows); i++ {
		row := rows[i]
		rowNo := i + 1
		cur := e.identity(row, rowNo)
		if cur == nil {
			continue
		}

		key := cur.StudentID
		if key == "" {
			key = "name:" + cur.Name
		}
		key += "|" + cur.ClassName

		out, exists := byKey[key]
		if !exists {
			out = cur
			byKey[key] = out
			e.result.Rows = append(e.result.Rows, out)
		} else {
			if out.TotalScore == nil {
				out.TotalScore = cur.TotalScore
			}
			if out.ClassRank == 0 {
				out.ClassRank = cur.ClassRank
			}
			if out.GradeRank == 0 {
				out.GradeRank = cur.GradeRank
			}
		}

		subject := CanonicalSubject(cellAt(row, subjectIdx))
		if subject == "" {
			e.result.warn(model.WarnInvalidRow, opts.SheetName, rowNo, out, "第 %d 行缺少科目", rowNo)
			continue
		}
		s, ok := e.readScore(out, subject, cellAt(row, scoreIdx))
		if !ok {
			continue
		}
		s.Rank = parseRank(cellAt(row, rankIdx))
		if !out.SetScore(s) {
			prev, _ := out.Score(subject)
			e.result.warn(model.WarnDuplicateScore, opts.SheetName, rowNo, out,
				"%s 的 %s 成绩重复且不一致，保留第 %d 行之前的值 %s", displayName(out), subject, rowNo, formatScore(prev))
		}
	}
	return e.result
}

func indexOf(cols []ColumnMapping, field FieldKind) int {
	if col, ok := findColumn(cols, field); ok {
		return col.Index
	}
	return -1
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// isSummaryRow 平均分、最高分等统计行
func isSummaryRow(id, name string, row []string) bool {
	if EqualsAny(name, summaryRowTokens) || EqualsAny(id, summaryRowTokens) {
		return true
	}
	if id == "" && name == "" {
		for _, c := range row {
			if EqualsAny(NormalizeName(c), summaryRowTokens) {
				return true
			}
		}
	}
	return false
}

func displayName(r *model.StudentRow) string {
	if r.Name != "" {
		return r.Name
	}
	return r.StudentID
}

func formatScore(s model.SubjectScore) string {
	if s.Absent || s.Score == nil {
		return "缺考"
	}
	return fmt.Sprintf("%g", *s.Score)
}

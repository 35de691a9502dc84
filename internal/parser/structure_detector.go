package parser

import (
	"fmt"
	"math"
)

// StructureDetector 宽表/长表识别器
type StructureDetector struct{}

// NewStructureDetector 创建结构识别器
func NewStructureDetector() *StructureDetector {
	return &StructureDetector{}
}

// Detect 根据列映射与样本数据行识别表结构
func (d *StructureDetector) Detect(sheetName string, cols []ColumnMapping, rows [][]string) StructureResult {
	_, hasSubject := findColumn(cols, FieldSubject)
	_, hasScore := findColumn(cols, FieldScore)
	subjectScores := columnsOf(cols, FieldSubjectScore)

	// 长表：科目列 + 成绩列
	if hasSubject && hasScore {
		if hasRepeatedIdentity(cols, rows) {
			return StructureResult{
				Format:     FormatLong,
				Confidence: 1,
				Reason:     "存在科目列与成绩列，且同一学生出现在多行",
			}
		}
		return StructureResult{
			Format:     FormatLong,
			Confidence: 0.9,
			Reason:     "存在科目列与成绩列",
		}
	}

	// 宽表：多个科目成绩列时，置信度随科目列在成绩类列中的占比升高
	switch n := len(subjectScores); {
	case n == 1:
		return StructureResult{
			Format:     FormatWide,
			Confidence: 0.7,
			Reason:     fmt.Sprintf("单科成绩列：%s", subjectScores[0].Subject),
		}
	case n >= 2:
		scoreLike := n + len(columnsOf(cols, FieldTotalScore)) + countNumericUnknown(cols, rows)
		ratio := float64(n) / float64(scoreLike)
		return StructureResult{
			Format:     FormatWide,
			Confidence: round3(0.6 + 0.4*ratio),
			Reason:     fmt.Sprintf("%d 个科目成绩列，占成绩类列 %.0f%%", n, ratio*100),
		}
	}

	// 单科表：Sheet 名为科目、只有通用成绩列
	if hasScore && !hasSubject {
		if subject, ok := SubjectFromSheetName(sheetName); ok {
			return StructureResult{
				Format:         FormatWide,
				Confidence:     0.7,
				Reason:         fmt.Sprintf("Sheet 名为科目 %s，成绩列视为该科成绩", subject),
				ImpliedSubject: subject,
			}
		}
	}

	return StructureResult{
		Format:     FormatUnknown,
		Confidence: 0,
		Reason:     "未找到科目成绩列，也未找到科目列与成绩列",
	}
}

// DetectStructure 使用默认识别器识别表结构
func DetectStructure(sheetName string, cols []ColumnMapping, rows [][]string) StructureResult {
	return NewStructureDetector().Detect(sheetName, cols, rows)
}

// hasRepeatedIdentity 样本中同一学生是否以不同科目出现在多行
func hasRepeatedIdentity(cols []ColumnMapping, rows [][]string) bool {
	subjectCol, ok := findColumn(cols, FieldSubject)
	if !ok {
		return false
	}
	identity, ok := findColumn(cols, FieldStudentID)
	if !ok {
		if identity, ok = findColumn(cols, FieldName); !ok {
			return false
		}
	}

	seen := make(map[string]string)
	for _, row := range rows {
		id := NormalizeStudentID(cellAt(row, identity.Index))
		subject := CanonicalSubject(cellAt(row, subjectCol.Index))
		if id == "" || subject == "" {
			continue
		}
		if prev, exists := seen[id]; exists && prev != subject {
			return true
		}
		seen[id] = subject
	}
	return false
}

// countNumericUnknown 统计未识别但样本以数值为主的列
func countNumericUnknown(cols []ColumnMapping, rows [][]string) int {
	count := 0
	for _, col := range cols {
		if col.Field != FieldUnknown {
			continue
		}
		numeric, filled := 0, 0
		for _, row := range rows {
			v := cellAt(row, col.Index)
			if v == "" {
				continue
			}
			filled++
			if isNumericCell(v) {
				numeric++
			}
		}
		if filled > 0 && numeric*2 > filled {
			count++
		}
	}
	return count
}

// cellAt 安全取单元格
func cellAt(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

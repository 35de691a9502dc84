package parser

import (
	"sort"
	"strings"
)

// HeaderClassifier 表头分类器：将原始列名映射为语义字段
type HeaderClassifier struct{}

// NewHeaderClassifier 创建表头分类器
func NewHeaderClassifier() *HeaderClassifier {
	return &HeaderClassifier{}
}

// Classify 对整行表头分类
func (c *HeaderClassifier) Classify(headers []string) Classification {
	return c.ClassifyWithOverrides(headers, nil)
}

// ClassifyWithOverrides 分类后应用用户确认的映射；用户映射在冲突中优先
func (c *HeaderClassifier) ClassifyWithOverrides(headers []string, overrides []ColumnOverride) Classification {
	cols := make([]ColumnMapping, len(headers))
	for i, h := range headers {
		field, subject, conf := c.classifyColumn(NormalizeColumnName(h))
		cols[i] = ColumnMapping{
			Index:      i,
			Header:     h,
			Field:      field,
			Subject:    subject,
			Confidence: conf,
			Source:     SourceRule,
		}
	}

	inferFromContext(cols)

	for _, o := range overrides {
		if o.Index < 0 || o.Index >= len(cols) || !o.Field.IsValid() {
			continue
		}
		col := &cols[o.Index]
		col.Field = o.Field
		col.Subject = ""
		if o.Field == FieldSubjectScore || o.Field == FieldSubjectRank {
			col.Subject = CanonicalSubject(o.Subject)
			if col.Subject == "" {
				if s, _, ok := MatchSubject(NormalizeColumnName(col.Header)); ok {
					col.Subject = s
				}
			}
		}
		col.Confidence = 1
		col.Source = SourceUser
	}

	return Classification{
		Columns:   cols,
		Conflicts: resolveConflicts(cols),
	}
}

// classifyColumn 单列分类，返回字段、科目与置信度
func (c *HeaderClassifier) classifyColumn(col string) (FieldKind, string, float64) {
	if col == "" {
		return FieldUnknown, "", 0
	}
	if EqualsAny(col, ignoredExact) {
		return FieldIgnored, "", 1
	}

	// 去掉括号说明，如 "语文(满分150)"
	bare := stripParens(col)
	if bare == "" {
		bare = col
	}

	// 精确匹配
	switch {
	case EqualsAny(bare, studentIDExact):
		return FieldStudentID, "", 1
	case EqualsAny(bare, nameExact):
		return FieldName, "", 1
	case EqualsAny(bare, classExact):
		return FieldClass, "", 1
	case EqualsAny(bare, gradeLevelExact):
		return FieldGradeLevel, "", 1
	case EqualsAny(bare, subjectColumnExact):
		return FieldSubject, "", 1
	case EqualsAny(bare, scoreExact):
		return FieldScore, "", 1
	case EqualsAny(bare, totalExact):
		return FieldTotalScore, "", 1
	case EqualsAny(bare, examExact):
		return FieldExam, "", 1
	}

	// 排名类字段先于包含匹配，避免 "班级排名" 被识别为班级
	if field, subject, conf, ok := classifyRank(bare); ok {
		return field, subject, conf
	}

	if MatchPattern(bare, levelPattern) {
		return FieldIgnored, "", 0.9
	}

	// 科目 + 成绩后缀
	subject, rest, hasSubject := MatchSubject(bare)
	if hasSubject && EqualsAny(rest, scoreSuffixes) {
		return FieldSubjectScore, subject, 1
	}

	// 包含匹配
	switch {
	case MatchPattern(bare, studentIDPattern):
		return FieldStudentID, "", 0.85
	case MatchPattern(bare, namePattern):
		return FieldName, "", 0.85
	case MatchPattern(bare, classPattern):
		return FieldClass, "", 0.85
	case MatchPattern(bare, gradeLevelPattern):
		return FieldGradeLevel, "", 0.85
	case MatchPattern(bare, totalPattern):
		return FieldTotalScore, "", 0.85
	}

	if hasSubject {
		return FieldSubjectScore, subject, 0.85
	}

	switch {
	case MatchPattern(bare, subjectColumnPattern):
		return FieldSubject, "", 0.85
	case MatchPattern(bare, scorePattern):
		return FieldScore, "", 0.85
	case MatchPattern(bare, examPattern):
		return FieldExam, "", 0.85
	}

	return FieldUnknown, "", 0
}

// classifyRank 排名列分类
func classifyRank(col string) (FieldKind, string, float64, bool) {
	isClassRank := MatchPattern(col, classRankPattern)
	isGradeRank := !isClassRank && MatchPattern(col, gradeRankPattern)
	if !isClassRank && !isGradeRank && !ContainsAny(col, rankTokens) {
		return "", "", 0, false
	}

	if subject, _, ok := MatchSubject(col); ok {
		return FieldSubjectRank, subject, 1, true
	}

	exact := func(pattern string) float64 {
		if EqualsAny(col, strings.Split(pattern, "|")) {
			return 1
		}
		return 0.9
	}
	switch {
	case isClassRank:
		return FieldClassRank, "", exact(classRankPattern), true
	case isGradeRank:
		return FieldGradeRank, "", exact(gradeRankPattern), true
	case ContainsAny(col, []string{"总分", "总成绩"}):
		return FieldClassRank, "", 0.7, true
	}
	// 裸 "排名"/"名次"：归属待上下文判断
	return FieldClassRank, "", 0.6, true
}

// inferFromContext 根据前一列推断裸排名列的归属（如 "语文 | 名次"）
func inferFromContext(cols []ColumnMapping) {
	for i := range cols {
		col := &cols[i]
		if col.Field != FieldClassRank || col.Confidence > 0.7 || col.Source != SourceRule {
			continue
		}
		for back := 1; back <= 2; back++ {
			j := i - back
			if j < 0 {
				break
			}
			prev := cols[j]
			if prev.Field == FieldUnknown || prev.Field == FieldIgnored {
				continue
			}
			switch prev.Field {
			case FieldSubjectScore:
				col.Field = FieldSubjectRank
				col.Subject = prev.Subject
				col.Confidence = 0.8
				col.Source = SourceContext
			case FieldTotalScore:
				col.Confidence = 0.8
				col.Source = SourceContext
			}
			break
		}
	}
}

// resolveConflicts 单值字段被多列占用时保留置信度最高的一列，其余标记为忽略
func resolveConflicts(cols []ColumnMapping) []Conflict {
	type key struct {
		field   FieldKind
		subject string
	}
	groups := make(map[key][]int)
	var order []key
	for i, col := range cols {
		var k key
		switch {
		case singleValued[col.Field]:
			k = key{field: col.Field}
		case col.Field == FieldSubjectScore || col.Field == FieldSubjectRank:
			k = key{field: col.Field, subject: col.Subject}
		default:
			continue
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	var conflicts []Conflict
	for _, k := range order {
		idxs := groups[k]
		if len(idxs) < 2 {
			continue
		}
		sort.SliceStable(idxs, func(a, b int) bool {
			ca, cb := cols[idxs[a]], cols[idxs[b]]
			if (ca.Source == SourceUser) != (cb.Source == SourceUser) {
				return ca.Source == SourceUser
			}
			if ca.Confidence != cb.Confidence {
				return ca.Confidence > cb.Confidence
			}
			return ca.Index < cb.Index
		})
		kept := idxs[0]
		for _, loser := range idxs[1:] {
			conflicts = append(conflicts, Conflict{
				Field:   k.field,
				Subject: k.subject,
				Kept:    kept,
				Dropped: loser,
			})
			cols[loser].Field = FieldIgnored
			cols[loser].Subject = ""
		}
	}
	return conflicts
}

// findColumn 返回字段对应的列
func findColumn(cols []ColumnMapping, field FieldKind) (ColumnMapping, bool) {
	for _, col := range cols {
		if col.Field == field {
			return col, true
		}
	}
	return ColumnMapping{}, false
}

// columnsOf 返回字段对应的全部列
func columnsOf(cols []ColumnMapping, field FieldKind) []ColumnMapping {
	var out []ColumnMapping
	for _, col := range cols {
		if col.Field == field {
			out = append(out, col)
		}
	}
	return out
}

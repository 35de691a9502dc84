package parser

// ConfidenceThreshold 自动导入所需的最低映射置信度
const ConfidenceThreshold = 0.8

// 置信度权重
const (
	weightName  = 0.4
	weightClass = 0.2
	weightScore = 0.4

	conflictPenalty = 0.05
)

// ScoreConfidence 计算映射置信度：0.4·姓名 + 0.2·班级 + 0.4·成绩
func ScoreConfidence(cls Classification, format SheetFormat) ConfidenceResult {
	cols := cls.Columns
	var missing []FieldKind

	name := 0.0
	if col, ok := findColumn(cols, FieldName); ok {
		name = col.Confidence
	} else {
		missing = append(missing, FieldName)
	}

	class := 0.0
	if col, ok := findColumn(cols, FieldClass); ok {
		class = col.Confidence
	} else {
		missing = append(missing, FieldClass)
		// 学号可部分替代班级
		if id, ok := findColumn(cols, FieldStudentID); ok {
			class = 0.5 * id.Confidence
		}
	}

	score := 0.0
	switch format {
	case FormatWide:
		subjectScores := columnsOf(cols, FieldSubjectScore)
		if len(subjectScores) > 0 {
			sum := 0.0
			for _, col := range subjectScores {
				sum += col.Confidence
			}
			score = sum / float64(len(subjectScores))
		} else if col, ok := findColumn(cols, FieldScore); ok {
			score = col.Confidence
		} else {
			missing = append(missing, FieldSubjectScore)
		}
	case FormatLong:
		subjectCol, hasSubject := findColumn(cols, FieldSubject)
		scoreCol, hasScore := findColumn(cols, FieldScore)
		if !hasSubject {
			missing = append(missing, FieldSubject)
		}
		if !hasScore {
			missing = append(missing, FieldScore)
		}
		if hasSubject && hasScore {
			score = min(subjectCol.Confidence, scoreCol.Confidence)
		}
	default:
		missing = append(missing, FieldSubjectScore)
	}

	total := weightName*name + weightClass*class + weightScore*score
	// 同科目多列不扣分，只有唯一字段的冲突说明映射有歧义
	for _, cf := range cls.Conflicts {
		if singleValued[cf.Field] {
			total -= conflictPenalty
		}
	}
	total = max(0, min(1, total))

	return ConfidenceResult{
		Score: round3(total),
		Components: map[string]float64{
			"name":  round3(name),
			"class": round3(class),
			"score": round3(score),
		},
		Missing: missing,
	}
}

// NeedsConfirmation 是否需要用户确认映射
func NeedsConfirmation(conf ConfidenceResult, format SheetFormat, threshold float64) bool {
	if threshold <= 0 {
		threshold = ConfidenceThreshold
	}
	return format == FormatUnknown || conf.Score < threshold
}

package parser

import "time"

// FieldKind 列的语义字段
type FieldKind string

const (
	FieldStudentID    FieldKind = "student_id"
	FieldName         FieldKind = "name"
	FieldClass        FieldKind = "class"
	FieldGradeLevel   FieldKind = "grade_level"
	FieldSubjectScore FieldKind = "subject_score" // 宽表：某科成绩列
	FieldSubject      FieldKind = "subject"       // 长表：科目名称列
	FieldScore        FieldKind = "score"         // 长表：通用成绩列
	FieldTotalScore   FieldKind = "total_score"
	FieldClassRank    FieldKind = "class_rank"
	FieldGradeRank    FieldKind = "grade_rank"
	FieldSubjectRank  FieldKind = "subject_rank"
	FieldExam         FieldKind = "exam"
	FieldIgnored      FieldKind = "ignored"
	FieldUnknown      FieldKind = "unknown"
)

// singleValued 每个 Sheet 只能有一列的字段
var singleValued = map[FieldKind]bool{
	FieldStudentID:  true,
	FieldName:       true,
	FieldClass:      true,
	FieldGradeLevel: true,
	FieldSubject:    true,
	FieldScore:      true,
	FieldTotalScore: true,
	FieldClassRank:  true,
	FieldGradeRank:  true,
	FieldExam:       true,
}

// IsValid 是否为已知字段
func (k FieldKind) IsValid() bool {
	switch k {
	case FieldStudentID, FieldName, FieldClass, FieldGradeLevel, FieldSubjectScore,
		FieldSubject, FieldScore, FieldTotalScore, FieldClassRank, FieldGradeRank,
		FieldSubjectRank, FieldExam, FieldIgnored, FieldUnknown:
		return true
	}
	return false
}

// MappingSource 映射来源
type MappingSource string

const (
	SourceRule    MappingSource = "rule"    // 词典匹配
	SourceContext MappingSource = "context" // 根据相邻列推断
	SourceUser    MappingSource = "user"    // 用户确认
)

// ColumnMapping 列映射结果
type ColumnMapping struct {
	Index      int           `json:"index"`             // 列索引（0 起）
	Header     string        `json:"header"`            // 原始列名
	Field      FieldKind     `json:"field"`             // 语义字段
	Subject    string        `json:"subject,omitempty"` // 科目（subject_score/subject_rank）
	Confidence float64       `json:"confidence"`        // 单列置信度 0-1
	Source     MappingSource `json:"source"`
}

// Conflict 多列竞争同一字段
type Conflict struct {
	Field   FieldKind `json:"field"`
	Subject string    `json:"subject,omitempty"`
	Kept    int       `json:"kept"`
	Dropped int       `json:"dropped"`
}

// Classification 表头分类结果
type Classification struct {
	Columns   []ColumnMapping `json:"columns"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
}

// ColumnOverride 用户确认的列映射
type ColumnOverride struct {
	Index   int       `json:"index"`
	Field   FieldKind `json:"field"`
	Subject string    `json:"subject,omitempty"`
}

// SheetFormat 表结构
type SheetFormat string

const (
	FormatWide    SheetFormat = "wide"
	FormatLong    SheetFormat = "long"
	FormatUnknown SheetFormat = "unknown"
)

// StructureResult 结构识别结果
type StructureResult struct {
	Format         SheetFormat `json:"format"`
	Confidence     float64     `json:"confidence"`
	Reason         string      `json:"reason"`
	ImpliedSubject string      `json:"impliedSubject,omitempty"` // 单科表：由 Sheet 名推断的科目
}

// ConfidenceResult 映射置信度
type ConfidenceResult struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components"`
	Missing    []FieldKind        `json:"missing,omitempty"`
}

// HeaderInfo 表头定位结果
type HeaderInfo struct {
	RowIndex int      `json:"rowIndex"` // 最后一行表头的行索引（0 起）
	Depth    int      `json:"depth"`    // 表头行数（1 或 2）
	Headers  []string `json:"headers"`
	Title    string   `json:"title,omitempty"`
}

// ParseResult 单个 Sheet 的处理结果
type ParseResult struct {
	SheetName    string        `json:"sheetName"`
	Format       SheetFormat   `json:"format"`
	Confidence   float64       `json:"confidence"`
	Status       string        `json:"status"` // imported/skipped/needs_confirmation/error
	ExamID       string        `json:"examId,omitempty"`
	ImportedRows int           `json:"importedRows"`
	ErrorRows    int           `json:"errorRows"`
	Created      int           `json:"createdStudents"`
	Updated      int           `json:"updatedStudents"`
	Warnings     int           `json:"warnings"`
	Errors       []string      `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// ImportReport 导入报告
type ImportReport struct {
	BatchID        string        `json:"batchId"`
	Filename       string        `json:"filename"`
	DryRun         bool          `json:"dryRun"`
	TotalSheets    int           `json:"totalSheets"`
	ImportedSheets int           `json:"importedSheets"`
	SkippedSheets  int           `json:"skippedSheets"`
	ConfirmSheets  int           `json:"needsConfirmationSheets"`
	ErrorSheets    int           `json:"errorSheets"`
	TotalRows      int           `json:"totalRows"`
	ImportedRows   int           `json:"importedRows"`
	ErrorRows      int           `json:"errorRows"`
	Duration       time.Duration `json:"duration"`
	Sheets         []ParseResult `json:"sheets"`
}

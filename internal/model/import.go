package model

import "time"

// WarningCode 数据质量告警类型
type WarningCode string

const (
	WarnDuplicateRow        WarningCode = "duplicate_row"          // 文件内同一学生重复出现
	WarnDuplicateScore      WarningCode = "duplicate_score"        // 同一学生同一科目出现不同成绩
	WarnNameCollision       WarningCode = "name_collision"         // 同班不同学号同名
	WarnNameMismatch        WarningCode = "name_mismatch"          // 学号匹配但姓名不一致
	WarnIDInMultipleClasses WarningCode = "id_in_multiple_classes" // 同一学号出现在多个班级
	WarnMatchedByName       WarningCode = "matched_by_name"        // 无学号，按班级+姓名匹配到已有学生
	WarnGeneratedID         WarningCode = "generated_id"           // 无学号且无法匹配，系统生成学号
	WarnInvalidScore        WarningCode = "invalid_score"          // 成绩无法解析
	WarnMissingClass        WarningCode = "missing_class"          // 缺少班级
	WarnInvalidRow          WarningCode = "invalid_row"            // 行校验失败
	WarnMappingConflict     WarningCode = "mapping_conflict"       // 多列映射到同一字段
)

// Warning 导入告警
type Warning struct {
	Code      WarningCode `json:"code"`
	Sheet     string      `json:"sheet,omitempty"`
	RowNo     int         `json:"rowNo,omitempty"`
	StudentID string      `json:"studentId,omitempty"`
	ClassName string      `json:"className,omitempty"`
	Message   string      `json:"message"`
}

// ImportBatch 一次事务性写入的内容
type ImportBatch struct {
	BatchID         string
	Exam            Exam
	Creates         []Student
	Updates         []Student
	Rows            []*StudentRow
	ReplaceExisting bool // 写入前删除该考试下这些学生的已有成绩
	SourceFile      string
	SourceSheet     string
}

// ApplyResult 写入结果
type ApplyResult struct {
	ExamID          string `json:"examId"`
	CreatedStudents int    `json:"createdStudents"`
	UpdatedStudents int    `json:"updatedStudents"`
	ResultRows      int    `json:"resultRows"`
	ScoreRows       int    `json:"scoreRows"`
}

// SheetMeta Sheet 元信息（用于追溯识别结果与映射）
type SheetMeta struct {
	ID                int64     `json:"id"`
	ImportLogID       int64     `json:"importLogId"`
	SheetName         string    `json:"sheetName"`
	Format            string    `json:"format"`
	Confidence        float64   `json:"confidence"`
	HeaderRow         int       `json:"headerRow"`
	TotalRows         int       `json:"totalRows"`
	ImportedRows      int       `json:"importedRows"`
	ColumnsJSON       string    `json:"columnsJson"`
	ColumnMappingJSON string    `json:"columnMappingJson"`
	WarningsJSON      string    `json:"warningsJson"`
	Status            string    `json:"status"`
	ErrorMessage      string    `json:"errorMessage"`
	SourceFile        string    `json:"sourceFile"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ImportLog 导入日志
type ImportLog struct {
	ID             int64      `json:"id"`
	BatchID        string     `json:"batchId"`
	Filename       string     `json:"filename"`
	FileSize       int64      `json:"fileSize"`
	FileHash       string     `json:"fileHash"`
	TotalSheets    int        `json:"totalSheets"`
	ImportedSheets int        `json:"importedSheets"`
	SkippedSheets  int        `json:"skippedSheets"`
	TotalRows      int        `json:"totalRows"`
	ImportedRows   int        `json:"importedRows"`
	ErrorRows      int        `json:"errorRows"`
	Status         string     `json:"status"`
	ErrorMessage   string     `json:"errorMessage"`
	StartedAt      time.Time  `json:"startedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
}

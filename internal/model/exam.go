package model

import "time"

// Exam 考试
type Exam struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	ExamDate   string    `json:"examDate"` // YYYY-MM-DD，可为空
	GradeLevel string    `json:"gradeLevel"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ExamSummary 考试列表项
type ExamSummary struct {
	Exam
	StudentCount int      `json:"studentCount"`
	Subjects     []string `json:"subjects"`
}

// SubjectStat 单科统计
type SubjectStat struct {
	Subject       string  `json:"subject"`
	FullMarks     float64 `json:"fullMarks"`
	Count         int     `json:"count"`  // 有成绩人数
	Absent        int     `json:"absent"` // 缺考人数
	Mean          float64 `json:"mean"`
	Max           float64 `json:"max"`
	Min           float64 `json:"min"`
	PassRate      float64 `json:"passRate"`      // 及格率（>=60%）
	ExcellentRate float64 `json:"excellentRate"` // 优秀率（>=85%）
}

// ExamStats 考试统计
type ExamStats struct {
	ExamID    string        `json:"examId"`
	ClassName string        `json:"className,omitempty"`
	Students  int           `json:"students"`
	Subjects  []SubjectStat `json:"subjects"`
	TotalMean float64       `json:"totalMean"`
}

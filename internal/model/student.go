package model

import "time"

// Student 学生档案，以（学号，班级）作为复合键
type Student struct {
	StudentID  string    `json:"studentId"`
	Name       string    `json:"name"`
	ClassName  string    `json:"className"`
	GradeLevel string    `json:"gradeLevel"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StudentKey 学生复合键
type StudentKey struct {
	StudentID string
	ClassName string
}

// Key 返回学生复合键
func (s Student) Key() StudentKey {
	return StudentKey{StudentID: s.StudentID, ClassName: s.ClassName}
}

// SubjectScore 单科成绩
type SubjectScore struct {
	Subject string   `json:"subject" validate:"required,max=32"`
	Score   *float64 `json:"score" validate:"omitempty,gte=0,lte=1000"` // 缺考时为 nil
	Absent  bool     `json:"absent"`                                    // 缺考/免考
	Rank    int      `json:"rank" validate:"gte=0"`                     // 单科排名，0 表示未知
}

// StudentRow 一个学生在一次考试中的成绩（宽表/长表统一后的形态）
type StudentRow struct {
	RowNo      int            `json:"rowNo" validate:"gte=0"`
	StudentID  string         `json:"studentId" validate:"max=64"`
	Name       string         `json:"name" validate:"required_without=StudentID,max=64"`
	ClassName  string         `json:"className" validate:"max=64"`
	GradeLevel string         `json:"gradeLevel"`
	Scores     []SubjectScore `json:"scores" validate:"dive"`
	TotalScore *float64       `json:"totalScore" validate:"omitempty,gte=0"`
	ClassRank  int            `json:"classRank" validate:"gte=0"`
	GradeRank  int            `json:"gradeRank" validate:"gte=0"`

	GeneratedID bool          `json:"generatedId,omitempty"` // 学号由系统生成
	Derived     DerivedFields `json:"derived,omitempty"`     // 由系统计算的字段
}

// DerivedFields 标记总分/排名由系统计算而非来自文件，重新计算时只覆盖这些字段
type DerivedFields uint8

const (
	DerivedTotal DerivedFields = 1 << iota
	DerivedClassRank
	DerivedGradeRank
)

// Has 是否包含指定标记
func (d DerivedFields) Has(f DerivedFields) bool { return d&f == f }

// Key 返回行对应的学生复合键
func (r *StudentRow) Key() StudentKey {
	return StudentKey{StudentID: r.StudentID, ClassName: r.ClassName}
}

// Score 查找指定科目的成绩
func (r *StudentRow) Score(subject string) (SubjectScore, bool) {
	for _, s := range r.Scores {
		if s.Subject == subject {
			return s, true
		}
	}
	return SubjectScore{}, false
}

// SetScore 写入科目成绩；已存在且数值不同则返回 false（保留首个值）
func (r *StudentRow) SetScore(score SubjectScore) bool {
	for i, s := range r.Scores {
		if s.Subject != score.Subject {
			continue
		}
		if sameScore(s, score) {
			if r.Scores[i].Rank == 0 {
				r.Scores[i].Rank = score.Rank
			}
			return true
		}
		return false
	}
	r.Scores = append(r.Scores, score)
	return true
}

// SumScores 计算各科成绩之和（缺考按 0 计）
func (r *StudentRow) SumScores() float64 {
	sum := 0.0
	for _, s := range r.Scores {
		if s.Score != nil {
			sum += *s.Score
		}
	}
	return sum
}

func sameScore(a, b SubjectScore) bool {
	if a.Absent != b.Absent {
		return false
	}
	if a.Score == nil || b.Score == nil {
		return a.Score == nil && b.Score == nil
	}
	return *a.Score == *b.Score
}

// Float64Ptr 返回浮点指针
func Float64Ptr(v float64) *float64 {
	return &v
}

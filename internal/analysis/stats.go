// Package analysis 考试成绩统计与排名
package analysis

import (
	"math"
	"sort"

	"gradeflow/internal/model"
)

// 及格线与优秀线（占满分比例）
const (
	PassRatio      = 0.6
	ExcellentRatio = 0.85
)

// FullMarks 各科满分
type FullMarks map[string]float64

// DefaultFullMarks 语数英 150，其余 100
func DefaultFullMarks() FullMarks {
	return FullMarks{"语文": 150, "数学": 150, "英语": 150}
}

// Of 返回科目满分
func (f FullMarks) Of(subject string) float64 {
	if v, ok := f[subject]; ok && v > 0 {
		return v
	}
	return 100
}

// Merge 用配置覆盖默认满分
func (f FullMarks) Merge(overrides map[string]float64) FullMarks {
	out := make(FullMarks, len(f)+len(overrides))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range overrides {
		if v > 0 {
			out[k] = v
		}
	}
	return out
}

// SubjectStats 单科统计：人数、缺考、均分、最高、最低、及格率、优秀率
func SubjectStats(subject string, scores []model.SubjectScore, fullMarks float64) model.SubjectStat {
	stat := model.SubjectStat{Subject: subject, FullMarks: fullMarks}

	sum := 0.0
	pass, excellent := 0, 0
	for _, s := range scores {
		if s.Absent || s.Score == nil {
			stat.Absent++
			continue
		}
		v := *s.Score
		if stat.Count == 0 || v > stat.Max {
			stat.Max = v
		}
		if stat.Count == 0 || v < stat.Min {
			stat.Min = v
		}
		stat.Count++
		sum += v
		if v >= fullMarks*PassRatio {
			pass++
		}
		if v >= fullMarks*ExcellentRatio {
			excellent++
		}
	}

	if stat.Count > 0 {
		stat.Mean = round2(sum / float64(stat.Count))
		stat.PassRate = round2(float64(pass) / float64(stat.Count))
		stat.ExcellentRate = round2(float64(excellent) / float64(stat.Count))
	}
	return stat
}

// ExamStats 汇总一次考试（可限定班级）的各科统计
func ExamStats(examID, className string, rows []*model.StudentRow, fullMarks FullMarks) model.ExamStats {
	out := model.ExamStats{ExamID: examID, ClassName: className}

	bySubject := make(map[string][]model.SubjectScore)
	var order []string
	totalSum, totalCount := 0.0, 0
	for _, row := range rows {
		if className != "" && row.ClassName != className {
			continue
		}
		out.Students++
		for _, s := range row.Scores {
			if _, ok := bySubject[s.Subject]; !ok {
				order = append(order, s.Subject)
			}
			bySubject[s.Subject] = append(bySubject[s.Subject], s)
		}
		switch {
		case row.TotalScore != nil:
			totalSum += *row.TotalScore
			totalCount++
		case hasNumericScore(row):
			totalSum += row.SumScores()
			totalCount++
		}
	}

	SortSubjects(order)
	for _, subject := range order {
		out.Subjects = append(out.Subjects, SubjectStats(subject, bySubject[subject], fullMarks.Of(subject)))
	}
	if totalCount > 0 {
		out.TotalMean = round2(totalSum / float64(totalCount))
	}
	return out
}

// subjectOrder 常见科目的展示顺序
var subjectOrder = map[string]int{
	"语文": 1, "数学": 2, "英语": 3, "物理": 4, "化学": 5, "生物": 6,
	"政治": 7, "历史": 8, "地理": 9, "科学": 10, "信息技术": 11, "通用技术": 12,
	"技术": 13, "体育": 14, "音乐": 15, "美术": 16, "理综": 17, "文综": 18,
}

// SortSubjects 按常见顺序排列科目，未知科目按名称排在后面
func SortSubjects(subjects []string) {
	sort.SliceStable(subjects, func(i, j int) bool {
		oi, oj := subjectOrder[subjects[i]], subjectOrder[subjects[j]]
		switch {
		case oi > 0 && oj > 0:
			return oi < oj
		case oi > 0:
			return true
		case oj > 0:
			return false
		}
		return subjects[i] < subjects[j]
	})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

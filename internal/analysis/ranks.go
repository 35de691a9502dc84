package analysis

import (
	"sort"

	"gradeflow/internal/model"
)

// ComputeRanks 按总分计算班级排名与年级排名（并列同名次：1,2,2,4）
// rows 应为同一次考试的全部成绩；文件中已有的总分与排名保持不变，
// 缺失或此前由系统计算（Derived）的值会重新计算
func ComputeRanks(rows []*model.StudentRow) {
	var ranked []*model.StudentRow
	for _, row := range rows {
		if row.TotalScore == nil || row.Derived.Has(model.DerivedTotal) {
			if hasNumericScore(row) {
				row.TotalScore = model.Float64Ptr(row.SumScores())
				row.Derived |= model.DerivedTotal
			} else if row.Derived.Has(model.DerivedTotal) {
				row.TotalScore = nil
				row.Derived &^= model.DerivedTotal
			}
		}
		if row.TotalScore != nil {
			ranked = append(ranked, row)
			continue
		}
		if row.Derived.Has(model.DerivedClassRank) {
			row.ClassRank = 0
		}
		if row.Derived.Has(model.DerivedGradeRank) {
			row.GradeRank = 0
		}
		row.Derived &^= model.DerivedClassRank | model.DerivedGradeRank
	}

	byClass := make(map[string][]*model.StudentRow)
	byGrade := make(map[string][]*model.StudentRow)
	for _, row := range ranked {
		byClass[row.ClassName] = append(byClass[row.ClassName], row)
		byGrade[row.GradeLevel] = append(byGrade[row.GradeLevel], row)
	}

	for _, group := range byClass {
		assignRanks(group, model.DerivedClassRank, func(r *model.StudentRow) *int { return &r.ClassRank })
	}
	for _, group := range byGrade {
		assignRanks(group, model.DerivedGradeRank, func(r *model.StudentRow) *int { return &r.GradeRank })
	}
}

// assignRanks 竞争排名，只写入缺失或系统计算的排名
func assignRanks(group []*model.StudentRow, flag model.DerivedFields, field func(*model.StudentRow) *int) {
	sorted := make([]*model.StudentRow, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		return *sorted[i].TotalScore > *sorted[j].TotalScore
	})

	rank := 0
	for i, row := range sorted {
		if i == 0 || *row.TotalScore != *sorted[i-1].TotalScore {
			rank = i + 1
		}
		if p := field(row); *p == 0 || row.Derived.Has(flag) {
			*p = rank
			row.Derived |= flag
		}
	}
}

func hasNumericScore(row *model.StudentRow) bool {
	for _, s := range row.Scores {
		if s.Score != nil {
			return true
		}
	}
	return false
}

// Package reconcile 将导入行与已有学生档案对账：合并文件内重复、按（学号，班级）匹配、生成告警
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"gradeflow/internal/model"
)

// Options 对账参数
type Options struct {
	SheetName  string
	GenerateID func() string    // 无学号且无法匹配时生成学号，默认 uuid
	Now        func() time.Time // 默认 time.Now
}

// Plan 对账结果：待新建/待更新的学生、合并后的成绩行、告警
type Plan struct {
	Creates  []model.Student     `json:"creates"`
	Updates  []model.Student     `json:"updates"`
	Rows     []*model.StudentRow `json:"rows"`
	Warnings []model.Warning     `json:"warnings"`
}

// Reconcile 对账；existing 为库中相关学生（按班级与学号查询的并集）
func Reconcile(rows []*model.StudentRow, existing []model.Student, opts Options) Plan {
	if opts.GenerateID == nil {
		opts.GenerateID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &reconciler{
		opts:        opts,
		byKey:       make(map[model.StudentKey]model.Student, len(existing)),
		byClassName: make(map[classNameKey][]model.Student),
		generated:   make(map[classNameKey]string),
		fileByName:  make(map[classNameKey]map[string]bool),
	}
	for _, s := range existing {
		r.byKey[s.Key()] = s
		k := classNameKey{s.ClassName, s.Name}
		r.byClassName[k] = append(r.byClassName[k], s)
	}

	r.resolveIDs(rows)
	merged := r.merge(rows)
	r.plan.Rows = merged
	r.split(merged)
	r.checkMultipleClasses(merged, existing)
	r.checkNameCollisions(merged, existing)
	return r.plan
}

type classNameKey struct {
	ClassName string
	Name      string
}

type reconciler struct {
	opts        Options
	byKey       map[model.StudentKey]model.Student
	byClassName map[classNameKey][]model.Student
	generated   map[classNameKey]string
	fileByName  map[classNameKey]map[string]bool // 文件内（班级，姓名）对应的学号
	plan        Plan
}

func (r *reconciler) warn(code model.WarningCode, row *model.StudentRow, format string, args ...any) {
	w := model.Warning{
		Code:    code,
		Sheet:   r.opts.SheetName,
		Message: fmt.Sprintf(format, args...),
	}
	if row != nil {
		w.RowNo = row.RowNo
		w.StudentID = row.StudentID
		w.ClassName = row.ClassName
	}
	r.plan.Warnings = append(r.plan.Warnings, w)
}

// resolveIDs 为缺少学号的行匹配或生成学号
func (r *reconciler) resolveIDs(rows []*model.StudentRow) {
	for _, row := range rows {
		if row.StudentID == "" {
			continue
		}
		k := classNameKey{row.ClassName, row.Name}
		if r.fileByName[k] == nil {
			r.fileByName[k] = make(map[string]bool)
		}
		r.fileByName[k][row.StudentID] = true
	}

	for _, row := range rows {
		if row.StudentID != "" {
			continue
		}
		k := classNameKey{row.ClassName, row.Name}

		if id, ok := r.generated[k]; ok {
			row.StudentID = id
			row.GeneratedID = true
			continue
		}

		candidates := make(map[string]bool)
		for _, s := range r.byClassName[k] {
			candidates[s.StudentID] = true
		}
		for id := range r.fileByName[k] {
			candidates[id] = true
		}
		if len(candidates) == 1 {
			for id := range candidates {
				row.StudentID = id
			}
			r.warn(model.WarnMatchedByName, row, "%s %s 无学号，按班级和姓名匹配到学号 %s", row.ClassName, row.Name, row.StudentID)
			continue
		}

		row.StudentID = r.opts.GenerateID()
		row.GeneratedID = true
		r.generated[k] = row.StudentID
		if len(candidates) > 1 {
			r.warn(model.WarnGeneratedID, row, "%s %s 无学号且存在 %d 名同名学生，已生成学号 %s", row.ClassName, row.Name, len(candidates), row.StudentID)
		} else {
			r.warn(model.WarnGeneratedID, row, "%s %s 无学号且无法匹配已有学生，已生成学号 %s", row.ClassName, row.Name, row.StudentID)
		}
	}
}

// merge 合并文件内同一复合键的重复行，成绩取并集，冲突时保留首个值
func (r *reconciler) merge(rows []*model.StudentRow) []*model.StudentRow {
	index := make(map[model.StudentKey]*model.StudentRow, len(rows))
	out := make([]*model.StudentRow, 0, len(rows))
	for _, row := range rows {
		key := row.Key()
		first, ok := index[key]
		if !ok {
			index[key] = row
			out = append(out, row)
			continue
		}

		r.warn(model.WarnDuplicateRow, row, "学号 %s 在第 %d 行与第 %d 行重复，已合并", row.StudentID, first.RowNo, row.RowNo)
		if first.Name == "" {
			first.Name = row.Name
		}
		if first.GradeLevel == "" {
			first.GradeLevel = row.GradeLevel
		}
		for _, s := range row.Scores {
			if !first.SetScore(s) {
				r.warn(model.WarnDuplicateScore, row, "学号 %s 的 %s 成绩在重复行中不一致，保留第 %d 行的值", row.StudentID, s.Subject, first.RowNo)
			}
		}
		if first.TotalScore == nil {
			first.TotalScore = row.TotalScore
		}
		if first.ClassRank == 0 {
			first.ClassRank = row.ClassRank
		}
		if first.GradeRank == 0 {
			first.GradeRank = row.GradeRank
		}
	}
	return out
}

// split 划分新建与更新
func (r *reconciler) split(rows []*model.StudentRow) {
	now := r.opts.Now()
	for _, row := range rows {
		stored, ok := r.byKey[row.Key()]
		if !ok {
			r.plan.Creates = append(r.plan.Creates, model.Student{
				StudentID:  row.StudentID,
				Name:       row.Name,
				ClassName:  row.ClassName,
				GradeLevel: row.GradeLevel,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
			continue
		}

		if row.Name != "" && row.Name != stored.Name {
			r.warn(model.WarnNameMismatch, row, "学号 %s 在库中姓名为 %s，文件中为 %s，保留库中姓名", row.StudentID, stored.Name, row.Name)
		}
		row.Name = stored.Name

		updated := stored
		if row.GradeLevel != "" {
			updated.GradeLevel = row.GradeLevel
		} else {
			row.GradeLevel = stored.GradeLevel
		}
		updated.UpdatedAt = now
		r.plan.Updates = append(r.plan.Updates, updated)
	}
}

// checkMultipleClasses 同一学号出现在多个班级
func (r *reconciler) checkMultipleClasses(rows []*model.StudentRow, existing []model.Student) {
	classes := make(map[string]map[string]bool)
	add := func(id, class string) {
		if classes[id] == nil {
			classes[id] = make(map[string]bool)
		}
		classes[id][class] = true
	}
	for _, s := range existing {
		add(s.StudentID, s.ClassName)
	}
	for _, row := range rows {
		add(row.StudentID, row.ClassName)
	}

	reported := make(map[string]bool)
	for _, row := range rows {
		if row.GeneratedID || reported[row.StudentID] || len(classes[row.StudentID]) < 2 {
			continue
		}
		reported[row.StudentID] = true
		r.warn(model.WarnIDInMultipleClasses, row, "学号 %s 出现在多个班级：%v", row.StudentID, sortedKeys(classes[row.StudentID]))
	}
}

// checkNameCollisions 同班不同学号同名
func (r *reconciler) checkNameCollisions(rows []*model.StudentRow, existing []model.Student) {
	ids := make(map[classNameKey]map[string]bool)
	add := func(class, name, id string) {
		if name == "" {
			return
		}
		k := classNameKey{class, name}
		if ids[k] == nil {
			ids[k] = make(map[string]bool)
		}
		ids[k][id] = true
	}
	for _, s := range existing {
		add(s.ClassName, s.Name, s.StudentID)
	}
	for _, row := range rows {
		add(row.ClassName, row.Name, row.StudentID)
	}

	reported := make(map[classNameKey]bool)
	for _, row := range rows {
		k := classNameKey{row.ClassName, row.Name}
		if row.Name == "" || reported[k] || len(ids[k]) < 2 {
			continue
		}
		reported[k] = true
		r.warn(model.WarnNameCollision, row, "%s 有 %d 名学生同名 %s，学号：%v", row.ClassName, len(ids[k]), row.Name, sortedKeys(ids[k]))
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

package parser

import "strings"

// subjectEntry 科目词典条目
type subjectEntry struct {
	Name    string
	Aliases []string
}

// subjectDictionary 科目词典；别名按长度优先匹配
var subjectDictionary = []subjectEntry{
	{Name: "语文", Aliases: []string{"语文"}},
	{Name: "数学", Aliases: []string{"数学"}},
	{Name: "英语", Aliases: []string{"英语", "外语"}},
	{Name: "物理", Aliases: []string{"物理"}},
	{Name: "化学", Aliases: []string{"化学"}},
	{Name: "生物", Aliases: []string{"生物"}},
	{Name: "政治", Aliases: []string{"道德与法治", "思想政治", "道法", "政治"}},
	{Name: "历史", Aliases: []string{"历史"}},
	{Name: "地理", Aliases: []string{"地理"}},
	{Name: "科学", Aliases: []string{"科学"}},
	{Name: "信息技术", Aliases: []string{"信息技术"}},
	{Name: "通用技术", Aliases: []string{"通用技术"}},
	{Name: "技术", Aliases: []string{"技术"}},
	{Name: "体育", Aliases: []string{"体育与健康", "体育"}},
	{Name: "音乐", Aliases: []string{"音乐"}},
	{Name: "美术", Aliases: []string{"美术"}},
	{Name: "理综", Aliases: []string{"理科综合", "理综"}},
	{Name: "文综", Aliases: []string{"文科综合", "文综"}},
}

// 身份字段词典
var (
	studentIDExact   = []string{"学号", "考号", "准考证号", "学籍号", "学生编号", "考生号", "学生学号", "编号", "考籍号"}
	studentIDPattern = `学号|考号|准考证|学籍号|考生号|学生编号|考籍号`

	nameExact   = []string{"姓名", "学生姓名", "名字", "考生姓名", "学生"}
	namePattern = `姓名|名字`

	classExact   = []string{"班级", "班别", "行政班", "所在班级", "班", "班级名称", "班号"}
	classPattern = `班级|班别|行政班`

	gradeLevelExact   = []string{"年级", "届别", "年级名称", "年段"}
	gradeLevelPattern = `年级|届别|年段`

	subjectColumnExact   = []string{"科目", "学科", "课程", "考试科目", "科目名称", "课程名称", "学科名称"}
	subjectColumnPattern = `科目|学科|课程`

	scoreExact   = []string{"成绩", "分数", "得分", "考试成绩", "卷面分", "原始分", "卷面成绩"}
	scorePattern = `成绩|分数|得分`

	totalExact   = []string{"总分", "总成绩", "合计", "总计", "总分数"}
	totalPattern = `总分|总成绩`

	examExact   = []string{"考试名称", "考试", "考试批次"}
	examPattern = `考试名称|考试批次`

	// 通用排名（不带班级/年级限定）
	rankTokens = []string{"排名", "名次", "排序", "位次"}
	// 班级排名
	classRankPattern = `班级排名|班级名次|班名|班排|班次|班内排名|班内名次`
	// 年级排名
	gradeRankPattern = `年级排名|年级名次|级名|校名|年排|级排|校排|全校排名|全年级排名|年级位次`

	// 无需导入的列
	ignoredExact = []string{
		"序号", "性别", "备注", "座号", "座位号", "考场", "考场号", "联系电话", "家长电话",
		"身份证号", "身份证", "民族", "出生日期", "选科", "选考科目", "层次", "类别",
		"学校", "学校名称", "校区",
	}
	levelPattern = `等级|等第`

	// 二级表头中的子列
	subHeaderTokens = []string{
		"成绩", "分数", "得分", "原始分", "卷面分", "排名", "名次", "班名", "级名", "校名",
		"班排", "年排", "班次", "等级", "等第", "赋分",
	}

	// 汇总/统计行标记（出现在姓名或学号列）
	summaryRowTokens = []string{"平均分", "平均", "最高分", "最低分", "合计", "总计", "及格率", "优秀率", "参考人数"}
)

// scoreSuffixes 宽表科目列允许的后缀
var scoreSuffixes = []string{"", "成绩", "分数", "得分", "原始分", "卷面分", "分"}

// MatchSubject 在文本中查找科目，返回规范科目名与去除科目后的剩余部分
func MatchSubject(text string) (subject, rest string, ok bool) {
	bestLen := 0
	bestPos := -1
	for _, entry := range subjectDictionary {
		for _, alias := range entry.Aliases {
			pos := strings.Index(text, alias)
			if pos < 0 {
				continue
			}
			if len(alias) > bestLen || (len(alias) == bestLen && pos < bestPos) {
				bestLen = len(alias)
				bestPos = pos
				subject = entry.Name
				rest = text[:pos] + text[pos+len(alias):]
			}
		}
	}
	return subject, rest, bestLen > 0
}

// CanonicalSubject 将长表科目单元格规范化为词典中的科目名；未知科目保留原文
func CanonicalSubject(value string) string {
	value = NormalizeColumnName(value)
	if value == "" {
		return ""
	}
	if subject, rest, ok := MatchSubject(value); ok && EqualsAny(stripParens(rest), scoreSuffixes) {
		return subject
	}
	return value
}

// SubjectFromSheetName Sheet 名即科目名时返回科目（单科成绩表）
func SubjectFromSheetName(sheetName string) (string, bool) {
	name := NormalizeColumnName(sheetName)
	subject, rest, ok := MatchSubject(name)
	if !ok {
		return "", false
	}
	rest = stripParens(rest)
	if rest == "" || EqualsAny(rest, []string{"成绩", "成绩表", "成绩单", "科"}) {
		return subject, true
	}
	return "", false
}

// KnownSubjects 返回词典中的科目（用于模板生成）
func KnownSubjects() []string {
	out := make([]string, 0, len(subjectDictionary))
	for _, e := range subjectDictionary {
		out = append(out, e.Name)
	}
	return out
}

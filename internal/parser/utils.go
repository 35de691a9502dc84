package parser

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/width"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	parenRe        = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	floatIDRe      = regexp.MustCompile(`^(\d+)\.0+$`)
	sciIDRe        = regexp.MustCompile(`^\d(\.\d+)?[eE]\+?\d+$`)
	examDateRe     = regexp.MustCompile(`(\d{4})\s*[-/.年]\s*(\d{1,2})\s*[-/.月]\s*(\d{1,2})\s*日?`)
	examKeywordRe  = regexp.MustCompile(`考试|测试|月考|期中|期末|联考|模考|模拟|周测|质检|统考|调研`)
	classPatternRe = regexp.MustCompile(`^(高[一二三]|初[一二三]|[一二三四五六七八九]年级)\(?(\d{1,2})\)?班?$`)
	classNumberRe  = regexp.MustCompile(`^(\d{1,2})班?$`)
	gradeLevelRe   = regexp.MustCompile(`^(高[一二三]|初[一二三]|[一二三四五六七八九]年级)`)

	patternCache sync.Map // pattern -> *regexp.Regexp
)

var punctReplacer = strings.NewReplacer(
	"【", "[",
	"】", "]",
	"〔", "[",
	"〕", "]",
	"—", "-",
	"–", "-",
	"－", "-",
	"、", ";",
	"｜", ";",
)

var gradeAliasReplacer = strings.NewReplacer(
	"高一年级", "高一",
	"高二年级", "高二",
	"高三年级", "高三",
	"初一年级", "初一",
	"初二年级", "初二",
	"初三年级", "初三",
)

// NormalizeColumnName 规范化列名：全角转半角、统一括号与连接符、去除空白
func NormalizeColumnName(name string) string {
	name = width.Narrow.String(name)
	name = punctReplacer.Replace(name)
	name = strings.ReplaceAll(name, "\n", "")
	name = strings.ReplaceAll(name, "\r", "")
	name = strings.ReplaceAll(name, "\t", "")
	return whitespaceRe.ReplaceAllString(name, "")
}

// stripParens 去掉括号内的说明（如 "语文(150分)"）
func stripParens(s string) string {
	return parenRe.ReplaceAllString(s, "")
}

// ContainsAny 检查字符串是否包含任意一个关键词
func ContainsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// EqualsAny 检查字符串是否与任意一个关键词完全相同
func EqualsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if text == kw {
			return true
		}
	}
	return false
}

// MatchPattern 使用正则匹配（编译结果缓存）
func MatchPattern(text, pattern string) bool {
	if v, ok := patternCache.Load(pattern); ok {
		return v.(*regexp.Regexp).MatchString(text)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	patternCache.Store(pattern, re)
	return re.MatchString(text)
}

// NormalizeStudentID 规范化学号：去空白、去 Excel 浮点尾巴与科学计数法
func NormalizeStudentID(s string) string {
	s = width.Narrow.String(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "'")
	s = whitespaceRe.ReplaceAllString(s, "")
	if m := floatIDRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	if sciIDRe.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	return s
}

// NormalizeName 规范化姓名
func NormalizeName(s string) string {
	s = width.Narrow.String(strings.TrimSpace(s))
	return whitespaceRe.ReplaceAllString(s, "")
}

// NormalizeClassName 规范化班级名称
// "高一3班" / "高一（3）班" / "高一年级3班" -> "高一(3)班"；纯数字班号在已知年级时补全
func NormalizeClassName(s, gradeLevel string) string {
	s = NormalizeColumnName(s)
	if s == "" {
		return ""
	}
	s = gradeAliasReplacer.Replace(s)
	if m := classPatternRe.FindStringSubmatch(s); m != nil {
		return m[1] + "(" + trimLeadingZero(m[2]) + ")班"
	}
	if m := classNumberRe.FindStringSubmatch(s); m != nil {
		n := trimLeadingZero(m[1])
		if gradeLevel != "" {
			return NormalizeGradeLevel(gradeLevel) + "(" + n + ")班"
		}
		return n + "班"
	}
	return s
}

// NormalizeGradeLevel 规范化年级
func NormalizeGradeLevel(s string) string {
	s = NormalizeColumnName(s)
	return gradeAliasReplacer.Replace(s)
}

// InferGradeLevel 从班级名称推断年级
func InferGradeLevel(className string) string {
	if m := gradeLevelRe.FindStringSubmatch(className); m != nil {
		return m[1]
	}
	return ""
}

func trimLeadingZero(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" {
		return "0"
	}
	return t
}

// ExtractExamName 从标题行提取考试名称
func ExtractExamName(title string) (string, bool) {
	title = strings.TrimSpace(width.Narrow.String(title))
	if title == "" || !examKeywordRe.MatchString(title) {
		return "", false
	}
	title = strings.TrimSpace(examDateRe.ReplaceAllString(title, ""))
	title = strings.TrimSuffix(title, "成绩单")
	title = strings.TrimSuffix(title, "成绩表")
	title = strings.TrimSuffix(title, "成绩统计")
	title = strings.TrimSuffix(title, "成绩")
	return strings.TrimSpace(title), true
}

// ExtractExamDate 提取 YYYY-MM-DD 日期
func ExtractExamDate(text string) (string, bool) {
	m := examDateRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	return strconv.Itoa(year) + "-" + pad2(month) + "-" + pad2(day), true
}

func pad2(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// cellKind 成绩单元格类型
type cellKind int

const (
	cellEmpty cellKind = iota
	cellNumber
	cellAbsent
	cellInvalid
)

var absentTokens = []string{"缺考", "缺", "免考", "免", "作弊", "缺席", "未考", "-", "/", "--"}

// parseScoreCell 解析成绩单元格
func parseScoreCell(s string) (float64, cellKind) {
	s = strings.TrimSpace(width.Narrow.String(s))
	if s == "" {
		return 0, cellEmpty
	}
	s = punctReplacer.Replace(s)
	if EqualsAny(s, absentTokens) {
		return 0, cellAbsent
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "分")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, cellInvalid
	}
	return f, cellNumber
}

// parseRank 解析排名，无法解析时返回 0
func parseRank(s string) int {
	s = strings.TrimSpace(width.Narrow.String(s))
	s = strings.TrimPrefix(s, "第")
	s = strings.TrimSuffix(s, "名")
	if s == "" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f == float64(int(f)) {
		return int(f)
	}
	return 0
}

// isNumericCell 单元格是否为数值（含缺考标记）
func isNumericCell(s string) bool {
	_, kind := parseScoreCell(s)
	return kind == cellNumber || kind == cellAbsent
}

// ClassFromSheetName Sheet 名即班级名时返回规范班级（如 "高一3班"）
func ClassFromSheetName(sheetName string) (string, bool) {
	class := NormalizeClassName(sheetName, "")
	if classPatternRe.MatchString(gradeAliasReplacer.Replace(NormalizeColumnName(sheetName))) {
		return class, true
	}
	return "", false
}

package parser

import "strings"

// DefaultHeaderScanRows 表头搜索的默认行数
const DefaultHeaderScanRows = 10

// DetectHeaderRow 在前 maxScan 行中定位表头行
// 表头之上的单元格文本作为标题返回；两行表头（科目行 + 分数/排名子行）合并为 "语文分数"、"语文排名"
func DetectHeaderRow(rows [][]string, maxScan int) (HeaderInfo, bool) {
	if maxScan <= 0 {
		maxScan = DefaultHeaderScanRows
	}
	classifier := NewHeaderClassifier()

	best, bestHits := -1, 0
	hitsOf := make([]int, min(len(rows), maxScan))
	for i := 0; i < len(rows) && i < maxScan; i++ {
		hits := 0
		for _, cell := range rows[i] {
			if field, _, _ := classifier.classifyColumn(NormalizeColumnName(cell)); field != FieldUnknown {
				hits++
			}
		}
		hitsOf[i] = hits
		if hits >= 2 && hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return HeaderInfo{}, false
	}
	// 命中最多的可能是二级表头，回退到其父行
	if best > 0 && hitsOf[best-1] >= 2 && isSubHeaderRow(rows[best-1], rows[best]) {
		best--
	}

	info := HeaderInfo{
		RowIndex: best,
		Depth:    1,
		Headers:  trimTrailingEmpty(rows[best]),
		Title:    titleAbove(rows[:best]),
	}

	if best+1 < len(rows) && isSubHeaderRow(rows[best], rows[best+1]) {
		info.Headers = combineHeaders(rows[best], rows[best+1])
		info.RowIndex = best + 1
		info.Depth = 2
	}
	return info, true
}

// titleAbove 表头之上第一段非空文本
func titleAbove(rows [][]string) string {
	for _, row := range rows {
		var parts []string
		for _, cell := range row {
			if c := strings.TrimSpace(cell); c != "" {
				parts = append(parts, c)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return ""
}

// isSubHeaderRow 是否为二级表头：非空单元格均为子列名，且至少两个
// 纵向合并的单元格（如跨两行的 "姓名"）与上一行相同，不计入判断
func isSubHeaderRow(parent, row []string) bool {
	count := 0
	for i, cell := range row {
		c := NormalizeColumnName(cell)
		if c == "" || c == NormalizeColumnName(cellAt(parent, i)) {
			continue
		}
		if !EqualsAny(c, subHeaderTokens) {
			return false
		}
		count++
	}
	return count >= 2
}

// combineHeaders 合并两行表头；合并单元格只在首列有值，向右延续父列名
func combineHeaders(parent, sub []string) []string {
	n := max(len(parent), len(sub))
	out := make([]string, n)
	carry := ""
	for i := 0; i < n; i++ {
		p := strings.TrimSpace(cellAt(parent, i))
		s := strings.TrimSpace(cellAt(sub, i))
		if p != "" {
			carry = p
		}
		switch {
		case s == "" || s == p:
			out[i] = p
		case p == "" && carry == "":
			out[i] = s
		case p == "":
			out[i] = carry + s
		default:
			out[i] = p + s
		}
	}
	return trimTrailingEmpty(out)
}

func trimTrailingEmpty(row []string) []string {
	end := len(row)
	for end > 0 && strings.TrimSpace(row[end-1]) == "" {
		end--
	}
	out := make([]string, end)
	copy(out, row[:end])
	return out
}

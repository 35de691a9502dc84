package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// ErrUnsupportedFormat 不支持的文件格式
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Sheet 工作表的全部单元格文本
type Sheet struct {
	Name string
	Rows [][]string
}

// Workbook 已读入内存的成绩文件
type Workbook struct {
	Filename string
	Sheets   []Sheet
}

// OpenWorkbook 按扩展名打开 xlsx/xlsm/csv 文件
func OpenWorkbook(path string) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return ReadWorkbook(f, filepath.Base(path))
}

// ReadWorkbook 从 reader 读取文件，filename 仅用于判断格式与命名
func ReadWorkbook(r io.Reader, filename string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		return readExcel(r, filename)
	case ".csv":
		return readCSV(r, filename)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func readExcel(r io.Reader, filename string) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open excel: %w", err)
	}
	defer f.Close()

	wb := &Workbook{Filename: filename}
	for _, name := range f.GetSheetList() {
		if visible, err := f.GetSheetVisible(name); err == nil && !visible {
			continue
		}
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", name, err)
		}
		fillVerticalMerges(f, name, rows)
		wb.Sheets = append(wb.Sheets, Sheet{Name: name, Rows: rows})
	}
	return wb, nil
}

// fillVerticalMerges 将纵向合并单元格（如合并的班级列）的值填充到每一行
func fillVerticalMerges(f *excelize.File, sheet string, rows [][]string) {
	merged, err := f.GetMergeCells(sheet)
	if err != nil {
		return
	}
	for _, mc := range merged {
		startCol, startRow, err := excelize.CellNameToCoordinates(mc.GetStartAxis())
		if err != nil {
			continue
		}
		endCol, endRow, err := excelize.CellNameToCoordinates(mc.GetEndAxis())
		if err != nil || startCol != endCol {
			continue
		}
		value := mc.GetCellValue()
		for r := startRow; r <= endRow && r-1 < len(rows); r++ {
			row := rows[r-1]
			for len(row) < startCol {
				row = append(row, "")
			}
			if row[startCol-1] == "" {
				row[startCol-1] = value
			}
			rows[r-1] = row
		}
	}
}

func readCSV(r io.Reader, filename string) (*Workbook, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		// 国内教务系统导出的 csv 多为 GBK 编码
		if data, err = simplifiedchinese.GB18030.NewDecoder().Bytes(data); err != nil {
			return nil, fmt.Errorf("failed to decode csv: %w", err)
		}
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return &Workbook{
		Filename: filename,
		Sheets:   []Sheet{{Name: name, Rows: rows}},
	}, nil
}

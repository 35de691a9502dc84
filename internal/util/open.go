package util

import (
	"os/exec"
	"runtime"
	"strconv"
)

// OpenFile 用系统默认程序打开导出的文件
func OpenFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		// rundll32 在 Windows 7 上比 cmd /c start 稳定
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", path)
	case "darwin":
		cmd = exec.Command("open", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		if runtime.GOOS == "windows" {
			return exec.Command("explorer", path).Start()
		}
		return err
	}
	return nil
}

// FormatPercent 格式化百分比
func FormatPercent(value float64) string {
	return strconv.FormatFloat(value*100, 'f', 1, 64) + "%"
}

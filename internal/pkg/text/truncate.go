package text

// Truncate 把超长字符串截到 max 并追加省略号，外部输入进日志前限长用。
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

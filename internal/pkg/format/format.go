package format

import (
	"fmt"
	"strings"
	"time"
)

func Percent(val float64) string {
	if val == 0 {
		return "0%"
	}
	out := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", val*100), "0"), ".")
	return out + "%"
}

func Float(val float64, decimals int) string {
	if decimals < 0 {
		decimals = 4
	}
	out := fmt.Sprintf("%.*f", decimals, val)
	out = strings.TrimRight(strings.TrimRight(out, "0"), ".")
	if out == "" {
		return "0"
	}
	return out
}

func Duration(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	d := time.Duration(ms) * time.Millisecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, d/time.Second)
	}
	return fmt.Sprintf("%ds", d/time.Second)
}

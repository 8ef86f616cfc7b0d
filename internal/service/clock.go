package service

import (
	"errors"
	"math"
	"strings"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02T15:04:05"
)

// ErrStoreUnavailable 表示表格后端暂时无法写入，调用方可以稍后重试。
var ErrStoreUnavailable = errors.New("backing store unavailable")

// clock 统一各服务的"当前时间"与时区，测试中可以替换。
type clock struct {
	now func() time.Time
	loc *time.Location
}

func newClock(loc *time.Location) clock {
	if loc == nil {
		loc = time.Local
	}
	return clock{now: time.Now, loc: loc}
}

func (c clock) Now() time.Time {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	loc := c.loc
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Today 返回本地日期字符串 yyyy-mm-dd。
func (c clock) Today() string {
	return c.Now().Format(dateLayout)
}

var dateLayouts = []string{
	dateLayout,
	"2006/01/02",
	"2006/1/2",
	"2006-1-2",
	timestampLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// parseDate 宽松解析日期单元格，只保留年月日。
func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	// 带小数秒的 ISO 时间戳
	if idx := strings.IndexByte(raw, '.'); idx > 0 && strings.Contains(raw, "T") && !strings.ContainsAny(raw[idx:], "Z+") {
		raw = raw[:idx]
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			y, m, d := t.In(loc).Date()
			return time.Date(y, m, d, 0, 0, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

// PostOpDay 计算术后天数：今天减去手术日期，未设置或无法解析时为 0，手术日期在未来时同样为 0。
func PostOpDay(surgeryDate string, now time.Time) int {
	loc := now.Location()
	day, ok := parseDate(surgeryDate, loc)
	if !ok {
		return 0
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	days := int(math.Round(today.Sub(day).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

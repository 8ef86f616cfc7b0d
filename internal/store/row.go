package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aicarelung/internal/normalize"
)

// Row 是一行记录在读取时的文本视图，键为列名。
type Row map[string]string

// Get 返回列值，缺失列返回空字符串。
func (r Row) Get(column string) string {
	if r == nil {
		return ""
	}
	return r[column]
}

// Int 以宽松方式解析整数列："7"、"7.0"、" 7 " 均得到 7，无法解析时返回 0。
func (r Row) Int(column string) int {
	text := strings.TrimSpace(r.Get(column))
	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		text = text[:idx]
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// List 解析 JSON 数组列，解析失败时返回空切片而不是错误。
func (r Row) List(column string) []string {
	return DecodeList(r.Get(column))
}

// Object 解析 JSON 对象列，解析失败时返回空 map。
func (r Row) Object(column string) map[string]any {
	return DecodeObject(r.Get(column))
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DecodeList 把 JSON 文本还原成字符串切片；空值或格式错误都得到空切片。
func DecodeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{}
	}

	var items []any
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []string{}
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if text := normalize.Text(item); text != "" {
			out = append(out, text)
		}
	}
	return out
}

// DecodeObject 把 JSON 文本还原成 map；空值或格式错误都得到空 map。
func DecodeObject(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// encodeCell 把写入值转换为单元格文本，结构化值序列化为 JSON。
func encodeCell(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case time.Time:
		if v.IsZero() {
			return "", nil
		}
		return v.Format(time.RFC3339), nil
	case *time.Time:
		if v == nil || v.IsZero() {
			return "", nil
		}
		return v.Format(time.RFC3339), nil
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return normalize.Text(v), nil
	case []string, []any, map[string]any, map[string]string:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode structured value: %w", err)
		}
		return string(buf), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		buf, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode value of type %T: %w", v, err)
		}
		return string(buf), nil
	}
}

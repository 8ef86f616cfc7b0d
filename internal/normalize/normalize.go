// Package normalize 负责把表格后端可能篡改过的身份字段（手机号、密码）还原成唯一的规范形式。
//
// 表格服务会把纯数字文本当作数值存储：前导零被吃掉，读回时可能带上 ".0"。
// 所有对 phone/password 列的读写都要经过这里，其余代码可以假设拿到的值已经规范化。
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Text 把任意单元格值转换为去除首尾空白的文本，浮点数不使用科学计数法。
func Text(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return strings.TrimSpace(v.String())
	case float64:
		return formatFloat(v)
	case float32:
		return formatFloat(float64(v))
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case uint:
		return strconv.FormatUint(uint64(v), 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Phone 返回纯数字的手机号。
// 含小数点时截断到小数点之前；剩下恰好 9 位且不以 0 开头时补回被数值类型吃掉的前导零。
func Phone(raw any) string {
	text := Text(raw)
	if idx := strings.IndexByte(text, '.'); idx >= 0 {
		text = text[:idx]
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 9 && digits[0] != '0' {
		return "0" + digits
	}
	return digits
}

// Password 返回密码的规范文本。
// 只有整体形如数值（"1234.0"）时才截断小数部分，避免误伤本身包含 "." 的密码。
func Password(raw any) string {
	text := Text(raw)
	if looksNumeric(text) {
		if idx := strings.IndexByte(text, '.'); idx >= 0 {
			return text[:idx]
		}
	}
	return text
}

// StripLeadingZeros 去掉前导零，用于兼容修正前存入的历史数据。
func StripLeadingZeros(value string) string {
	return strings.TrimLeft(value, "0")
}

func looksNumeric(text string) bool {
	if text == "" {
		return false
	}
	dot := false
	digits := 0
	for i, r := range text {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' && !dot && i > 0:
			dot = true
		default:
			return false
		}
	}
	return digits > 0
}

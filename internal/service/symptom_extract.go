package service

import (
	"regexp"
	"strconv"
	"strings"
)

var firstNumber = regexp.MustCompile(`\d+`)

var symptomKeywords = []struct {
	name  string
	words []string
}{
	{name: "呼吸困難", words: []string{"喘", "呼吸", "氣"}},
	{name: "疼痛", words: []string{"痛", "疼"}},
	{name: "疲勞", words: []string{"累", "疲", "倦", "沒力"}},
	{name: "咳嗽", words: []string{"咳", "痰"}},
}

var donePhrases = []string{"沒有其他", "沒其他", "沒了", "結束", "完成", "都沒", "沒有了"}

// ExtractScore 取文本中的第一个整数作为症状分数，超过 10 的按 10 计。
func ExtractScore(text string) (int, bool) {
	match := firstNumber.FindString(halfWidthDigits(text))
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil || n > maxScore {
		// 超长数字串同样按最高分处理
		return maxScore, true
	}
	return n, true
}

// ExtractSymptoms 按关键词识别症状，结果按固定顺序且不重复。
func ExtractSymptoms(text string) []string {
	var found []string
	for _, symptom := range symptomKeywords {
		for _, word := range symptom.words {
			if strings.Contains(text, word) {
				found = append(found, symptom.name)
				break
			}
		}
	}
	return found
}

// IsDoneMessage 判断病人是否表示今天没有其他要回报的了。
func IsDoneMessage(text string) bool {
	for _, phrase := range donePhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}

func halfWidthDigits(text string) string {
	return strings.Map(func(r rune) rune {
		if r >= '０' && r <= '９' {
			return '0' + (r - '０')
		}
		return r
	}, text)
}

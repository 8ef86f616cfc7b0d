package service

// AlertLevel 是回报的分级结果。
type AlertLevel string

const (
	AlertGreen  AlertLevel = "green"
	AlertYellow AlertLevel = "yellow"
	AlertRed    AlertLevel = "red"
)

const (
	minScore = 0
	maxScore = 10
)

// ClampScore 把分数限制在 0..10。
func ClampScore(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// Classify 按整体不适分数分级：0-3 绿、4-6 黄、7-10 红。
func Classify(score int) AlertLevel {
	switch score = ClampScore(score); {
	case score >= 7:
		return AlertRed
	case score >= 4:
		return AlertYellow
	default:
		return AlertGreen
	}
}

// NeedsFollowUp 表示该等级是否需要个案管理师处理。
func (l AlertLevel) NeedsFollowUp() bool {
	return l == AlertRed || l == AlertYellow
}

// priority 越小越紧急，用于警示排序。
func (l AlertLevel) priority() int {
	switch l {
	case AlertRed:
		return 0
	case AlertYellow:
		return 1
	default:
		return 2
	}
}

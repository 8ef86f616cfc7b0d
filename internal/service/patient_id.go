package service

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aicarelung/internal/normalize"
)

const (
	maxIDAttempts      = 20
	shortSuffixUntil   = 9
	idReservationTTL   = 10 * time.Minute
	alphanumericSymbol = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PatientIDGenerator 生成病人编号。
// 同一进程内已发出的编号会保留一段时间，即使多个调用方拿到的是同一份过期快照也不会得到相同的编号。
type PatientIDGenerator struct {
	mu       sync.Mutex
	reserved map[string]time.Time
	now      func() time.Time
	intn     func(n int) int
}

// NewPatientIDGenerator 构造 PatientIDGenerator。
func NewPatientIDGenerator() *PatientIDGenerator {
	return &PatientIDGenerator{
		reserved: map[string]time.Time{},
		now:      time.Now,
		intn:     rand.Intn,
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (g *PatientIDGenerator) SetClock(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	g.now = now
}

// Generate 为手机号生成一个 exists 判定为未占用、且本进程未发出过的编号。
// 第 1 次尝试为 P+手机末四码+MMDDhhmm；第 2-9 次追加两位随机数；之后追加 6 位随机字母数字；
// 全部失败时退回到 P+完整时间戳（含纳秒）。
func (g *PatientIDGenerator) Generate(phone string, exists func(string) bool) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.prune(now)

	taken := func(id string) bool {
		if _, ok := g.reserved[id]; ok {
			return true
		}
		return exists != nil && exists(id)
	}

	base := "P" + lastFour(phone) + now.Format("01021504")
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		candidate := base
		switch {
		case attempt == 1:
		case attempt <= shortSuffixUntil:
			candidate = fmt.Sprintf("%s%02d", base, g.intn(100))
		default:
			candidate = base + g.randomSuffix(6)
		}
		if !taken(candidate) {
			g.reserved[candidate] = now
			return candidate
		}
	}

	fallback := fmt.Sprintf("P%s%09d", now.Format("20060102150405"), now.Nanosecond())
	candidate := fallback
	for taken(candidate) {
		candidate = fallback + g.randomSuffix(4)
	}
	g.reserved[candidate] = now
	return candidate
}

func (g *PatientIDGenerator) prune(now time.Time) {
	for id, at := range g.reserved {
		if now.Sub(at) > idReservationTTL {
			delete(g.reserved, id)
		}
	}
}

func (g *PatientIDGenerator) randomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphanumericSymbol[g.intn(len(alphanumericSymbol))])
	}
	return b.String()
}

func lastFour(phone string) string {
	digits := normalize.Phone(phone)
	if len(digits) >= 4 {
		return digits[len(digits)-4:]
	}
	return strings.Repeat("0", 4-len(digits)) + digits
}

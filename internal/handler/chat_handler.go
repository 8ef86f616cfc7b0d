package handler

import (
	"bytes"
	"errors"
	"html"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aicarelung/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"golang.org/x/time/rate"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(gmhtml.WithHardWraps(), gmhtml.WithXHTML()),
	)
	sanitizer   = bluemonday.UGCPolicy()
	inputPolicy = bluemonday.StrictPolicy()
)

const (
	defaultChatRate  = 1.0
	defaultChatBurst = 5
	maxMessageRunes  = 500
)

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	service.TurnResult
	ReplyHTML string `json:"reply_html"`
}

// StartSession 返回病人今天的会话，首次访问时生成问候语。
func (a *API) StartSession(c *gin.Context) {
	patient := currentPatient(c)
	sess := a.sessions.Get(patient.ID)

	result, err := a.engine.Start(c.Request.Context(), sess, patient)
	if err != nil {
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session": sess.Snapshot(),
		"turn":    newChatResponse(result),
	})
}

// Chat 处理病人的一条消息。
func (a *API) Chat(c *gin.Context) {
	patient := currentPatient(c)

	var payload chatRequest
	if !bindJSON(c, &payload, "請輸入訊息") {
		return
	}

	if !a.limiter.allow(patient.ID) {
		c.Header("Retry-After", "1")
		respondError(c, http.StatusTooManyRequests, "訊息傳送太頻繁，請稍候再試。")
		return
	}

	text := strictText(payload.Message)
	if runes := []rune(text); len(runes) > maxMessageRunes {
		text = string(runes[:maxMessageRunes])
	}

	sess := a.sessions.Get(patient.ID)
	result, err := a.engine.Reply(c.Request.Context(), sess, patient, text)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			// 回报未能保存，会话保持在收集状态，带回复一起告知病人稍后重试
			c.JSON(http.StatusServiceUnavailable, newChatResponse(result))
			return
		}
		a.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, newChatResponse(result))
}

func newChatResponse(result service.TurnResult) chatResponse {
	return chatResponse{TurnResult: result, ReplyHTML: renderReply(result.Reply)}
}

// renderReply 把助手回复按 Markdown 渲染并清洗为安全的 HTML。
func renderReply(reply string) string {
	if strings.TrimSpace(reply) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(reply), &buf); err != nil {
		return html.EscapeString(reply)
	}
	return sanitizer.Sanitize(buf.String())
}

// strictText 去掉用户输入中的所有标记，只保留文本。
func strictText(input string) string {
	return strings.TrimSpace(html.UnescapeString(inputPolicy.Sanitize(input)))
}

// chatLimiter 为每位病人维护一个令牌桶。
type chatLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	if perSecond <= 0 {
		perSecond = defaultChatRate
	}
	if burst <= 0 {
		burst = defaultChatBurst
	}
	return &chatLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: map[string]*limiterEntry{},
	}
}

func (l *chatLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for k, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > 10*time.Minute {
			delete(l.limiters, k)
		}
	}

	entry, ok := l.limiters[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

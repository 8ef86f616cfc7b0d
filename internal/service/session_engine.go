package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aicarelung/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTurns 是一次回报中病人最多发言的次数，达到后自动结束。
	DefaultMaxTurns = 8
	// DefaultHistoryWindow 是传给回复器的最近消息条数。
	DefaultHistoryWindow = 10

	// PendingSetupMessage 提示尚未完成手术设定的病人联系个案管理师。
	PendingSetupMessage = "您的手術資訊尚未設定完成，請聯繫個案管理師後再開始每日回報。"

	completedMessage = "✅ 今日回報已完成！明天見 🌟"
	closingMessage   = "好的，" + CompletionMarker + "！✅ 感謝您的回報，如有任何不適加重，請隨時回來告訴我們。"
	saveRetryMessage = "抱歉，回報暫時無法儲存。請稍後再傳送任一訊息，我們會再試一次。"
)

var (
	// ErrEmptyMessage 表示病人发送了空消息。
	ErrEmptyMessage = errors.New("message is empty")
	// ErrPatientNotReady 表示病人尚未完成手术设定，不能回报。
	ErrPatientNotReady = errors.New("patient surgery setup pending")
)

// EngineOptions 配置对话引擎。
type EngineOptions struct {
	MaxTurns      int
	HistoryWindow int
}

// TurnResult 是一轮对话的结果。
type TurnResult struct {
	Reply           string     `json:"reply"`
	State           string     `json:"state"`
	Completed       bool       `json:"completed"`
	ReportID        string     `json:"report_id,omitempty"`
	AlreadyReported bool       `json:"already_reported,omitempty"`
	CurrentScore    int        `json:"current_score"`
	AlertLevel      AlertLevel `json:"alert_level"`
	Symptoms        []string   `json:"symptoms"`
}

// SessionEngine 驱动 问候 -> 收集 -> 完成 的每日回报对话，并在完成时写入回报账本。
type SessionEngine struct {
	reports       *ReportService
	responder     Responder
	fallback      Responder
	maxTurns      int
	historyWindow int
	clock         clock
	logger        zerolog.Logger
	metrics       *metrics.Collector
}

// NewSessionEngine 构造 SessionEngine；responder 为空时只使用规则回复。
func NewSessionEngine(reports *ReportService, responder Responder, opts EngineOptions, loc *time.Location) *SessionEngine {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if responder == nil {
		responder = RuleResponder{}
	}
	return &SessionEngine{
		reports:       reports,
		responder:     responder,
		fallback:      RuleResponder{},
		maxTurns:      opts.MaxTurns,
		historyWindow: opts.HistoryWindow,
		clock:         newClock(loc),
		logger:        zerolog.Nop(),
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (e *SessionEngine) SetClock(now func() time.Time) {
	e.clock.now = now
}

// SetLogger 设置日志记录器。
func (e *SessionEngine) SetLogger(logger zerolog.Logger) {
	e.logger = logger.With().Str("component", "session").Logger()
}

// SetMetrics 设置指标收集器。
func (e *SessionEngine) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// Greeting 按时段生成开场白：12 点前早安，18 点前午安，其余晚安。
func Greeting(now time.Time, name string, postOpDay int) string {
	greeting := "晚安"
	switch hour := now.Hour(); {
	case hour < 12:
		greeting = "早安"
	case hour < 18:
		greeting = "午安"
	}
	if strings.TrimSpace(name) == "" {
		name = "您"
	}
	return fmt.Sprintf("%s，%s！😊\n\n我是您的健康小助手，今天是您術後第 %d 天。\n\n現在讓我們來做今日健康回報，請問您今天整體感覺如何？", greeting, name, postOpDay)
}

// Start 发出问候并进入收集状态；今天已回报过时直接进入完成状态。重复调用返回最近一条助手消息。
func (e *SessionEngine) Start(ctx context.Context, sess *Session, patient *Patient) (TurnResult, error) {
	if !patient.CanReport() {
		return TurnResult{}, ErrPatientNotReady
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateGreeting {
		e.startLocked(ctx, sess, patient)
	}

	reply := ""
	for i := len(sess.turns) - 1; i >= 0; i-- {
		if sess.turns[i].Role == RoleAssistant {
			reply = sess.turns[i].Text
			break
		}
	}
	return e.result(sess, reply), nil
}

func (e *SessionEngine) startLocked(ctx context.Context, sess *Session, patient *Patient) {
	now := e.clock.Now()
	if e.reports.HasReportedToday(ctx, patient.ID) {
		sess.state = StateCompleted
		sess.alreadyReported = true
		sess.addTurn(RoleAssistant, completedMessage, now)
		return
	}
	sess.addTurn(RoleAssistant, Greeting(now, patient.Name, patient.PostOpDay), now)
	sess.state = StateEliciting
}

// Reply 处理病人的一条消息：累计分数与症状、生成回复，并在结束时提交回报。
// 提交因后端不可用失败时返回 ErrStoreUnavailable，会话保持在收集状态，下一条消息会重试提交。
func (e *SessionEngine) Reply(ctx context.Context, sess *Session, patient *Patient, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	if !patient.CanReport() {
		return TurnResult{}, ErrPatientNotReady
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.state == StateGreeting {
		e.startLocked(ctx, sess, patient)
	}
	if sess.state == StateCompleted {
		return e.result(sess, completedMessage), nil
	}

	now := e.clock.Now()
	history := sess.history(e.historyWindow)
	sess.addTurn(RoleUser, text, now)

	if score, ok := ExtractScore(text); ok && score > sess.score {
		sess.score = score
	}
	sess.addSymptoms(ExtractSymptoms(text))

	done := sess.pendingCommit || IsDoneMessage(text) || sess.userTurns() >= e.maxTurns

	var reply string
	if sess.pendingCommit {
		reply = closingMessage
	} else {
		reply = e.respond(ctx, ResponderRequest{Patient: patient, History: history, Message: text, Now: now})
		if strings.Contains(reply, CompletionMarker) {
			done = true
		} else if done {
			reply = strings.TrimSpace(reply) + "\n\n" + closingMessage
		}
	}

	var commitErr error
	if done {
		commitErr = e.commit(ctx, sess, patient, len(sess.turns)+1)
		if commitErr != nil {
			reply = saveRetryMessage
		}
	}

	sess.addTurn(RoleAssistant, reply, e.clock.Now())
	return e.result(sess, reply), commitErr
}

func (e *SessionEngine) commit(ctx context.Context, sess *Session, patient *Patient, messages int) error {
	reportID, err := e.reports.Submit(ctx, ReportInput{
		PatientID:     patient.ID,
		PatientName:   patient.Name,
		OverallScore:  sess.score,
		Symptoms:      append([]string(nil), sess.symptoms...),
		MessagesCount: messages,
	})
	switch {
	case err == nil:
		sess.reportID = reportID
	case errors.Is(err, ErrAlreadyReported):
		sess.alreadyReported = true
		e.logger.Info().Str("patient_id", patient.ID).Msg("report already submitted today")
	default:
		sess.pendingCommit = true
		e.logger.Error().Err(err).Str("patient_id", patient.ID).Msg("submit report failed, will retry on next turn")
		return err
	}

	sess.pendingCommit = false
	sess.state = StateCompleted
	return nil
}

// respond 调用回复器；模型不可用时退回规则回复，其它错误返回固定的致歉消息。
func (e *SessionEngine) respond(ctx context.Context, req ResponderRequest) string {
	reply, err := e.responder.Respond(ctx, req)
	switch {
	case err == nil && strings.TrimSpace(reply) != "":
		e.metrics.ResponderCall(e.responder.Name(), "ok")
		return reply
	case err == nil || errors.Is(err, ErrResponderUnavailable):
		e.metrics.ResponderCall(e.responder.Name(), "unavailable")
		if err != nil {
			e.logger.Debug().Err(err).Msg("responder unavailable, using rules")
		}
		fallback, _ := e.fallback.Respond(ctx, req)
		return fallback
	default:
		e.metrics.ResponderCall(e.responder.Name(), "error")
		e.logger.Error().Err(err).Str("responder", e.responder.Name()).Msg("responder failed")
		return ApologyMessage
	}
}

func (e *SessionEngine) result(sess *Session, reply string) TurnResult {
	snap := sess.snapshotLocked()
	return TurnResult{
		Reply:           reply,
		State:           snap.State,
		Completed:       snap.Completed,
		ReportID:        snap.ReportID,
		AlreadyReported: snap.AlreadyReported,
		CurrentScore:    snap.CurrentScore,
		AlertLevel:      snap.AlertLevel,
		Symptoms:        snap.Symptoms,
	}
}

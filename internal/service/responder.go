package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aicarelung/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrResponderUnavailable 表示模型当前不可用（未配置 Key、熔断打开等），调用方应改用规则回复。
var ErrResponderUnavailable = errors.New("responder unavailable")

const (
	// CompletionMarker 出现在回复中时表示今日回报结束。
	CompletionMarker = "今日回報完成"
	// ApologyMessage 是模型调用出错时给病人的固定回复。
	ApologyMessage = "抱歉，系統暫時無法回應。請稍後再試。"
)

// DefaultSystemPrompt 是健康小助手的默认角色设定。
const DefaultSystemPrompt = `你是三軍總醫院「AI-CARE Lung」智慧肺癌術後照護系統的 AI 健康助手。

## 角色設定
- 親切、溫暖、有耐心的健康照護助手
- 專門協助肺癌手術後的病人進行每日症狀回報
- 像一位關心病人的資深護理師

## 對話原則
- 使用繁體中文，語氣溫暖親切
- 句子簡短清楚，適合年長者閱讀
- 一次只問一個問題
- 適度使用 emoji（但不過度）
- 使用「您」而非「你」

## 症狀評估（0-10分）
- 0分 = 完全沒有症狀
- 1-3分 = 輕微
- 4-6分 = 中度
- 7-10分 = 嚴重

## 追蹤重點
1. 呼吸困難/喘
2. 疼痛（傷口、胸痛）
3. 咳嗽/痰
4. 疲勞
5. 睡眠
6. 食慾
7. 情緒

## 回應策略
- 高分(7-10)：表達關心，說明已通知護理師，給予緩解建議
- 中分(4-6)：給予建議，詢問其他症狀
- 低分(0-3)：正面回應，繼續詢問

## 重要提醒
- 症狀評分≥7時：⚠️ 表示已通知個案管理師
- 不診斷病情，只做症狀記錄
- 必要時建議就醫或聯繫護理師
- 病人表示沒有其他要回報時，回覆中必須包含「` + CompletionMarker + `」`

// ResponderRequest 是生成一条助手回复所需的上下文。
type ResponderRequest struct {
	Patient *Patient
	History []Turn
	Message string
	Now     time.Time
}

// Responder 根据对话上下文生成助手回复。
type Responder interface {
	Name() string
	Respond(ctx context.Context, req ResponderRequest) (string, error)
}

// RuleResponder 用关键词规则生成回复，不依赖任何外部服务。
type RuleResponder struct{}

func (RuleResponder) Name() string { return "rules" }

func (RuleResponder) Respond(_ context.Context, req ResponderRequest) (string, error) {
	msg := strings.ToLower(strings.TrimSpace(req.Message))

	if IsDoneMessage(msg) {
		return "好的，" + CompletionMarker + "！✅\n\n感謝您的回報，祝您有美好的一天！\n\n如有任何不適加重，請隨時回來告訴我們。", nil
	}

	if score, ok := ExtractScore(msg); ok {
		switch Classify(score) {
		case AlertRed:
			return fmt.Sprintf("收到，%d 分是比較嚴重的狀況。\n\n⚠️ 我已經通知個案管理師，她會盡快與您聯繫。\n\n請問還有其他不舒服嗎？", score), nil
		case AlertYellow:
			return fmt.Sprintf("收到，%d 分屬於中度不適。\n\n建議您多休息，如有加重請告知。\n\n請問還有其他不舒服嗎？", score), nil
		default:
			return fmt.Sprintf("收到，%d 分是輕微的程度。✅\n\n請繼續保持，還有其他要回報的嗎？", score), nil
		}
	}

	if symptoms := ExtractSymptoms(msg); len(symptoms) > 0 {
		switch symptoms[0] {
		case "呼吸困難":
			return "了解，您有呼吸方面的問題。\n\n可以用 0-10 分描述喘的程度嗎？", nil
		case "疼痛":
			return "了解，您有疼痛的問題。\n\n可以用 0-10 分描述疼痛程度嗎？", nil
		case "疲勞":
			return "了解，您覺得疲勞。\n\n可以用 0-10 分描述疲勞程度嗎？", nil
		case "咳嗽":
			return "了解，您有咳嗽或痰的狀況。\n\n可以用 0-10 分描述咳嗽的程度嗎？", nil
		}
	}

	// 「好喘」「好痛」已在上面按症状处理
	for _, word := range []string{"不錯", "還好", "好", "正常", "沒事", "很好"} {
		if strings.Contains(msg, word) {
			return "太好了，很高興您今天感覺不錯！😊\n\n請問還有其他想告訴我的嗎？或是今天回報就到這裡？", nil
		}
	}

	return "收到您的回報。\n\n還有其他想告訴我的嗎？或是今天回報就到這裡？", nil
}

// ModelConfig 配置模型回复器。
type ModelConfig struct {
	OpenAIModel     string
	DeepSeekModel   string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// ModelResponder 调用 OpenAI / DeepSeek 生成回复，连续失败后熔断。
type ModelResponder struct {
	client   *aiChatClient
	settings *SystemSettingService
	breaker  *gobreaker.CircuitBreaker[aiChatResponse]
	logger   zerolog.Logger
	metrics  *metrics.Collector
}

// NewModelResponder 构造 ModelResponder。
func NewModelResponder(settings *SystemSettingService, cfg ModelConfig) *ModelResponder {
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	r := &ModelResponder{
		client:   newAIChatClient(cfg.OpenAIModel, cfg.DeepSeekModel, cfg.Timeout),
		settings: settings,
		logger:   zerolog.Nop(),
	}
	r.breaker = gobreaker.NewCircuitBreaker[aiChatResponse](gobreaker.Settings{
		Name:    "chat-model",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAIAPIKeyMissing) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
	return r
}

// SetLogger 设置日志记录器。
func (r *ModelResponder) SetLogger(logger zerolog.Logger) {
	r.logger = logger.With().Str("component", "responder").Logger()
}

// SetMetrics 设置指标收集器。
func (r *ModelResponder) SetMetrics(m *metrics.Collector) {
	r.metrics = m
}

// SetHTTPClient 替换 HTTP 客户端，主要面向测试场景。
func (r *ModelResponder) SetHTTPClient(client httpDoer) {
	r.client.SetHTTPClient(client)
}

// SetOpenAIBaseURL 覆盖 OpenAI API 的基础地址。
func (r *ModelResponder) SetOpenAIBaseURL(base string) {
	r.client.SetOpenAIBaseURL(base)
}

// SetDeepSeekBaseURL 覆盖 DeepSeek API 的基础地址。
func (r *ModelResponder) SetDeepSeekBaseURL(base string) {
	r.client.SetDeepSeekBaseURL(base)
}

func (r *ModelResponder) Name() string { return "model" }

func (r *ModelResponder) Respond(ctx context.Context, req ResponderRequest) (string, error) {
	settings := SystemSettings{AIProvider: AIProviderOpenAI}
	if r.settings != nil {
		var err error
		settings, err = r.settings.GetSettings()
		if err != nil {
			r.logger.Warn().Err(err).Msg("load ai settings failed, using startup configuration")
		}
	}
	if settings.AIProvider == AIProviderRules {
		return "", fmt.Errorf("%w: provider disabled", ErrResponderUnavailable)
	}

	messages := buildChatMessages(settings.SystemPrompt, req)
	logAIExchange(r.logger, "request", req.Message)

	resp, err := r.breaker.Execute(func() (aiChatResponse, error) {
		return r.client.callWithSettings(ctx, settings, aiChatRequest{
			Messages:    messages,
			MaxTokens:   500,
			Temperature: 0.7,
		})
	})
	switch {
	case errors.Is(err, ErrAIAPIKeyMissing),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", fmt.Errorf("%w: %w", ErrResponderUnavailable, err)
	case err != nil:
		return "", err
	case resp.Content == "":
		return "", fmt.Errorf("%w: empty completion", ErrResponderUnavailable)
	}

	logAIExchange(r.logger, "response", resp.Content)
	r.logger.Debug().
		Str("provider", resp.Provider).
		Int("prompt_tokens", resp.PromptTokens).
		Int("completion_tokens", resp.CompletionTokens).
		Msg("chat completion finished")
	return resp.Content, nil
}

func buildChatMessages(systemPrompt string, req ResponderRequest) []chatMessage {
	prompt := strings.TrimSpace(systemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}

	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}

	messages := []chatMessage{{Role: "system", Content: prompt}}
	if p := req.Patient; p != nil {
		age := ""
		if p.Age > 0 {
			age = fmt.Sprintf("%d", p.Age)
		}
		messages = append(messages, chatMessage{
			Role: "system",
			Content: fmt.Sprintf("病人資訊：\n- 姓名：%s\n- 年齡：%s\n- 手術：%s\n- 術後天數：D+%d\n- 今日日期：%s",
				p.Name, age, p.SurgeryType, p.PostOpDay, now.Format("2006年01月02日")),
		})
	}

	for _, turn := range req.History {
		messages = append(messages, chatMessage{Role: turn.Role, Content: turn.Text})
	}
	return append(messages, chatMessage{Role: "user", Content: req.Message})
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aicarelung/internal/metrics"
	"github.com/aicarelung/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyReported 表示病人今天已经提交过回报。
	ErrAlreadyReported = errors.New("already reported today")
	// ErrReportNotFound 表示回报不存在。
	ErrReportNotFound = errors.New("report not found")
)

// Report 是一次每日症状回报。
type Report struct {
	ID            string     `json:"report_id"`
	PatientID     string     `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	Date          string     `json:"date"`
	Timestamp     string     `json:"timestamp"`
	OverallScore  int        `json:"overall_score"`
	Symptoms      []string   `json:"symptoms"`
	MessagesCount int        `json:"messages_count"`
	AlertLevel    AlertLevel `json:"alert_level"`
	AlertHandled  string     `json:"alert_handled"`
	HandledBy     string     `json:"handled_by,omitempty"`
	HandledAt     string     `json:"handled_at,omitempty"`
}

// Pending 表示该回报是否仍是待处理的警示。
func (r Report) Pending() bool {
	return r.AlertLevel.NeedsFollowUp() && r.AlertHandled != "Y"
}

// ReportInput 描述一次待提交的回报。
type ReportInput struct {
	PatientID     string
	PatientName   string
	OverallScore  int
	Symptoms      []string
	MessagesCount int
}

// DashboardStats 汇总审阅人首页的统计数据。
type DashboardStats struct {
	ActivePatients int `json:"total_patients"`
	TodayReports   int `json:"today_reports"`
	ReportRate     int `json:"report_rate"`
	PendingAlerts  int `json:"pending_alerts"`
	RedAlerts      int `json:"red_alerts"`
	YellowAlerts   int `json:"yellow_alerts"`
}

// ReportService 维护"每位病人每天至多一份回报"的回报账本。
type ReportService struct {
	store   *store.Store
	locks   *store.KeyedMutex
	clock   clock
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewReportService 构造 ReportService。
func NewReportService(st *store.Store, loc *time.Location) *ReportService {
	return &ReportService{
		store:  st,
		locks:  store.NewKeyedMutex(),
		clock:  newClock(loc),
		logger: zerolog.Nop(),
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *ReportService) SetClock(now func() time.Time) {
	s.clock.now = now
}

// SetLogger 设置日志记录器。
func (s *ReportService) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "reports").Logger()
}

// SetMetrics 设置指标收集器。
func (s *ReportService) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// Today 返回服务时区下的今日日期 yyyy-mm-dd。
func (s *ReportService) Today() string {
	return s.clock.Today()
}

// HasReportedToday 判断病人今天是否已有回报。
func (s *ReportService) HasReportedToday(ctx context.Context, patientID string) bool {
	return s.hasReported(s.store.GetAll(ctx, store.TableReports), patientID, s.clock.Today())
}

func (s *ReportService) hasReported(rows []store.Row, patientID, date string) bool {
	patientID = strings.TrimSpace(patientID)
	for _, row := range rows {
		if row.Get("patient_id") == patientID && reportDate(row) == date {
			return true
		}
	}
	return false
}

// Submit 写入今日回报并返回回报编号；同一病人同一天重复提交返回 ErrAlreadyReported。
func (s *ReportService) Submit(ctx context.Context, input ReportInput) (string, error) {
	patientID := strings.TrimSpace(input.PatientID)
	if patientID == "" {
		return "", errors.New("patient id is required")
	}

	unlock := s.locks.Lock(patientID)
	defer unlock()

	now := s.clock.Now()
	today := now.Format(dateLayout)
	rows, err := s.store.Refresh(ctx, store.TableReports)
	if err != nil {
		return "", fmt.Errorf("check today's report for %s: %w: %w", patientID, ErrStoreUnavailable, err)
	}
	if s.hasReported(rows, patientID, today) {
		return "", ErrAlreadyReported
	}

	score := ClampScore(input.OverallScore)
	level := Classify(score)
	handled := ""
	if level.NeedsFollowUp() {
		handled = "N"
	}
	symptoms := input.Symptoms
	if symptoms == nil {
		symptoms = []string{}
	}

	reportID := newRecordID("R", now)
	ok := s.store.Append(ctx, store.TableReports, map[string]any{
		"report_id":      reportID,
		"patient_id":     patientID,
		"patient_name":   strings.TrimSpace(input.PatientName),
		"date":           today,
		"timestamp":      now.Format(timestampLayout),
		"overall_score":  score,
		"symptoms":       symptoms,
		"messages_count": input.MessagesCount,
		"alert_level":    string(level),
		"alert_handled":  handled,
	})
	if !ok {
		return "", fmt.Errorf("submit report for %s: %w", patientID, ErrStoreUnavailable)
	}

	s.metrics.ReportSubmitted(string(level))
	s.logger.Info().
		Str("patient_id", patientID).
		Str("report_id", reportID).
		Int("score", score).
		Str("alert_level", string(level)).
		Msg("daily report submitted")
	return reportID, nil
}

// Handle 把警示标记为已处理。
func (s *ReportService) Handle(ctx context.Context, reportID, handledBy string) error {
	reportID = strings.TrimSpace(reportID)
	if _, ok := s.store.Find(ctx, store.TableReports, "report_id", reportID); !ok {
		return ErrReportNotFound
	}

	ok := s.store.Update(ctx, store.TableReports, "report_id", reportID, map[string]any{
		"alert_handled": "Y",
		"handled_by":    strings.TrimSpace(handledBy),
		"handled_at":    s.clock.Now().Format(timestampLayout),
	})
	if !ok {
		return fmt.Errorf("handle report %s: %w", reportID, ErrStoreUnavailable)
	}
	return nil
}

// FindByID 根据回报编号查询。
func (s *ReportService) FindByID(ctx context.Context, reportID string) (*Report, error) {
	row, ok := s.store.Find(ctx, store.TableReports, "report_id", reportID)
	if !ok {
		return nil, ErrReportNotFound
	}
	report := reportFromRow(row)
	return &report, nil
}

// ListByPatient 返回病人的全部回报，最新的在前。
func (s *ReportService) ListByPatient(ctx context.Context, patientID string) []Report {
	patientID = strings.TrimSpace(patientID)
	reports := s.filter(ctx, func(r Report) bool { return r.PatientID == patientID })
	sortNewestFirst(reports)
	return reports
}

// ListToday 返回今天的全部回报，最新的在前。
func (s *ReportService) ListToday(ctx context.Context) []Report {
	today := s.clock.Today()
	reports := s.filter(ctx, func(r Report) bool { return r.Date == today })
	sortNewestFirst(reports)
	return reports
}

// PendingAlerts 返回未处理的红 / 黄警示：红色在前，同级内最新的在前。
func (s *ReportService) PendingAlerts(ctx context.Context) []Report {
	reports := s.filter(ctx, Report.Pending)
	sort.SliceStable(reports, func(i, j int) bool {
		pi, pj := reports[i].AlertLevel.priority(), reports[j].AlertLevel.priority()
		if pi != pj {
			return pi < pj
		}
		return newer(reports[i], reports[j])
	})
	return reports
}

// DashboardStats 统计活跃病人、今日回报与待处理警示。
func (s *ReportService) DashboardStats(ctx context.Context) DashboardStats {
	active := 0
	for _, row := range s.store.GetAll(ctx, store.TablePatients) {
		switch row.Get("status") {
		case PatientStatusPendingSetup, PatientStatusDischarged:
		default:
			active++
		}
	}

	stats := DashboardStats{ActivePatients: active, TodayReports: len(s.ListToday(ctx))}
	denominator := active
	if denominator < 1 {
		denominator = 1
	}
	stats.ReportRate = stats.TodayReports * 100 / denominator

	for _, alert := range s.PendingAlerts(ctx) {
		stats.PendingAlerts++
		switch alert.AlertLevel {
		case AlertRed:
			stats.RedAlerts++
		case AlertYellow:
			stats.YellowAlerts++
		}
	}
	return stats
}

func (s *ReportService) filter(ctx context.Context, keep func(Report) bool) []Report {
	rows := s.store.GetAll(ctx, store.TableReports)
	reports := make([]Report, 0, len(rows))
	for _, row := range rows {
		report := reportFromRow(row)
		if keep(report) {
			reports = append(reports, report)
		}
	}
	return reports
}

func reportFromRow(row store.Row) Report {
	return Report{
		ID:            row.Get("report_id"),
		PatientID:     row.Get("patient_id"),
		PatientName:   row.Get("patient_name"),
		Date:          reportDate(row),
		Timestamp:     row.Get("timestamp"),
		OverallScore:  row.Int("overall_score"),
		Symptoms:      row.List("symptoms"),
		MessagesCount: row.Int("messages_count"),
		AlertLevel:    AlertLevel(strings.ToLower(row.Get("alert_level"))),
		AlertHandled:  strings.ToUpper(row.Get("alert_handled")),
		HandledBy:     row.Get("handled_by"),
		HandledAt:     row.Get("handled_at"),
	}
}

// reportDate 读取 date 列；历史数据中该列可能被表格改写成其它日期格式。
func reportDate(row store.Row) string {
	raw := row.Get("date")
	if day, ok := parseDate(raw, time.UTC); ok {
		return day.Format(dateLayout)
	}
	return raw
}

func sortNewestFirst(reports []Report) {
	sort.SliceStable(reports, func(i, j int) bool { return newer(reports[i], reports[j]) })
}

func newer(a, b Report) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp > b.Timestamp
	}
	return a.ID > b.ID
}

// newRecordID 生成 前缀 + yyyyMMddHHmmss + 6 位十六进制 的编号，后缀取自 UUIDv7 的随机部分。
func newRecordID(prefix string, now time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return prefix + now.Format("20060102150405") + strings.ToUpper(hex[len(hex)-6:])
}

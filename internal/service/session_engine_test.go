package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/aicarelung/internal/store"
)

type stubResponder struct {
	reply    string
	err      error
	requests []ResponderRequest
}

func (s *stubResponder) Name() string { return "stub" }

func (s *stubResponder) Respond(_ context.Context, req ResponderRequest) (string, error) {
	s.requests = append(s.requests, req)
	return s.reply, s.err
}

type engineFixture struct {
	engine   *SessionEngine
	reports  *ReportService
	backend  *store.MemoryBackend
	registry *SessionRegistry
	clock    *testClock
	patient  *Patient
}

func newEngineFixture(t *testing.T, responder Responder, opts EngineOptions) *engineFixture {
	t.Helper()
	st, backend := newTestStore(t)
	clk := newTestClock(9)

	reports := NewReportService(st, testLoc)
	reports.SetClock(clk.Now)
	engine := NewSessionEngine(reports, responder, opts, testLoc)
	engine.SetClock(clk.Now)
	registry := NewSessionRegistry(testLoc)
	registry.SetClock(clk.Now)

	return &engineFixture{
		engine:   engine,
		reports:  reports,
		backend:  backend,
		registry: registry,
		clock:    clk,
		patient: &Patient{
			ID:          "P567810180900",
			Name:        "王小明",
			Status:      PatientStatusNormal,
			SurgeryDate: "2026-10-11",
			PostOpDay:   7,
		},
	}
}

func (f *engineFixture) say(t *testing.T, sess *Session, text string) TurnResult {
	t.Helper()
	result, err := f.engine.Reply(context.Background(), sess, f.patient, text)
	if err != nil {
		t.Fatalf("Reply(%q) returned error: %v", text, err)
	}
	return result
}

func TestSessionEngineDailyReportScenario(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{})
	ctx := context.Background()
	sess := f.registry.Get(f.patient.ID)

	start, err := f.engine.Start(ctx, sess, f.patient)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !strings.HasPrefix(start.Reply, "早安，王小明！") || !strings.Contains(start.Reply, "術後第 7 天") {
		t.Fatalf("unexpected greeting %q", start.Reply)
	}
	if start.State != "eliciting" {
		t.Fatalf("expected eliciting after greeting, got %s", start.State)
	}

	first := f.say(t, sess, "今天覺得有點喘")
	if first.Completed || !reflect.DeepEqual(first.Symptoms, []string{"呼吸困難"}) {
		t.Fatalf("unexpected first turn %+v", first)
	}

	second := f.say(t, sess, "7分")
	if second.Completed || second.CurrentScore != 7 || second.AlertLevel != AlertRed {
		t.Fatalf("unexpected second turn %+v", second)
	}

	last := f.say(t, sess, "沒有其他了")
	if !last.Completed || last.ReportID == "" {
		t.Fatalf("expected completed session with report, got %+v", last)
	}
	if !strings.Contains(last.Reply, CompletionMarker) {
		t.Fatalf("expected closing reply, got %q", last.Reply)
	}

	report, err := f.reports.FindByID(ctx, last.ReportID)
	if err != nil {
		t.Fatalf("FindByID returned error: %v", err)
	}
	if report.OverallScore != 7 || report.AlertLevel != AlertRed || report.AlertHandled != "N" {
		t.Fatalf("unexpected report %+v", report)
	}
	if !reflect.DeepEqual(report.Symptoms, []string{"呼吸困難"}) {
		t.Fatalf("unexpected symptoms %v", report.Symptoms)
	}
	if report.MessagesCount != 7 {
		t.Fatalf("expected 7 messages, got %d", report.MessagesCount)
	}

	after := f.say(t, sess, "我又想到一件事")
	if !after.Completed || after.Reply != completedMessage {
		t.Fatalf("expected completed session to stay completed, got %+v", after)
	}
	if got := f.backend.RowCount(string(store.TableReports)); got != 1 {
		t.Fatalf("expected exactly one report, got %d", got)
	}
}

func TestSessionEngineNewSessionAfterReport(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{})
	ctx := context.Background()

	if _, err := f.reports.Submit(ctx, ReportInput{PatientID: f.patient.ID, OverallScore: 2}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	sess := f.registry.Get(f.patient.ID)
	start, err := f.engine.Start(ctx, sess, f.patient)
	if err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if !start.Completed || !start.AlreadyReported {
		t.Fatalf("expected completed session for patient who already reported, got %+v", start)
	}
}

func TestSessionEngineSwallowsAlreadyReportedOnCommit(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{})
	ctx := context.Background()
	sess := f.registry.Get(f.patient.ID)
	f.engine.Start(ctx, sess, f.patient)

	// 另一个设备抢先提交
	if _, err := f.reports.Submit(ctx, ReportInput{PatientID: f.patient.ID, OverallScore: 1}); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	result := f.say(t, sess, "都沒有不舒服")
	if !result.Completed || !result.AlreadyReported || result.ReportID != "" {
		t.Fatalf("expected already reported completion, got %+v", result)
	}
	if got := f.backend.RowCount(string(store.TableReports)); got != 1 {
		t.Fatalf("expected one report, got %d", got)
	}
}

func TestSessionEngineRetriesCommitAfterStoreFailure(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{})
	ctx := context.Background()
	sess := f.registry.Get(f.patient.ID)
	f.engine.Start(ctx, sess, f.patient)
	f.say(t, sess, "傷口有點痛，5分")

	f.backend.Fail = errors.New("quota exceeded")
	result, err := f.engine.Reply(ctx, sess, f.patient, "沒有其他")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if result.Completed || result.State != "eliciting" {
		t.Fatalf("expected session to stay eliciting, got %+v", result)
	}

	f.backend.Fail = nil
	retry := f.say(t, sess, "請再試一次")
	if !retry.Completed || retry.ReportID == "" {
		t.Fatalf("expected retry to complete the report, got %+v", retry)
	}
	report, _ := f.reports.FindByID(ctx, retry.ReportID)
	if report.OverallScore != 5 || !reflect.DeepEqual(report.Symptoms, []string{"疼痛"}) {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestSessionEngineCompletesAtMaxTurns(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{MaxTurns: 2})
	sess := f.registry.Get(f.patient.ID)

	if first := f.say(t, sess, "有點累"); first.Completed {
		t.Fatalf("did not expect completion after first turn: %+v", first)
	}
	second := f.say(t, sess, "有點咳嗽")
	if !second.Completed || !strings.Contains(second.Reply, CompletionMarker) {
		t.Fatalf("expected completion at max turns, got %+v", second)
	}
	if !reflect.DeepEqual(second.Symptoms, []string{"疲勞", "咳嗽"}) {
		t.Fatalf("unexpected symptoms %v", second.Symptoms)
	}
}

func TestSessionEngineCompletesOnResponderMarker(t *testing.T) {
	responder := &stubResponder{reply: "謝謝您，" + CompletionMarker + "。"}
	f := newEngineFixture(t, responder, EngineOptions{})
	sess := f.registry.Get(f.patient.ID)

	result := f.say(t, sess, "今天很好")
	if !result.Completed || result.ReportID == "" {
		t.Fatalf("expected marker to complete the session, got %+v", result)
	}
}

func TestSessionEngineResponderFailures(t *testing.T) {
	unavailable := &stubResponder{err: ErrResponderUnavailable}
	f := newEngineFixture(t, unavailable, EngineOptions{})
	sess := f.registry.Get(f.patient.ID)

	result := f.say(t, sess, "有點喘")
	if !strings.Contains(result.Reply, "呼吸方面") {
		t.Fatalf("expected rule fallback reply, got %q", result.Reply)
	}

	broken := &stubResponder{err: errors.New("upstream 500")}
	f = newEngineFixture(t, broken, EngineOptions{})
	sess = f.registry.Get(f.patient.ID)

	result = f.say(t, sess, "有點喘")
	if result.Reply != ApologyMessage {
		t.Fatalf("expected apology, got %q", result.Reply)
	}
	// 致歉不影响状态推进
	result = f.say(t, sess, "沒有其他了")
	if !result.Completed {
		t.Fatalf("expected done phrase to complete regardless of responder, got %+v", result)
	}
}

func TestSessionEngineHistoryWindow(t *testing.T) {
	responder := &stubResponder{reply: "收到"}
	f := newEngineFixture(t, responder, EngineOptions{HistoryWindow: 3})
	sess := f.registry.Get(f.patient.ID)

	for _, text := range []string{"一", "二", "三", "四"} {
		f.say(t, sess, text)
	}

	last := responder.requests[len(responder.requests)-1]
	if len(last.History) != 3 {
		t.Fatalf("expected history window of 3, got %d", len(last.History))
	}
	if last.Message != "四" || last.History[2].Text != "收到" || last.History[1].Text != "三" {
		t.Fatalf("unexpected request %+v", last)
	}
	if responder.requests[0].Patient.ID != f.patient.ID {
		t.Fatal("expected patient context on request")
	}
}

func TestSessionEngineRejectsPendingPatientsAndEmptyText(t *testing.T) {
	f := newEngineFixture(t, nil, EngineOptions{})
	sess := f.registry.Get(f.patient.ID)

	if _, err := f.engine.Reply(context.Background(), sess, f.patient, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	pending := &Patient{ID: "P2", Status: PatientStatusPendingSetup}
	if _, err := f.engine.Start(context.Background(), NewSession("P2", "2026-10-18"), pending); !errors.Is(err, ErrPatientNotReady) {
		t.Fatalf("expected ErrPatientNotReady, got %v", err)
	}
}

func TestGreetingByHour(t *testing.T) {
	cases := map[int]string{8: "早安", 11: "早安", 12: "午安", 17: "午安", 18: "晚安", 23: "晚安"}
	for hour, want := range cases {
		now := newTestClock(hour).Now()
		if got := Greeting(now, "", 3); !strings.HasPrefix(got, want+"，您！") {
			t.Fatalf("Greeting at %d = %q, want prefix %s", hour, got, want)
		}
	}
}

func TestSessionRegistryRollsOverAtMidnight(t *testing.T) {
	clk := newTestClock(23)
	registry := NewSessionRegistry(testLoc)
	registry.SetClock(clk.Now)

	first := registry.Get("P1")
	if registry.Get("P1") != first {
		t.Fatal("expected same session within a day")
	}

	clk.Advance(2 * time.Hour)
	next := registry.Get("P1")
	if next == first {
		t.Fatal("expected a fresh session after midnight")
	}
	if next.Snapshot().Date != "2026-10-19" {
		t.Fatalf("unexpected session date %s", next.Snapshot().Date)
	}

	registry.Reset("P1")
	if registry.Len() != 0 {
		t.Fatalf("expected registry to be empty after reset, got %d", registry.Len())
	}
}

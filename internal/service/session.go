package service

import (
	"sync"
	"time"
)

// SessionState 是每日回报对话的状态。
type SessionState int

const (
	StateGreeting SessionState = iota
	StateEliciting
	StateCompleted
)

func (s SessionState) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateEliciting:
		return "eliciting"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 是对话中的一条消息。
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Session 保存一位病人当天的回报对话，只存在于内存中。
// 同一会话同一时间只应有一个调用方，mu 用来兜住重复提交的请求。
type Session struct {
	mu sync.Mutex

	patientID       string
	date            string
	state           SessionState
	turns           []Turn
	score           int
	symptoms        []string
	reportID        string
	alreadyReported bool
	pendingCommit   bool
}

// NewSession 为病人创建某一天的新会话。
func NewSession(patientID, date string) *Session {
	return &Session{patientID: patientID, date: date, state: StateGreeting}
}

// SessionSnapshot 是会话的只读副本。
type SessionSnapshot struct {
	PatientID       string     `json:"patient_id"`
	Date            string     `json:"date"`
	State           string     `json:"state"`
	Turns           []Turn     `json:"turns"`
	CurrentScore    int        `json:"current_score"`
	AlertLevel      AlertLevel `json:"alert_level"`
	Symptoms        []string   `json:"symptoms"`
	Completed       bool       `json:"completed"`
	ReportID        string     `json:"report_id,omitempty"`
	AlreadyReported bool       `json:"already_reported,omitempty"`
}

// Snapshot 返回会话当前状态的副本。
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() SessionSnapshot {
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	symptoms := make([]string, len(s.symptoms))
	copy(symptoms, s.symptoms)
	return SessionSnapshot{
		PatientID:       s.patientID,
		Date:            s.date,
		State:           s.state.String(),
		Turns:           turns,
		CurrentScore:    s.score,
		AlertLevel:      Classify(s.score),
		Symptoms:        symptoms,
		Completed:       s.state == StateCompleted,
		ReportID:        s.reportID,
		AlreadyReported: s.alreadyReported,
	}
}

func (s *Session) addTurn(role, text string, at time.Time) {
	s.turns = append(s.turns, Turn{Role: role, Text: text, At: at})
}

func (s *Session) userTurns() int {
	n := 0
	for _, turn := range s.turns {
		if turn.Role == RoleUser {
			n++
		}
	}
	return n
}

// history 返回最近 window 条消息的副本。
func (s *Session) history(window int) []Turn {
	start := 0
	if window > 0 && len(s.turns) > window {
		start = len(s.turns) - window
	}
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

func (s *Session) addSymptoms(names []string) {
	for _, name := range names {
		seen := false
		for _, existing := range s.symptoms {
			if existing == name {
				seen = true
				break
			}
		}
		if !seen {
			s.symptoms = append(s.symptoms, name)
		}
	}
}

// SessionRegistry 按 (病人, 本地日期) 保存会话；跨过午夜后旧会话被丢弃并创建新的。
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	clock    clock
}

// NewSessionRegistry 构造 SessionRegistry。
func NewSessionRegistry(loc *time.Location) *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*Session{}, clock: newClock(loc)}
}

// SetClock 替换时间来源，主要面向测试场景。
func (r *SessionRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock.now = now
}

// Get 返回病人今天的会话，不存在时新建；已完成的会话在当天内原样返回。
func (r *SessionRegistry) Get(patientID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.clock.Today()
	for id, sess := range r.sessions {
		if sess.date != today {
			delete(r.sessions, id)
		}
	}

	if sess, ok := r.sessions[patientID]; ok {
		return sess
	}
	sess := NewSession(patientID, today)
	r.sessions[patientID] = sess
	return sess
}

// Reset 丢弃病人的会话，例如登出时。
func (r *SessionRegistry) Reset(patientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, patientID)
}

// Len 返回当前保存的会话数量。
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

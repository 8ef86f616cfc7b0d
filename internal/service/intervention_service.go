package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aicarelung/internal/store"
)

// Intervention 记录一次个案管理师的介入（电话、门诊、转介等）。
type Intervention struct {
	ID          string `json:"intervention_id"`
	PatientID   string `json:"patient_id"`
	PatientName string `json:"patient_name"`
	Date        string `json:"date"`
	Timestamp   string `json:"timestamp"`
	Method      string `json:"method"`
	Duration    string `json:"duration,omitempty"`
	Content     string `json:"content"`
	Referral    string `json:"referral,omitempty"`
	CreatedBy   string `json:"created_by"`
}

// InterventionInput 描述一次介入记录。
type InterventionInput struct {
	PatientID   string
	PatientName string
	Method      string
	Duration    string
	Content     string
	Referral    string
	CreatedBy   string
}

// InterventionService 只追加介入记录，不提供修改。
type InterventionService struct {
	store *store.Store
	clock clock
}

// NewInterventionService 构造 InterventionService。
func NewInterventionService(st *store.Store, loc *time.Location) *InterventionService {
	return &InterventionService{store: st, clock: newClock(loc)}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *InterventionService) SetClock(now func() time.Time) {
	s.clock.now = now
}

// Save 追加一条介入记录。
func (s *InterventionService) Save(ctx context.Context, input InterventionInput) (*Intervention, error) {
	patientID := strings.TrimSpace(input.PatientID)
	method := strings.TrimSpace(input.Method)
	if patientID == "" || method == "" {
		return nil, errors.New("patient id and method are required")
	}

	now := s.clock.Now()
	record := &Intervention{
		ID:          newRecordID("I", now),
		PatientID:   patientID,
		PatientName: strings.TrimSpace(input.PatientName),
		Date:        now.Format(dateLayout),
		Timestamp:   now.Format(timestampLayout),
		Method:      method,
		Duration:    strings.TrimSpace(input.Duration),
		Content:     strings.TrimSpace(input.Content),
		Referral:    strings.TrimSpace(input.Referral),
		CreatedBy:   strings.TrimSpace(input.CreatedBy),
	}

	ok := s.store.Append(ctx, store.TableInterventions, map[string]any{
		"intervention_id": record.ID,
		"patient_id":      record.PatientID,
		"patient_name":    record.PatientName,
		"date":            record.Date,
		"timestamp":       record.Timestamp,
		"method":          record.Method,
		"duration":        record.Duration,
		"content":         record.Content,
		"referral":        record.Referral,
		"created_by":      record.CreatedBy,
	})
	if !ok {
		return nil, fmt.Errorf("save intervention for %s: %w", patientID, ErrStoreUnavailable)
	}
	return record, nil
}

// ListByPatient 返回介入记录，最新的在前；patientID 为空时返回全部。
func (s *InterventionService) ListByPatient(ctx context.Context, patientID string) []Intervention {
	patientID = strings.TrimSpace(patientID)
	rows := s.store.GetAll(ctx, store.TableInterventions)

	records := make([]Intervention, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if patientID != "" && row.Get("patient_id") != patientID {
			continue
		}
		records = append(records, Intervention{
			ID:          row.Get("intervention_id"),
			PatientID:   row.Get("patient_id"),
			PatientName: row.Get("patient_name"),
			Date:        row.Get("date"),
			Timestamp:   row.Get("timestamp"),
			Method:      row.Get("method"),
			Duration:    row.Get("duration"),
			Content:     row.Get("content"),
			Referral:    row.Get("referral"),
			CreatedBy:   row.Get("created_by"),
		})
	}
	return records
}

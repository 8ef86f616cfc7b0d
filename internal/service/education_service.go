package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aicarelung/internal/store"
)

// ErrPushNotFound 表示卫教推送记录不存在。
var ErrPushNotFound = errors.New("education push not found")

// EducationPush 是一次卫教素材推送。
type EducationPush struct {
	ID            string `json:"push_id"`
	PatientID     string `json:"patient_id"`
	PatientName   string `json:"patient_name"`
	MaterialID    string `json:"material_id"`
	MaterialTitle string `json:"material_title"`
	Category      string `json:"category"`
	PushType      string `json:"push_type"`
	PushedBy      string `json:"pushed_by"`
	PushedAt      string `json:"pushed_at"`
	ReadAt        string `json:"read_at,omitempty"`
	Status        string `json:"status"`
}

// EducationPushInput 描述一次推送请求。
type EducationPushInput struct {
	PatientID     string
	PatientName   string
	MaterialID    string
	MaterialTitle string
	Category      string
	PushType      string
	PushedBy      string
}

// EducationService 记录卫教推送与已读状态。
type EducationService struct {
	store *store.Store
	clock clock
}

// NewEducationService 构造 EducationService。
func NewEducationService(st *store.Store, loc *time.Location) *EducationService {
	return &EducationService{store: st, clock: newClock(loc)}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *EducationService) SetClock(now func() time.Time) {
	s.clock.now = now
}

// Push 追加一条推送记录，状态为 sent。
func (s *EducationService) Push(ctx context.Context, input EducationPushInput) (*EducationPush, error) {
	patientID := strings.TrimSpace(input.PatientID)
	title := strings.TrimSpace(input.MaterialTitle)
	if patientID == "" || title == "" {
		return nil, errors.New("patient id and material title are required")
	}

	pushType := strings.TrimSpace(input.PushType)
	if pushType == "" {
		pushType = "manual"
	}

	now := s.clock.Now()
	push := &EducationPush{
		ID:            newRecordID("E", now),
		PatientID:     patientID,
		PatientName:   strings.TrimSpace(input.PatientName),
		MaterialID:    strings.TrimSpace(input.MaterialID),
		MaterialTitle: title,
		Category:      strings.TrimSpace(input.Category),
		PushType:      pushType,
		PushedBy:      strings.TrimSpace(input.PushedBy),
		PushedAt:      now.Format(timestampLayout),
		Status:        "sent",
	}

	ok := s.store.Append(ctx, store.TableEducation, map[string]any{
		"push_id":        push.ID,
		"patient_id":     push.PatientID,
		"patient_name":   push.PatientName,
		"material_id":    push.MaterialID,
		"material_title": push.MaterialTitle,
		"category":       push.Category,
		"push_type":      push.PushType,
		"pushed_by":      push.PushedBy,
		"pushed_at":      push.PushedAt,
		"status":         push.Status,
	})
	if !ok {
		return nil, fmt.Errorf("push education to %s: %w", patientID, ErrStoreUnavailable)
	}
	return push, nil
}

// ListByPatient 返回病人收到的推送，最新的在前；patientID 为空时返回全部。
func (s *EducationService) ListByPatient(ctx context.Context, patientID string) []EducationPush {
	patientID = strings.TrimSpace(patientID)
	rows := s.store.GetAll(ctx, store.TableEducation)

	pushes := make([]EducationPush, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if patientID != "" && row.Get("patient_id") != patientID {
			continue
		}
		pushes = append(pushes, EducationPush{
			ID:            row.Get("push_id"),
			PatientID:     row.Get("patient_id"),
			PatientName:   row.Get("patient_name"),
			MaterialID:    row.Get("material_id"),
			MaterialTitle: row.Get("material_title"),
			Category:      row.Get("category"),
			PushType:      row.Get("push_type"),
			PushedBy:      row.Get("pushed_by"),
			PushedAt:      row.Get("pushed_at"),
			ReadAt:        row.Get("read_at"),
			Status:        row.Get("status"),
		})
	}
	return pushes
}

// MarkRead 把推送标记为已读；patientID 非空时只允许标记自己的推送。
func (s *EducationService) MarkRead(ctx context.Context, pushID, patientID string) error {
	row, ok := s.store.Find(ctx, store.TableEducation, "push_id", pushID)
	if !ok {
		return ErrPushNotFound
	}
	if patientID != "" && row.Get("patient_id") != strings.TrimSpace(patientID) {
		return ErrPushNotFound
	}
	if row.Get("status") == "read" {
		return nil
	}

	ok = s.store.Update(ctx, store.TableEducation, "push_id", pushID, map[string]any{
		"read_at": s.clock.Now().Format(timestampLayout),
		"status":  "read",
	})
	if !ok {
		return fmt.Errorf("mark push %s read: %w", pushID, ErrStoreUnavailable)
	}
	return nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aicarelung/internal/metrics"
	"github.com/aicarelung/internal/normalize"
	"github.com/aicarelung/internal/store"
	"github.com/rs/zerolog"
)

const (
	PatientStatusPendingSetup = "pending_setup"
	PatientStatusNormal       = "normal"
	PatientStatusDischarged   = "discharged"
)

const (
	minPhoneDigits    = 10
	minPasswordLength = 4
)

var (
	// ErrDuplicatePhone 表示该手机号已经注册过。
	ErrDuplicatePhone = errors.New("phone already registered")
	// ErrPatientNotFound 表示病人不存在。
	ErrPatientNotFound = errors.New("patient not found")
	// ErrInvalidCredentials 表示手机号或密码错误。
	ErrInvalidCredentials = errors.New("invalid phone or password")
	// ErrInvalidRegistration 表示注册资料不完整或不合法。
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Patient 是病人记录的领域视图。PostOpDay 每次读取时根据手术日期重新计算。
type Patient struct {
	ID            string         `json:"patient_id"`
	Name          string         `json:"name"`
	Phone         string         `json:"phone"`
	Password      string         `json:"-"`
	Age           int            `json:"age,omitempty"`
	Gender        string         `json:"gender,omitempty"`
	SurgeryType   string         `json:"surgery_type,omitempty"`
	SurgeryDate   string         `json:"surgery_date,omitempty"`
	Diagnosis     string         `json:"diagnosis,omitempty"`
	MedicalRecord string         `json:"medical_record,omitempty"`
	Status        string         `json:"status"`
	PostOpDay     int            `json:"post_op_day"`
	ConsentAgreed bool           `json:"consent_agreed"`
	ConsentTime   string         `json:"consent_time,omitempty"`
	RegisteredAt  string         `json:"registered_at,omitempty"`
	ClinicalData  map[string]any `json:"clinical_data,omitempty"`
	Notes         string         `json:"notes,omitempty"`
}

// CanReport 表示病人是否已完成手术设定、可以开始每日回报。
func (p *Patient) CanReport() bool {
	return p != nil && p.Status == PatientStatusNormal
}

// RegistrationInput 描述自助注册表单。
type RegistrationInput struct {
	Name            string
	Phone           string
	Password        string
	ConfirmPassword string
	Age             int
	Gender          string
	ConsentAgreed   bool
}

// SurgerySetupInput 描述个案管理师录入的手术信息。
type SurgerySetupInput struct {
	SurgeryType   string
	SurgeryDate   string
	Diagnosis     string
	MedicalRecord string
	ClinicalData  map[string]any
	Notes         string
}

// PatientService 提供病人身份解析、注册与管理能力。
type PatientService struct {
	store   *store.Store
	ids     *PatientIDGenerator
	locks   *store.KeyedMutex
	clock   clock
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewPatientService 构造 PatientService。
func NewPatientService(st *store.Store, loc *time.Location) *PatientService {
	return &PatientService{
		store:  st,
		ids:    NewPatientIDGenerator(),
		locks:  store.NewKeyedMutex(),
		clock:  newClock(loc),
		logger: zerolog.Nop(),
	}
}

// SetClock 替换时间来源，主要面向测试场景。
func (s *PatientService) SetClock(now func() time.Time) {
	s.clock.now = now
	s.ids.SetClock(now)
}

// SetLogger 设置日志记录器。
func (s *PatientService) SetLogger(logger zerolog.Logger) {
	s.logger = logger.With().Str("component", "patients").Logger()
}

// SetMetrics 设置指标收集器。
func (s *PatientService) SetMetrics(m *metrics.Collector) {
	s.metrics = m
}

// FindByPhone 先按规范化手机号精确匹配，再按去掉前导零后的数字匹配；多条命中时返回存储顺序中的第一条。
// 后端不可用时返回 ErrStoreUnavailable 而不是 ErrPatientNotFound。
func (s *PatientService) FindByPhone(ctx context.Context, raw any) (*Patient, error) {
	phone := normalize.Phone(raw)
	if phone == "" {
		return nil, ErrPatientNotFound
	}

	rows, err := s.store.Load(ctx, store.TablePatients)
	if err != nil {
		return nil, fmt.Errorf("find patient by phone: %w: %w", ErrStoreUnavailable, err)
	}
	if row, ok := matchPhone(rows, phone); ok {
		return s.fromRow(row), nil
	}
	return nil, ErrPatientNotFound
}

func matchPhone(rows []store.Row, phone string) (store.Row, bool) {
	for _, row := range rows {
		if row.Get("phone") == phone {
			return row, true
		}
	}

	stripped := normalize.StripLeadingZeros(phone)
	if stripped == "" {
		return nil, false
	}
	for _, row := range rows {
		if normalize.StripLeadingZeros(row.Get("phone")) == stripped {
			return row, true
		}
	}
	return nil, false
}

// FindByID 根据病人编号查询。
func (s *PatientService) FindByID(ctx context.Context, id string) (*Patient, error) {
	row, ok, err := s.store.Lookup(ctx, store.TablePatients, "patient_id", id)
	if err != nil {
		return nil, fmt.Errorf("find patient %s: %w: %w", id, ErrStoreUnavailable, err)
	}
	if !ok {
		return nil, ErrPatientNotFound
	}
	return s.fromRow(row), nil
}

// List 返回全部病人，最近注册的排在前面。
func (s *PatientService) List(ctx context.Context) []Patient {
	rows := s.store.GetAll(ctx, store.TablePatients)
	patients := make([]Patient, 0, len(rows))
	for _, row := range rows {
		patients = append(patients, *s.fromRow(row))
	}
	sort.SliceStable(patients, func(i, j int) bool {
		return patients[i].RegisteredAt > patients[j].RegisteredAt
	})
	return patients
}

// IssueID 基于当前快照为手机号分配一个未被占用的病人编号。
func (s *PatientService) IssueID(ctx context.Context, phone string) (string, error) {
	rows, err := s.store.Load(ctx, store.TablePatients)
	if err != nil {
		return "", fmt.Errorf("issue patient id: %w: %w", ErrStoreUnavailable, err)
	}
	return s.issueID(rows, phone), nil
}

func (s *PatientService) issueID(rows []store.Row, phone string) string {
	existing := make(map[string]bool, len(rows))
	for _, row := range rows {
		existing[row.Get("patient_id")] = true
	}
	return s.ids.Generate(phone, func(id string) bool { return existing[id] })
}

// Register 校验表单并创建 pending_setup 状态的病人。
func (s *PatientService) Register(ctx context.Context, input RegistrationInput) (*Patient, error) {
	name := strings.TrimSpace(input.Name)
	phone := normalize.Phone(input.Phone)
	password := normalize.Password(input.Password)

	switch {
	case name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRegistration)
	case len(phone) < minPhoneDigits:
		return nil, fmt.Errorf("%w: phone must have at least %d digits", ErrInvalidRegistration, minPhoneDigits)
	case utf8.RuneCountInString(password) < minPasswordLength:
		return nil, fmt.Errorf("%w: password must have at least %d characters", ErrInvalidRegistration, minPasswordLength)
	case input.ConfirmPassword != "" && normalize.Password(input.ConfirmPassword) != password:
		return nil, fmt.Errorf("%w: passwords do not match", ErrInvalidRegistration)
	case !input.ConsentAgreed:
		return nil, fmt.Errorf("%w: consent is required", ErrInvalidRegistration)
	}

	unlock := s.locks.Lock("phone:" + normalize.StripLeadingZeros(phone))
	defer unlock()

	// 写入前丢弃缓存复查；读不到整表时不能断定手机号未注册
	rows, err := s.store.Refresh(ctx, store.TablePatients)
	if err != nil {
		return nil, fmt.Errorf("check phone before register: %w: %w", ErrStoreUnavailable, err)
	}
	if _, ok := matchPhone(rows, phone); ok {
		return nil, ErrDuplicatePhone
	}

	now := s.clock.Now()
	stamp := now.Format(timestampLayout)
	patient := &Patient{
		ID:            s.issueID(rows, phone),
		Name:          name,
		Phone:         phone,
		Password:      password,
		Age:           input.Age,
		Gender:        strings.TrimSpace(input.Gender),
		Status:        PatientStatusPendingSetup,
		ConsentAgreed: true,
		ConsentTime:   stamp,
		RegisteredAt:  stamp,
		ClinicalData:  map[string]any{},
	}

	if !s.store.Append(ctx, store.TablePatients, s.toRow(patient)) {
		return nil, fmt.Errorf("register patient %s: %w", patient.ID, ErrStoreUnavailable)
	}

	s.metrics.PatientRegistered()
	s.logger.Info().Str("patient_id", patient.ID).Msg("patient registered")
	return patient, nil
}

// Authenticate 以规范化后的明文比对手机号与密码。
func (s *PatientService) Authenticate(ctx context.Context, phone, password string) (*Patient, error) {
	patient, err := s.FindByPhone(ctx, phone)
	if errors.Is(err, ErrStoreUnavailable) {
		return nil, err
	}
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if patient.Password == "" || patient.Password != normalize.Password(password) {
		return nil, ErrInvalidCredentials
	}
	return patient, nil
}

// SetupSurgery 录入手术信息并把病人切换到 normal 状态。
func (s *PatientService) SetupSurgery(ctx context.Context, id string, input SurgerySetupInput) (*Patient, error) {
	surgeryType := strings.TrimSpace(input.SurgeryType)
	if surgeryType == "" {
		return nil, fmt.Errorf("%w: surgery type is required", ErrInvalidRegistration)
	}
	day, ok := parseDate(input.SurgeryDate, s.clock.loc)
	if !ok {
		return nil, fmt.Errorf("%w: invalid surgery date %q", ErrInvalidRegistration, input.SurgeryDate)
	}
	surgeryDate := day.Format(dateLayout)

	if _, err := s.FindByID(ctx, id); err != nil {
		return nil, err
	}

	fields := map[string]any{
		"surgery_type": surgeryType,
		"surgery_date": surgeryDate,
		"status":       PatientStatusNormal,
		"post_op_day":  PostOpDay(surgeryDate, s.clock.Now()),
	}
	if v := strings.TrimSpace(input.Diagnosis); v != "" {
		fields["diagnosis"] = v
	}
	if v := strings.TrimSpace(input.MedicalRecord); v != "" {
		fields["medical_record"] = v
	}
	if input.ClinicalData != nil {
		fields["clinical_data"] = input.ClinicalData
	}
	if v := strings.TrimSpace(input.Notes); v != "" {
		fields["notes"] = v
	}

	if !s.store.Update(ctx, store.TablePatients, "patient_id", id, fields) {
		return nil, fmt.Errorf("setup surgery for %s: %w", id, ErrStoreUnavailable)
	}
	return s.FindByID(ctx, id)
}

// Discharge 将病人标记为出院，出院后不再计入活跃病人。
func (s *PatientService) Discharge(ctx context.Context, id string) error {
	if _, err := s.FindByID(ctx, id); err != nil {
		return err
	}
	if !s.store.Update(ctx, store.TablePatients, "patient_id", id, map[string]any{"status": PatientStatusDischarged}) {
		return fmt.Errorf("discharge %s: %w", id, ErrStoreUnavailable)
	}
	return nil
}

func (s *PatientService) fromRow(row store.Row) *Patient {
	return &Patient{
		ID:            row.Get("patient_id"),
		Name:          row.Get("name"),
		Phone:         row.Get("phone"),
		Password:      row.Get("password"),
		Age:           row.Int("age"),
		Gender:        row.Get("gender"),
		SurgeryType:   row.Get("surgery_type"),
		SurgeryDate:   row.Get("surgery_date"),
		Diagnosis:     row.Get("diagnosis"),
		MedicalRecord: row.Get("medical_record"),
		Status:        row.Get("status"),
		PostOpDay:     PostOpDay(row.Get("surgery_date"), s.clock.Now()),
		ConsentAgreed: isYes(row.Get("consent_agreed")),
		ConsentTime:   row.Get("consent_time"),
		RegisteredAt:  row.Get("registered_at"),
		ClinicalData:  row.Object("clinical_data"),
		Notes:         row.Get("notes"),
	}
}

func (s *PatientService) toRow(p *Patient) map[string]any {
	age := ""
	if p.Age > 0 {
		age = strconv.Itoa(p.Age)
	}
	consent := "N"
	if p.ConsentAgreed {
		consent = "Y"
	}
	return map[string]any{
		"patient_id":     p.ID,
		"name":           p.Name,
		"phone":          p.Phone,
		"password":       p.Password,
		"age":            age,
		"gender":         p.Gender,
		"surgery_type":   p.SurgeryType,
		"surgery_date":   p.SurgeryDate,
		"diagnosis":      p.Diagnosis,
		"medical_record": p.MedicalRecord,
		"status":         p.Status,
		"post_op_day":    p.PostOpDay,
		"consent_agreed": consent,
		"consent_time":   p.ConsentTime,
		"registered_at":  p.RegisteredAt,
		"clinical_data":  p.ClinicalData,
		"notes":          p.Notes,
	}
}

func isYes(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "Y", "YES", "TRUE", "1":
		return true
	}
	return false
}

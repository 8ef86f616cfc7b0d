package handler

import (
	"time"

	"github.com/aicarelung/internal/metrics"
	"github.com/aicarelung/internal/service"
	"github.com/aicarelung/internal/store"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options 汇总构造 API 所需的依赖与参数。
type Options struct {
	DB       *gorm.DB
	Store    *store.Store
	Location *time.Location
	Logger   zerolog.Logger
	Metrics  *metrics.Collector

	// AIDefaults 是启动配置中的对话模型设置，数据库中的系统设置会覆盖它。
	AIDefaults service.SystemSettings
	Model      service.ModelConfig
	Engine     service.EngineOptions

	// ChatRate 与 ChatBurst 限制单个病人的发言频率，0 表示使用默认值。
	ChatRate  float64
	ChatBurst int
}

// API bundles shared dependencies for HTTP handlers.
type API struct {
	db            *gorm.DB
	store         *store.Store
	patients      *service.PatientService
	reports       *service.ReportService
	education     *service.EducationService
	interventions *service.InterventionService
	exports       *service.ExportService
	system        *service.SystemSettingService
	responder     *service.ModelResponder
	engine        *service.SessionEngine
	sessions      *service.SessionRegistry
	limiter       *chatLimiter
	logger        zerolog.Logger
	metrics       *metrics.Collector
}

// NewAPI constructs a handler set with shared services.
func NewAPI(opts Options) *API {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	patients := service.NewPatientService(opts.Store, loc)
	patients.SetLogger(opts.Logger)
	patients.SetMetrics(opts.Metrics)

	reports := service.NewReportService(opts.Store, loc)
	reports.SetLogger(opts.Logger)
	reports.SetMetrics(opts.Metrics)

	system := service.NewSystemSettingService(opts.DB, opts.AIDefaults)

	responder := service.NewModelResponder(system, opts.Model)
	responder.SetLogger(opts.Logger)
	responder.SetMetrics(opts.Metrics)

	engine := service.NewSessionEngine(reports, responder, opts.Engine, loc)
	engine.SetLogger(opts.Logger)
	engine.SetMetrics(opts.Metrics)

	return &API{
		db:            opts.DB,
		store:         opts.Store,
		patients:      patients,
		reports:       reports,
		education:     service.NewEducationService(opts.Store, loc),
		interventions: service.NewInterventionService(opts.Store, loc),
		exports:       service.NewExportService(opts.Store),
		system:        system,
		responder:     responder,
		engine:        engine,
		sessions:      service.NewSessionRegistry(loc),
		limiter:       newChatLimiter(opts.ChatRate, opts.ChatBurst),
		logger:        opts.Logger.With().Str("component", "http").Logger(),
		metrics:       opts.Metrics,
	}
}

// Metrics 返回指标收集器，供路由层挂载 /metrics。
func (a *API) Metrics() *metrics.Collector {
	return a.metrics
}

// Responder 暴露模型回复器，便于在测试或运维脚本中替换上游地址。
func (a *API) Responder() *service.ModelResponder {
	return a.responder
}

// Settings 暴露系统设置服务。
func (a *API) Settings() *service.SystemSettingService {
	return a.system
}

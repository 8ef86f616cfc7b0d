package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aicarelung/internal/config"
	"github.com/aicarelung/internal/db"
	"github.com/aicarelung/internal/logging"
	"github.com/aicarelung/internal/service"
	"github.com/aicarelung/internal/store"
)

// 演示数据生成器：写入几位术后病人与最近几天的回报，仅支持本地 sqlite 后端。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("读取配置失败:", err)
	}
	if cfg.StoreBackend != "sqlite" {
		log.Fatalf("演示数据只写入本地 sqlite，当前后端为 %s", cfg.StoreBackend)
	}

	gdb, err := db.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	st := store.New(db.NewGormBackend(gdb), store.Options{
		Logger: logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr),
	})

	fmt.Println("开始生成测试数据...")
	summary, err := seedDemoData(context.Background(), st, cfg.Location(), time.Now())
	if err != nil {
		log.Fatal("生成测试数据失败:", err)
	}

	fmt.Println("测试数据生成完成！")
	fmt.Printf("病人: 新增 %d 位（已存在 %d 位）\n", summary.Patients, summary.Existing)
	fmt.Printf("回报: 新增 %d 份\n", summary.Reports)
	fmt.Println("病人登入密码均为 1234")
}

type demoPatient struct {
	name        string
	phone       string
	age         int
	gender      string
	surgeryType string
	// surgeryDaysAgo 为 0 表示尚未设定手术
	surgeryDaysAgo int
	scores         []int
	symptoms       [][]string
}

var demoPatients = []demoPatient{
	{
		name: "王小明", phone: "0912345678", age: 66, gender: "男",
		surgeryType: "胸腔鏡右上肺葉切除", surgeryDaysAgo: 5,
		scores:   []int{6, 5, 3, 8},
		symptoms: [][]string{{"疼痛"}, {"疼痛", "咳嗽"}, {"咳嗽"}, {"呼吸困難"}},
	},
	{
		name: "陳美玲", phone: "0922333444", age: 58, gender: "女",
		surgeryType: "胸腔鏡楔狀切除", surgeryDaysAgo: 3,
		scores:   []int{4, 2},
		symptoms: [][]string{{"疲勞"}, {}},
	},
	{
		name: "林志強", phone: "0933555666", age: 71, gender: "男",
		surgeryType: "肺節切除", surgeryDaysAgo: 10,
		scores:   []int{7, 5, 5, 4, 2},
		symptoms: [][]string{{"呼吸困難", "疼痛"}, {"疼痛"}, {"咳嗽"}, {"疲勞"}, {}},
	},
	{
		name: "張淑芬", phone: "0955777888", age: 63, gender: "女",
	},
}

type seedSummary struct {
	Patients int
	Existing int
	Reports  int
}

func seedDemoData(ctx context.Context, st *store.Store, loc *time.Location, now time.Time) (seedSummary, error) {
	var summary seedSummary
	clockAt := func(t time.Time) func() time.Time { return func() time.Time { return t } }

	patients := service.NewPatientService(st, loc)
	patients.SetClock(clockAt(now))
	reports := service.NewReportService(st, loc)
	education := service.NewEducationService(st, loc)
	education.SetClock(clockAt(now))
	interventions := service.NewInterventionService(st, loc)
	interventions.SetClock(clockAt(now))

	for _, demo := range demoPatients {
		patient, err := patients.Register(ctx, service.RegistrationInput{
			Name:          demo.name,
			Phone:         demo.phone,
			Password:      "1234",
			Age:           demo.age,
			Gender:        demo.gender,
			ConsentAgreed: true,
		})
		switch {
		case errors.Is(err, service.ErrDuplicatePhone):
			summary.Existing++
			continue
		case err != nil:
			return summary, err
		}
		summary.Patients++

		if demo.surgeryDaysAgo == 0 {
			continue
		}
		surgeryDate := now.In(loc).AddDate(0, 0, -demo.surgeryDaysAgo).Format("2006-01-02")
		if _, err := patients.SetupSurgery(ctx, patient.ID, service.SurgerySetupInput{
			SurgeryType: demo.surgeryType,
			SurgeryDate: surgeryDate,
			Diagnosis:   "肺腺癌 Stage IA",
		}); err != nil {
			return summary, err
		}

		// 最后一个分数落在今天，其余依次往前
		for i, score := range demo.scores {
			day := now.AddDate(0, 0, i-len(demo.scores)+1)
			reports.SetClock(clockAt(day))
			_, err := reports.Submit(ctx, service.ReportInput{
				PatientID:     patient.ID,
				PatientName:   patient.Name,
				OverallScore:  score,
				Symptoms:      demo.symptoms[i],
				MessagesCount: 7,
			})
			if err != nil && !errors.Is(err, service.ErrAlreadyReported) {
				return summary, err
			}
			if err == nil {
				summary.Reports++
			}
		}

		if _, err := education.Push(ctx, service.EducationPushInput{
			PatientID:     patient.ID,
			PatientName:   patient.Name,
			MaterialID:    "EDU-01",
			MaterialTitle: "術後呼吸訓練",
			Category:      "呼吸",
			PushType:      "auto",
			PushedBy:      "system",
		}); err != nil {
			return summary, err
		}
	}

	if first, err := patients.FindByPhone(ctx, demoPatients[0].phone); err == nil && summary.Patients > 0 {
		if _, err := interventions.Save(ctx, service.InterventionInput{
			PatientID:   first.ID,
			PatientName: first.Name,
			Method:      "電話關懷",
			Duration:    "10分鐘",
			Content:     "術後第一次電話追蹤，說明傷口照護與呼吸訓練。",
			CreatedBy:   "admin",
		}); err != nil {
			return summary, err
		}
	}

	return summary, nil
}

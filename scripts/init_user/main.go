package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/aicarelung/internal/config"
	"github.com/aicarelung/internal/db"
)

// 初始化个案管理师账号；未配置 REVIEWER_USER_NAME / REVIEWER_PASSWORD 时使用默认账号。
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("读取配置失败:", err)
	}

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	username := strings.TrimSpace(cfg.ReviewerUserName)
	password := strings.TrimSpace(cfg.ReviewerPassword)
	if username == "" || password == "" {
		username, password = "admin", "admin123" // 默认密码
	}

	// 检查是否已存在用户
	var count int64
	db.DB.Model(&db.User{}).Where("username = ?", username).Count(&count)
	if count > 0 {
		fmt.Println("用户已存在，无需初始化")
		return
	}

	if err := db.EnsureUser(db.DB, username, password, "個案管理師"); err != nil {
		log.Fatal("创建用户失败:", err)
	}

	fmt.Println("审阅人账号创建成功")
	fmt.Println("用户名:", username)
	fmt.Println("密码:", password)
}

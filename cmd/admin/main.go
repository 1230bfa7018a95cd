package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"certforge/internal/config"
	"certforge/internal/database"
	"certforge/internal/tasks"
)

func main() {
	var (
		seedDemo      = flag.Bool("seed-demo", false, "创建演示机构与示例设计")
		requeue       = flag.Bool("requeue-pending", false, "重新排队卡在 pending 的证书")
		olderThanMins = flag.Int("older-than", 30, "只重排创建超过 N 分钟的证书")
		dbHost        = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort        = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName        = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser        = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass        = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode       = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
		redisAddrFlag = flag.String("redis-addr", "", "Redis 地址（可选，默认读 REDIS_HOST/REDIS_PORT）")
	)
	flag.Parse()

	if !*seedDemo && !*requeue {
		log.Fatal("nothing to do: pass --seed-demo or --requeue-pending")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	if *seedDemo {
		if err := seedDemoData(db); err != nil {
			log.Fatalf("seed demo data: %v", err)
		}
	}

	if *requeue {
		addr := resolveRedisAddr(*redisAddrFlag)
		if err := requeuePendingCertificates(db, addr, *olderThanMins); err != nil {
			log.Fatalf("requeue pending certificates: %v", err)
		}
	}
}

const demoDesignDoc = `{
	"width": 1684,
	"height": 1191,
	"background": "#fdfbf7",
	"objects": [
		{"type": "textbox", "text": "Certificate of Completion", "left": 342, "top": 180, "width": 1000, "height": 80, "fontSize": 48, "fontWeight": "bold", "textAlign": "center"},
		{"type": "textbox", "text": "This certificate is proudly presented to", "left": 442, "top": 330, "width": 800, "height": 40, "fontSize": 20, "textAlign": "center"},
		{"type": "textbox", "text": "{{recipient_name}}", "left": 342, "top": 420, "width": 1000, "height": 80, "fontSize": 56, "fontStyle": "italic", "textAlign": "center"},
		{"type": "textbox", "text": "for completing {{course}}", "left": 442, "top": 560, "width": 800, "height": 40, "fontSize": 20, "textAlign": "center"},
		{"type": "line", "left": 642, "top": 700, "width": 400, "height": 0, "stroke": "#9ca3af", "strokeWidth": 2}
	]
}`

// seedDemoData 创建一套可立即试用的机构/设计/活动。重复执行是幂等的。
func seedDemoData(db *gorm.DB) error {
	var org database.Organization
	switch err := db.First(&org, "name = ?", "Demo Organization").Error; {
	case err == nil:
		fmt.Printf("演示机构已存在: %s\n", org.ID)
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("query demo organization: %w", err)
	}

	org = database.Organization{Name: "Demo Organization"}
	if err := db.Create(&org).Error; err != nil {
		return fmt.Errorf("create demo organization: %w", err)
	}

	design := database.Design{
		OrganizationID: org.ID,
		Name:           "Demo Completion Certificate",
		Status:         database.DesignStatusActive,
		DesignData:     []byte(demoDesignDoc),
		Settings:       []byte(`{"orientation": "landscape"}`),
	}
	if err := db.Create(&design).Error; err != nil {
		return fmt.Errorf("create demo design: %w", err)
	}

	camp := database.Campaign{
		OrganizationID:  org.ID,
		DesignID:        design.ID,
		Name:            "Demo Campaign",
		Status:          database.CampaignStatusActive,
		VariableMapping: []byte(`{"variables": {"course": "course"}}`),
	}
	if err := db.Create(&camp).Error; err != nil {
		return fmt.Errorf("create demo campaign: %w", err)
	}

	fmt.Printf("演示数据已创建：\n")
	fmt.Printf("organization_id: %s\n", org.ID)
	fmt.Printf("design_id: %s\n", design.ID)
	fmt.Printf("campaign_id: %s\n", camp.ID)
	return nil
}

// requeuePendingCertificates 为长期停留在 pending 的证书重新排队生成任务。
func requeuePendingCertificates(db *gorm.DB, redisAddr string, olderThanMins int) error {
	cutoff := time.Now().Add(-time.Duration(olderThanMins) * time.Minute)

	var stuck []database.Certificate
	if err := db.
		Where("status = ? AND created_at < ?", database.CertificateStatusPending, cutoff).
		Find(&stuck).Error; err != nil {
		return fmt.Errorf("query stuck certificates: %w", err)
	}
	if len(stuck) == 0 {
		fmt.Println("没有需要重排的证书。")
		return nil
	}

	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	defer client.Close()

	requeued := 0
	for _, cert := range stuck {
		task, err := tasks.NewCertificateGenerateTask(cert.ID, "admin-requeue")
		if err != nil {
			return fmt.Errorf("build task for %s: %w", cert.ID, err)
		}
		if _, err := client.Enqueue(task, asynq.MaxRetry(3)); err != nil {
			return fmt.Errorf("enqueue %s: %w", cert.ID, err)
		}
		requeued++
	}

	fmt.Printf("已重排 %d 张证书的生成任务。\n", requeued)
	return nil
}

func resolveRedisAddr(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	host := strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("REDIS_PORT"))
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

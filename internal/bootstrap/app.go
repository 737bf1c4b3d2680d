package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/drewww/unhangout/internal/domain"
	httpHandler "github.com/drewww/unhangout/internal/handler/http"
	wsHandler "github.com/drewww/unhangout/internal/handler/websocket"
	"github.com/drewww/unhangout/internal/hub"
	gormpersistence "github.com/drewww/unhangout/internal/infra/persistence/gorm"
	"github.com/drewww/unhangout/internal/infra/setup"
	redisstate "github.com/drewww/unhangout/internal/infra/state/redis"
	"github.com/drewww/unhangout/internal/middleware"
	"github.com/drewww/unhangout/internal/service"
	"github.com/drewww/unhangout/internal/tasks"
	"github.com/drewww/unhangout/internal/worker"
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	JWTSecret     string
	SockKeySalt   string
	ServerPort    string
	LogLevel      string
	AppEnv        string
	KeyPrefix     string

	AdminEmails  []string // 登录时自动提升为超级用户的邮箱
	HangoutAppID string   // 外部视频服务的应用标识，拼创建 URL 用

	HangoutCreationTimeout   time.Duration
	HangoutConnectionTimeout time.Duration

	RateLimitMax    int
	RateLimitWindow time.Duration
	JWTExpiryHours  int
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		SockKeySalt:   os.Getenv("SOCK_KEY_SALT"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		AppEnv:        os.Getenv("APP_ENV"),
		KeyPrefix:     os.Getenv("REDIS_KEY_PREFIX"),
		HangoutAppID:  os.Getenv("HANGOUT_APP_ID"),
		// --- 默认值 ---
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		JWTExpiryHours:  24,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB")) // 忽略错误，默认为 0

	if emails := os.Getenv("ADMIN_EMAILS"); emails != "" {
		for _, e := range strings.Split(emails, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.AdminEmails = append(cfg.AdminEmails, e)
			}
		}
	}

	cfg.HangoutCreationTimeout = durationEnv("HANGOUT_CREATION_TIMEOUT", 30*time.Second)
	cfg.HangoutConnectionTimeout = durationEnv("HANGOUT_CONNECTION_TIMEOUT", 5*time.Minute)

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "uh:"
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("environment variable JWT_SECRET must be set")
	}
	if cfg.SockKeySalt == "" {
		return nil, fmt.Errorf("environment variable SOCK_KEY_SALT must be set")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

// durationEnv 解析形如 "45s" / "2m" 的环境变量，缺失或非法时取默认值。
func durationEnv(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logrus.Warnf("Invalid %s '%s', using default %s", name, raw, def)
		return def
	}
	return d
}

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server

	redisClientOpt asynq.RedisClientOpt
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	log.Info("Initializing repositories...")
	userRepo := gormpersistence.NewGormUserRepository(db)
	eventRepo := gormpersistence.NewGormEventRepository(db)
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	chatRepo := gormpersistence.NewGormChatRepository(db)
	hangoutPool := redisstate.NewRedisHangoutPool(redisClient, cfg.KeyPrefix)
	subscriptionRepo := redisstate.NewRedisSubscriptionRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 装载内存状态容器
	registry := domain.NewRegistry()
	if err := loadRegistry(context.Background(), registry, userRepo, eventRepo, sessionRepo); err != nil {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}

	// 6. 初始化 Services
	log.Info("Initializing services...")
	authService, err := service.NewAuthService(registry, userRepo, cfg.SockKeySalt, cfg.JWTSecret, cfg.JWTExpiryHours, cfg.AdminEmails)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	eventService := service.NewEventService(registry, eventRepo, sessionRepo, asynqClient)
	hangoutService := service.NewHangoutService(registry, hangoutPool, sessionRepo,
		cfg.HangoutAppID, cfg.HangoutCreationTimeout, cfg.HangoutConnectionTimeout)
	log.Info("Services initialized")

	// 7. 初始化 Hub
	hubInstance := hub.NewHub(registry, authService, eventService)
	log.Info("Hub initialized")

	// 8. 初始化 Handlers
	authHandler := httpHandler.NewAuthHandler(authService, subscriptionRepo)
	eventHandler := httpHandler.NewEventHandler(eventService, hubInstance)
	sessionHandler := httpHandler.NewSessionHandler(hangoutService, hubInstance)
	farmingHandler := httpHandler.NewFarmingHandler(hangoutService)
	socketHandler := wsHandler.NewWebSocketHandler(hubInstance)
	log.Info("Handlers initialized")

	// 9. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, chatRepo, hangoutService, log)
	log.Info("Worker server initialized")

	// 10. 初始化 Gin Engine 和路由
	log.Info("Setting up Gin router...")
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))

	// --- 应用其他中间件 ---
	router.Use(func(c *gin.Context) { /* CORS */
		allowedOrigin := os.Getenv("CORS_ALLOWED_ORIGIN") // 从环境变量读取
		if allowedOrigin == "" {
			allowedOrigin = "http://localhost:3000" // 开发默认
		}
		c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))

	authRequired := middleware.Auth(authService)

	// --- 设置路由 ---
	router.POST("/api/login", authHandler.Login)
	router.POST("/subscribe", authHandler.Subscribe)

	// 参与链接：登录用户点击后被重定向进 hangout
	router.GET("/session/:key", authRequired, sessionHandler.Participate)
	// phone-home：hangout 内应用回报，会话密钥即凭证
	router.POST("/session/hangout/:key", sessionHandler.PhoneHome)

	api := router.Group("/api")
	{
		api.GET("/events/:id", eventHandler.Get)
		adminAPI := api.Group("").Use(authRequired)
		{
			adminAPI.POST("/events", eventHandler.Create)
			adminAPI.PUT("/events/:id", eventHandler.Update)
			adminAPI.POST("/events/:id/start", eventHandler.Start)
			adminAPI.POST("/events/:id/stop", eventHandler.Stop)
			adminAPI.POST("/users/:id/perms", authHandler.SetPerm)
		}
	}

	farming := router.Group("/hangout-farming").Use(authRequired)
	{
		farming.GET("/count", farmingHandler.Count)
		farming.POST("", farmingHandler.Farm)
	}

	router.GET("/sock", socketHandler.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	// 11. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:         cfg,
		Log:            log,
		DB:             db,
		RedisClient:    redisClient,
		AsynqClient:    asynqClient,
		AsynqServer:    workerServer,
		Hub:            hubInstance,
		HttpServer:     httpServer,
		redisClientOpt: redisClientOpt,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	go a.AsynqServer.Start()
	a.Log.Info("Asynq worker server routine started")

	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	scheduler := asynq.NewScheduler(a.redisClientOpt, &asynq.SchedulerOpts{})

	task, err := tasks.NewHangoutSweepTask()
	if err != nil {
		a.Log.Errorf("Failed to create hangout sweep task payload: %v", err)
		return
	}

	schedule := "@every 5m"
	entryID, err := scheduler.Register(schedule, task, asynq.Queue("low"))
	if err != nil {
		a.Log.Errorf("Could not register periodic hangout sweep task: %v", err)
	} else {
		a.Log.Infof("Periodic hangout sweep task registered with schedule '%s' (EntryID: %s)", schedule, entryID)
	}

	go func() {
		a.Log.Info("Asynq scheduler starting...")
		if err := scheduler.Run(); err != nil {
			if !errors.Is(err, asynq.ErrServerClosed) {
				a.Log.Errorf("Asynq scheduler Run() failed: %v", err)
			} else {
				a.Log.Info("Asynq scheduler stopped.")
			}
		}
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 停止 Hub 主循环
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 2. 优雅关闭 Worker Server
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 3. 优雅关闭 HTTP 服务器
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}

// LoggerMiddleware 创建一个 Gin 中间件用于记录请求日志
func LoggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		path := c.Request.URL.Path
		if c.Request.URL.RawQuery != "" {
			path = path + "?" + c.Request.URL.RawQuery
		}
		errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String()

		entry := log.WithFields(logrus.Fields{
			"status_code": statusCode,
			"latency_ms":  latency.Milliseconds(),
			"client_ip":   c.ClientIP(),
			"method":      c.Request.Method,
			"path":        path,
		})

		if errorMessage != "" {
			entry.Error(errorMessage)
		} else {
			if statusCode >= 500 {
				entry.Error("Server error")
			} else if statusCode >= 400 {
				entry.Warn("Client error")
			} else {
				entry.Info("Request handled")
			}
		}
	}
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pu-ac-cn/cas-server/internal/config"
	"github.com/pu-ac-cn/cas-server/internal/database"
	"github.com/pu-ac-cn/cas-server/internal/handler"
	"github.com/pu-ac-cn/cas-server/internal/middleware"
	"github.com/pu-ac-cn/cas-server/internal/model"
	"github.com/pu-ac-cn/cas-server/internal/provider"
	"github.com/pu-ac-cn/cas-server/internal/redis"
	"github.com/pu-ac-cn/cas-server/internal/repository"
	"github.com/pu-ac-cn/cas-server/internal/service"
	"github.com/pu-ac-cn/cas-server/web"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化数据库连接
	if err := database.Init(&cfg.Database); err != nil {
		log.Fatalf("初始化数据库失败: %v", err)
	}
	defer database.Close()
	log.Println("数据库连接成功")

	// 初始化 Redis 连接
	if err := redis.Init(&cfg.Redis); err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redis.Close()
	log.Println("Redis 连接成功")

	// 自动迁移数据库表
	if err := database.AutoMigrate(&model.User{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	log.Println("数据库迁移完成")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(database.GetDB())

	// 初始化 Service
	registry := service.NewServiceRegistry(cfg.CAS.AllowedServices)
	ticketService := service.NewTicketService(redis.GetClient(), registry, &service.TicketServiceConfig{
		STExpiry:  cfg.CAS.STExpiry,
		PTExpiry:  cfg.CAS.PTExpiry,
		PGTExpiry: cfg.CAS.PGTExpiry,
	})
	sessionService := service.NewSessionService(redis.GetClient(), &service.SessionServiceConfig{
		SessionExpiry: cfg.CAS.SessionExpiry,
	})
	userService := service.NewUserService(userRepo, cfg.OAuth.EmailDomain)
	proxyService := service.NewProxyService(ticketService, &service.ProxyServiceConfig{
		CallbackTimeout: cfg.CAS.CallbackTimeout,
	})
	stateService := service.NewStateService(&service.StateServiceConfig{
		Secret: cfg.CAS.StateSecret,
	})

	// 初始化第三方登录提供方
	providers := provider.NewRegistry(cfg.OAuth.Providers, nil)

	// 初始化 Handler
	loginHandler := handler.NewLoginHandler(userService, sessionService, ticketService, providers,
		&handler.LoginHandlerConfig{
			DefaultService:  cfg.CAS.DefaultService,
			FollowLogoutURL: cfg.CAS.FollowLogoutURL,
			SessionExpiry:   cfg.CAS.SessionExpiry,
		})
	validateHandler := handler.NewValidateHandler(ticketService, proxyService, userService)
	oauthHandler := handler.NewOAuthHandler(providers, stateService, userService,
		sessionService, ticketService, cfg.CAS.SessionExpiry)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.SetHTMLTemplate(web.Templates())

	// 全局中间件
	router.Use(middleware.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.NoCache())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		if err := database.Ping(); err != nil {
			dbStatus = "error"
		}

		redisStatus := "ok"
		redisClient := redis.GetClient()
		if redisClient == nil {
			redisStatus = "error"
		} else if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"time":     time.Now().Format(time.RFC3339),
			"database": dbStatus,
			"redis":    redisStatus,
		})
	})

	// 登录与会话
	router.GET("/login", loginHandler.ShowLogin)
	router.POST("/login", loginHandler.DoLogin)
	router.GET("/logout", loginHandler.Logout)
	router.GET("/warn", loginHandler.ShowWarn)
	router.POST("/warn", loginHandler.DoWarn)

	// 票据校验
	router.GET("/validate", validateHandler.LegacyValidate)
	router.GET("/serviceValidate", validateHandler.ServiceValidate)
	router.GET("/proxyValidate", validateHandler.ProxyValidate)
	router.GET("/proxy", validateHandler.Proxy)
	router.POST("/samlValidate", validateHandler.SamlValidate)

	// CAS v3 别名
	p3 := router.Group("/p3")
	{
		p3.GET("/serviceValidate", validateHandler.ServiceValidate)
		p3.GET("/proxyValidate", validateHandler.ProxyValidate)
	}

	// 第三方登录
	oauth := router.Group("/oauth")
	{
		oauth.GET("/authorize/:provider", oauthHandler.Authorize)
		oauth.GET("/callback", oauthHandler.Callback)
	}

	// 创建 HTTP 服务器
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	go func() {
		log.Printf("服务启动，监听地址: %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 优雅关闭，等待 5 秒
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("服务关闭失败: %v", err)
	}

	database.Close()
	redis.Close()

	log.Println("服务已关闭")
}

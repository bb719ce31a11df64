package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hostelattendance/internal/attendance"
	"hostelattendance/internal/audit"
	"hostelattendance/internal/auth"
	"hostelattendance/internal/config"
	"hostelattendance/internal/geo"
	"hostelattendance/internal/httpmiddleware"
	"hostelattendance/internal/queue"
	"hostelattendance/internal/store"
	"hostelattendance/internal/verify"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	window, err := cfg.AttendanceWindow()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	localNow := func() time.Time { return time.Now().In(loc) }

	db, err := store.NewDB(cfg.DatabaseURL, store.PoolConfig{
		MaxOpen:     cfg.DBMaxOpenConns,
		MaxIdle:     cfg.DBMaxIdleConns,
		MaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		log.Printf("warning: db not reachable: %v", err)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr, store.RedisOptions{
		DialTimeout: cfg.RedisDialTimeout,
		OpTimeout:   cfg.RedisOpTimeout,
	})

	repo := attendance.NewRepository(db.Client)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		log.Printf("warning: schema check failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		// Single-binary mode: drain the in-process queue here instead
		// of relying on a separate worker.
		mem := queue.NewInMemory(64)
		q = mem
		go func() {
			if err := audit.Drain(ctx, mem, audit.NewSink(db.Client)); err != nil {
				log.Printf("audit drain stopped: %v", err)
			}
		}()
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "attendance:audit")
	}
	recorder := audit.NewRecorder(q)

	engine := attendance.NewEngine(repo, repo, recorder, attendance.NewDayCache(redisClient.Client), attendance.Config{
		Window:            window,
		Center:            cfg.HostelCenter(),
		RadiusMeters:      cfg.HostelRadiusMeters,
		BiometricFailOpen: cfg.BiometricFailOpen,
		Now:               localNow,
	})

	faceClient := verify.New(cfg.FaceVerifyURL, cfg.FaceVerifySkip)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			EnrollmentNumber string `json:"enrollment_number" binding:"required"`
			Email            string `json:"email" binding:"required,email"`
			Name             string `json:"name" binding:"required"`
			Password         string `json:"password" binding:"required,min=8"`
			BiometricEnabled bool   `json:"biometric_enabled"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := auth.ValidateEmailDomain(req.Email, cfg.AllowedEmailDomain); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if existing, err := repo.GetUserByEmail(c.Request.Context(), req.Email); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		} else if existing != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "password hash failed"})
			return
		}
		user, err := repo.CreateUser(c.Request.Context(), attendance.User{
			EnrollmentNumber: req.EnrollmentNumber,
			Email:            req.Email,
			Name:             req.Name,
			PasswordHash:     hash,
			BiometricEnabled: req.BiometricEnabled,
		})
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		tokens, err := auth.Issue(user.ID, "resident", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = repo.SaveRefreshToken(c.Request.Context(), user.ID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusCreated, gin.H{
			"user":          user,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := repo.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(user.ID, "resident", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		_ = repo.SaveRefreshToken(c.Request.Context(), user.ID, tokens.RefreshToken, tokens.RefreshExp)

		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	authGroup := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	checkinLimiter := httpmiddleware.NewTokenBucket(cfg.CheckinBurst, cfg.CheckinPerMin)
	authGroup.POST("/checkins", checkinLimiter.GinMiddleware(), func(c *gin.Context) {
		var req struct {
			Lat                *float64 `json:"lat"`
			Lon                *float64 `json:"lon"`
			Method             string   `json:"method"`
			BiometricAvailable bool     `json:"biometric_available"`
			BiometricPassed    bool     `json:"biometric_passed"`
			Image              string   `json:"image"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		userID := auth.Subject(c)
		method := attendance.Method(req.Method)
		if method == "" {
			method = attendance.MethodBiometric
		}
		if !method.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "method must be biometric or face"})
			return
		}

		var location *geo.Coordinate
		if req.Lat != nil && req.Lon != nil {
			location = &geo.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
		}

		in := attendance.Input{
			UserID:             userID,
			Method:             method,
			Location:           location,
			BiometricAvailable: req.BiometricAvailable,
			BiometricPassed:    req.BiometricPassed,
		}

		// Face check-ins are verified server-side; an unreachable face
		// service counts as "verification unavailable", not a denial.
		if method == attendance.MethodFace {
			result, err := faceClient.Verify(c.Request.Context(), userID, req.Image)
			if err != nil {
				log.Printf("face verify unavailable for %s: %v", userID, err)
				in.BiometricAvailable = false
			} else {
				in.BiometricAvailable = true
				in.BiometricPassed = result.Verified
			}
		}

		decision, err := engine.Evaluate(c.Request.Context(), in)
		if err != nil {
			c.JSON(attendance.HTTPStatus(err), rejectionBody(err))
			return
		}
		c.JSON(http.StatusCreated, decision)
	})

	authGroup.GET("/attendance/today", func(c *gin.Context) {
		date := localNow().Format(attendance.DateLayout)
		rec, err := repo.GetRecord(c.Request.Context(), date, auth.Subject(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "record": rec, "marked": rec != nil})
	})

	authGroup.GET("/attendance/history", func(c *gin.Context) {
		limit, offset := 50, 0
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				offset = parsed
			}
		}
		records, err := repo.ListUserRecords(c.Request.Context(), auth.Subject(c), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authGroup.GET("/admin/attendance", func(c *gin.Context) {
		date := c.Query("date")
		if date == "" {
			date = localNow().Format(attendance.DateLayout)
		}
		records, err := repo.ListByDate(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "records": records})
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func rejectionBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	var r *attendance.Rejection
	if errors.As(err, &r) {
		body = gin.H{
			"kind":      string(r.Kind),
			"message":   r.Message,
			"retryable": r.Retryable(),
		}
		if r.Kind == attendance.KindOutsideBoundary {
			body["distance_meters"] = r.DistanceMeters
		}
	}
	return body
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}

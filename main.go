package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/constella/horizon-backend/controller"
	"github.com/constella/horizon-backend/realtime"
	"github.com/constella/horizon-backend/services"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}

	// Context store, with an optional badger journal for durability.
	store, err := services.NewContextStore(cfg.ContextDBPath)
	if err != nil {
		log.Fatalf("FATAL: Failed to open context store: %v", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Printf("Warning: Failed to close context store: %v", cerr)
		}
	}()

	// Tag catalog mirror; captures are labeled against it.
	tagSource := services.NewHTTPTagSource(httpClient, cfg.TagAPIURL, cfg.TagTenant)
	tagCache := services.NewTagCache(tagSource, cfg.TagTimeout)

	// OCR sidecar client wrapped with the timeout/retry pipeline.
	ocrEngine := services.NewHTTPOCREngine(httpClient, cfg.OCREngineURL, cfg.OCRLanguage)
	ocrPipeline := services.NewOCRPipeline(ocrEngine, cfg.OCRTimeout, cfg.OCRMaxBytes)
	contextService := services.NewContextService(store, ocrPipeline, tagCache)

	// Gemini-backed conversation manager.
	provider, err := services.NewGeminiProvider(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiSmartModel)
	if err != nil {
		log.Fatalf("FATAL: Failed to create Gemini client: %v. Make sure GEMINI_API_KEY is set.", err)
	}
	log.Println("Successfully connected to Google Gemini.")
	aiService := services.NewAIService(provider, contextService, cfg.AISendTimeout)

	auth := services.NewStaticAuthenticator(cfg.AuthTokens)
	hub := realtime.NewHub(auth, contextService, aiService, tagCache)
	ctrl := controller.NewController(contextService, aiService, tagCache)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware for the overlay frontend
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "Horizon Backend",
			"version": "1.0.0",
			"components": gin.H{
				"context_notes": contextService.NoteCount(),
				"ai_sessions":   aiService.SessionCount(),
				"tags_cached":   tagCache.Len(),
				"connections":   hub.ConnectionCount(),
			},
		})
	})

	apiV1 := router.Group("/api/v1")
	ctrl.Register(apiV1)

	router.GET("/ws", gin.WrapH(hub))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	g, ctx := errgroup.WithContext(context.Background())

	if cfg.WatchDir != "" {
		watcher := services.NewCaptureWatcher(contextService)
		g.Go(func() error {
			watcher.WatchDirectory(ctx, cfg.WatchDir)
			return nil
		})
	}

	g.Go(func() error {
		log.Printf("Horizon backend server starting on http://localhost:%s", cfg.Port)
		log.Printf("Health check available at: http://localhost:%s/health", cfg.Port)
		log.Printf("Realtime channel at: ws://localhost:%s/ws", cfg.Port)
		return srv.ListenAndServe()
	})

	if err := g.Wait(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("FATAL: Server exited: %v", err)
	}
}

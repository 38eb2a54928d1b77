package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	httpHdlr "zoopixie/handler/http"
	"zoopixie/src/core/generation"
	"zoopixie/src/infrastructure/event"
	"zoopixie/src/log"
	"zoopixie/src/novita"
	"zoopixie/src/storage/minioctrl"
	"zoopixie/src/storage/postgres/videoctrl"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the generation API server",
	Long: `The serve command starts the HTTP server that accepts drawing uploads,
submits generation tasks to the provider, answers status and gallery
queries, and receives the provider's task-result webhooks.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	settingDefaultConfig()
}

func runServer(cmd *cobra.Command, args []string) error {
	// Initialize PostgreSQL connection
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}

	// Get underlying *sql.DB for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying *sql.DB: %v", err)
	}
	defer sqlDB.Close()

	// Initialize MinioService and buckets
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
		viper.GetString("minio.domain"),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize minio service: %v", err)
	}

	drawingBucket := viper.GetString("minio.drawing_bucket")
	videoBucket := viper.GetString("minio.video_bucket")
	for _, bucket := range []string{drawingBucket, videoBucket} {
		if err := minioService.EnsureBucketExists(context.Background(), bucket); err != nil {
			return fmt.Errorf("failed to ensure bucket %s exists: %v", bucket, err)
		}
	}
	drawingStore := minioctrl.NewDrawingStore(minioService, drawingBucket)

	// Initialize the provider client
	novitaClient := novita.NewClient(
		viper.GetString("novita.url"),
		viper.GetString("novita.api_key"),
		viper.GetString("novita.model"),
		&http.Client{Timeout: 30 * time.Second},
	)

	// Initialize VideoService
	videoService, err := videoctrl.NewVideoService(db)
	if err != nil {
		return fmt.Errorf("failed to initialize video service: %v", err)
	}

	// Initialize AMQP publisher for completion events
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize amqp publisher: %v", err)
	}
	defer amqpPublisher.Close()

	// Initialize the generation pipeline
	generationService := generation.NewService(drawingStore, novitaClient, videoService, generation.Config{
		FastMode:     true,
		WebhookURL:   viper.GetString("novita.webhook_url"),
		PollInterval: viper.GetDuration("generation.poll_interval"),
		PollTimeout:  viper.GetDuration("generation.poll_timeout"),
	})

	videoHandler := httpHdlr.NewVideoHandler(generationService, videoService)
	webhookHandler := httpHdlr.NewWebhookHandler(videoService, event.NewPublisher(amqpPublisher))

	// Setup gin router
	r := gin.Default()

	// Register routes
	r.POST("/api/videos", videoHandler.Submit)
	r.GET("/api/videos", videoHandler.List)
	r.GET("/api/videos/:task_id", videoHandler.Get)
	r.GET("/api/videos/:task_id/result", videoHandler.AwaitResult)
	r.POST("/webhooks/novita", webhookHandler.HandleNovita)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}

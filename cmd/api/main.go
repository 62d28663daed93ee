// Package main (in api-subfolder) provides launch of the HTTP API of the image vault
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/UnendingLoop/ImageVault/internal/cache"
	"github.com/UnendingLoop/ImageVault/internal/envcfg"
	"github.com/UnendingLoop/ImageVault/internal/events"
	"github.com/UnendingLoop/ImageVault/internal/imageproc"
	"github.com/UnendingLoop/ImageVault/internal/mwlogger"
	"github.com/UnendingLoop/ImageVault/internal/repository"
	"github.com/UnendingLoop/ImageVault/internal/service"
	"github.com/UnendingLoop/ImageVault/internal/transport"
	"github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/config"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig := config.New()
	appConfig.EnableEnv("")
	envcfg.SetDefaults(appConfig)
	if err := appConfig.LoadEnvFiles("./.env"); err != nil {
		log.Printf("Failed to load .env (%s), using process environment only", err)
	}

	// стартуем логгер
	zlog.InitConsole()
	if err := zlog.SetLevel(appConfig.GetString("LOG_LEVEL")); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключитсья к базе
	dbConn := repository.ConnectWithRetries(appConfig, 5, 10*time.Second)
	// накатываем миграцию
	repository.MigrateWithRetries(dbConn.Master, appConfig.GetString("MIGRATIONS_PATH"), 10, 15*time.Second)
	// создаем экземпляр репо
	repo := repository.NewPostgresAssetRepo(dbConn)

	// подключиться к кэшу: вью всегда в redis, байты - по PAYLOAD_BACKEND
	redisClient := cache.NewRedisClient(ctx, appConfig, 5*time.Second)
	views := cache.NewViewCache(redisClient)
	payloads := cache.NewPayloadCache(appConfig, redisClient, 10*time.Second)

	// подключиться к брокеру событий как продюсер
	pub := events.NewPublisher(ctx, appConfig, 10*time.Second)

	// создаем экземпляр сервиса
	var svc AssetAPIService = service.NewAssetService(appConfig, repo, views, payloads, pub, imageproc.NewDeriver())
	// cоздаем экземпляр хендлера HTTP
	handlers := transport.NewAssetHandler(svc, appConfig.GetInt("MAX_UPLOAD_MB"))
	// сетапим сервер
	mode := appConfig.GetString("GIN_MODE")
	engine := ginext.New(mode)

	engine.GET("/ping", handlers.SimplePinger)
	engine.POST("/images", handlers.Create)       // загрузка + деривация вариантов
	engine.GET("/images", handlers.List)          // список
	engine.GET("/images/media", handlers.Media)   // байты варианта по file_path
	engine.GET("/images/media/", handlers.Media)  // то же с завершающим слешем
	engine.GET("/images/:id", handlers.Retrieve)  // карточка
	engine.PUT("/images/:id", handlers.Update)    // обновление name/tag
	engine.PATCH("/images/:id", handlers.Update)  // частичное обновление
	engine.DELETE("/images/:id", handlers.Delete) // удаление

	srv := &http.Server{
		Addr:              ":" + appConfig.GetString("APP_PORT"),
		Handler:           mwlogger.NewMWLogger(engine),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Server launch
	go func() {
		log.Printf("Server running on http://localhost%s\n", srv.Addr)
		err := srv.ListenAndServe()
		if err != nil {
			switch {
			case errors.Is(err, http.ErrServerClosed):
				log.Println("Server gracefully stopping...")
			default:
				log.Printf("Server stopped: %v", err)
				stop()
			}
		}
	}()

	// ждем отмены контекста для запуска грейсфул закрытия соединений
	<-ctx.Done()

	shutdown(srv, pub, redisClient, dbConn)
	log.Println("Exiting API...")
}

func shutdown(srv *http.Server, pub events.Publisher, redisClient *redis.Client, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Stopping HTTP server: in-flight requests get time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("Failed to shutdown HTTP server gracefully:", err)
	}
	log.Println("HTTP server stopped.")

	// Closing broker connection:
	if err := pub.Close(); err != nil {
		log.Println("Failed to close event publisher:", err)
	}
	log.Println("Event publisher closed.")

	// Closing cache connection
	if err := redisClient.Close(); err != nil {
		log.Println("Failed to close cache connection:", err)
	}
	log.Println("Cache connection closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}

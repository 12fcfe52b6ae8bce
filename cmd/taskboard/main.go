package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/molliey/taskboard/api"
	"github.com/molliey/taskboard/board"
	"github.com/molliey/taskboard/realtime"
	"github.com/molliey/taskboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTableName := os.Getenv("TASKS_TABLE")
	usersTableName := os.Getenv("USERS_TABLE")
	eventQueueName := os.Getenv("EVENT_QUEUE")
	if connStr == "" || tasksTableName == "" || usersTableName == "" || eventQueueName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, tasksTableName, usersTableName, eventQueueName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	var persister storage.Persister = store
	var loader board.Loader = store
	var users api.UserDirectory = store
	var publisher *storage.Publisher
	if redisConn := os.Getenv("REDIS_CONNECTION_STRING"); redisConn != "" {
		redisOpts, err := redis.ParseURL(redisConn)
		if err != nil {
			parts := strings.Split(redisConn, ",")
			redisOpts = &redis.Options{Addr: parts[0]}
			for _, p := range parts[1:] {
				kv := strings.SplitN(p, "=", 2)
				if len(kv) != 2 {
					continue
				}
				switch strings.ToLower(kv[0]) {
				case "password":
					redisOpts.Password = kv[1]
				case "ssl":
					if strings.ToLower(kv[1]) == "true" {
						redisOpts.TLSConfig = &tls.Config{}
					}
				}
			}
		}
		rc := redis.NewClient(redisOpts)
		ttl := time.Hour
		if v := os.Getenv("BOARD_CACHE_TTL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil || d <= 0 {
				log.Fatalf("invalid BOARD_CACHE_TTL: %v", err)
			}
			ttl = d
		}
		cache := storage.NewCache(store, rc, ttl)
		persister = cache
		loader = cache
		users = cache
		if channel := os.Getenv("EVENT_CHANNEL"); channel != "" {
			publisher = storage.NewPublisher(rc, channel)
		}
	}

	writer := storage.NewWriter(persister, publisher, storage.WriterConfig{
		Workers: envInt("WRITER_WORKERS", 8),
		Buffer:  envInt("WRITER_BUFFER", 1024),
	})
	defer writer.Close()

	var auth *api.Auth
	if secret := os.Getenv("LOCAL_AUTH_SHARED_SECRET"); secret != "" {
		auth = api.NewLocalAuth([]byte(secret), os.Getenv("AUTH0_AUDIENCE"), os.Getenv("AUTH0_ISSUER"))
	} else {
		jwtAudience := os.Getenv("AUTH0_AUDIENCE")
		domain := os.Getenv("AUTH0_DOMAIN")
		if jwtAudience == "" || domain == "" {
			log.Fatal("missing Auth0 config")
		}
		jwksURL := fmt.Sprintf("https://%s/.well-known/jwks.json", domain)
		jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		auth = api.NewAuth(jwks, jwtAudience, "https://"+domain+"/")
	}

	hub := realtime.NewHub(envInt("SESSION_QUEUE_SIZE", 256))
	boards := board.NewStore(loader, hub)
	router := realtime.NewRouter(boards, hub, writer)

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.Register(e, boards, users, auth)
	realtime.Register(e, hub, router, auth)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("TASKBOARD_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return n
}

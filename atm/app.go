package atm

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	atm8583 "github.com/jonanatree/cyberbank-atm/atm/iso8583"
	"github.com/jonanatree/cyberbank-atm/internal/calendar"
	"github.com/jonanatree/cyberbank-atm/internal/metrics"
	"github.com/jonanatree/cyberbank-atm/internal/middleware"
	"github.com/jonanatree/cyberbank-atm/internal/notify"
	"github.com/jonanatree/cyberbank-atm/internal/security"
)

// App is the main application, it contains all the components of the ATM service
// and is responsible for starting and stopping them.
type App struct {
	srv               *http.Server
	wg                *sync.WaitGroup
	Addr              string
	ISO8583ServerAddr string
	logger            *slog.Logger
	config            *Config

	// PINVerifier and Notifier may be set before Start; defaults are bcrypt
	// and e-mail (when SMTP is configured).
	PINVerifier security.PINVerifier
	Notifier    notify.Notifier

	db            *sql.DB
	redis         *redis.Client
	iso8583Server *atm8583.Server
	reaper        *Reaper
}

func NewApp(logger *slog.Logger, config *Config) *App {
	logger = logger.With(slog.String("app", "atm"))

	if config == nil {
		config = DefaultConfig()
	}

	return &App{
		wg:     &sync.WaitGroup{},
		logger: logger,
		config: config,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")
	ctx := context.Background()

	if err := a.config.Limits.Validate(); err != nil {
		return fmt.Errorf("invalid limits: %w", err)
	}

	loc, err := calendar.LoadLocation(a.config.TimeZone)
	if err != nil {
		a.logger.Info("invalid time zone; using UTC", slog.String("tz", a.config.TimeZone), slog.Any("err", err))
		loc = time.UTC
	}
	calendar.SetDefaultLocation(loc)

	repository, err := a.openRepository(ctx)
	if err != nil {
		return err
	}

	var sessionStore SessionStore = repository
	var redisStore *RedisSessionStore
	if a.config.SessionBackend == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.config.RedisAddr,
			Password: a.config.RedisPassword,
			DB:       a.config.RedisDB,
		})
		redisStore = NewRedisSessionStore(a.redis, a.config.SessionTTL)
		if err := redisStore.Ping(ctx); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		sessionStore = redisStore
	}

	pins := a.PINVerifier
	if pins == nil {
		pins = security.NewBcryptVerifier(a.config.PINBcryptCost)
	}

	notifier := a.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
		if a.config.SMTP.Enabled() {
			notifier = notify.NewEmailNotifier(notify.SMTPConfig{
				Host:     a.config.SMTP.Host,
				Port:     a.config.SMTP.Port,
				Username: a.config.SMTP.Username,
				Password: a.config.SMTP.Password,
				From:     a.config.SMTP.From,
				To:       a.config.SMTP.To,
			}, a.logger)
		}
	}

	if a.config.SeedData {
		if err := Seed(ctx, repository, pins, DemoCards(), a.logger); err != nil {
			return fmt.Errorf("seeding data: %w", err)
		}
	}

	collector := metrics.NewCollector()
	bank := NewBank(repository, pins, a.config.Limits, loc, a.logger)
	sessions := NewSessionManager(bank, sessionStore, a.logger, WithNotifier(notifier), WithMetrics(collector))
	transactions := NewTransactionService(sessions, a.logger, collector)

	iso8583Server := atm8583.NewServer(a.logger, a.config.ISO8583Addr, transactions, collector)
	if err := iso8583Server.Start(); err != nil {
		return fmt.Errorf("starting iso8583 server: %w", err)
	}
	a.ISO8583ServerAddr = iso8583Server.Addr
	a.iso8583Server = iso8583Server

	a.reaper = NewReaper(sessions, sessionStore, a.config.SessionTimeout, a.logger, collector)
	if err := a.reaper.Start(a.config.ReapSchedule); err != nil {
		return err
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))
	router.Use(chimw.Recoverer)

	api := NewAPI(transactions, sessions, bank)
	api.AppendRoutes(router)

	router.Handle("/metrics", collector.Handler())
	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if redisStore != nil {
			if err := redisStore.Ping(ctx); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", slog.Any("err", err))
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

// openRepository picks the ledger backend: pg at runtime, mem only when explicitly allowed.
func (a *App) openRepository(ctx context.Context) (*Repository, error) {
	switch a.config.RepoBackend {
	case "pg":
		if a.config.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required for pg backend")
		}
		db, err := sql.Open("postgres", a.config.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		a.db = db
		repository := NewPGRepository(db)
		if err := repository.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return repository, nil
	case "mem":
		if !a.config.AllowMemBackend {
			return nil, fmt.Errorf("mem repository is disabled at runtime; set ALLOW_MEM_BACKEND=true only in tests and demos")
		}
		return NewRepository(), nil
	}
	return nil, fmt.Errorf("unsupported REPO_BACKEND=%s", a.config.RepoBackend)
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		a.srv.Shutdown(ctx)
	}

	if a.reaper != nil {
		a.reaper.Stop()
	}

	if a.iso8583Server != nil {
		if err := a.iso8583Server.Close(); err != nil {
			a.logger.Error("closing iso8583 server", slog.Any("err", err))
		}
	}

	a.wg.Wait()

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("closing redis", slog.Any("err", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("closing postgres", slog.Any("err", err))
		}
	}

	a.logger.Info("app stopped")
}

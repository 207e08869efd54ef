package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	flag "github.com/spf13/pflag"

	"github.com/iliyamo/event-seat-bot/internal/admin"
	"github.com/iliyamo/event-seat-bot/internal/chat"
	"github.com/iliyamo/event-seat-bot/internal/chat/telegram"
	"github.com/iliyamo/event-seat-bot/internal/config"
	"github.com/iliyamo/event-seat-bot/internal/database"
	"github.com/iliyamo/event-seat-bot/internal/dialog"
	"github.com/iliyamo/event-seat-bot/internal/dispatcher"
	"github.com/iliyamo/event-seat-bot/internal/handler"
	"github.com/iliyamo/event-seat-bot/internal/inventory"
	"github.com/iliyamo/event-seat-bot/internal/logging"
	"github.com/iliyamo/event-seat-bot/internal/middleware"
	"github.com/iliyamo/event-seat-bot/internal/payment"
	"github.com/iliyamo/event-seat-bot/internal/queue"
	"github.com/iliyamo/event-seat-bot/internal/repository"
	"github.com/iliyamo/event-seat-bot/internal/reservation"
	"github.com/iliyamo/event-seat-bot/internal/router"
	"github.com/iliyamo/event-seat-bot/internal/scheduler"
	"github.com/iliyamo/event-seat-bot/internal/session"
	"github.com/iliyamo/event-seat-bot/internal/sheet"
)

func main() {
	envFile := flag.String("env-file", ".env", "file with environment variables; missing is fine")
	httpOnly := flag.Bool("http-only", false, "serve HTTP only: no chat polling, no sweep or reconcile jobs")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load %s: %v", *envFile, err)
	}

	cfg := config.Load()
	bcfg := config.LoadBookingConfig()
	logging.Setup(cfg.LogLevel, os.Stdout)
	logger := logging.New("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, bcfg, *httpOnly, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}

func run(ctx context.Context, cfg config.Config, bcfg config.BookingConfig, httpOnly bool, logger *log.Logger) error {
	clock := clockwork.NewRealClock()
	loc, err := time.LoadLocation(bcfg.TimeZone)
	if err != nil {
		return err
	}
	if bcfg.SpreadsheetID == "" {
		return errors.New("SHEET_SPREADSHEET_ID is required")
	}

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		logger.Warn("redis unreachable: sessions and approvals are kept in memory, rate limit and cache are off")
	} else {
		defer rdb.Close()
	}

	bot, err := telegram.New(cfg.BotToken, logging.New("telegram"))
	if err != nil {
		return err
	}
	staff := chat.SessionID(bcfg.AdminChatID)

	schedules := repository.NewScheduleRepo(db)
	tickets := repository.NewTicketTypeRepo(db)
	reservations := repository.NewReservationRepo(db)
	waitlist := repository.NewWaitlistRepo(db)
	drifts := repository.NewDriftRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)

	ledgerSheet, err := sheet.Open(ctx, bcfg.SpreadsheetID, bcfg.SheetRange, bcfg.SheetCredentials)
	if err != nil {
		return err
	}

	publisher := queue.NewPublisher(cfg.RabbitURL, logging.New("queue"))
	defer publisher.Close()

	alerts := inventory.Alerters{publisher, admin.NewAlerter(staff, bot)}
	writer := inventory.NewDualWriter(schedules, ledgerSheet, drifts, alerts, clock, logging.New("inventory"))
	ledger := inventory.NewLedger(schedules, writer, logging.New("inventory"))
	reconciler := inventory.NewReconciler(schedules, ledgerSheet, drifts, ledger, clock, logging.New("reconcile"))
	saga := reservation.NewService(reservations, ledger, tickets, publisher, clock, logging.New("reservation"))

	var (
		sessions  session.Store         = session.NewMemoryStore()
		approvals admin.ApprovalStore = admin.NewMemoryApprovalStore()
	)
	if rdb != nil {
		sessions = session.NewRedisStore(rdb, "seatbot:session", 24*time.Hour)
		approvals = admin.NewRedisApprovalStore(rdb, "seatbot:approval", 30*24*time.Hour)
	}
	channel := admin.NewChannel(staff, bot, saga, approvals, schedules, tickets, clock, logging.New("admin"))

	gateway := payment.NewGateway(payment.Config{
		URL:        bcfg.PaymentURL,
		ReturnURL:  bcfg.PaymentReturnURL,
		Merchant:   bcfg.PaymentMerchant,
		HashSecret: bcfg.PaymentHashSecret,
	}, clock)

	sched := scheduler.New(clock, logging.New("scheduler"))
	defer sched.Stop()

	engine := dialog.New(dialog.Deps{
		Sessions:     sessions,
		Sender:       bot,
		Catalog:      schedules,
		Tickets:      tickets,
		Availability: ledger,
		Saga:         saga,
		Payments:     gateway,
		Approvals:    channel,
		Waitlist:     waitlist,
		Timers:       sessionTimers(sched, httpOnly),
		Clock:        clock,
		Log:          logging.New("dialog"),
	}, dialog.Options{Timeout: bcfg.SessionTimeout, MonthsAhead: bcfg.MonthsAhead, Location: loc})

	dlog := logging.New("dispatcher")
	disp := dispatcher.New(func(ctx context.Context, ev chat.Inbound) {
		if ev.SessionID != staff {
			engine.Handle(ctx, ev)
			return
		}
		if ev.Kind != chat.KindButton {
			return
		}
		if _, err := channel.HandleClick(ctx, ev); err != nil {
			dlog.Errorf("staff click %q: %v", ev.Payload, err)
		}
	}, dlog)
	engine.SetSubmit(disp.Submit)

	if !httpOnly {
		n, err := engine.Restore(ctx)
		if err != nil {
			logger.Errorf("restore sessions: %v", err)
		} else if n > 0 {
			logger.Infof("resumed %d session(s)", n)
		}

		sweeper := scheduler.NewSweeper(saga, channel, clock, bcfg.StaleThreshold, logging.New("sweep")).SkipReviewed(channel)
		sched.ScheduleRecurring(bcfg.SweepPeriod, "sweep", sweeper.Run(ctx))
		sched.ScheduleRecurring(bcfg.ReconcilePeriod, "reconcile", func() {
			if _, err := reconciler.RunOnce(ctx); err != nil {
				logger.Errorf("reconcile: %v", err)
			}
		})
		go func() {
			if err := queue.NewAuditConsumer(cfg.RabbitURL, bcfg.AuditLogDir, logging.New("audit")).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("audit consumer: %v", err)
			}
		}()
		go bot.Run(ctx, func(in chat.Inbound) {
			if err := disp.Submit(in); err != nil {
				dlog.Warnf("drop %s event for %s: %v", in.Kind, in.SessionID, err)
			}
		})
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger = logging.New("http")
	e.HTTPErrorHandler = middleware.ErrorHandler
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			c.Logger().Infof("%s %s %d %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, clock)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	ready := map[string]handler.Pinger{"mysql": db}
	if rdb != nil {
		ready["redis"] = handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	auth := handler.NewAuthHandler(cfg, users, tokens, clock)
	router.RegisterRoutes(e, handler.Ready(ready))
	router.RegisterAuth(e, auth, cfg.JWTSecret, limit)
	router.RegisterStaff(e, handler.NewStaffHandler(saga, waitlist, drifts, reconciler), auth, cfg.JWTSecret)
	router.RegisterPayments(e, handler.NewPaymentHandler(saga, channel, gateway, disp.Submit, logging.New("payment")), limit)
	router.RegisterPublic(e, handler.NewPublicHandler(schedules, ledger, clock), limit, cache)

	errc := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Infof("listening on %s (env=%s, http-only=%t)", addr, cfg.Env, httpOnly)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdown); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	sched.Stop()
	if err := disp.Stop(shutdown); err != nil {
		logger.Warnf("dispatcher: %v", err)
	}
	return nil
}

// sessionTimers returns the inactivity timers of the dialogue engine.  An
// HTTP-only replica never owns chat sessions, so it arms none.
func sessionTimers(s *scheduler.Scheduler, httpOnly bool) dialog.Timers {
	if httpOnly || s == nil {
		return nil
	}
	return s
}

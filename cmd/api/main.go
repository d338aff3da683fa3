package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mcclellann/koperasi/pkg/config"
	"github.com/mcclellann/koperasi/pkg/ledger"
	"github.com/mcclellann/koperasi/pkg/registry"
	"github.com/mcclellann/koperasi/pkg/shu"
	"github.com/mcclellann/koperasi/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the services behind the HTTP API.
type Server struct {
	ledger      *ledger.Ledger
	shu         *shu.Service
	registry    *registry.Registry
	storage     store.Storage // Keep a reference to the storage to close it
	logger      *logrus.Logger
	validate    *validator.Validate
	defaultRate decimal.Decimal
}

func NewServer(s store.Storage, logger *logrus.Logger, defaultRate decimal.Decimal) *Server {
	return &Server{
		ledger:      ledger.NewLedger(s, logger, ledger.WithDefaultInterestRate(defaultRate)),
		shu:         shu.NewService(s, logger),
		registry:    registry.NewRegistry(s, logger),
		storage:     s,
		logger:      logger,
		validate:    newValidator(),
		defaultRate: defaultRate,
	}
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.logRequests)

	router.HandleFunc("/members", s.registerMemberHandler).Methods("POST")
	router.HandleFunc("/members/{id}", s.getMemberHandler).Methods("GET")
	router.HandleFunc("/users", s.registerUserHandler).Methods("POST")
	router.HandleFunc("/savings", s.recordSavingsHandler).Methods("POST")

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.applyLoanHandler).Methods("POST")
	router.HandleFunc("/loans/simulate", s.simulateLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id}", s.withdrawLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id}/approval", s.approveLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id}/schedule", s.getScheduleHandler).Methods("GET")
	router.HandleFunc("/loans/{id}/payments", s.getLoanPaymentsHandler).Methods("GET")
	router.HandleFunc("/installments/{id}/payments", s.processPaymentHandler).Methods("POST")

	router.HandleFunc("/shu/calculations", s.calculateSHUHandler).Methods("POST")
	router.HandleFunc("/shu/calculations/{id}", s.getSHUCalculationHandler).Methods("GET")
	router.HandleFunc("/shu/calculations/{id}/distributions", s.getSHUDistributionsHandler).Methods("GET")
	router.HandleFunc("/shu/calculations/{id}/distribution", s.distributeSHUHandler).Methods("POST")

	return router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Request handled")
	})
}

func openStore(cfg *config.Config, logger *logrus.Logger) (store.Storage, error) {
	if cfg.DBDriver == config.DriverMemory {
		logger.Warn("Using in-memory store, data is lost on exit")
		return store.NewMemStore(), nil
	}
	return store.NewSQLiteStore(cfg.DBPath, logger)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.NewLogger(os.Stdout)

	storage, err := openStore(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize store: %v", err)
	}
	defer storage.Close()

	server := NewServer(storage, logger, cfg.DefaultInterestRate)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
	logger.Info("Server stopped")
}

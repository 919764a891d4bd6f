package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/events"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/handler"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/repository"
	"github.com/farmatrack/farmatrack-backend/internal/pharmacy/service"
	"github.com/farmatrack/farmatrack-backend/pkg/config"
	"github.com/farmatrack/farmatrack-backend/pkg/database"
	"github.com/farmatrack/farmatrack-backend/pkg/httputil"
	"github.com/farmatrack/farmatrack-backend/pkg/logger"
	"github.com/farmatrack/farmatrack-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("pharmacy-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("pharmacy-service", cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewPharmacyEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Initialize repositories
	medicationRepo := repository.NewMedicationRepository(db)
	presentationRepo := repository.NewPresentationRepository(db)
	lotRepo := repository.NewLotRepository(db)
	profileRepo := repository.NewConsumptionProfileRepository(db)
	patientRepo := repository.NewPatientRepository(db)
	entradaRepo := repository.NewEntradaRepository(db)
	recetaRepo := repository.NewRecetaRepository(db)
	alertRepo := repository.NewAlertLogRepository(db)
	catalogs := map[string]*repository.CatalogRepository{
		"almacenes":              repository.NewCatalogRepository(db, repository.CatalogAlmacenes),
		"instituciones":          repository.NewCatalogRepository(db, repository.CatalogInstituciones),
		"fuentes-financiamiento": repository.NewCatalogRepository(db, repository.CatalogFuentesFinanciamiento),
		"proveedores":            repository.NewCatalogRepository(db, repository.CatalogProveedores),
	}

	// Initialize services
	monitor := service.NewStockMonitor(lotRepo, profileRepo, log)
	ledger := service.NewLotLedger(db, lotRepo, monitor, log)
	notifier := service.NewAlertNotifier(alertRepo, medicationRepo, publisher, log)
	receivingService := service.NewReceivingService(db, entradaRepo, medicationRepo, presentationRepo, ledger, notifier, publisher, log)
	dispensationService := service.NewDispensationService(db, patientRepo, recetaRepo, lotRepo, ledger, notifier, publisher, log)
	importService := service.NewBulkImportService(db, medicationRepo, presentationRepo, ledger, notifier, publisher, log)
	registryService := service.NewRegistryService(medicationRepo, presentationRepo, profileRepo, patientRepo, alertRepo, catalogs, log)

	// Initialize handlers
	medicationHandler := handler.NewMedicationHandler(registryService, ledger, log)
	lotHandler := handler.NewLotHandler(ledger, notifier, log)
	receivingHandler := handler.NewReceivingHandler(receivingService, log)
	dispensationHandler := handler.NewDispensationHandler(dispensationService, log)
	importHandler := handler.NewImportHandler(importService, log)
	patientHandler := handler.NewPatientHandler(registryService, log)
	catalogHandler := handler.NewCatalogHandler(registryService, log)
	alertHandler := handler.NewAlertHandler(registryService, monitor, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start the digest sweep
	scheduler := service.NewDigestScheduler(monitor, alertRepo, publisher, cfg.Alerts.DigestInterval, log)
	if cfg.Alerts.DigestEnabled {
		scheduler.Start(ctx)
		defer scheduler.Stop()
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "pharmacy-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/pharmacy", func(r chi.Router) {
		// Medication routes
		r.Route("/medicamentos", func(r chi.Router) {
			r.Get("/", medicationHandler.List)
			r.Post("/", medicationHandler.Create)
			r.Get("/search", medicationHandler.Search)
			r.Get("/{id}", medicationHandler.Get)
			r.Put("/{id}", medicationHandler.Update)
			r.Get("/{id}/lotes", medicationHandler.ListLots)
			r.Get("/{id}/cpm", medicationHandler.GetCPM)
			r.Put("/{id}/cpm", medicationHandler.SetCPM)
		})

		// Lot routes
		r.Route("/lotes", func(r chi.Router) {
			r.Get("/search", lotHandler.SearchAvailable)
			r.Get("/por-caducar", lotHandler.GetExpiring)
			r.Post("/entrada-manual", lotHandler.ManualReceipt)
			r.Get("/{id}", lotHandler.Get)
			r.Delete("/{id}", lotHandler.Delete)
		})

		// Receiving routes
		r.Route("/entradas", func(r chi.Router) {
			r.Get("/", receivingHandler.List)
			r.Post("/", receivingHandler.Commit)
			r.Get("/{id}", receivingHandler.Get)
		})

		// Dispensation routes
		r.Route("/salidas", func(r chi.Router) {
			r.Post("/", dispensationHandler.Commit)
			r.Get("/{id}", dispensationHandler.Get)
		})

		// Bulk import
		r.Post("/carga-masiva", importHandler.Upload)

		// Patient routes
		r.Route("/pacientes", func(r chi.Router) {
			r.Get("/search", patientHandler.Search)
			r.Get("/curp/{curp}", patientHandler.GetByCURP)
			r.Get("/{id}", patientHandler.Get)
			r.Get("/{id}/salidas", dispensationHandler.ListByPatient)
		})

		// Presentations
		r.Route("/presentaciones", func(r chi.Router) {
			r.Get("/", catalogHandler.ListPresentations)
			r.Post("/", catalogHandler.CreatePresentation)
			r.Delete("/{id}", catalogHandler.DeletePresentation)
		})

		// Named catalogs
		r.Route("/catalogos/{catalog}", func(r chi.Router) {
			r.Get("/", catalogHandler.List)
			r.Post("/", catalogHandler.Create)
			r.Get("/{id}", catalogHandler.Get)
			r.Put("/{id}", catalogHandler.Update)
			r.Delete("/{id}", catalogHandler.Delete)
		})

		// Alerts
		r.Get("/alertas", alertHandler.List)
		r.Get("/alertas/stock-bajo", alertHandler.LowStock)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop the scheduler
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// tomasync agente de tomas de inventario de la sucursal: caché local SQLite, almacén central PostgreSQL
// y API HTTP para las terminales de mano.
//
// Uso:
//
//	tomasync serve                              API HTTP (por defecto)
//	tomasync catalog                            refresca el catálogo local
//	tomasync documents                          sincroniza las tomas abiertas
//	tomasync export -operator ana [-branch 1]   exporta los conteos cerrados del operador
//	tomasync verify -operator ana [-branch 1]   exporta las tomas pendientes para verificación
//
// @title                       Tomas de inventario API
// @version                     1.0
// @description                 Agente de tomas de inventario de la sucursal: caché local, almacén central y conteo multiusuario.
// @BasePath                    /
// @securityDefinitions.apikey  Bearer
// @in                          header
// @name                        Authorization
// @description                 Token JWT con el prefijo Bearer
package main

//go:generate go run github.com/swaggo/swag/cmd/swag@v1.16.6 init -g main.go -d ./,../../internal/interfaces/http,../../internal/application,../../internal/domain/entity -o ../../docs --outputTypes json

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/toma-inventario/internal/application/cancellation"
	"github.com/jhoicas/toma-inventario/internal/application/catalog"
	"github.com/jhoicas/toma-inventario/internal/application/counting"
	"github.com/jhoicas/toma-inventario/internal/application/export"
	"github.com/jhoicas/toma-inventario/internal/application/inventory"
	"github.com/jhoicas/toma-inventario/internal/application/ports"
	"github.com/jhoicas/toma-inventario/internal/domain/entity"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/lock"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/metrics"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/postgres"
	"github.com/jhoicas/toma-inventario/internal/infrastructure/sqlite"
	httpRouter "github.com/jhoicas/toma-inventario/internal/interfaces/http"
	"github.com/jhoicas/toma-inventario/pkg/config"
	"github.com/jhoicas/toma-inventario/pkg/logger"
)

const swaggerFile = "./docs/swagger.json"

// engine casos de uso cableados contra el almacén remoto y la caché local.
type engine struct {
	create   *inventory.CreateDocumentUseCase
	register *inventory.RegisterCountUseCase
	query    *inventory.QueryUseCase
	docSync  *inventory.DocumentSyncUseCase
	counts   *counting.Aggregator
	cancel   *cancellation.Coordinator
	export   *export.Pipeline
	catalog  *catalog.SyncUseCase
	metrics  *metrics.Prometheus
}

// errUsage comando o argumentos inválidos.
var errUsage = errors.New("uso: tomasync [serve | catalog | documents | export | verify]")

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// run cablea el agente y ejecuta el comando. Los recursos abiertos se cierran siempre antes de volver.
func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("cargar configuración: %w", err)
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})

	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve", "catalog", "documents", "export", "verify":
	default:
		return fmt.Errorf("%w: comando desconocido %q", errUsage, cmd)
	}
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("command", cmd).
		Msg("iniciando agente de tomas")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(ctx, cfg.Local.Path)
	if err != nil {
		return fmt.Errorf("apertura de la caché local %s: %w", cfg.Local.Path, err)
	}
	defer db.Close()

	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("configuración del almacén remoto: %w", err)
	}
	defer pool.Close()
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := postgres.Ping(pingCtx, pool); err != nil {
		log.Warn().Err(err).Msg("almacén remoto inaccesible; se opera con la caché local")
	}
	cancelPing()

	remote := postgres.NewRemoteStore(pool, postgres.RemoteOptions{
		Timeout:   cfg.Sync.RemoteTimeout,
		WebStatus: cfg.Sync.WebStatus,
	})

	var locker ports.DocumentLocker = lock.NewKeyedMutex()
	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("conexión a Redis %s: %w", cfg.Redis.Addr, err)
		}
		locker = lock.Chain{locker, lock.NewRedisLocker(rdb, cfg.Redis.LockTTL, log)}
	}

	policy, err := cancellation.ParsePolicy(cfg.Policy.LastLineCancel)
	if err != nil {
		return fmt.Errorf("política de anulación: %w", err)
	}

	m := metrics.New()
	docRepo := sqlite.NewDocumentRepository(db)
	countRepo := sqlite.NewCountLogRepository(db)
	catalogRepo := sqlite.NewCatalogRepository(db)
	localTx := sqlite.NewTxRunner(db)

	e := engine{
		create:   inventory.NewCreateDocumentUseCase(remote, docRepo, locker, m, log),
		register: inventory.NewRegisterCountUseCase(localTx, docRepo, locker, m, log),
		query:    inventory.NewQueryUseCase(docRepo),
		docSync:  inventory.NewDocumentSyncUseCase(remote, docRepo, m, log, cfg.Sync.Branches, cfg.Sync.BatchSize),
		counts:   counting.NewAggregator(remote, localTx, docRepo, countRepo, locker, m, log),
		cancel:   cancellation.NewCoordinator(remote, localTx, locker, policy, m, log),
		export:   export.NewPipeline(remote, localTx, docRepo, locker, m, log),
		catalog:  catalog.NewSyncUseCase(remote, catalogRepo, m, log, nil),
		metrics:  m,
	}

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log, e)
	case "catalog":
		var stats catalog.SyncStats
		stats, err = e.catalog.RefreshCatalog(ctx)
		if err == nil {
			fmt.Printf("catálogo: %d tipos, %d filas, %d huérfanos\n", stats.Completed, stats.Rows, len(stats.Orphans))
		}
	case "documents":
		var n int
		n, err = e.docSync.SyncInventories(ctx, func(current, total int) {
			fmt.Printf("\rdocumentos: %d/%d", current, total)
		})
		if err == nil {
			fmt.Printf("\ndocumentos: %d líneas sincronizadas\n", n)
		}
	case "export", "verify":
		err = runExport(ctx, e, cmd, args)
	}
	if err != nil {
		log.Error().Err(err).Str("command", cmd).Msg("comando fallido")
		return err
	}
	return nil
}

func runExport(ctx context.Context, e engine, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	operator := fs.String("operator", "", "operador de la sesión")
	branch := fs.Int64("branch", 0, "sucursal a exportar")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	session := entity.Session{Operator: *operator, Branch: *branch}

	var (
		sum *export.ExportSummary
		err error
	)
	if cmd == "verify" {
		sum, err = e.export.ExportForVerification(ctx, session, *branch)
	} else {
		sum, err = e.export.ExportClosedCounts(ctx, session, *branch)
	}
	if err != nil {
		return err
	}
	fmt.Printf("lote %s (%s): %d tomas\n", sum.BatchID, sum.Mode, len(sum.Items))
	for _, it := range sum.Items {
		fmt.Printf("  %d\t%s\t%d líneas\n", it.Number, it.Outcome, it.Lines)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger, e engine) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET requerido para la API")
	}
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.Sync.RemoteTimeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI: http://<host>:<port>/docs (docs/swagger.json se regenera con go generate).
	if _, err := os.Stat(swaggerFile); err == nil {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/",
			FilePath: swaggerFile,
			Path:     "docs",
			Title:    "Tomas de inventario API",
		}))
	} else {
		log.Warn().Str("file", swaggerFile).Msg("sin especificación OpenAPI; /docs deshabilitado")
	}

	httpRouter.Router(app, httpRouter.RouterDeps{
		CreateDocument: e.create,
		RegisterCount:  e.register,
		Query:          e.query,
		DocumentSync:   e.docSync,
		Counts:         e.counts,
		Cancellation:   e.cancel,
		Export:         e.export,
		Catalog:        e.catalog,
		Metrics:        e.metrics.Handler(),
		JWTSecret:      cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	log.Info().Msg("agente detenido")
	return nil
}

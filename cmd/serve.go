package cmd

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opensbom/sbom-enrich/cache"
	"github.com/opensbom/sbom-enrich/clients"
	"github.com/opensbom/sbom-enrich/database"
	"github.com/opensbom/sbom-enrich/enrich"
	gqlschema "github.com/opensbom/sbom-enrich/graphql"
	"github.com/opensbom/sbom-enrich/model"
	"github.com/opensbom/sbom-enrich/util"
)

// StatusResponse returns the result of POST operations
type StatusResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
}

// BomUpload is the request body for creating a bom with its packages
type BomUpload struct {
	model.Bom
	Product  model.Product    `json:"product"`
	Packages []*model.Package `json:"packages"`
}

// serverStore is the slice of the store the HTTP handlers and scheduled
// jobs use
type serverStore interface {
	CreateBom(ctx context.Context, bom *model.Bom, product *model.Product) error
	CreatePackage(ctx context.Context, pkg *model.Package) error
	FindRunByKey(ctx context.Context, key string) (*model.EnrichmentRun, error)
	FindLatestRunByBom(ctx context.Context, bomKey string) (*model.EnrichmentRun, error)
	PendingBoms(ctx context.Context) ([]*model.Bom, error)
	FindFailedRuns(ctx context.Context) ([]*model.EnrichmentRun, error)
}

// bomRunner drives one enrichment run for a bom
type bomRunner interface {
	Run(ctx context.Context, bomKey string, blocking bool) (*model.EnrichmentRun, error)
}

// server bundles the wired collaborators behind the HTTP handlers
type server struct {
	store  serverStore
	runner bomRunner
	log    *zap.SugaredLogger
}

// serveCmd starts the API server
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the enrichment API server",
	Long: `Starts the HTTP API, the GraphQL endpoint, and the scheduled
enrichment jobs over the configured ArangoDB instance.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	db := database.InitializeDatabase()
	log := database.InitLogger().Sugar()

	store := database.NewStore(db)

	standardMap := cache.NewLicenseStandardMap()
	if mapFile := util.GetEnvDefault("LICENSE_STANDARD_MAP_FILE", ""); mapFile != "" {
		if err := standardMap.LoadFile(mapFile); err != nil {
			log.Fatalf("Failed to load license standard map: %v", err)
		}
	}

	licClient := clients.NewLicenseClient(util.GetEnvDefault("LICENSE_SERVICE_URL", ""))
	cveClient := clients.NewCveManagerClient(util.GetEnvDefault("CVE_MANAGER_URL", ""))

	repoMetas := cache.NewRepoMetaCache(func(repoName, branch string) (*model.RepoMeta, error) {
		return store.GetRepoMeta(context.Background(), repoName, branch)
	})

	resolver := enrich.NewLicenseResolver(store, licClient, standardMap,
		cache.NewLicenseObjectCache(), repoMetas, log)
	ingestor := enrich.NewVulIngestor(store, cveClient, log)
	runner := enrich.NewRunner(store, resolver, ingestor, cveClient, log)

	srv := &server{store: store, runner: runner, log: log}

	gqlschema.InitDB(db)
	schema, err := gqlschema.CreateSchema()
	if err != nil {
		log.Fatalf("Failed to create GraphQL schema: %v", err)
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(util.GetEnvDefault("ENRICH_CRON", "@every 1h"), srv.enrichPendingBoms); err != nil {
		log.Fatalf("Failed to schedule enrichment job: %v", err)
	}
	if _, err := scheduler.AddFunc(util.GetEnvDefault("RETRY_CRON", "@every 30m"), srv.retryFailedRuns); err != nil {
		log.Fatalf("Failed to schedule retry job: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{
		AppName:     "sbom-enrich API v1.0",
		BodyLimit:   50 * 1024 * 1024, // boms can be large
		ReadTimeout: time.Second * 60,
	})

	app.Use(fiberrecover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
		})
	})

	api := app.Group("/api/v1")
	api.Post("/boms", srv.PostBom)
	api.Post("/boms/:key/enrich", srv.PostEnrich)
	api.Get("/runs/:key", srv.GetRun)
	api.Post("/graphql", GraphQLHandler(schema))

	port := util.GetEnvDefault("MS_PORT", "3000")
	log.Infof("Starting server on port %s", port)
	return app.Listen(":" + port)
}

// PostBom handles POST requests for creating a bom with its packages
func (s *server) PostBom(c *fiber.Ctx) error {
	var req BomUpload
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(StatusResponse{
			Success: false,
			Message: "Invalid request body: " + err.Error(),
		})
	}

	if req.Name == "" || req.Product.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(StatusResponse{
			Success: false,
			Message: "bom name and product name are required fields",
		})
	}

	bom := model.NewBom()
	bom.Name = req.Name

	product := model.NewProduct()
	product.Name = req.Product.Name
	product.ProductType = req.Product.ProductType
	product.ProductVersion = req.Product.ProductVersion

	ctx := context.Background()
	if err := s.store.CreateBom(ctx, bom, product); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(StatusResponse{
			Success: false,
			Message: "Failed to save bom: " + err.Error(),
		})
	}

	for _, in := range req.Packages {
		pkg := model.NewPackage()
		pkg.BomKey = bom.Key
		pkg.Name = in.Name
		pkg.Version = in.Version
		pkg.Copyright = in.Copyright
		pkg.LicenseConcluded = in.LicenseConcluded
		for _, ref := range in.ExternalPurlRefs {
			out := model.NewExternalPurlRef()
			out.Type = ref.Type
			out.Purl = ref.Purl
			pkg.ExternalPurlRefs = append(pkg.ExternalPurlRefs, *out)
		}
		if err := s.store.CreatePackage(ctx, pkg); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(StatusResponse{
				Success: false,
				Message: "Failed to save package " + pkg.Name + ": " + err.Error(),
			})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(StatusResponse{
		Success: true,
		Message: "Bom created successfully",
		Key:     bom.Key,
	})
}

// PostEnrich handles POST requests that trigger an enrichment run for a bom.
// With blocking=true the response carries the finished run; otherwise the
// run is dispatched in the background and accepted immediately.
func (s *server) PostEnrich(c *fiber.Ctx) error {
	bomKey := c.Params("key")
	blocking := c.QueryBool("blocking", false)

	if blocking {
		run, err := s.runner.Run(context.Background(), bomKey, true)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(StatusResponse{
				Success: false,
				Message: "Enrichment failed: " + err.Error(),
				Key:     runKey(run),
			})
		}
		return c.Status(fiber.StatusOK).JSON(run)
	}

	go func() {
		if _, err := s.runner.Run(context.Background(), bomKey, false); err != nil {
			s.log.Errorw("background enrichment failed", "bom", bomKey, "error", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(StatusResponse{
		Success: true,
		Message: "Enrichment started for bom " + bomKey,
	})
}

// GetRun handles GET requests for run status
func (s *server) GetRun(c *fiber.Ctx) error {
	run, err := s.store.FindRunByKey(context.Background(), c.Params("key"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(StatusResponse{
			Success: false,
			Message: "Failed to query run: " + err.Error(),
		})
	}
	if run == nil {
		return c.Status(fiber.StatusNotFound).JSON(StatusResponse{
			Success: false,
			Message: "Run not found: " + c.Params("key"),
		})
	}
	return c.JSON(run)
}

// enrichPendingBoms is the scheduled job that enriches every bom without a
// completed run yet
func (s *server) enrichPendingBoms() {
	ctx := context.Background()
	boms, err := s.store.PendingBoms(ctx)
	if err != nil {
		s.log.Errorw("failed to list pending boms", "error", err)
		return
	}
	for _, bom := range boms {
		if _, err := s.runner.Run(ctx, bom.Key, true); err != nil {
			// failure is recorded on the run, next schedule resumes it
			s.log.Errorw("scheduled enrichment failed", "bom", bom.Key, "error", err)
		}
	}
}

// retryFailedRuns is the scheduled job that resumes failed runs on their
// persisted cursor
func (s *server) retryFailedRuns() {
	ctx := context.Background()
	runs, err := s.store.FindFailedRuns(ctx)
	if err != nil {
		s.log.Errorw("failed to list failed runs", "error", err)
		return
	}
	seen := make(map[string]bool)
	for _, run := range runs {
		if seen[run.BomKey] {
			continue
		}
		seen[run.BomKey] = true

		// stale failed rows survive a later successful run; only retry
		// boms whose latest run is still failed
		latest, err := s.store.FindLatestRunByBom(ctx, run.BomKey)
		if err != nil {
			s.log.Errorw("failed to look up latest run", "bom", run.BomKey, "error", err)
			continue
		}
		if latest == nil || latest.Status != model.RunStatusFailed {
			continue
		}
		if _, err := s.runner.Run(ctx, run.BomKey, true); err != nil {
			s.log.Errorw("scheduled retry failed", "bom", run.BomKey, "error", err)
		}
	}
}

// GraphQLHandler handles GraphQL requests
func GraphQLHandler(schema graphql.Schema) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var params struct {
			Query         string                 `json:"query"`
			OperationName string                 `json:"operationName"`
			Variables     map[string]interface{} `json:"variables"`
		}

		if err := c.BodyParser(&params); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"errors": []map[string]interface{}{
					{
						"message": "Invalid request body",
					},
				},
			})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			Context:        c.Context(),
			RequestString:  params.Query,
			VariableValues: params.Variables,
			OperationName:  params.OperationName,
		})
		return c.JSON(result)
	}
}

func runKey(run *model.EnrichmentRun) string {
	if run == nil {
		return ""
	}
	return run.Key
}

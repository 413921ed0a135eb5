package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/commissions/internal/adapter/tabular"
	"github.com/smallbiznis/commissions/internal/cache"
	"github.com/smallbiznis/commissions/internal/clock"
	"github.com/smallbiznis/commissions/internal/commission"
	"github.com/smallbiznis/commissions/internal/commission/domain"
	"github.com/smallbiznis/commissions/internal/config"
	"github.com/smallbiznis/commissions/internal/eventbus"
	"github.com/smallbiznis/commissions/internal/migration"
	"github.com/smallbiznis/commissions/internal/observability"
	"github.com/smallbiznis/commissions/internal/pipeline"
	"github.com/smallbiznis/commissions/internal/registry"
	"github.com/smallbiznis/commissions/internal/seed"
	"github.com/smallbiznis/commissions/internal/storage"
	"github.com/smallbiznis/commissions/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

const layoutsYAML = `
layouts:
  - variant: acme-csv
    format: csv
    headerRow: 2
    skipTotals: true
    columns:
      customer: [Customer Name, Customer]
      city: [City]
      state: [State, ST]
      invoice: [Invoice Amount]
      commission: [Commission]
`

const reportCSV = `ACME Manufacturing commission statement
Customer Name,City,ST,Invoice Amount,Commission
ACME Corp,Metropolis,NY,"$1,000.00",$50.00
Globex,Gotham,NJ,200.00,10.00
Initrode,Gotham,NJ,300.00,15.00
Total,,,"1,500.00",75.00
`

type testEnv struct {
	app      *fx.App
	db       *gorm.DB
	redis    *miniredis.Miniredis
	repo     domain.Repository
	registry *registry.Service
	orch     *pipeline.Orchestrator
	files    storage.FileStore
	worker   *worker.Worker
}

func startEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	layouts := filepath.Join(dir, "layouts.yml")
	require.NoError(t, os.WriteFile(layouts, []byte(layoutsYAML), 0o600))

	env := &testEnv{redis: miniredis.RunT(t)}
	t.Setenv("ENVIRONMENT", "test")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("DATABASE_AUTO_MIGRATE", "true")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("REDIS_ADDR", env.redis.Addr())
	t.Setenv("CACHE_DRIVER", "redis")
	t.Setenv("ADAPTER_LAYOUTS_FILE", layouts)
	t.Setenv("STORAGE_ROOT", filepath.Join(dir, "uploads"))

	conn, err := gorm.Open(sqlite.Open(filepath.Join(dir, "commissions.db")), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	env.db = conn

	env.app = fx.New(
		config.Module,
		observability.Module,
		fx.Supply(conn),
		fx.Provide(func(cfg config.Config) (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.SnowflakeNode)
		}),
		clock.Module,
		migration.Module,
		cache.Module,
		eventbus.Module,
		storage.Module,
		commission.Module,
		registry.Module,
		tabular.Module,
		pipeline.Module,
		worker.Module,
		fx.NopLogger,
		fx.Populate(&env.repo, &env.registry, &env.orch, &env.files, &env.worker),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, env.app.Start(ctx))
	t.Cleanup(func() {
		_ = env.app.Stop(context.Background())
		_ = sqlDB.Close()
	})
	return env
}

func seedReference(t *testing.T, env *testEnv) {
	t.Helper()
	rep := int64(5)
	other := int64(6)
	_, err := seed.EnsureReference(context.Background(), env.registry, seed.Reference{
		Customers: []seed.Label{{Label: "ACME CORP", ID: 42}, {Label: "GLOBEX", ID: 43}},
		Cities:    []seed.Label{{Label: "METROPOLIS", ID: 7}, {Label: "GOTHAM", ID: 8}},
		States:    []seed.Label{{Label: "NY", ID: 1}, {Label: "NJ", ID: 2}},
		Branches: []seed.Branch{
			{Branch: 900, Customer: 42, City: 7, State: 1, Representative: &rep},
			{Branch: 901, Customer: 43, City: 8, State: 2, Representative: &other},
		},
	})
	require.NoError(t, err)
}

func TestE2E_WorkerProcessesUploadedReport(t *testing.T) {
	env := startEnv(t)
	seedReference(t, env)
	ctx := context.Background()

	uri, err := env.files.Save(ctx, "2026/02/acme.csv", strings.NewReader(reportCSV))
	require.NoError(t, err)
	declared := int64(7500)
	id, err := env.orch.Register(ctx, &domain.Submission{
		ReportID:                "ACME-2026-02",
		ReportVariant:           "ACME-CSV",
		ReportingMonth:          2,
		ReportingYear:           2026,
		ManufacturerID:          11,
		UploaderID:              3,
		SourceURI:               uri,
		DeclaredCommissionCents: &declared,
	})
	require.NoError(t, err)

	require.NoError(t, env.worker.RunOnce(ctx))

	submission, err := env.repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionStatusNeedsAttention, submission.Status)

	records, err := env.repo.ListCommissions(ctx, id)
	require.NoError(t, err)
	require.Len(t, records, 2)
	var commission int64
	for _, r := range records {
		commission += r.CommissionCents
	}
	assert.Equal(t, int64(6000), commission)

	errs, err := env.repo.ListErrors(ctx, id)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrorKindCustomerNotFound, errs[0].Kind)

	steps, err := env.repo.ListSteps(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	descriptions := make([]string, 0, len(steps))
	for i, step := range steps {
		assert.Equal(t, i+1, step.StepNumber)
		descriptions = append(descriptions, step.Description)
	}
	assert.Contains(t, descriptions, "Skipped 1 preamble row(s) above the header")
	assert.Contains(t, descriptions, "Dropped 1 totals row(s)")
	assert.Contains(t, descriptions, "Declared commission 75.00 differs from recorded commission by 15.00")

	assert.True(t, env.redis.Exists("commissions:mappings:customer"), "reference snapshot cached in redis")
}

func TestE2E_NewMappingInvalidatesCache(t *testing.T) {
	env := startEnv(t)
	seedReference(t, env)
	ctx := context.Background()

	_, err := env.registry.LoadReference(ctx)
	require.NoError(t, err)
	require.True(t, env.redis.Exists("commissions:mappings:customer"))

	_, err = env.registry.RecordMapping(ctx, domain.MappingKindCustomer, "Initrode", 44)
	require.NoError(t, err)
	assert.False(t, env.redis.Exists("commissions:mappings:customer"))

	ref, err := env.registry.LoadReference(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(44), ref.Customers.Lookup("initrode"))
}

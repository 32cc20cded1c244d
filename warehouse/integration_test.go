package warehouse

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aaronlmathis/servicedw/config"
	"github.com/aaronlmathis/servicedw/dimension"
	"github.com/aaronlmathis/servicedw/kpi"
)

// testDatabaseEnv names a PostgreSQL URL the integration tests may own. The
// loader drops and recreates the raw and dw schemas there.
const testDatabaseEnv = "SERVICEDW_TEST_DATABASE_URL"

// openTestDB skips the test when no database is configured.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set, skipping integration test", testDatabaseEnv)
	}
	db, err := sql.Open("postgres", url)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		t.Skipf("database unreachable: %v", err)
	}
	return db
}

func writeCleaned(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func integrationSources() []config.Source {
	var out []config.Source
	for _, s := range config.DefaultSources() {
		if s.Entity == config.EntityCentres || s.Entity == config.EntityDemandes {
			out = append(out, s)
		}
	}
	return out
}

func countRows(t *testing.T, db *sql.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestIntegration_LoadBuildsTerritoryDimension(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	dir := t.TempDir()
	writeCleaned(t, dir, "centres_service_cleaned.csv",
		"centre_id,nom_centre,region,prefecture,commune,personnel_capacite_jour\n"+
			"C1,Mairie De Lomé,Maritime,Golfe,Lomé,12\n")
	writeCleaned(t, dir, "demande_services_public_cleaned.csv",
		"demande_id,date_demande,region,prefecture,commune,type_document,statut_demande\n"+
			"D1,2023-01-15,Maritime,Golfe,Lomé,Passeport,Validée\n"+
			"D2,2023-01-16,X,Y,Z,Passeport,Rejetée\n")

	report, err := NewLoader(db, dir, integrationSources(),
		WithRunID("integration"),
		WithLogger(zap.NewNop()),
	).Load(ctx)
	require.NoError(t, err)
	for _, s := range report.Scripts {
		assert.True(t, s.OK(), "script %s: %+v", s.Name, s.Failed)
	}

	assert.Equal(t, int64(2), countRows(t, db, "dw.dim_territoire"))
	assert.Equal(t, int64(1), countRows(t, db, "dw.dim_centres_service"))
	assert.Equal(t, int64(2), countRows(t, db, "dw.dim_demande"))
	assert.Equal(t, int64(2), countRows(t, db, "dw.fact_demandes"))
	assert.Equal(t, int64(2), report.Counts["dw.dim_territoire"])

	var region string
	require.NoError(t, db.QueryRow(`SELECT t.region FROM dw.dim_centres_service c
JOIN dw.dim_territoire t ON c.id_territoire = t.id_territoire`).Scan(&region))
	assert.Equal(t, "Maritime", region)

	for _, rep := range report.Resolve {
		assert.Zero(t, rep.Dropped, "table %s", rep.Table)
	}

	// A second full refresh and an incremental run both get past the
	// foreign keys between the dimensions and the fact table.
	_, err = NewLoader(db, dir, integrationSources(), WithLogger(zap.NewNop())).Load(ctx)
	require.NoError(t, err)
	report, err = NewLoader(db, dir, integrationSources(),
		WithMode(config.Incremental),
		WithLogger(zap.NewNop()),
	).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Dimension.NewTerritories)
	assert.Equal(t, int64(2), countRows(t, db, "dw.dim_territoire"))
	assert.Equal(t, int64(2), countRows(t, db, "dw.fact_demandes"))
}

func TestIntegration_AbsorptionAfterDeduplication(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	dir := t.TempDir()
	// Already cleaned: the duplicate request id was collapsed and Traitée
	// normalised to Validée.
	writeCleaned(t, dir, "demande_services_public_cleaned.csv",
		"demande_id,date_demande,region,prefecture,commune,type_document,statut_demande\n"+
			"1,2023-01-15,Maritime,Golfe,Lomé,Passeport,Validée\n"+
			"2,2023-01-16,Maritime,Golfe,Lomé,Passeport,Rejetée\n")

	_, err := NewLoader(db, dir, integrationSources(), WithLogger(zap.NewNop())).Load(ctx)
	require.NoError(t, err)

	repo := kpi.NewRepository(db, "postgres", 5*time.Second)
	row, err := repo.Absorption(ctx, kpi.Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), row.DemandesTraitees)
	assert.Equal(t, int64(2), row.TotalDemandes)
	require.NotNil(t, row.TauxAbsorptionPct)
	assert.Equal(t, 100.0, *row.TauxAbsorptionPct)

	assert.Equal(t, int64(0), countRows(t, db, "dw."+dimension.TableCentres))
}

package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spi-exam-service/internal/app"
	"spi-exam-service/internal/domain"
	"spi-exam-service/internal/infra/filesystem"
	"spi-exam-service/internal/infra/postgres"
	pgmigrations "spi-exam-service/internal/infra/postgres/migrations"
	infraredis "spi-exam-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestExamEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	root := t.TempDir()
	path := writeSet(t, root, []int{4, 2, 3, 3, 1})
	writeRaw(t, filepath.Join(root, "easy", "language", "broken.json"), []byte("{"))

	db := openDB(t, ctx, pgURL)
	defer db.Close()
	importer := postgres.NewImporter(db, nil)
	report, err := importer.Import(ctx, filesystem.NewSetSource(root), false)
	require.NoError(t, err)
	require.Equal(t, []string{"easy_language_5q"}, report.Imported)
	require.Len(t, report.Skipped, 1)

	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	catalog := app.NewCatalog(postgres.NewSetSource(pool), nil)
	idx, err := catalog.BuildIndex(ctx)
	require.NoError(t, err)
	meta, ok := idx.Lookup("easy_language_5q")
	require.True(t, ok)
	require.Equal(t, 5, meta.QuestionCount)
	require.Equal(t, 60, meta.SecondsPerQuestion)

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	defer redisClient.Close()
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	exams := app.NewExamService(catalog)

	session, err := sessions.Load(ctx, "visitor-1")
	require.NoError(t, err)
	require.NoError(t, exams.Start(ctx, &session, "easy_language_5q"))
	require.NoError(t, sessions.Save(ctx, "visitor-1", session))

	for _, raw := range []string{"4", "2", "3", "3", "1"} {
		session, err = sessions.Load(ctx, "visitor-1")
		require.NoError(t, err)
		_, err = exams.RecordAnswer(ctx, &session, raw)
		require.NoError(t, err)
		require.NoError(t, sessions.Save(ctx, "visitor-1", session))
	}

	// content correction published mid-session is honoured at scoring time
	writeRaw(t, path, setJSON(t, []int{0, 0, 0, 0, 1}))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))
	_, err = importer.Import(ctx, filesystem.NewSetSource(root), false)
	require.NoError(t, err)

	session, err = sessions.Load(ctx, "visitor-1")
	require.NoError(t, err)
	result, err := exams.ComputeResult(ctx, &session)
	require.NoError(t, err)
	require.Equal(t, 1, result.Score)
	require.Equal(t, 5, result.Total)
	require.False(t, session.Active())
	require.NoError(t, sessions.Delete(ctx, "visitor-1"))

	session, err = sessions.Load(ctx, "visitor-1")
	require.NoError(t, err)
	_, err = exams.ComputeResult(ctx, &session)
	require.ErrorIs(t, err, domain.ErrNoResult)

	// pruning removes rows whose files are gone
	require.NoError(t, os.Remove(path))
	report, err = importer.Import(ctx, filesystem.NewSetSource(root), true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Pruned)
	_, err = catalog.LoadSet(ctx, "easy_language_5q")
	require.ErrorIs(t, err, domain.ErrDataUnavailable)
}

func openDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "exam", "POSTGRES_PASSWORD": "exampass", "POSTGRES_DB": "examdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://exam:exampass@%s:%s/examdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func writeSet(t *testing.T, root string, answers []int) string {
	t.Helper()
	path := filepath.Join(root, "easy", "language", "easy_language_5q.json")
	writeRaw(t, path, setJSON(t, answers))
	return path
}

func setJSON(t *testing.T, answers []int) []byte {
	t.Helper()
	questions := make([]map[string]any, 0, len(answers))
	for i, a := range answers {
		questions = append(questions, map[string]any{
			"prompt_html":  fmt.Sprintf("<p>問%d</p>", i+1),
			"options":      []string{"ア", "イ", "ウ", "エ", "オ"},
			"answer_index": a,
		})
	}
	data, err := json.Marshal(map[string]any{
		"version":               1,
		"mode":                  "easy",
		"category":              "language",
		"slug":                  "easy_language_5q",
		"title":                 "言語 5問",
		"description":           "",
		"time_per_question_sec": 60,
		"questions":             questions,
	})
	require.NoError(t, err)
	return data
}

func writeRaw(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}

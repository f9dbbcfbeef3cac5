package resources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"case-bench/internal/logging"
	"case-bench/internal/runtime"
)

const (
	postgresVersion = "14.5"
	postgresPort    = "5432"
)

// PostgreSQL provides a relational source database for mapping steps.
type PostgreSQL struct {
	env      Env
	instance *runtime.Instance
}

func NewPostgreSQL(env Env) Adapter {
	return &PostgreSQL{env: env}
}

func (p *PostgreSQL) Name() string { return "PostgreSQL" }

func (p *PostgreSQL) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Join(p.env.DataPath, "postgresql"), 0o755); err != nil {
		return err
	}
	return nil
}

func (p *PostgreSQL) WaitUntilReady(ctx context.Context) bool {
	inst, err := p.env.Client.Ensure(ctx, runtime.Spec{
		Name:  "case-bench-postgresql",
		Image: fmt.Sprintf("blindreviewing/postgresql:v%s", postgresVersion),
		Ports: map[string]string{postgresPort: postgresPort},
		Environment: map[string]string{
			"POSTGRES_USER":     "root",
			"POSTGRES_PASSWORD": "root",
			"POSTGRES_DB":       "db",
			"PGPASSWORD":        "root",
		},
		Volumes: []string{
			fmt.Sprintf("%s:/data/shared", filepath.Join(p.env.DataPath, "shared")),
			fmt.Sprintf("%s:/var/lib/postgresql/data", filepath.Join(p.env.DataPath, "postgresql")),
		},
	})
	if err != nil {
		logging.GetLogger().WithError(err).Error("Failed to start PostgreSQL")
		return false
	}
	p.instance = inst

	return p.env.Client.WaitUntilReady(ctx, inst, runtime.ReadinessProbe{
		LogLine: fmt.Sprintf("port %s", postgresPort),
	}, ReadyTimeout)
}

func (p *PostgreSQL) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	switch command {
	case "load":
		return nil, p.load(ctx, command, params)
	case "load_sql_schema":
		return nil, p.loadSchema(ctx, command, params)
	default:
		return nil, fmt.Errorf("command %q not supported by PostgreSQL", command)
	}
}

func (p *PostgreSQL) load(ctx context.Context, command string, params Params) error {
	csvFile, err := params.String(command, "csv_file")
	if err != nil {
		return err
	}
	table, err := params.String(command, "table")
	if err != nil {
		return err
	}

	copySQL := fmt.Sprintf(`\copy %s FROM '/data/shared/%s' WITH (FORMAT csv, HEADER true)`, table, csvFile)
	return p.psql(ctx, "-c", copySQL)
}

func (p *PostgreSQL) loadSchema(ctx context.Context, command string, params Params) error {
	schemaFile, err := params.String(command, "schema_file")
	if err != nil {
		return err
	}
	return p.psql(ctx, "-f", "/data/shared/"+schemaFile)
}

func (p *PostgreSQL) psql(ctx context.Context, args ...string) error {
	argv := append([]string{"psql", "-U", "root", "-d", "db"}, args...)
	code, _, stderr, err := p.env.Client.Execute(ctx, p.instance, argv)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("psql exited with status %d: %s", code, stderr)
	}
	return nil
}

func (p *PostgreSQL) Stop(ctx context.Context) {
	p.env.Client.Stop(ctx, p.instance)
}

func (p *PostgreSQL) Instance() *runtime.Instance { return p.instance }

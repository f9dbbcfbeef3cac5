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
	mysqlVersion = "8.0"
	mysqlPort    = "3306"
)

// MySQL provides a relational source database for mapping steps.
type MySQL struct {
	env      Env
	instance *runtime.Instance
}

func NewMySQL(env Env) Adapter {
	return &MySQL{env: env}
}

func (m *MySQL) Name() string { return "MySQL" }

func (m *MySQL) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(m.env.DataPath, "mysql"), 0o755)
}

func (m *MySQL) WaitUntilReady(ctx context.Context) bool {
	inst, err := m.env.Client.Ensure(ctx, runtime.Spec{
		Name:  "case-bench-mysql",
		Image: fmt.Sprintf("blindreviewing/mysql:v%s", mysqlVersion),
		Ports: map[string]string{mysqlPort: mysqlPort},
		Environment: map[string]string{
			"MYSQL_ROOT_PASSWORD": "root",
			"MYSQL_DATABASE":      "db",
		},
		Volumes: []string{
			fmt.Sprintf("%s:/data/shared", filepath.Join(m.env.DataPath, "shared")),
			fmt.Sprintf("%s:/var/lib/mysql", filepath.Join(m.env.DataPath, "mysql")),
		},
	})
	if err != nil {
		logging.GetLogger().WithError(err).Error("Failed to start MySQL")
		return false
	}
	m.instance = inst

	return m.env.Client.WaitUntilReady(ctx, inst, runtime.ReadinessProbe{
		LogLine: fmt.Sprintf("port: %s  MySQL Community Server - GPL.", mysqlPort),
	}, ReadyTimeout)
}

func (m *MySQL) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	if command != "load" {
		return nil, fmt.Errorf("command %q not supported by MySQL", command)
	}

	csvFile, err := params.String(command, "csv_file")
	if err != nil {
		return nil, err
	}
	table, err := params.String(command, "table")
	if err != nil {
		return nil, err
	}

	loadSQL := fmt.Sprintf("LOAD DATA INFILE '/data/shared/%s' INTO TABLE %s "+
		"FIELDS TERMINATED BY ',' ENCLOSED BY '\"' LINES TERMINATED BY '\\n' IGNORE 1 ROWS;",
		csvFile, table)
	argv := []string{"mysql", "--user=root", "--password=root", "db", "-e", loadSQL}

	code, _, stderr, err := m.env.Client.Execute(ctx, m.instance, argv)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("mysql exited with status %d: %s", code, stderr)
	}
	return nil, nil
}

func (m *MySQL) Stop(ctx context.Context) {
	m.env.Client.Stop(ctx, m.instance)
}

func (m *MySQL) Instance() *runtime.Instance { return m.instance }

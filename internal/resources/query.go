package resources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"case-bench/internal/logging"
	"case-bench/internal/runtime"

	"github.com/sirupsen/logrus"
)

// queryTimeout bounds a single query execution.
const queryTimeout = 1 * time.Hour

// Query posts SPARQL queries over HTTP onto an endpoint exposed by another
// adapter. It runs no container of its own.
type Query struct {
	env    Env
	client *http.Client
}

func NewQuery(env Env) Adapter {
	return &Query{
		env:    env,
		client: &http.Client{Timeout: queryTimeout},
	}
}

func (q *Query) Name() string { return "Query" }

func (q *Query) Initialize(ctx context.Context) error {
	return os.MkdirAll(filepath.Join(q.env.DataPath, "shared"), 0o755)
}

func (q *Query) WaitUntilReady(ctx context.Context) bool { return true }

func (q *Query) Stop(ctx context.Context) {}

func (q *Query) Instance() *runtime.Instance { return nil }

func (q *Query) Execute(ctx context.Context, command string, params Params) ([]string, error) {
	var query string
	var err error

	switch command {
	case "execute_and_save":
		if query, err = params.String(command, "query"); err != nil {
			return nil, err
		}
	case "execute_from_file_and_save":
		queryFile, err := params.String(command, "query_file")
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(q.env.DataPath, "shared", queryFile))
		if err != nil {
			return nil, &ParameterError{Command: command, Parameter: "query_file", Reason: err.Error()}
		}
		query = string(data)
	default:
		return nil, fmt.Errorf("command %q not supported by Query", command)
	}

	endpoint, err := params.String(command, "sparql_endpoint")
	if err != nil {
		return nil, err
	}
	resultsFile, err := params.String(command, "results_file")
	if err != nil {
		return nil, err
	}
	expectEmpty, err := params.OptionalBool(command, "expect_empty", false)
	if err != nil {
		return nil, err
	}

	results, err := q.post(ctx, query, endpoint, params)
	if err != nil {
		return nil, err
	}

	// Virtuoso reports empty result sets with an "Empty" body.
	if results == "" || strings.Contains(results, "Empty") {
		if expectEmpty {
			logging.GetLogger().Info("No results found, but was expected")
			return nil, nil
		}
		return nil, fmt.Errorf("query returned no results")
	}

	path := filepath.Join(q.env.DataPath, "shared", resultsFile)
	if err := os.WriteFile(path, []byte(results), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write query results: %w", err)
	}
	return []string{path}, nil
}

func (q *Query) post(ctx context.Context, query, endpoint string, params Params) (string, error) {
	logger := logging.GetLogger()
	logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
	}).Debug("Executing query")

	form := url.Values{}
	form.Set("query", query)
	form.Set("maxrows", "3000000") // lift Virtuoso's SPARQL result limit

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if headers, ok := params["headers"].(map[string]any); ok {
		for name, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(name, s)
			}
		}
	}

	resp, err := q.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute query on %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body := new(strings.Builder)
	if _, err := io.Copy(body, resp.Body); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query failed: HTTP %d: %s", resp.StatusCode, body.String())
	}
	return body.String(), nil
}

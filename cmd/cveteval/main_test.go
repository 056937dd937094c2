package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"cveteval/internal/config"
	"cveteval/internal/core"
	"cveteval/internal/match"
	"cveteval/pkg/domain"
	"cveteval/testutil"
)

func useConfig(t *testing.T, cfg config.Config) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() (config.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = prev })
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.SQLitePath = filepath.Join(dir, "cveteval.db")
	cfg.Blob.FSRoot = filepath.Join(dir, "reports")
	cfg.Log.Mode = "prod"
	cfg.Metrics.Exporter = config.MetricsNone
	return cfg
}

func writeBundle(t *testing.T, name string, bundle core.HistoryBundle) string {
	t.Helper()
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("encode bundle: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func importFixtures(t *testing.T) {
	t.Helper()
	h, data, userData := testutil.OldHistory()
	oldPath := writeBundle(t, "old.json", core.HistoryBundle{History: h, Users: testutil.Users(), Dataset: data, UserData: userData})
	h, data, userData = testutil.NewHistory()
	newPath := writeBundle(t, "new.json", core.HistoryBundle{History: h, Dataset: data, UserData: userData})
	if out, err := execute(t, "import", "history1", oldPath); err != nil || !strings.Contains(out, "imported history 1 (history1)") {
		t.Fatalf("import old: %v %q", err, out)
	}
	if out, err := execute(t, "import", "history2", newPath, "--active"); err != nil || !strings.Contains(out, "imported history 2 (history2)") {
		t.Fatalf("import new: %v %q", err, out)
	}
}

func TestCLIWorkflow(t *testing.T) {
	useConfig(t, testConfig(t))
	importFixtures(t)

	out, err := execute(t, "histories")
	if err != nil || !strings.Contains(out, "history1") || !strings.Contains(out, "history2") {
		t.Fatalf("histories: %v %q", err, out)
	}

	out, err = execute(t, "match", "1", "2")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if !strings.Contains(out, string(domain.KindPlanning)) || !strings.Contains(out, match.ReasonUnmatched) {
		t.Fatalf("match output lacks summary or orphans: %q", out)
	}

	out, err = execute(t, "migrate", "1", "2")
	if err != nil || !strings.Contains(out, "appraisals: 2 migrated, 0 excluded") || !strings.Contains(out, "final evaluations: 1 migrated, 1 excluded") {
		t.Fatalf("dry run: %v %q", err, out)
	}

	out, err = execute(t, "migrate", "1", "2", "--assign", "planning:3=42", "--export", "--apply")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "final evaluations: 2 migrated, 0 excluded") || !strings.Contains(out, "report: reports/1-2/") {
		t.Fatalf("unexpected migrate output %q", out)
	}
	if !strings.Contains(out, "now holds 2 appraisals, 2 final evaluations") {
		t.Fatalf("apply not reported: %q", out)
	}

	out, err = execute(t, "reports", "1", "2")
	if err != nil || strings.Count(out, "reports/1-2/") != 1 {
		t.Fatalf("reports: %v %q", err, out)
	}
}

func TestMigrateJSONPlan(t *testing.T) {
	useConfig(t, testConfig(t))
	importFixtures(t)
	out, err := execute(t, "migrate", "1", "2", "--context", "unmatched", "--json")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var decoded struct {
		Contexts   []string `json:"contexts"`
		Appraisals struct {
			Gaps []struct {
				Status string `json:"status"`
			} `json:"gaps"`
		} `json:"appraisals"`
	}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Contexts) != 1 || len(decoded.Appraisals.Gaps) != 2 || decoded.Appraisals.Gaps[0].Status != "not selected" {
		t.Fatalf("unexpected plan %+v", decoded)
	}
}

func TestCLIPushesPrometheusMetrics(t *testing.T) {
	var pushed []string
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushed = append(pushed, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	cfg := testConfig(t)
	cfg.Metrics.Exporter = config.MetricsPrometheus
	cfg.Metrics.PushURL = gateway.URL
	useConfig(t, cfg)
	if _, err := execute(t, "histories"); err != nil {
		t.Fatalf("histories: %v", err)
	}
	if len(pushed) != 1 || !strings.HasSuffix(pushed[0], "/job/cveteval_histories") {
		t.Fatalf("unexpected pushes %v", pushed)
	}
}

func TestCLIRejectsBadArguments(t *testing.T) {
	useConfig(t, testConfig(t))
	cases := map[string][]string{
		"history id":     {"match", "one", "2"},
		"context":        {"migrate", "1", "2", "--context", "sideways"},
		"assign format":  {"migrate", "1", "2", "--assign", "planning3=42"},
		"assign kind":    {"migrate", "1", "2", "--assign", "appraisal:3=42"},
		"assign id":      {"migrate", "1", "2", "--assign", "planning:x=42"},
		"missing bundle": {"import", "h", filepath.Join(t.TempDir(), "missing.json")},
		"arg count":      {"reports", "1"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := execute(t, args...); err == nil {
				t.Fatalf("expected an error for %v", args)
			}
		})
	}
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"planning:3=42", " group : 3 = 32"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []match.Assignment{
		{Kind: domain.KindPlanning, OldID: 3, NewID: 42},
		{Kind: domain.KindGroup, OldID: 3, NewID: 32},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("unexpected assignments %+v", got)
	}
}

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/task"
)

// cliEnv runs taskdeck invocations against one database file, the way
// separate CLI processes share state.
type cliEnv struct {
	t       *testing.T
	cfgPath string
	dbPath  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "taskdeck.toml")
	content := `data_dir = "` + dir + `"` + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return &cliEnv{
		t:       t,
		cfgPath: cfgPath,
		dbPath:  filepath.Join(dir, "test.db"),
	}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	root := NewRootCommand("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", e.cfgPath, "--db", e.dbPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func (e *cliEnv) runJSON(args ...string) map[string]any {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	var payload map[string]any
	require.NoError(e.t, json.Unmarshal([]byte(out), &payload), out)
	return payload
}

func TestCreateListFlow(t *testing.T) {
	e := newCLIEnv(t)

	created := e.runJSON("create", "write docs", "--spec", "cover the API", "--priority", "2")
	assert.Equal(t, "write docs", created["name"])
	assert.Equal(t, float64(2), created["priority"])
	assert.Equal(t, "human", created["owner"])

	listed := e.runJSON("list")
	assert.Equal(t, float64(1), listed["count"])

	roots := e.runJSON("list", "--parent", "none")
	assert.Equal(t, float64(1), roots["count"])
}

func TestAIFlagSetsOwner(t *testing.T) {
	e := newCLIEnv(t)

	created := e.runJSON("--ai", "create", "agent work")
	assert.Equal(t, "ai", created["owner"])
}

func TestStartAndDone(t *testing.T) {
	e := newCLIEnv(t)

	e.runJSON("create", "solo")
	started := e.runJSON("start", "1")
	assert.Equal(t, "doing", started["status"])

	cur := e.runJSON("current")
	require.NotNil(t, cur["current"])

	done := e.runJSON("done")
	finished := done["task"].(map[string]any)
	assert.Equal(t, "done", finished["status"])
}

func TestAICannotCompleteHumanTask(t *testing.T) {
	e := newCLIEnv(t)

	e.runJSON("create", "human job")
	e.runJSON("start", "1")

	_, err := e.run("--ai", "done")
	require.Error(t, err)
	assert.Equal(t, task.CodePermissionDenied, task.ErrorCode(err))
}

func TestPlanApplyFromStdin(t *testing.T) {
	e := newCLIEnv(t)

	root := NewRootCommand("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewReader([]byte(`{"tasks": [{"name": "planned"}]}`)))
	root.SetArgs([]string{"--config", e.cfgPath, "--db", e.dbPath, "plan", "apply"})
	require.NoError(t, root.Execute(), out.String())

	var res map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, float64(1), res["created"])

	listed := e.runJSON("list")
	assert.Equal(t, float64(1), listed["count"])
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, &task.NotFoundError{ID: 9})

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	errObj := payload["error"].(map[string]any)
	assert.Equal(t, task.CodeNotFound, errObj["code"])
	assert.Contains(t, errObj["message"], "9")

	buf.Reset()
	PrintError(&buf, errors.New("plain"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	errObj = payload["error"].(map[string]any)
	assert.Equal(t, task.CodeInternal, errObj["code"])
}

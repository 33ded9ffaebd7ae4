package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/iksnae/session-repair/testutil"
)

const (
	testProject = "prj_1"
	testSession = "ses_a"
	testSig     = "RXJyb3JTaWduYXR1cmVQYXlsb2FkX3dpdGhfc29tZV9ieXRlcw"
)

// newTestConfig returns a config pointing at the fixture's data directory
func newTestConfig(f *testutil.StoreFixture) Config {
	cfg := DefaultConfig()
	cfg.DataDir = f.Root
	cfg.BackupDir = f.Root + "/" + BackupDirName
	return cfg
}

// writeScenario lays out a session of three messages:
//
//	0 msg_001 user
//	1 msg_002 assistant (zhipu/glm-4.6): prt_002 reasoning, prt_003 text
//	2 msg_003 assistant (anthropic/claude-sonnet-4): errored with errRef
//
// errRef is the messages.N.content.M reference quoted by the error; empty
// leaves msg_003 without an error.
func writeScenario(t *testing.T, errRef string) *testutil.StoreFixture {
	t.Helper()
	f := testutil.NewStoreFixture(t)
	f.Session(testProject, testSession, nil)

	f.Message(testSession, "msg_001", "user", map[string]interface{}{
		"model": map[string]interface{}{"providerID": "zhipu", "modelID": "glm-4.6"},
	})
	f.Part(testSession, "msg_001", "prt_001", "text", map[string]interface{}{"text": "refactor the parser"})

	f.AssistantMessage(testSession, "msg_002", "zhipu", "glm-4.6", nil)
	f.ReasoningPart(testSession, "msg_002", "prt_002", testSig)
	f.Part(testSession, "msg_002", "prt_003", "text", map[string]interface{}{"text": "done"})

	fields := map[string]interface{}{}
	if errRef != "" {
		fields["error"] = testutil.SignatureError(errRef)
	}
	f.AssistantMessage(testSession, "msg_003", "anthropic", "claude-sonnet-4", fields)
	f.Part(testSession, "msg_003", "prt_004", "step-start", nil)
	return f
}

// scenarioA: the error names the reasoning part of msg_002
func scenarioA(t *testing.T) *testutil.StoreFixture {
	t.Helper()
	return writeScenario(t, "messages.1.content.0")
}

// scenarioB: the error names a content index msg_002 does not have
func scenarioB(t *testing.T) *testutil.StoreFixture {
	t.Helper()
	return writeScenario(t, "messages.1.content.5")
}

// turn is one user/assistant exchange served by provider/model
type turn struct {
	provider, model string
}

// writeTurns lays out one user message and one assistant message per turn,
// numbered msg_001, msg_002, ... Each assistant message holds a reasoning
// part and a text part. When errRef is set, the last assistant message
// instead carries the signature error and only a text part.
func writeTurns(t *testing.T, turns []turn, errRef string) *testutil.StoreFixture {
	t.Helper()
	f := testutil.NewStoreFixture(t)
	f.Session(testProject, testSession, nil)

	for i, tr := range turns {
		user := fmt.Sprintf("msg_%03d", 2*i+1)
		asst := fmt.Sprintf("msg_%03d", 2*i+2)
		f.Message(testSession, user, "user", map[string]interface{}{
			"model": map[string]interface{}{"providerID": tr.provider, "modelID": tr.model},
		})
		f.Part(testSession, user, fmt.Sprintf("prt_%03d_1", 2*i+1), "text", map[string]interface{}{"text": "next step"})

		failed := errRef != "" && i == len(turns)-1
		fields := map[string]interface{}{}
		if failed {
			fields["error"] = testutil.SignatureError(errRef)
		}
		f.AssistantMessage(testSession, asst, tr.provider, tr.model, fields)
		if !failed {
			f.ReasoningPart(testSession, asst, fmt.Sprintf("prt_%03d_1", 2*i+2), testSig)
		}
		f.Part(testSession, asst, fmt.Sprintf("prt_%03d_2", 2*i+2), "text", map[string]interface{}{"text": "ok"})
	}
	return f
}

var (
	claude = turn{"anthropic", "claude-sonnet-4"}
	glm    = turn{"zhipu", "glm-4.6"}
)

func loadTestGraph(t *testing.T, f *testutil.StoreFixture) *SessionGraph {
	t.Helper()
	g, err := LoadGraph(NewStore(f.Root), testSession)
	if err != nil {
		t.Fatalf("LoadGraph() error = %v", err)
	}
	return g
}

func writeRaw(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

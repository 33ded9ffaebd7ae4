package cmd

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/iksnae/session-repair/internal"
	"github.com/iksnae/session-repair/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	testSession = "ses_a"
	testSig     = "RXJyb3JTaWduYXR1cmVQYXlsb2FkX3dpdGhfc29tZV9ieXRlcw"
)

// executeCommand runs the root command with args against a clean flag and
// environment state. stdin feeds confirmation prompts.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Setenv("XDG_CONFIG_HOME", testutil.CreateTempDir(t))
	t.Setenv(internal.EnvDataDir, "")
	t.Setenv(internal.EnvBackupDir, "")
	t.Setenv(internal.EnvLogLevel, "")

	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// brokenSession writes a session whose last message was rejected over the
// reasoning part prt_002 of msg_002. errRef empty leaves it clean.
func brokenSession(t *testing.T, errRef string) *testutil.StoreFixture {
	t.Helper()
	f := testutil.NewStoreFixture(t)
	f.Session("prj_1", testSession, map[string]interface{}{"title": "Parser refactor"})
	f.Message(testSession, "msg_001", "user", nil)
	f.Part(testSession, "msg_001", "prt_001", "text", map[string]interface{}{"text": "refactor the parser"})
	f.AssistantMessage(testSession, "msg_002", "zhipu", "glm-4.6", nil)
	f.ReasoningPart(testSession, "msg_002", "prt_002", testSig)
	f.Part(testSession, "msg_002", "prt_003", "text", map[string]interface{}{"text": "done"})

	fields := map[string]interface{}{}
	if errRef != "" {
		fields["error"] = testutil.SignatureError(errRef)
	}
	f.AssistantMessage(testSession, "msg_003", "zhipu", "glm-4.6", fields)
	return f
}

// repairFixture repairs the fixture's session and returns the backup id
func repairFixture(t *testing.T, f *testutil.StoreFixture) string {
	t.Helper()
	if _, err := executeCommand(t, "", "--data-dir", f.Root, "repair", testSession, "--yes"); err != nil {
		t.Fatalf("repair error = %v", err)
	}
	backups, err := internal.NewBackupManager(f.Root+"/"+internal.BackupDirName, internal.NewStore(f.Root)).ListBackups(testSession)
	if err != nil || len(backups) != 1 {
		t.Fatalf("ListBackups() = %v, %v; want one backup", backups, err)
	}
	return backups[0].BackupID
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0644)
}

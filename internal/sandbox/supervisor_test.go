package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesmith/buildrunner/pkg/types"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return New(types.SandboxConfig{WorkspaceRoot: t.TempDir()})
}

func TestSupervisor_CreateWorkspace_CopiesScaffoldAndCuratedComponents(t *testing.T) {
	scaffold := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(scaffold, "package.json"), []byte(`{}`), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(scaffold, "src"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(scaffold, "src", "index.ts"), []byte("// entry"), 0644))

	curated := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(curated, "button.tsx"), []byte("export const Button = () => null;"), 0644))

	s := New(types.SandboxConfig{
		WorkspaceRoot:        t.TempDir(),
		ScaffoldDir:          scaffold,
		CuratedComponentsDir: curated,
	})

	root, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(root, "package.json"))
	assert.FileExists(t, filepath.Join(root, "src", "index.ts"))
	assert.FileExists(t, filepath.Join(root, "curated", "button.tsx"))
}

func TestSupervisor_CreateWorkspace_IsIdempotent(t *testing.T) {
	s := newTestSupervisor(t)

	first, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	second, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSupervisor_ResolvePath_WithinWorkspaceSucceeds(t *testing.T) {
	s := newTestSupervisor(t)
	root, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "app.go"), []byte("package main"), 0644))

	resolved, err := s.ResolvePath("sess-1", "app.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "app.go"), resolved)
}

func TestSupervisor_ResolvePath_EscapingWorkspaceIsRejected(t *testing.T) {
	s := newTestSupervisor(t)
	_, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	_, err = s.ResolvePath("sess-1", "../../etc/passwd")
	require.Error(t, err)
	var outOfSandbox *ErrOutOfSandbox
	assert.ErrorAs(t, err, &outOfSandbox)
}

func TestSupervisor_ResolvePath_NoWorkspaceYetErrors(t *testing.T) {
	s := newTestSupervisor(t)
	_, err := s.ResolvePath("never-created", "app.go")
	assert.Error(t, err)
}

func TestSupervisor_Teardown_KeepsWorkspaceByDefault(t *testing.T) {
	s := newTestSupervisor(t)
	root, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.Teardown("sess-1"))

	assert.DirExists(t, root)
	assert.Empty(t, s.WorkspaceRoot("sess-1"), "teardown must drop the session from the supervisor's bookkeeping")
}

func TestSupervisor_Teardown_RemovesWorkspaceWhenConfigured(t *testing.T) {
	keep := false
	s := New(types.SandboxConfig{WorkspaceRoot: t.TempDir(), KeepWorkspaceOnTeardown: &keep})
	root, err := s.CreateWorkspace(context.Background(), "sess-1")
	require.NoError(t, err)

	require.NoError(t, s.Teardown("sess-1"))

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSupervisor_Teardown_UnknownSessionIsNoop(t *testing.T) {
	s := newTestSupervisor(t)
	assert.NoError(t, s.Teardown("never-seen"))
}

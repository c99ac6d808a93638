package load

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pluginSource = `package plugin

func greet(payload []byte) ([]byte, error) {
	out := append([]byte("hello, "), payload...)
	return out, nil
}

func Register() (map[string]func([]byte) ([]byte, error), map[string]interface{}, error) {
	tasks := map[string]func([]byte) ([]byte, error){
		"greet": greet,
	}
	return tasks, nil, nil
}
`

func writePlugin(t *testing.T, source string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plugin.go")
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))
	return path
}

func TestLoadSourceInterpretsRealPluginFile(t *testing.T) {
	path := writePlugin(t, pluginSource)

	container, err := loadSource(1, "payments", path)
	require.NoError(t, err)

	regs := container.Registrations()
	task, ok := regs.Tasks["greet"]
	require.True(t, ok, "expected a greet task to be registered")

	out, err := task.Fn(nil, []byte("world"))
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello, world"), out)
}

func TestLoadSourceWithoutRegisterProducesEmptySet(t *testing.T) {
	path := writePlugin(t, "package plugin\n\nfunc helper() {}\n")

	container, err := loadSource(1, "payments", path)
	require.NoError(t, err)
	assert.Empty(t, container.Registrations().Tasks)
	assert.Empty(t, container.Registrations().Workflows)
}

func TestLoadSourceRejectsWrongRegisterSignature(t *testing.T) {
	path := writePlugin(t, "package plugin\n\nfunc Register() error { return nil }\n")

	_, err := loadSource(1, "payments", path)
	assert.Error(t, err)
}

package launchconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/cuda-dap/internal/errors"
)

func TestDecodeArgsStringAndArray(t *testing.T) {
	args, err := Decode(json.RawMessage(`{"program":"/bin/app","args":"-n 3 'two words'"}`), RequestLaunch)
	require.NoError(t, err)
	assert.Equal(t, Args{"-n", "3", "two words"}, args.Args)

	args, err = Decode(json.RawMessage(`{"program":"/bin/app","args":["a b","c"]}`), RequestLaunch)
	require.NoError(t, err)
	assert.Equal(t, Args{"a b", "c"}, args.Args)
	assert.Equal(t, `'a b' c`, args.Args.String())
}

func TestDecodeKeepsUnknownFields(t *testing.T) {
	raw := `{"type":"cuda-gdb","name":"Debug","program":"/bin/app","__sessionId":"abc","breakOnLaunch":true}`
	args, err := Decode(json.RawMessage(raw), RequestLaunch)
	require.NoError(t, err)

	assert.Equal(t, "/bin/app", args.Program)
	assert.Equal(t, "abc", args.Extra["__sessionId"])
	assert.Equal(t, true, args.Extra["breakOnLaunch"])
	assert.NotContains(t, args.Extra, "program")

	out, err := json.Marshal(args)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"breakOnLaunch":true`)
}

func TestDecodeEnvNullUnsets(t *testing.T) {
	args, err := Decode(json.RawMessage(`{"program":"/bin/app","env":{"A":"1","B":null}}`), RequestLaunch)
	require.NoError(t, err)
	require.Contains(t, args.Env, "B")
	assert.Nil(t, args.Env["B"])
	assert.Equal(t, "1", *args.Env["A"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		req   Request
		field string
	}{
		{"launch needs program", `{}`, RequestLaunch, "program"},
		{"attach needs pid", `{}`, RequestAttach, "processId"},
		{"bad api policy", `{"program":"a","onAPIError":"explode"}`, RequestLaunch, "onAPIError"},
		{"bad target kind", `{"program":"a","targetKind":"vxworks"}`, RequestLaunch, "targetKind"},
		{"empty setup command", `{"program":"a","setupCommands":[{"text":""}]}`, RequestLaunch, "setupCommands"},
		{"negative delay", `{"target":{"serverStartupDelay":-1}}`, RequestLaunch, "target.serverStartupDelay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(json.RawMessage(tt.raw), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.CodeConfigInvalid))
			var de *errors.DebugError
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.field, de.Details["field"])
		})
	}
}

func TestRemoteLaunchWithoutProgram(t *testing.T) {
	args, err := Decode(json.RawMessage(`{"target":{"port":"2345"}}`), RequestLaunch)
	require.NoError(t, err)
	assert.True(t, args.Remote())
}

func TestProcessIDAcceptsString(t *testing.T) {
	args, err := Decode(json.RawMessage(`{"processId":"4242"}`), RequestAttach)
	require.NoError(t, err)
	assert.Equal(t, ProcessID(4242), args.ProcessID)
}

func TestServerCommandPrefersTarget(t *testing.T) {
	args := &LaunchArguments{
		Server:           "legacy-server",
		ServerParameters: []string{"--old"},
		Target:           &Target{Server: "cuda-gdbserver", ServerParameters: []string{":2345", "/bin/app"}},
	}
	path, params := args.ServerCommand()
	assert.Equal(t, "cuda-gdbserver", path)
	assert.Equal(t, []string{":2345", "/bin/app"}, params)

	args.Target.Server = ""
	path, params = args.ServerCommand()
	assert.Equal(t, "legacy-server", path)
	assert.Equal(t, []string{"--old"}, params)
}

func TestEnvOverridesMergesEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "app.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FROM_FILE=file\nSHARED=file\n"), 0o644))

	shared := "launch"
	args := &LaunchArguments{
		EnvFile: envFile,
		Env:     map[string]*string{"SHARED": &shared, "GONE": nil},
	}
	env, err := args.EnvOverrides()
	require.NoError(t, err)

	assert.Equal(t, "file", *env["FROM_FILE"])
	assert.Equal(t, "launch", *env["SHARED"])
	assert.Contains(t, env, "GONE")
	assert.Nil(t, env["GONE"])
}

func TestEnvOverridesMissingFile(t *testing.T) {
	args := &LaunchArguments{EnvFile: filepath.Join(t.TempDir(), "missing.env")}
	_, err := args.EnvOverrides()
	assert.True(t, errors.Is(err, errors.CodeConfigInvalid))
}

func TestLoadAndResolveLaunchJSON(t *testing.T) {
	workspace := t.TempDir()
	vscodeDir := filepath.Join(workspace, ".vscode")
	require.NoError(t, os.MkdirAll(vscodeDir, 0o755))

	launchJSON := `{
		"version": "0.2.0",
		"configurations": [
			{
				"type": "cuda-gdb",
				"request": "launch",
				"name": "CUDA: variables",
				"program": "${workspaceFolder}/build/variables",
				"args": ["--size", "${env:CUDA_DAP_TEST_SIZE}"],
				"setupCommands": [{"text": "set $x = 1", "description": "seed"}]
			},
			{"type": "python", "request": "launch", "name": "Python"}
		]
	}`
	launchPath := filepath.Join(vscodeDir, LaunchJSONFileName)
	require.NoError(t, os.WriteFile(launchPath, []byte(launchJSON), 0o644))

	nested := filepath.Join(workspace, "src", "kernels")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	found, err := Discover(nested)
	require.NoError(t, err)
	assert.Equal(t, launchPath, found)

	lj, err := LoadFromPath(found)
	require.NoError(t, err)
	assert.Equal(t, []ConfigurationInfo{{Name: "CUDA: variables", Request: RequestLaunch}}, ListConfigurations(lj))

	_, err = FindConfiguration(lj, "Python")
	assert.Error(t, err)

	cfg, err := FindConfiguration(lj, "CUDA: variables")
	require.NoError(t, err)
	require.NoError(t, cfg.Resolve(&ResolutionContext{
		WorkspaceFolder: WorkspaceFolder(found),
		EnvOverrides:    map[string]string{"CUDA_DAP_TEST_SIZE": "64"},
	}))

	args, err := cfg.Arguments()
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(workspace)+"/build/variables", args.Program)
	assert.Equal(t, Args{"--size", "64"}, args.Args)
	assert.Equal(t, "set $x = 1", args.SetupCommands[0].Text)
	assert.Equal(t, "cuda-gdb", args.Extra["type"])
}

func TestResolveVariablesUnknown(t *testing.T) {
	out, err := ResolveVariables("${nope}/x", nil)
	assert.Error(t, err)
	assert.Equal(t, "${nope}/x", out)
}

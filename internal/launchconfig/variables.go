package launchconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Variable pattern matches ${...} expressions
var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolutionContext provides context for variable resolution.
type ResolutionContext struct {
	WorkspaceFolder string            // Root folder of the workspace
	CurrentFile     string            // Currently active file (for ${file} variables)
	EnvOverrides    map[string]string // Override environment variables
}

// ResolveVariables replaces all ${...} variables in the given text.
func ResolveVariables(text string, ctx *ResolutionContext) (string, error) {
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		expr := match[2 : len(match)-1]
		resolved, err := resolveVariable(expr, ctx)
		if err != nil {
			lastErr = err
			return match
		}
		return resolved
	})
	return result, lastErr
}

func resolveVariable(expr string, ctx *ResolutionContext) (string, error) {
	switch {
	case expr == "workspaceFolder":
		return ctx.WorkspaceFolder, nil

	case expr == "workspaceFolderBasename":
		return filepath.Base(ctx.WorkspaceFolder), nil

	case expr == "file":
		return ctx.CurrentFile, nil

	case expr == "fileBasename":
		return filepath.Base(ctx.CurrentFile), nil

	case expr == "fileDirname":
		return filepath.Dir(ctx.CurrentFile), nil

	case expr == "fileBasenameNoExtension":
		base := filepath.Base(ctx.CurrentFile)
		return strings.TrimSuffix(base, filepath.Ext(base)), nil

	case expr == "userHome":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil

	case expr == "cwd":
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get cwd: %w", err)
		}
		return cwd, nil

	case expr == "pathSeparator":
		return string(os.PathSeparator), nil

	case strings.HasPrefix(expr, "env:"):
		varName := strings.TrimPrefix(expr, "env:")
		if val, ok := ctx.EnvOverrides[varName]; ok {
			return val, nil
		}
		return os.Getenv(varName), nil

	default:
		return "", fmt.Errorf("unknown variable: ${%s}", expr)
	}
}

// Resolve substitutes variables in every string of the configuration,
// keys excluded.
func (c *Configuration) Resolve(ctx *ResolutionContext) error {
	var tree any
	if err := json.Unmarshal(c.Raw, &tree); err != nil {
		return err
	}
	resolved, err := resolveTree(tree, ctx)
	if err != nil {
		return fmt.Errorf("configuration %q: %w", c.Name, err)
	}
	raw, err := json.Marshal(resolved)
	if err != nil {
		return err
	}
	c.Raw = raw
	return nil
}

func resolveTree(v any, ctx *ResolutionContext) (any, error) {
	switch val := v.(type) {
	case string:
		return ResolveVariables(val, ctx)
	case []any:
		for i, elem := range val {
			r, err := resolveTree(elem, ctx)
			if err != nil {
				return nil, err
			}
			val[i] = r
		}
		return val, nil
	case map[string]any:
		for k, elem := range val {
			r, err := resolveTree(elem, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = r
		}
		return val, nil
	default:
		return v, nil
	}
}

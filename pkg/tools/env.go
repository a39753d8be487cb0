package tools

import (
	"os"
	"sort"
	"strings"

	"github.com/foiacquire/muckrake/pkg/apierr"
	"github.com/foiacquire/muckrake/pkg/models"
)

// ProxyVars are defaulted to the configured proxy for every tool.
var ProxyVars = []string{"ALL_PROXY", "HTTPS_PROXY", "HTTP_PROXY"}

// IsProxyVar reports whether key is one of ProxyVars, in any case.
func IsProxyVar(key string) bool {
	for _, v := range ProxyVars {
		if strings.EqualFold(key, v) {
			return true
		}
	}
	return false
}

// Context is the location information exported to every tool.
type Context struct {
	ProjectRoot   string
	ProjectDB     string
	WorkspaceRoot string
}

// BuildEnv returns the environment for a tool: base, the proxy defaults,
// the tool's overrides (nil removes a variable), then the MKRK_ location
// variables. It also reports whether any proxy variable ended up removed
// or pointed away from proxyURL.
func BuildEnv(base []string, ctx Context, overrides models.EnvOverrides, proxyURL string) ([]string, bool) {
	env := make(map[string]string, len(base)+8)
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for _, k := range ProxyVars {
		env[k] = proxyURL
	}

	bypass := false
	for k, v := range overrides {
		if v == nil {
			delete(env, k)
			if IsProxyVar(k) {
				bypass = true
			}
			continue
		}
		env[k] = *v
		if IsProxyVar(k) && *v != proxyURL {
			bypass = true
		}
	}

	if ctx.ProjectRoot != "" {
		env["MKRK_PROJECT_ROOT"] = ctx.ProjectRoot
	}
	if ctx.ProjectDB != "" {
		env["MKRK_PROJECT_DB"] = ctx.ProjectDB
	}
	if ctx.WorkspaceRoot != "" {
		env["MKRK_WORKSPACE_ROOT"] = ctx.WorkspaceRoot
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, bypass
}

// OSEnv is the base environment of the current process.
func OSEnv() []string { return os.Environ() }

// CheckPrivacy rejects overrides that remove a proxy variable or point it
// somewhere other than proxyURL, unless the caller has confirmed.
func CheckPrivacy(action string, overrides models.EnvOverrides, proxyURL string, confirmed bool) error {
	var touched []string
	for k, v := range overrides {
		if IsProxyVar(k) && (v == nil || *v != proxyURL) {
			touched = append(touched, k)
		}
	}
	if len(touched) == 0 || confirmed {
		return nil
	}
	sort.Strings(touched)
	return &PrivacyError{Code: apierr.CodePrivacy, Action: action, Variables: touched}
}

// DefaultCommand returns the fallback program for the built-in view and
// edit actions when no tool is configured.
func DefaultCommand(action string, getenv func(string) string) (string, bool) {
	pick := func(fallback string, keys ...string) string {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				return v
			}
		}
		return fallback
	}
	switch action {
	case "view", "read":
		return pick("less", "PAGER"), true
	case "edit":
		return pick("vi", "VISUAL", "EDITOR"), true
	default:
		return "", false
	}
}

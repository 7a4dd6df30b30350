package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// ShellContext carries the concrete values available to a job's shell
// command template.
type ShellContext struct {
	Inputs    []string
	Outputs   []string
	Log       string
	Threads   int
	Params    map[string]string
	Wildcards Bindings
}

// RenderShell substitutes placeholders in a shell command template.
//
// Supported placeholders:
//   - `{input}` / `{output}`: space-joined path lists
//   - `{input[n]}` / `{output[n]}`: nth path (0-based)
//   - `{log}`: the job's log path
//   - `{threads}`: the job's effective thread count
//   - `{params.name}`: a resolved parameter
//   - `{wildcards.name}` or bare `{name}`: a bound wildcard value
func RenderShell(template string, ctx ShellContext) (string, error) {
	var sb strings.Builder
	s := template
	for len(s) > 0 {
		open := strings.IndexByte(s, '{')
		if open == -1 {
			sb.WriteString(s)
			break
		}
		sb.WriteString(s[:open])
		s = s[open:]

		closeIdx := strings.IndexByte(s, '}')
		if closeIdx == -1 {
			return "", fmt.Errorf("unclosed placeholder in shell template %q", template)
		}

		placeholder := s[1:closeIdx]
		s = s[closeIdx+1:]

		value, err := resolvePlaceholder(placeholder, ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(value)
	}
	return sb.String(), nil
}

func resolvePlaceholder(p string, ctx ShellContext) (string, error) {
	switch {
	case p == "input":
		return strings.Join(ctx.Inputs, " "), nil
	case p == "output":
		return strings.Join(ctx.Outputs, " "), nil
	case p == "log":
		return ctx.Log, nil
	case p == "threads":
		return strconv.Itoa(ctx.Threads), nil
	case strings.HasPrefix(p, "input[") && strings.HasSuffix(p, "]"):
		return indexInto(ctx.Inputs, p, "input")
	case strings.HasPrefix(p, "output[") && strings.HasSuffix(p, "]"):
		return indexInto(ctx.Outputs, p, "output")
	case strings.HasPrefix(p, "params."):
		name := strings.TrimPrefix(p, "params.")
		value, ok := ctx.Params[name]
		if !ok {
			return "", fmt.Errorf("unknown param {%s}", p)
		}
		return value, nil
	case strings.HasPrefix(p, "wildcards."):
		name := strings.TrimPrefix(p, "wildcards.")
		value, ok := ctx.Wildcards[name]
		if !ok {
			return "", fmt.Errorf("unbound wildcard {%s}", p)
		}
		return value, nil
	default:
		if value, ok := ctx.Wildcards[p]; ok {
			return value, nil
		}
		return "", fmt.Errorf("unsupported placeholder {%s}", p)
	}
}

func indexInto(values []string, placeholder, kind string) (string, error) {
	nStr := strings.TrimSuffix(strings.TrimPrefix(placeholder, kind+"["), "]")
	idx, err := strconv.Atoi(nStr)
	if err != nil {
		return "", fmt.Errorf("invalid %s index %q", kind, nStr)
	}
	if idx < 0 || idx >= len(values) {
		return "", fmt.Errorf("%s[%d] out of range (%d %ss)", kind, idx, len(values), kind)
	}
	return values[idx], nil
}

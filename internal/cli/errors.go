package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/taskgraph/pkg/errors"
)

// formatError expands coded errors with their details so a failed plan
// names the offending tasks.
func formatError(err error) error {
	tgErr, ok := errors.As(err)
	if !ok || len(tgErr.Details) == 0 {
		return err
	}

	switch tgErr.Code {
	case errors.ErrCodeInvalidData, errors.ErrCodeTaskBasedNotAllowed, errors.ErrCodeValidation:
	default:
		return err
	}

	keys := make([]string, 0, len(tgErr.Details))
	for k := range tgErr.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(tgErr.Error())
	sb.WriteString("\n\nDetails:\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", k, formatDetail(tgErr.Details[k])))
	}
	return fmt.Errorf("%s", strings.TrimRight(sb.String(), "\n"))
}

func formatDetail(v interface{}) string {
	switch d := v.(type) {
	case []string:
		return strings.Join(d, ", ")
	case map[string][]string:
		keys := make([]string, 0, len(d))
		for k := range d {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s (%s)", k, strings.Join(d[k], ", "))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprintf("%v", v)
	}
}

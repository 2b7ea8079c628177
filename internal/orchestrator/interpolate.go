package orchestrator

import (
	"regexp"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// placeholderRe matches {{<taskID>.<field>}} references to parent results.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_-]+)\.([A-Za-z0-9_]+)\s*\}\}`)

// interpolate returns a copy of params with parent-result references
// substituted. References to missing results, or to fields a degraded
// result does not vouch for, become empty strings.
func interpolate(params map[string]string, results map[string]*models.TaskResult) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = placeholderRe.ReplaceAllStringFunc(v, func(ref string) string {
			m := placeholderRe.FindStringSubmatch(ref)
			val, _ := results[m[1]].Field(m[2])
			return val
		})
	}
	return out
}

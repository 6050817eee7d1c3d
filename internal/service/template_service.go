// internal/service/template_service.go
package service

import (
	"regexp"
)

var mergeTag = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// RenderTemplate substitutes every {merge_tag} found in data. Tags with no
// value are left in the output as written.
func RenderTemplate(template string, data map[string]string) string {
	return mergeTag.ReplaceAllStringFunc(template, func(tag string) string {
		if v, ok := data[tag[1:len(tag)-1]]; ok {
			return v
		}
		return tag
	})
}

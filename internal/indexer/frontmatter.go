package indexer

import (
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	frontMatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---`)
	dateFieldPattern   = regexp.MustCompile(`(?:last_edited|created):\s*(\d{4}-\d{2}-\d{2})`)
)

// dateKeys are the front matter fields holding a document date, in priority order
var dateKeys = []string{"last_edited", "created"}

// ExtractContentDate returns the YYYY-MM-DD date from a document's YAML front
// matter, preferring last_edited over created. It returns "" when there is none.
func ExtractContentDate(content string) string {
	m := frontMatterPattern.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	block := m[1]

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(block), &fields); err == nil {
		for _, key := range dateKeys {
			if d := dateValue(fields[key]); d != "" {
				return d
			}
		}
		return ""
	}

	// Invalid YAML: fall back to a line scan
	if dm := dateFieldPattern.FindStringSubmatch(block); dm != nil {
		return dm[1]
	}
	return ""
}

func dateValue(v any) string {
	switch val := v.(type) {
	case time.Time:
		return val.Format("2006-01-02")
	case string:
		s := strings.TrimSpace(val)
		if len(s) >= 10 {
			if _, err := time.Parse("2006-01-02", s[:10]); err == nil {
				return s[:10]
			}
		}
	}
	return ""
}

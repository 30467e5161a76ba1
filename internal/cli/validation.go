package cli

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// entityPrefixes maps entity types to their expected ID prefixes
var entityPrefixes = map[string]string{
	"action":     "CA",
	"sub-action": "SA",
}

var shortID = regexp.MustCompile(`^\d+$`)

// validateEntityID checks if an ID has the correct prefix format.
// Returns an error with helpful message if the ID appears to be a short ID.
func validateEntityID(id, entityType string) error {
	prefix, ok := entityPrefixes[entityType]
	if !ok {
		return nil
	}

	expectedPattern := prefix + "-"
	if strings.HasPrefix(id, expectedPattern) {
		return nil
	}

	if shortID.MatchString(id) {
		n, _ := strconv.Atoi(id)
		return fmt.Errorf("invalid %s ID '%s'. Use full ID format: %s-%04d", entityType, id, prefix, n)
	}

	if strings.HasPrefix(strings.ToUpper(id), expectedPattern) {
		return fmt.Errorf("invalid %s ID '%s'. IDs are case-sensitive, use: %s", entityType, id, strings.ToUpper(id))
	}

	return fmt.Errorf("invalid %s ID '%s'. Expected format: %s-0001", entityType, id, prefix)
}

// dueLayouts are tried in order by parseDue.
var dueLayouts = []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"}

var dueParser = newDueParser()

func newDueParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDue parses a due date flag. Date-only values mean the end of that day
// in UTC. Anything else is read as English relative to now ("next friday",
// "in 3 days").
func parseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if layout == "2006-01-02" {
			t = t.Add(24*time.Hour - time.Second)
		}
		return t.UTC(), nil
	}

	if s != "" {
		r, err := dueParser.Parse(s, now)
		if err == nil && r != nil {
			return r.Time.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid due date '%s'. Use YYYY-MM-DD, 'YYYY-MM-DD HH:MM', RFC 3339 or a phrase like 'next friday'", s)
}

// splitTags parses a comma-separated tag flag.
func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

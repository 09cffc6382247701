package storage

import "strings"

// MatchesEventType reports whether an endpoint subscribed to the given tags
// should receive eventType. An empty subscription list matches nothing: the
// API rejects endpoints without event types, so an empty list only occurs
// on hand-built records.
func MatchesEventType(subscribed []string, eventType string) bool {
	for _, sub := range subscribed {
		if sub == eventType || sub == "*" {
			return true
		}
		// wildcard matching: "alert.*" matches "alert.created"
		if strings.HasSuffix(sub, ".*") {
			prefix := strings.TrimSuffix(sub, ".*")
			if strings.HasPrefix(eventType, prefix+".") {
				return true
			}
		}
	}
	return false
}

package acl

import (
	"regexp"
	"strings"
)

// UsernameMarker is the literal marker substituted with the authenticated
// username. It is independent of the {name} placeholder syntax and the two
// substitution passes never interact.
const UsernameMarker = "${username}"

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// markerSentinel stands in for ${username} during placeholder scanning. It
// is not a name character, so text on either side of a marker can never
// splice into a placeholder name.
const markerSentinel = "\x00"

// ExtractPlaceholders returns the distinct placeholder names in a topic
// template, in first-seen order. The ${username} marker is not a placeholder:
// it is masked before scanning so "/users/${username}/{tag}" yields only
// "tag", and a marker inside braces ("{farm${username}_id}") yields nothing
// rather than a fabricated name.
func ExtractPlaceholders(template string) []string {
	scanned := strings.ReplaceAll(template, UsernameMarker, markerSentinel)
	matches := placeholderPattern.FindAllStringSubmatch(scanned, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		names = append(names, m[1])
	}
	return names
}

// HasUsernameMarker reports whether a template contains the ${username}
// marker.
func HasUsernameMarker(template string) bool {
	return strings.Contains(template, UsernameMarker)
}

// SubstituteUsername replaces every occurrence of ${username} with the given
// username. An empty username leaves the template unchanged.
func SubstituteUsername(template, username string) string {
	if username == "" {
		return template
	}
	return strings.ReplaceAll(template, UsernameMarker, username)
}

// SubstitutePlaceholders replaces every {name} token whose name is present
// in bindings. Names absent from bindings are left intact; callers must
// ensure all required names are resolvable before emitting the result.
func SubstitutePlaceholders(template string, bindings map[string]string) string {
	topic := template
	for name, value := range bindings {
		topic = strings.ReplaceAll(topic, "{"+name+"}", value)
	}
	return topic
}

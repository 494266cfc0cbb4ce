package seriallogger

import "strings"

// ParseDataLine parses a telemetry line into key-value pairs.
//
// Only the portion after the marker is considered; the remainder is split
// on ';' into pairs of the form "key:value", where the value may itself
// contain ':'. A line without the marker, or with no well-formed pair,
// yields an empty map.
//
//	"boot D;temp:23.5;hum:40" -> {"temp": "23.5", "hum": "40"}
func ParseDataLine(line, marker string) map[string]string {
	parsed := make(map[string]string)

	start := strings.Index(line, marker)
	if start == -1 {
		return parsed
	}

	payload := strings.TrimSpace(line[start+len(marker):])
	for _, pair := range strings.Split(payload, ";") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		parsed[key] = value
	}
	return parsed
}

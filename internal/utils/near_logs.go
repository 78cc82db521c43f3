package utils

import (
	"encoding/json"
	"regexp"
	"strings"
)

// NEAR contracts emit structured events as log lines prefixed with
// "EVENT_JSON:" per NEP-297. Older escrow contract versions emit plain-text
// creation logs instead, so both formats are parsed.

const nearEventJSONPrefix = "EVENT_JSON:"

// NearEventJSON is a NEP-297 structured event envelope
type NearEventJSON struct {
	Standard string          `json:"standard"`
	Version  string          `json:"version"`
	Event    string          `json:"event"`
	Data     json.RawMessage `json:"data"`
}

// ParseNearEventJSON decodes an EVENT_JSON log line.
// Returns false for plain-text or malformed lines.
func ParseNearEventJSON(line string) (*NearEventJSON, bool) {
	if !strings.HasPrefix(line, nearEventJSONPrefix) {
		return nil, false
	}
	var event NearEventJSON
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, nearEventJSONPrefix)), &event); err != nil {
		return nil, false
	}
	if event.Event == "" {
		return nil, false
	}
	return &event, true
}

var nearCreationLogRe = regexp.MustCompile(`^Created swap order (\S+) for (\d+) yoctoNEAR to recipient (\S+)$`)

// ParseNearCreationLog parses the plain-text order creation log emitted by
// older contract versions:
//
//	Created swap order <id> for <amount> yoctoNEAR to recipient <addr>
func ParseNearCreationLog(line string) (orderID, amount, recipient string, ok bool) {
	match := nearCreationLogRe.FindStringSubmatch(line)
	if match == nil {
		return "", "", "", false
	}
	return match[1], match[2], match[3], true
}

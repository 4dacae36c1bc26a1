package ratelimit

import "github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/policy"

// Key derives the identity a window is keyed on. clientAddr must already be
// normalized. A by_user endpoint with no principal (reachable only under
// optional auth) falls back to the address key instead of bypassing limits.
func Key(strategy policy.KeyStrategy, principalID, clientAddr string) string {
	if clientAddr == "" {
		clientAddr = "unknown"
	}
	switch strategy {
	case policy.KeyByIP:
		return "ip:" + clientAddr
	case policy.KeyByUser, policy.KeyDefault:
		if principalID != "" {
			return "u:" + principalID
		}
		return "ip:" + clientAddr
	default:
		return "ip:" + clientAddr
	}
}

package mcp

import (
	"crypto/subtle"
)

// AuthConfig controls admin-operation gating (§6 security.*, §4.8).
type AuthConfig struct {
	Enabled                 bool
	APIKey                  string
	AdminOperationsRequired bool
}

// checkAuth compares presented against the configured API key in constant
// time, so a timing side-channel can't leak key bytes (§4.8).
func (c AuthConfig) checkAuth(presented string) bool {
	if !c.Enabled {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(c.APIKey)) == 1
}

// adminTools are the destructive operations auth gates when
// AdminOperationsRequired is set (§4.8).
var adminTools = map[string]bool{
	"delete_entity_edge": true,
	"delete_episode":     true,
	"clear_graph":        true,
}

func (c AuthConfig) requiresAuth(tool string) bool {
	if !c.Enabled {
		return false
	}
	if !c.AdminOperationsRequired {
		return true
	}
	return adminTools[tool]
}

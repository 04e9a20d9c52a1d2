package simulator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/cloudconsole/jobtracker/internal/config"
)

// LoadCatalog registers a succeeding script for every catalog operation.
// Each job reports two pending steps before it completes with a resource
// shaped like the real response for that command.
func LoadCatalog(store *Store, cat *config.Catalog) {
	for _, name := range cat.Names() {
		store.SetScript(name, ScriptFor(name))
	}
}

// ScriptFor builds the default script for command
func ScriptFor(command string) Script {
	key, fields := resultFor(command)
	resource := map[string]any{"id": uuid.NewString()}
	for k, v := range fields {
		resource[k] = v
	}

	return Script{
		Steps:  []string{"", strings.ToLower(command) + " in progress"},
		Result: map[string]any{key: []any{resource}},
	}
}

func resultFor(command string) (string, map[string]any) {
	c := strings.ToLower(command)
	switch {
	case strings.HasSuffix(c, "virtualmachine"):
		state := "Running"
		switch {
		case strings.HasPrefix(c, "stop"):
			state = "Stopped"
		case strings.HasPrefix(c, "destroy"):
			state = "Destroyed"
		}
		return "virtualmachine", map[string]any{"state": state}
	case strings.HasSuffix(c, "volume"):
		return "volume", map[string]any{"state": "Ready"}
	case strings.HasSuffix(c, "snapshot"):
		return "snapshot", map[string]any{"state": "BackedUp"}
	case strings.HasSuffix(c, "template"):
		return "template", map[string]any{"isready": true}
	case strings.HasSuffix(c, "hostmaintenance"), strings.HasSuffix(c, "hostformaintenance"):
		state := "Maintenance"
		if strings.HasPrefix(c, "cancel") {
			state = "Enabled"
		}
		return "host", map[string]any{"resourcestate": state}
	case strings.HasSuffix(c, "storagemaintenance"):
		state := "Maintenance"
		if strings.HasPrefix(c, "cancel") {
			state = "Up"
		}
		return "storagepool", map[string]any{"state": state}
	}
	return "result", map[string]any{"success": true}
}

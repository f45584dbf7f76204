package router

import (
	"fmt"
	"strconv"
	"time"

	"github.com/omnibridge/omnibridge/pkg/ai"
)

// simAction is the closed set of intent verbs the local simulation can
// serve when no remote action client is configured.
type simAction int

const (
	simUnknown simAction = iota
	simCreate
	simQuery
	simUpdate
	simDelete
)

// classifyAction maps an action verb onto the simulation vocabulary.
// Matching is exact: anything outside the closed set falls through to the
// default "not sure how to help" arm.
func classifyAction(action string) simAction {
	switch action {
	case "create":
		return simCreate
	case "read", "query", "search":
		return simQuery
	case "update":
		return simUpdate
	case "delete":
		return simDelete
	default:
		return simUnknown
	}
}

// entityType names the object of the action for canned messages, taken
// from the extracted entities when present.
func entityType(entities map[string]interface{}) string {
	if t, ok := entities["type"].(string); ok && t != "" {
		return t
	}
	return "item"
}

// queryRow builds one synthetic result row carrying the extracted
// entities, so the response stage phrases results in the user's own terms.
func queryRow(id, name string, entities map[string]interface{}) map[string]interface{} {
	row := map[string]interface{}{"id": id, "name": name}
	for k, v := range entities {
		row[k] = v
	}
	return row
}

// simulateAction fabricates a plausible action result so the response
// stage has something to phrase. Shapes mirror what a real action backend
// would return for each verb class.
func simulateAction(intent ai.Intent) map[string]interface{} {
	subject := entityType(intent.Entities)

	switch classifyAction(intent.Action) {
	case simCreate:
		return map[string]interface{}{
			"success": true,
			"id":      strconv.FormatInt(time.Now().UnixMilli(), 10),
			"message": fmt.Sprintf("Created %s successfully", subject),
			"data":    intent.Entities,
		}
	case simQuery:
		return map[string]interface{}{
			"success": true,
			"results": []map[string]interface{}{
				queryRow("1", "Item 1", intent.Entities),
				queryRow("2", "Item 2", intent.Entities),
			},
		}
	case simUpdate:
		return map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Updated %s successfully", subject),
			"data":    intent.Entities,
		}
	case simDelete:
		return map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Deleted %s successfully", subject),
		}
	default:
		return map[string]interface{}{
			"success": false,
			"message": fmt.Sprintf("I understand you want to %s, but I'm not sure how to help with that yet.", intent.Action),
		}
	}
}

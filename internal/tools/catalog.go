package tools

import (
	"strings"

	"github.com/af-corp/facility-assistant/internal/query"
	"github.com/af-corp/facility-assistant/internal/types"
)

// CatalogVersion identifies the declared tool contract. Bump it whenever a name,
// description or schema below changes.
const CatalogVersion = "2025-01.1"

// Name identifies a built-in tool.
type Name string

const (
	QueryRooms  Name = "query_rooms"
	SelectRooms Name = "select_rooms"
)

// Names lists every built-in tool in catalog order.
var Names = []Name{QueryRooms, SelectRooms}

// ParseName reports whether s names a built-in tool.
func ParseName(s string) (Name, bool) {
	for _, n := range Names {
		if s == string(n) {
			return n, true
		}
	}
	return "", false
}

// Statuses are the accepted values of the "Room Status" filter clause.
var Statuses = []string{"available", "occupied"}

func validStatus(s string) bool {
	for _, v := range Statuses {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// Catalog declares both tools with strict schemas. parameters is the parameter enum
// accepted by query_rooms, normally query.Engine.Parameters().
func Catalog(parameters []string) []types.Tool {
	typeEnum := make([]any, 0, len(query.Types))
	for _, t := range query.Types {
		typeEnum = append(typeEnum, string(t))
	}
	statusEnum := make([]any, 0, len(Statuses)+1)
	for _, s := range Statuses {
		statusEnum = append(statusEnum, s)
	}
	statusEnum = append(statusEnum, "")
	paramEnum := make([]any, 0, len(parameters)+1)
	for _, p := range parameters {
		paramEnum = append(paramEnum, p)
	}
	paramEnum = append(paramEnum, "")

	return []types.Tool{
		{
			Type: "function",
			Function: types.FunctionDefinition{
				Name: string(QueryRooms),
				Description: "Query rooms of the building. The result is a JSON object with an optional value " +
					"and a list of room names. The value is calculated based on the type of the query " +
					"and is in generic units.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type":        "string",
							"description": "The type of the query.",
							"enum":        typeEnum,
						},
						"filter": map[string]any{
							"type":        []any{"object", "null"},
							"description": "Optional filter to apply.",
							"properties": map[string]any{
								"level": map[string]any{
									"type":        "string",
									"description": "The level filter.",
								},
								"status": map[string]any{
									"type":        []any{"string", "null"},
									"description": "The status filter.",
									"enum":        statusEnum,
								},
							},
							"required":             []any{"level", "status"},
							"additionalProperties": false,
						},
						"parameter": map[string]any{
							"type":        []any{"string", "null"},
							"description": "Optional parameter to aggregate. Used by avg, min, max and sum queries.",
							"enum":        paramEnum,
						},
					},
					"required":             []any{"type", "filter", "parameter"},
					"additionalProperties": false,
				},
				Strict: true,
			},
		},
		{
			Type: "function",
			Function: types.FunctionDefinition{
				Name:        string(SelectRooms),
				Description: "Select the specified rooms.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"names": map[string]any{
							"type":        "array",
							"description": "List of room names to select.",
							"items":       map[string]any{"type": "string"},
						},
					},
					"required":             []any{"names"},
					"additionalProperties": false,
				},
				Strict: true,
			},
		},
	}
}

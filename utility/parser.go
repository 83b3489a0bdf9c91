package utility

import "encoding/json"

// ParseJson decodes a JSON array into its untyped elements. OCPP-J frames
// are arrays at the top level, so anything else fails here.
func ParseJson(data []byte) ([]interface{}, error) {
	var fields []interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

package extract

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalRepaired unmarshals data into v, repairing the JSON first when
// the initial parse fails with a syntax error. Models in JSON mode still
// occasionally emit trailing commas or code fences.
func unmarshalRepaired(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, rerr := jsonrepair.JSONRepair(string(data))
		if rerr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

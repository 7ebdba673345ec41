package bencode

// ToJSONValue converts a decoded value tree into plain Go types that
// encoding/json can marshal directly (map[string]interface{} in place
// of *Dict). Used by the `decode` CLI command to print bencode as
// JSON, the same trick every codecrafters-bittorrent-go variant in
// the retrieval pack uses.
func ToJSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = ToJSONValue(item)
		}
		return out
	case *Dict:
		out := make(map[string]interface{}, len(t.Keys))
		for _, k := range t.Keys {
			out[k] = ToJSONValue(t.Values[k])
		}
		return out
	default:
		return t
	}
}

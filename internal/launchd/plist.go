// Package launchd discovers and parses launchd property lists from the
// daemon and agent directories, and projects them into the shared
// descriptor the contradiction and behavior probes consume.
package launchd

import (
	"encoding/xml"
	"io"
)

// decodePlist walks an XML property list document and returns its root
// dict as a generic value tree (string | bool | []any | map[string]any).
// Binary property lists are not decoded here; launchd always writes (and
// accepts) XML plists for daemon/agent definitions, so this covers every
// on-disk file this package is pointed at.
func decodePlist(r io.Reader) (map[string]any, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "dict" {
			continue
		}
		return decodeDict(dec)
	}
}

func decodeDict(dec *xml.Decoder) (map[string]any, error) {
	out := make(map[string]any)
	var key string
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "key":
				var k string
				if err := dec.DecodeElement(&k, &t); err != nil {
					return nil, err
				}
				key = k
			case "dict":
				v, err := decodeDict(dec)
				if err != nil {
					return nil, err
				}
				out[key] = v
			case "array":
				v, err := decodeArray(dec)
				if err != nil {
					return nil, err
				}
				out[key] = v
			case "string":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				out[key] = s
			case "integer", "real":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				out[key] = s
			case "true":
				out[key] = true
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			case "false":
				out[key] = false
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "dict" {
				return out, nil
			}
		}
	}
}

func decodeArray(dec *xml.Decoder) ([]any, error) {
	var out []any
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "string":
				var s string
				if err := dec.DecodeElement(&s, &t); err != nil {
					return nil, err
				}
				out = append(out, s)
			case "dict":
				v, err := decodeDict(dec)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			default:
				if err := dec.Skip(); err != nil {
					return nil, err
				}
			}
		case xml.EndElement:
			if t.Name.Local == "array" {
				return out, nil
			}
		}
	}
}

func stringField(dict map[string]any, key string) (string, bool) {
	v, ok := dict[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringField exports stringField for callers outside this package that
// walk a generic plist tree returned by ParsePlistFile (kext census,
// persistence scan).
func StringField(dict map[string]any, key string) (string, bool) { return stringField(dict, key) }

// DictField returns the nested dict at key, or nil if absent or not a
// dict.
func DictField(dict map[string]any, key string) map[string]any {
	v, ok := dict[key]
	if !ok {
		return nil
	}
	nested, _ := v.(map[string]any)
	return nested
}

// StringDictField exports stringDict for external callers.
func StringDictField(dict map[string]any, key string) map[string]string { return stringDict(dict, key) }

func boolField(dict map[string]any, key string) bool {
	v, ok := dict[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func stringDict(dict map[string]any, key string) map[string]string {
	v, ok := dict[key]
	if !ok {
		return nil
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(nested))
	for k, val := range nested {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

func firstProgramArgument(dict map[string]any) (string, bool) {
	v, ok := dict["ProgramArguments"]
	if !ok {
		return "", false
	}
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	s, ok := arr[0].(string)
	return s, ok
}

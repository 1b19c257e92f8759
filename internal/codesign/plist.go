package codesign

import "encoding/xml"

// plistDict is the minimal structural subset of an Apple property list
// this validator needs: a top-level <dict> of <key> paired with one of
// <true/>, <false/>, or <string>.
type plistDict struct {
	XMLName xml.Name    `xml:"plist"`
	Dict    plistDictEl `xml:"dict"`
}

type plistDictEl struct {
	Entries []plistEntry `xml:",any"`
}

type plistEntry struct {
	XMLName xml.Name
	Content string `xml:",chardata"`
}

// parseEntitlementsPlist decodes the embedded entitlements blob's XML
// property list into a flat key -> value map ("true"/"false" for booleans,
// the literal text for strings). No third-party plist library exists in
// the retrieval pack, so this uses the standard library's XML decoder
// rather than a full plist implementation; only the dict/key/bool/string
// shape entitlements actually use is supported.
func parseEntitlementsPlist(body []byte) map[string]string {
	out := map[string]string{}
	var p plistDict
	if err := xml.Unmarshal(body, &p); err != nil {
		return out
	}
	var pendingKey string
	for _, el := range p.Dict.Entries {
		switch el.XMLName.Local {
		case "key":
			pendingKey = el.Content
		case "true", "false", "string", "integer":
			if pendingKey != "" {
				if el.XMLName.Local == "true" || el.XMLName.Local == "false" {
					out[pendingKey] = el.XMLName.Local
				} else {
					out[pendingKey] = el.Content
				}
				pendingKey = ""
			}
		}
	}
	return out
}

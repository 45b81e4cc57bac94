// Package mitre maps IOC categories and types onto MITRE ATT&CK techniques.
package mitre

import (
	"sort"
	"strings"
)

// TechniqueAppLayerWeb is Application Layer Protocol: Web Protocols
const TechniqueAppLayerWeb = "T1071.001"

var categoryTechniques = map[string][]string{
	"phishing":   {"T1566", "T1598"},
	"malware":    {"T1204", "T1059"},
	"ransomware": {"T1486", "T1490"},
	"c2":         {"T1071", "T1095"},
	"botnet":     {"T1071", "T1573"},
}

var techniqueNames = map[string]string{
	"T1566":     "Phishing",
	"T1598":     "Phishing for Information",
	"T1204":     "User Execution",
	"T1059":     "Command and Scripting Interpreter",
	"T1486":     "Data Encrypted for Impact",
	"T1490":     "Inhibit System Recovery",
	"T1071":     "Application Layer Protocol",
	"T1095":     "Non-Application Layer Protocol",
	"T1573":     "Encrypted Channel",
	"T1071.001": "Application Layer Protocol: Web Protocols",
}

// MapTechniques returns the technique IDs implied by an IOC's category and
// type, deduplicated and sorted
func MapTechniques(category string, iocType string) []string {
	seen := make(map[string]struct{})
	for _, id := range categoryTechniques[strings.ToLower(strings.TrimSpace(category))] {
		seen[id] = struct{}{}
	}
	if iocType == "url" || iocType == "domain" {
		seen[TechniqueAppLayerWeb] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the display name of a technique this package can produce
func Lookup(id string) (string, bool) {
	name, ok := techniqueNames[strings.ToUpper(strings.TrimSpace(id))]
	return name, ok
}

// Categories lists the categories with a technique mapping, sorted
func Categories() []string {
	out := make([]string, 0, len(categoryTechniques))
	for c := range categoryTechniques {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

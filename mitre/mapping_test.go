package mitre

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapTechniques(t *testing.T) {
	tests := []struct {
		name     string
		category string
		iocType  string
		want     []string
	}{
		{"phishing url", "phishing", "url", []string{"T1071.001", "T1566", "T1598"}},
		{"malware hash", "malware", "hash-sha256", []string{"T1059", "T1204"}},
		{"ransomware ip", "ransomware", "ip", []string{"T1486", "T1490"}},
		{"c2 domain", "c2", "domain", []string{"T1071", "T1071.001", "T1095"}},
		{"botnet ip", "botnet", "ip", []string{"T1071", "T1573"}},
		{"unknown category domain", "spam", "domain", []string{"T1071.001"}},
		{"no category hash", "", "hash-md5", []string{}},
		{"case insensitive", " Phishing ", "ip", []string{"T1566", "T1598"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapTechniques(tt.category, tt.iocType))
		})
	}
}

func TestMapTechniques_Deterministic(t *testing.T) {
	first := MapTechniques("botnet", "url")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, MapTechniques("botnet", "url"))
	}
}

func TestLookup(t *testing.T) {
	name, ok := Lookup("t1486")
	assert.True(t, ok)
	assert.Equal(t, "Data Encrypted for Impact", name)

	_, ok = Lookup("T9999")
	assert.False(t, ok)

	for _, c := range Categories() {
		for _, id := range MapTechniques(c, "url") {
			_, ok := Lookup(id)
			assert.True(t, ok, "technique %s has no name", id)
		}
	}
}

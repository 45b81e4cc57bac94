package feeds

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subrat243/Intelify/core"
)

func TestAbuseIPDB_FetchAndParse(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-key", r.Header.Get("Key"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "75", r.URL.Query().Get("confidenceMinimum"))
		assert.Equal(t, "10000", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"data":[
			{"ipAddress":"203.0.113.7","abuseConfidenceScore":90,"countryCode":"CN","usageType":"Data Center","isp":"Example ISP","totalReports":12},
			{"ipAddress":"","abuseConfidenceScore":50}
		]}`))
	})

	adapter := buildAdapter(t, NewAbuseIPDBAdapter, &core.Source{
		Name:   "abuseipdb",
		URL:    srv.URL,
		Config: map[string]interface{}{"api_key": "secret-key"},
	})
	assert.Equal(t, "abuseipdb", adapter.Name())

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "203.0.113.7", c.Indicator)
	assert.Equal(t, core.IOCTypeIP, c.Type)
	assert.Equal(t, "malware", c.Category)
	assert.Equal(t, []string{"abuse", "malicious-ip"}, c.Tags)
	assert.InDelta(t, 0.9, c.ConfidenceScore, 1e-9)
	assert.Equal(t, "CN", c.Metadata["country_code"])
	assert.Equal(t, 12, c.Metadata["total_reports"])
}

func TestAbuseIPDB_RequiresAPIKey(t *testing.T) {
	adapter := buildAdapter(t, NewAbuseIPDBAdapter, &core.Source{Name: "abuseipdb"})

	_, err := adapter.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingAPIKey)
	var fetchErr *core.FetchError
	assert.True(t, errors.As(err, &fetchErr))
}

func TestAbuseIPDB_RejectsUnexpectedEnvelope(t *testing.T) {
	adapter := buildAdapter(t, NewAbuseIPDBAdapter, &core.Source{Name: "abuseipdb"})

	for _, raw := range []string{`{"errors":[{"detail":"rate limited"}]}`, `not json`, ``} {
		_, err := adapter.Parse([]byte(raw))
		var parseErr *core.ParseError
		assert.True(t, errors.As(err, &parseErr), "payload %q", raw)
	}
}

func TestPhishTank_KeyedURLAndParse(t *testing.T) {
	keyed, err := NewPhishTankAdapter(AdapterConfig{Source: &core.Source{
		Name:   "phishtank",
		Config: map[string]interface{}{"api_key": "abc"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "http://data.phishtank.com/data/abc/online-valid.json", keyed.(*PhishTankAdapter).url)

	anonymous, err := NewPhishTankAdapter(AdapterConfig{Source: &core.Source{Name: "phishtank"}})
	require.NoError(t, err)
	assert.Equal(t, phishTankURL, anonymous.(*PhishTankAdapter).url)

	srv := serve(t, writeBody(`[
		{"phish_id":123,"url":"http://login.example-bank.test/","target":"Example Bank","submission_time":"2026-01-01T00:00:00+00:00","verified":"yes","verification_time":"2026-01-01T01:00:00+00:00"},
		{"phish_id":124,"url":"  "}
	]`))
	adapter := buildAdapter(t, NewPhishTankAdapter, &core.Source{Name: "phishtank", URL: srv.URL})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, core.IOCTypeURL, c.Type)
	assert.Equal(t, "phishing", c.Category)
	assert.Equal(t, 0.9, c.ConfidenceScore)
	assert.Equal(t, true, c.Metadata["verified"])
	assert.Equal(t, "Example Bank", c.Metadata["target"])
}

func TestURLhaus_FetchAndParse(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "get_recent", r.PostForm.Get("query"))
		assert.Equal(t, "100", r.PostForm.Get("limit"))
		_, _ = w.Write([]byte(`{"query_status":"ok","urls":[
			{"url":"http://198.51.100.4/bins/mozi.m","url_status":"online","threat":"malware_download","tags":["mozi"],"host":"198.51.100.4"},
			{"url":"http://c2.example.test/gate.php","threat":"botnet_cc"},
			{"url":"http://odd.example.test/","threat":"something_new"},
			{"url":""}
		]}`))
	})
	adapter := buildAdapter(t, NewURLhausAdapter, &core.Source{Name: "urlhaus", URL: srv.URL})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 3)
	assert.Equal(t, "malware", candidates[0].Category)
	assert.Equal(t, []string{"malicious-url", "malware_download"}, candidates[0].Tags)
	assert.Equal(t, []string{"mozi"}, candidates[0].Metadata["tags"])
	assert.Equal(t, "c2", candidates[1].Category)
	assert.Equal(t, "malware", candidates[2].Category)
	for _, c := range candidates {
		assert.Equal(t, core.IOCTypeURL, c.Type)
		assert.Equal(t, 0.8, c.ConfidenceScore)
	}
}

func TestURLhaus_QueryStatusNotOK(t *testing.T) {
	adapter := buildAdapter(t, NewURLhausAdapter, &core.Source{Name: "urlhaus"})

	_, err := adapter.Parse([]byte(`{"query_status":"no_results"}`))
	var parseErr *core.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, err.Error(), "no_results")
}

func TestMalwareBazaar_EmitsSHA256AndMD5(t *testing.T) {
	const sha = "0f3c6b1e7a9d4c2b8e5f1a3d6c9b2e4f7a0d3c6b9e2f5a8d1c4b7e0a3f6c9b2e"
	const md5 = "5d41402abc4b2a76b9719d911017c592"

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "get_recent", r.PostForm.Get("query"))
		assert.Equal(t, "100", r.PostForm.Get("selector"))
		_, _ = w.Write([]byte(`{"query_status":"ok","data":[
			{"sha256_hash":"` + sha + `","md5_hash":"` + md5 + `","file_type":"exe","file_name":"invoice.exe","signature":"AgentTesla","tags":["exe","AgentTesla"],"reporter":"abuse_ch"},
			{"md5_hash":"` + md5 + `"}
		]}`))
	})
	adapter := buildAdapter(t, NewMalwareBazaarAdapter, &core.Source{Name: "malwarebazaar", URL: srv.URL})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 2)

	assert.Equal(t, sha, candidates[0].Indicator)
	assert.Equal(t, core.IOCTypeHashSHA256, candidates[0].Type)
	assert.Equal(t, []string{"malware-sample", "AgentTesla", "exe"}, candidates[0].Tags)
	assert.Equal(t, 0.85, candidates[0].ConfidenceScore)
	assert.Equal(t, "invoice.exe", candidates[0].Metadata["file_name"])

	assert.Equal(t, md5, candidates[1].Indicator)
	assert.Equal(t, core.IOCTypeHashMD5, candidates[1].Type)
	assert.Equal(t, sha, candidates[1].Metadata["sha256_hash"])
}

func TestOTX_FetchAndParse(t *testing.T) {
	lastSuccess := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)

	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pulses/subscribed", r.URL.Path)
		assert.Equal(t, "otx-key", r.Header.Get("X-OTX-API-KEY"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "2026-03-01T08:30:00", r.URL.Query().Get("modified_since"))
		_, _ = w.Write([]byte(`{"results":[
			{"id":"p1","name":"Phishing wave","adversary":"TA505","tlp":"white","tags":["Phishing","finance"],
			 "indicators":[
				{"indicator":"198.51.100.23","type":"IPv4"},
				{"indicator":"login.bad.test","type":"hostname"},
				{"indicator":"rule x {}","type":"YARA"},
				{"indicator":"","type":"domain"}
			 ]},
			{"id":"p2","name":"Misc","tags":[],"indicators":[{"indicator":"CVE-2024-3400","type":"CVE"}]}
		]}`))
	})

	adapter := buildAdapter(t, NewOTXAdapter, &core.Source{
		Name:          "AlienVault OTX",
		URL:           srv.URL + "/api/v1/",
		Config:        map[string]interface{}{"api_key": "otx-key"},
		LastSuccessAt: &lastSuccess,
	})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 3)

	assert.Equal(t, core.IOCTypeIP, candidates[0].Type)
	assert.Equal(t, "phishing", candidates[0].Category)
	assert.Equal(t, 0.8, candidates[0].ConfidenceScore)
	assert.Equal(t, []string{"Phishing", "finance"}, candidates[0].Tags)
	assert.Equal(t, "TA505", candidates[0].Metadata["adversary"])

	assert.Equal(t, core.IOCTypeDomain, candidates[1].Type)

	assert.Equal(t, core.IOCTypeCVE, candidates[2].Type)
	assert.Equal(t, 0.5, candidates[2].ConfidenceScore)
	assert.Empty(t, candidates[2].Category)
}

func TestOTX_RequiresAPIKey(t *testing.T) {
	adapter := buildAdapter(t, NewOTXAdapter, &core.Source{Name: "otx"})
	_, err := adapter.Fetch(context.Background())
	assert.ErrorIs(t, err, core.ErrMissingAPIKey)
}

func TestCSV_ColumnsCommentsAndDetection(t *testing.T) {
	srv := serve(t, writeBody("# generated nightly\n"+
		"id,value,type\n"+
		"1,198.51.100.10,ip\n"+
		"2,evil.test,\n"+
		"\n"+
		"3,,domain\n"+
		"4,notanindicator,\n"+
		"5\n"))

	adapter := buildAdapter(t, NewCSVAdapter, &core.Source{
		Name: "custom csv",
		Kind: core.SourceKindCSV,
		URL:  srv.URL,
		Config: map[string]interface{}{
			"skip_header":  true,
			"value_column": 1,
			"type_column":  2,
			"category":     "botnet",
			"confidence":   0.7,
		},
	})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 2)
	assert.Equal(t, "198.51.100.10", candidates[0].Indicator)
	assert.Equal(t, core.IOCTypeIP, candidates[0].Type)
	assert.Equal(t, "evil.test", candidates[1].Indicator)
	assert.Equal(t, core.IOCTypeDomain, candidates[1].Type)
	for _, c := range candidates {
		assert.Equal(t, "botnet", c.Category)
		assert.Equal(t, 0.7, c.ConfidenceScore)
	}
}

func TestCSV_Validation(t *testing.T) {
	_, err := NewCSVAdapter(AdapterConfig{Source: &core.Source{Name: "x"}})
	assert.Error(t, err, "URL is required")

	_, err = NewCSVAdapter(AdapterConfig{Source: &core.Source{
		Name:   "x",
		URL:    "https://feeds.example/list.csv",
		Config: map[string]interface{}{"delimiter": ";;"},
	}})
	assert.Error(t, err)

	a, err := NewCSVAdapter(AdapterConfig{Source: &core.Source{
		Name:   "x",
		URL:    "https://feeds.example/list.tsv",
		Config: map[string]interface{}{"delimiter": "tab"},
	}})
	require.NoError(t, err)
	assert.Equal(t, '\t', a.(*CSVAdapter).delimiter)
}

func TestJSON_ItemsPathAndFields(t *testing.T) {
	srv := serve(t, writeBody(`{"data":{"items":[
		{"indicator":"203.0.113.99","kind":"ipv4-addr","score":80,"threat":"c2","tags":["cobalt-strike"]},
		{"indicator":"https://drop.example.test/a.zip","score":40},
		{"indicator":""},
		"bad.example.test",
		42
	]}}`))

	adapter := buildAdapter(t, NewJSONAdapter, &core.Source{
		Name: "custom json",
		Kind: core.SourceKindJSON,
		URL:  srv.URL,
		Config: map[string]interface{}{
			"items_path":       "data.items",
			"value_field":      "indicator",
			"type_field":       "kind",
			"category_field":   "threat",
			"confidence_field": "score",
			"confidence_scale": 100,
		},
	})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 3)

	assert.Equal(t, core.IOCTypeIP, candidates[0].Type)
	assert.Equal(t, "c2", candidates[0].Category)
	assert.InDelta(t, 0.8, candidates[0].ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"cobalt-strike"}, candidates[0].Tags)

	assert.Equal(t, core.IOCTypeURL, candidates[1].Type)
	assert.InDelta(t, 0.4, candidates[1].ConfidenceScore, 1e-9)

	assert.Equal(t, "bad.example.test", candidates[2].Indicator)
	assert.Equal(t, core.IOCTypeDomain, candidates[2].Type)
}

func TestJSON_MissingItemsPath(t *testing.T) {
	adapter := buildAdapter(t, NewJSONAdapter, &core.Source{
		Name:   "custom json",
		URL:    "https://feeds.example/iocs.json",
		Config: map[string]interface{}{"items_path": "data.items"},
	})

	_, err := adapter.Parse([]byte(`{"data":{}}`))
	var parseErr *core.ParseError
	assert.True(t, errors.As(err, &parseErr))

	_, err = adapter.Parse([]byte(`{"data":{"items":{"not":"an array"}}}`))
	assert.True(t, errors.As(err, &parseErr))
}

func TestTAXII_FetchAndParse(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/c1/objects/", r.URL.Path)
		assert.Equal(t, "indicator", r.URL.Query().Get("match[type]"))
		assert.Equal(t, taxiiMediaType, r.Header.Get("Accept"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "analyst", user)
		assert.Equal(t, "taxii-pass", pass)
		w.Header().Set("Content-Type", taxiiMediaType)
		_, _ = w.Write([]byte(`{"more":false,"objects":[
			{"type":"indicator","id":"indicator--1","name":"C2 node","pattern":"[ipv4-addr:value = '198.51.100.77']","pattern_type":"stix","valid_from":"2026-01-01T00:00:00Z","confidence":85,"indicator_types":["malicious-activity"]},
			{"type":"indicator","id":"indicator--2","pattern":"[file:hashes.'SHA-256' = 'aec070645fe53ee3b3763059376134f058cc337247c978add178b6ccdfb0019f']"},
			{"type":"indicator","id":"indicator--3","pattern":"title: x","pattern_type":"sigma"},
			{"type":"identity","id":"identity--1","name":"ACME"}
		]}`))
	})

	adapter := buildAdapter(t, NewTAXIIAdapter, &core.Source{
		Name: "partner taxii",
		Kind: core.SourceKindTAXII,
		URL:  srv.URL + "/collections/c1/",
		Config: map[string]interface{}{
			"username": "analyst",
			"api_key":  "taxii-pass",
		},
	})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 2)

	assert.Equal(t, "198.51.100.77", candidates[0].Indicator)
	assert.Equal(t, core.IOCTypeIP, candidates[0].Type)
	assert.Equal(t, "malware", candidates[0].Category)
	assert.InDelta(t, 0.85, candidates[0].ConfidenceScore, 1e-9)
	assert.Equal(t, "indicator--1", candidates[0].Metadata["stix_id"])

	assert.Equal(t, core.IOCTypeHashSHA256, candidates[1].Type)
	assert.Equal(t, taxiiDefaultConf, candidates[1].ConfidenceScore)
}

func TestParseSTIXPattern(t *testing.T) {
	tests := []struct {
		pattern  string
		wantType core.IOCType
		want     string
	}{
		{"[domain-name:value = 'evil.test']", core.IOCTypeDomain, "evil.test"},
		{"[url:value = 'http://x.test/it\\'s']", core.IOCTypeURL, "http://x.test/it's"},
		{"[file:hashes.MD5 = '5d41402abc4b2a76b9719d911017c592']", core.IOCTypeHashMD5, "5d41402abc4b2a76b9719d911017c592"},
		{"[email-addr:value = 'a@b.test'] OR [ipv6-addr:value = '2001:db8::1']", core.IOCTypeIP, "2001:db8::1"},
		{"[process:name = 'evil.exe']", "", ""},
	}
	for _, tt := range tests {
		gotType, got := parseSTIXPattern(tt.pattern)
		assert.Equal(t, tt.wantType, gotType, tt.pattern)
		assert.Equal(t, tt.want, got, tt.pattern)
	}
}

func TestText_ParseList(t *testing.T) {
	srv := serve(t, writeBody("# Feodo Tracker\n"+
		"198.51.100.1\n"+
		"  evil.test   # trailing comment\n"+
		"https://bad.test/x 2026-01-01\n"+
		"???\n"+
		"\n"))

	adapter := buildAdapter(t, NewTextAdapter, &core.Source{
		Name: "feodo",
		Kind: core.SourceKindGitHub,
		URL:  srv.URL,
		Config: map[string]interface{}{
			"category": "c2",
			"tags":     "botnet, c2",
		},
	})

	candidates := fetchAndParse(t, adapter)
	require.Len(t, candidates, 3)
	assert.Equal(t, core.IOCTypeIP, candidates[0].Type)
	assert.Equal(t, core.IOCTypeDomain, candidates[1].Type)
	assert.Equal(t, "https://bad.test/x", candidates[2].Indicator)
	for _, c := range candidates {
		assert.Equal(t, "c2", c.Category)
		assert.Equal(t, 0.6, c.ConfidenceScore)
		assert.Equal(t, []string{"botnet", "c2"}, c.Tags)
	}
}

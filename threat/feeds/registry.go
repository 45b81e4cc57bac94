package feeds

import (
	"sort"
	"strings"
	"sync"

	"github.com/subrat243/Intelify/core"
)

// =============================================================================
// Adapter Registry
// =============================================================================

// genericKindAdapters maps source kinds that carry a generic format onto the
// adapter reading that format. rest and rss have no generic IOC adapter.
var genericKindAdapters = map[core.SourceKind]string{
	core.SourceKindCSV:    csvName,
	core.SourceKindJSON:   jsonName,
	core.SourceKindTAXII:  taxiiName,
	core.SourceKindText:   textName,
	core.SourceKindGitHub: textName,
}

// Registry maps adapter names to constructors
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
	aliases      map[string]string
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
		aliases:      make(map[string]string),
	}
}

// DefaultRegistry returns a registry with every built-in adapter
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(abuseIPDBName, NewAbuseIPDBAdapter)
	r.Register(phishTankName, NewPhishTankAdapter)
	r.Register(urlhausName, NewURLhausAdapter)
	r.Register(malwareBazaarName, NewMalwareBazaarAdapter)
	r.Register(otxName, NewOTXAdapter)
	r.Register(csvName, NewCSVAdapter)
	r.Register(jsonName, NewJSONAdapter)
	r.Register(taxiiName, NewTAXIIAdapter)
	r.Register(textName, NewTextAdapter)

	r.Alias("alienvaultotx", otxName)
	r.Alias("alienvault", otxName)
	r.Alias("abuse.churlhaus", urlhausName)
	r.Alias("abuse.chmalwarebazaar", malwareBazaarName)
	return r
}

// Register adds or replaces a constructor under the normalized name
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[core.NormalizeAdapterName(name)] = c
}

// Alias makes alias resolve to target
func (r *Registry) Alias(alias, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[core.NormalizeAdapterName(alias)] = core.NormalizeAdapterName(target)
}

func (r *Registry) lookup(name string) (string, Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := core.NormalizeAdapterName(name)
	if key == "" {
		return "", nil, false
	}
	if target, ok := r.aliases[key]; ok {
		key = target
	}
	c, ok := r.constructors[key]
	return key, c, ok
}

// Resolve finds the constructor for src. It tries the explicit adapter config
// key, then the normalized source name, then the source kind. The returned
// string is the resolved adapter name.
func (r *Registry) Resolve(src *core.Source) (string, Constructor, error) {
	if explicit := strings.TrimSpace(src.ConfigString(core.ConfigKeyAdapter)); explicit != "" {
		if name, c, ok := r.lookup(explicit); ok {
			return name, c, nil
		}
		return "", nil, &core.UnknownAdapterError{Name: explicit}
	}

	if name, c, ok := r.lookup(src.Name); ok {
		return name, c, nil
	}

	if generic, ok := genericKindAdapters[src.Kind]; ok {
		if name, c, ok := r.lookup(generic); ok {
			return name, c, nil
		}
	}

	return "", nil, &core.UnknownAdapterError{Name: src.Name}
}

// Build resolves and constructs the adapter for cfg.Source
func (r *Registry) Build(cfg AdapterConfig) (Adapter, error) {
	_, constructor, err := r.Resolve(cfg.Source)
	if err != nil {
		return nil, err
	}
	return constructor(cfg)
}

// Names lists registered adapter names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

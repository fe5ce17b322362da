package ai

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

var providerAliases = map[string]string{
	"google":        ProviderGemini,
	"google-gemini": ProviderGemini,
	"chatgpt":       ProviderOpenAI,
	"open-ai":       ProviderOpenAI,
	"oai":           ProviderOpenAI,
}

// Registry resolves a provider by request override or the configured default.
type Registry struct {
	providers   map[string]Provider
	defaultName string
	fault       Fault
}

func NewRegistry(defaultName string, fault Fault, providers ...Provider) *Registry {
	r := &Registry{
		providers:   make(map[string]Provider, len(providers)),
		defaultName: NormalizeName(defaultName),
		fault:       fault,
	}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[NormalizeName(p.Name())] = p
	}
	return r
}

// NormalizeName trims and case-folds a provider name and maps known aliases.
func NormalizeName(name string) string {
	folded := cases.Fold().String(strings.TrimSpace(name))
	folded = strings.ReplaceAll(folded, "_", "-")
	if canonical, ok := providerAliases[folded]; ok {
		return canonical
	}
	return folded
}

// DefaultName reports the normalized default provider.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// Resolve picks the override when set, else the default. Unknown names fail
// with a 400 RequestError rather than falling back silently.
func (r *Registry) Resolve(override string) (Provider, string, error) {
	name := NormalizeName(override)
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, name, &RequestError{
			Provider:   name,
			StatusCode: http.StatusBadRequest,
			Code:       CodeUnknownProvider,
			Message:    fmt.Sprintf("unknown ai provider %q", name),
		}
	}
	return r.fault.Wrap(p), name, nil
}

// Names lists the registered providers.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

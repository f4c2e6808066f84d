package services

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tollgate/gateway/internal/money"
)

//go:embed catalog.json
var embeddedCatalog embed.FS

// Param declares one input parameter of a priced route.
type Param struct {
	Name     string `json:"name"`
	In       string `json:"in"`   // "query" or "body"
	Type     string `json:"type"` // "string", "number", "boolean"
	Required bool   `json:"required"`
}

// Auth describes how the upstream provider expects its credential.
type Auth struct {
	Mode string `json:"mode"` // "bearer", "header", or "query"
	Name string `json:"name"` // header or query parameter name (unused for bearer)
}

// Service is one priced route in the catalog.
type Service struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"displayName"`
	Description  string  `json:"description"`
	Price        string  `json:"price"` // decimal USD string
	Method       string  `json:"method"`
	Path         string  `json:"path"`
	Provider     string  `json:"provider"` // credential pool tag
	Category     string  `json:"category"`
	MimeType     string  `json:"mimeType"`
	CostEstimate string  `json:"costEstimate,omitempty"`
	UpstreamURL  string  `json:"upstreamUrl"`
	Auth         Auth    `json:"auth"`
	Params       []Param `json:"params,omitempty"`
}

// Tier returns the rate-limit tier for this service.
func (s Service) Tier() string {
	switch s.Category {
	case "llm", "image", "video", "tts", "transcribe", "code":
		return "expensive"
	default:
		return "paid"
	}
}

// CacheTTL returns how long a successful response for this service may be
// served from cache. Zero disables caching.
func (s Service) CacheTTL() time.Duration {
	switch s.Category {
	case "market":
		return 30 * time.Second
	case "nft":
		return 5 * time.Minute
	case "weather", "location":
		return 60 * time.Minute
	default:
		return 0
	}
}

// Registry is the immutable in-memory catalog of priced routes.
type Registry struct {
	services []Service
	byID     map[string]Service
}

// LoadEmbedded builds the registry from the compiled-in catalog.
func LoadEmbedded() (*Registry, error) {
	data, err := embeddedCatalog.ReadFile("catalog.json")
	if err != nil {
		return nil, fmt.Errorf("read embedded catalog: %w", err)
	}
	return parse(data)
}

// LoadFile builds the registry from a catalog file on disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return parse(data)
}

// Load builds the registry from path when set, otherwise from the
// embedded catalog.
func Load(path string) (*Registry, error) {
	if path != "" {
		return LoadFile(path)
	}
	return LoadEmbedded()
}

func parse(data []byte) (*Registry, error) {
	var doc struct {
		Services []Service `json:"services"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	r := &Registry{
		services: doc.Services,
		byID:     make(map[string]Service, len(doc.Services)),
	}

	routes := make(map[string]bool, len(doc.Services))
	for _, s := range doc.Services {
		if s.ID == "" || s.Method == "" || s.Path == "" {
			return nil, fmt.Errorf("catalog entry %q missing id, method, or path", s.ID)
		}
		if s.Method != "GET" && s.Method != "POST" {
			return nil, fmt.Errorf("service %s: unsupported method %q", s.ID, s.Method)
		}
		route := s.Method + " " + s.Path
		if routes[route] {
			return nil, fmt.Errorf("duplicate route %s", route)
		}
		routes[route] = true
		if _, dup := r.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate service id %s", s.ID)
		}

		// Prices must convert exactly; 9 fractional digits is the most
		// any rail can represent without truncation surprises.
		if frac := fractionDigits(s.Price); frac > 9 {
			return nil, fmt.Errorf("service %s: price %q has %d fractional digits (max 9)", s.ID, s.Price, frac)
		}
		if _, err := money.PriceToBaseUnits(s.Price, 18); err != nil {
			return nil, fmt.Errorf("service %s: %w", s.ID, err)
		}

		r.byID[s.ID] = s
	}

	return r, nil
}

func fractionDigits(price string) int {
	s := strings.TrimPrefix(strings.TrimSpace(price), "$")
	if i := strings.Index(s, "."); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// Get returns a service by id.
func (r *Registry) Get(id string) (Service, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// All returns every service in catalog order.
func (r *Registry) All() []Service {
	out := make([]Service, len(r.services))
	copy(out, r.services)
	return out
}

// Match finds the priced route for a request: exact method match plus
// path prefix match up to the query string. Longest path wins so
// /api/nft/collection beats /api/nft.
func (r *Registry) Match(method, path string) (Service, bool) {
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}

	var best Service
	found := false
	for _, s := range r.services {
		if s.Method != method {
			continue
		}
		if path == s.Path || strings.HasPrefix(path, s.Path+"/") {
			if !found || len(s.Path) > len(best.Path) {
				best = s
				found = true
			}
		}
	}
	return best, found
}

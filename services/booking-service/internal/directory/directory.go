// Package directory resolves providers and their service catalogues.
package directory

import (
	"context"
	"slices"
	"strings"

	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/vetbook/services/booking-service/internal/storage"
)

// Directory returns storage.ErrNotFound for unknown providers.
type Directory interface {
	Provider(ctx context.Context, id string) (model.Provider, error)
}

// FindService matches a catalogue entry by code first, then by name
// (case-insensitive).
func FindService(p model.Provider, code, name string) (model.Service, bool) {
	if code != "" {
		if i := slices.IndexFunc(p.Services, func(s model.Service) bool { return s.Code == code }); i >= 0 {
			return p.Services[i], true
		}
	}
	if name != "" {
		i := slices.IndexFunc(p.Services, func(s model.Service) bool {
			return strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(name))
		})
		if i >= 0 {
			return p.Services[i], true
		}
	}
	return model.Service{}, false
}

// Static serves a fixed provider set, typically loaded from configuration.
type Static struct {
	providers map[string]model.Provider
}

func NewStatic(providers ...model.Provider) *Static {
	s := &Static{providers: make(map[string]model.Provider, len(providers))}
	for _, p := range providers {
		s.providers[p.ID] = p
	}
	return s
}

func (s *Static) Provider(_ context.Context, id string) (model.Provider, error) {
	p, ok := s.providers[id]
	if !ok {
		return model.Provider{}, storage.ErrNotFound
	}
	p.Services = slices.Clone(p.Services)
	return p, nil
}

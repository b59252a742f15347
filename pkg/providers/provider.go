package providers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/opengreffe/guichet/pkg/auth"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/resilience"
)

// Provider names. They identify rate buckets, breakers, credential
// services and the source tags on merged records.
const (
	NameRecherche  = "recherche"
	NameSirene     = "sirene"
	NameRNE        = "rne"
	NameBODACC     = "bodacc"
	NameRNA        = "rna"
	NameRGE        = "rge"
	NameEntreprise = "entreprise"
)

// Profiles turns the provider configuration into the call profiles
// the HTTP layer enforces.
func Profiles(cfg config.ProvidersConfig) []httpcall.ProviderProfile {
	entreprise := profile(NameEntreprise, auth.ServiceEntreprise, cfg.Entreprise.ProviderConfig)
	entreprise.PDFLimit = cache.Limit{
		Requests: cfg.Entreprise.PDFRateLimit,
		Window:   time.Duration(cfg.Entreprise.WindowSeconds) * time.Second,
	}
	entreprise.PDFTimeout = time.Duration(cfg.Entreprise.PDFTimeout) * time.Second

	return []httpcall.ProviderProfile{
		profile(NameRecherche, "", cfg.Recherche),
		profile(NameSirene, auth.ServiceINSEE, cfg.Sirene),
		profile(NameRNE, auth.ServiceINPI, cfg.RNE),
		profile(NameBODACC, "", cfg.BODACC),
		profile(NameRNA, "", cfg.RNA),
		profile(NameRGE, "", cfg.RGE),
		entreprise,
	}
}

func profile(name, service string, pc config.ProviderConfig) httpcall.ProviderProfile {
	return httpcall.ProviderProfile{
		Name:        name,
		AuthService: service,
		Limit: cache.Limit{
			Requests: pc.RateLimit,
			Window:   time.Duration(pc.WindowSeconds) * time.Second,
		},
		Timeout: time.Duration(pc.TimeoutSeconds) * time.Second,
	}
}

// BreakerOverrides collects the per-provider circuit settings that
// differ from the gateway defaults.
func BreakerOverrides(cfg config.ProvidersConfig) map[string]resilience.BreakerConfig {
	out := make(map[string]resilience.BreakerConfig)
	add := func(name string, pc config.ProviderConfig) {
		if pc.BreakerThreshold > 0 || pc.BreakerRecovery > 0 {
			out[name] = resilience.BreakerConfig{
				Threshold: pc.BreakerThreshold,
				Recovery:  time.Duration(pc.BreakerRecovery) * time.Second,
			}
		}
	}
	add(NameRecherche, cfg.Recherche)
	add(NameSirene, cfg.Sirene)
	add(NameRNE, cfg.RNE)
	add(NameBODACC, cfg.BODACC)
	add(NameRNA, cfg.RNA)
	add(NameRGE, cfg.RGE)
	add(NameEntreprise, cfg.Entreprise.ProviderConfig)
	return out
}

// Registry bundles the seven adapters for the fusion and gateway
// layers.
type Registry struct {
	Recherche  *Recherche
	Sirene     *Sirene
	RNE        *RNE
	BODACC     *BODACC
	RNA        *RNA
	RGE        *RGE
	Entreprise *Entreprise
}

// NewRegistry builds every adapter over one shared caller.
func NewRegistry(caller *httpcall.Caller, cfg config.ProvidersConfig) *Registry {
	return &Registry{
		Recherche:  NewRecherche(caller, cfg.Recherche.BaseURL),
		Sirene:     NewSirene(caller, cfg.Sirene.BaseURL),
		RNE:        NewRNE(caller, cfg.RNE.BaseURL),
		BODACC:     NewBODACC(caller, cfg.BODACC.BaseURL),
		RNA:        NewRNA(caller, cfg.RNA.BaseURL),
		RGE:        NewRGE(caller, cfg.RGE.BaseURL),
		Entreprise: NewEntreprise(caller, cfg.Entreprise.BaseURL),
	}
}

// decode unmarshals an upstream body, attributing malformed payloads
// to their provider.
func decode(provider string, body []byte, dst interface{}) error {
	if err := json.Unmarshal(body, dst); err != nil {
		return guicherr.Wrap(guicherr.KindUpstream, provider, fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

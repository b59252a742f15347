package fusion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opengreffe/guichet/pkg/analytic"
	"github.com/opengreffe/guichet/pkg/audit"
	"github.com/opengreffe/guichet/pkg/auth"
	"github.com/opengreffe/guichet/pkg/cache"
	"github.com/opengreffe/guichet/pkg/config"
	"github.com/opengreffe/guichet/pkg/guicherr"
	"github.com/opengreffe/guichet/pkg/httpcall"
	"github.com/opengreffe/guichet/pkg/privacy"
	"github.com/opengreffe/guichet/pkg/providers"
	"github.com/opengreffe/guichet/pkg/resilience"
	"github.com/opengreffe/guichet/pkg/types"
)

const testKey = "552032534"

const fusionSireneBody = `{
	"header": {"statut": 200},
	"uniteLegale": {
		"siren": "552032534",
		"statutDiffusionUniteLegale": "O",
		"denominationUniteLegale": "DANONE",
		"sigleUniteLegale": "DNN",
		"dateCreationUniteLegale": "1908-02-13",
		"categorieJuridiqueUniteLegale": "5710",
		"activitePrincipaleUniteLegale": "70.10Z",
		"trancheEffectifsUniteLegale": "53",
		"etatAdministratifUniteLegale": "A",
		"nicSiegeUniteLegale": "00646"
	}
}`

const fusionSireneProtectedBody = `{
	"header": {"statut": 200},
	"uniteLegale": {
		"siren": "552032534",
		"statutDiffusionUniteLegale": "P",
		"dateCreationUniteLegale": "1908-02-13",
		"etatAdministratifUniteLegale": "A"
	}
}`

const fusionRNEBody = `{
	"siren": "552032534",
	"formality": {
		"content": {
			"denomination": "DANONE SOCIETE ANONYME",
			"formeJuridique": {"code": "5710", "libelle": "SA à conseil d'administration"},
			"capital": {"montant": 171910, "devise": "EUR"},
			"dateImmatriculation": "1908-02-13",
			"activitePrincipale": {"code": "70.10Z"},
			"representants": [
				{
					"qualite": "Président",
					"personne": {
						"typePersonne": "PHYSIQUE",
						"nom": "MARTIN",
						"prenom": "ANTOINE",
						"dateNaissance": "1961-07-25",
						"nationalite": "Française"
					}
				}
			]
		}
	}
}`

const fusionRechercheBody = `{
	"results": [
		{
			"siren": "552032534",
			"nom_complet": "DANONE",
			"nature_juridique": "5710",
			"activite_principale": "70.10Z",
			"tranche_effectif": "53",
			"date_creation": "1908-02-13",
			"etat_administratif": "A",
			"nombre_etablissements": 12,
			"siege": {
				"siret": "55203253400646",
				"adresse": "17 BOULEVARD HAUSSMANN",
				"code_postal": "75009",
				"commune": "PARIS"
			}
		}
	],
	"total_results": 1,
	"page": 1,
	"per_page": 5,
	"total_pages": 1
}`

func serveJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}
}

func serveStatus(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

func startServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func providerCfg(base string) config.ProviderConfig {
	return config.ProviderConfig{BaseURL: base}
}

// newOrchestrator builds the full fusion stack over fake upstreams, a
// temp analytic store and a miniredis-backed cache.
func newOrchestrator(t *testing.T, cfg config.ProvidersConfig) (*Orchestrator, *analytic.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.New(client)

	names := []string{
		providers.NameRecherche, providers.NameSirene, providers.NameRNE,
		providers.NameBODACC, providers.NameRNA, providers.NameRGE, providers.NameEntreprise,
	}
	profiles := make([]httpcall.ProviderProfile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, httpcall.ProviderProfile{
			Name:  name,
			Limit: cache.Limit{Requests: 1000, Window: time.Minute},
			Retry: resilience.RetryConfig{Attempts: 1, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		})
	}

	limiter := cache.NewRateLimiter(c)
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{Threshold: 100, Recovery: time.Minute}, nil)
	store := auth.NewStore(config.CredentialsConfig{}, nil)
	caller := httpcall.New(profiles, limiter, breakers, store, "test")
	registry := providers.NewRegistry(caller, cfg)

	db, err := analytic.Open(filepath.Join(t.TempDir(), "analytic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ledger, err := audit.New(config.AuditConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	orch := New(registry, db, cache.NewManager(c, cache.DefaultTTLPolicy()), privacy.NewRedactor(), ledger)
	t.Cleanup(orch.Close)
	return orch, db
}

func loadEntities(t *testing.T, store *analytic.Store, rows ...string) {
	t.Helper()
	csv := strings.Join(rows, "\n")
	path := filepath.Join(t.TempDir(), "entities.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	_, err := store.LoadCSV(context.Background(), path, analytic.TableEntities, analytic.LoadMeta{})
	require.NoError(t, err)
}

func TestProfileMergesByPrecedence(t *testing.T) {
	sirene := startServer(t, serveJSON(fusionSireneBody))
	rne := startServer(t, serveJSON(fusionRNEBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)

	entity := resp.Entity
	assert.Equal(t, testKey, entity.BusinessKey)
	assert.Equal(t, "DANONE SOCIETE ANONYME", entity.Name, "trade register outranks the others on name")
	require.NotNil(t, entity.LegalForm)
	assert.Equal(t, "SA à conseil d'administration", entity.LegalForm.Label)
	assert.Equal(t, "DNN", entity.Acronym, "registry of record fills the acronym gap")
	assert.Equal(t, "53", entity.SizeBucket)
	require.NotNil(t, entity.Address, "open index fills the address gap")
	assert.Equal(t, "PARIS", entity.Address.City)
	assert.True(t, entity.Active)
	assert.Nil(t, entity.Financials, "financials only on request")
	require.Len(t, entity.Executives, 1)
	assert.Equal(t, "1961-07", entity.Executives[0].BirthDate)

	assert.Equal(t, []string{providers.NameRNE, providers.NameSirene, providers.NameRecherche}, resp.Metadata.Sources)
	assert.Equal(t, FreshnessCurrent, resp.Metadata.DataFreshness)
	assert.InDelta(t, 1.0, resp.Metadata.Completeness, 0.001)
}

func TestProfileIncludeFinancials(t *testing.T) {
	sirene := startServer(t, serveJSON(fusionSireneBody))
	rne := startServer(t, serveJSON(fusionRNEBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey, IncludeFinancials: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Entity.Financials)
	assert.Equal(t, 171910.0, resp.Entity.Financials.ShareCapital)
	assert.Equal(t, "EUR", resp.Entity.Financials.Currency)
}

func TestProfilePartialFailureDegrades(t *testing.T) {
	sirene := startServer(t, serveStatus(http.StatusInternalServerError))
	rne := startServer(t, serveJSON(fusionRNEBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err, "one failed source must not fail the profile")

	assert.Equal(t, "DANONE SOCIETE ANONYME", resp.Entity.Name)
	assert.NotContains(t, resp.Metadata.Sources, providers.NameSirene)
	assert.Equal(t, FreshnessCurrent, resp.Metadata.DataFreshness)
	assert.Less(t, resp.Metadata.Completeness, 1.0)
}

func TestProfileStaticFallback(t *testing.T) {
	sirene := startServer(t, serveStatus(http.StatusNotFound))
	rne := startServer(t, serveStatus(http.StatusNotFound))
	recherche := startServer(t, serveJSON(`{"results": [], "total_results": 0}`))

	orch, store := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})
	loadEntities(t, store,
		"business_key,name,legal_form_code,activity_code,postal_code,city,creation_date,active",
		testKey+",DANONE,5710,70.10Z,75009,PARIS,1908-02-13,1",
	)

	resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)

	assert.Equal(t, "DANONE", resp.Entity.Name)
	assert.Equal(t, []string{SourceStatic}, resp.Entity.Sources)
	require.NotNil(t, resp.Entity.LegalForm)
	assert.Equal(t, "SAS", resp.Entity.LegalForm.Label)
	assert.True(t, resp.Entity.Active)
	assert.Equal(t, []string{SourceStatic}, resp.Metadata.Sources)
	assert.Equal(t, FreshnessStale, resp.Metadata.DataFreshness)
}

func TestProfileNotFoundAnywhere(t *testing.T) {
	sirene := startServer(t, serveStatus(http.StatusNotFound))
	rne := startServer(t, serveStatus(http.StatusNotFound))
	recherche := startServer(t, serveJSON(`{"results": [], "total_results": 0}`))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	_, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: "000000000"})
	require.Error(t, err)
	assert.Equal(t, guicherr.KindNotFound, guicherr.KindOf(err))
}

func TestProfileBankInfoDenied(t *testing.T) {
	var hits atomic.Int64
	upstream := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(fusionRNEBody))
	}))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(upstream.URL),
		RNE:       providerCfg(upstream.URL),
		Recherche: providerCfg(upstream.URL),
	})

	_, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey, IncludeBankInfo: true})
	require.Error(t, err)
	assert.Equal(t, guicherr.KindPrivacyDenied, guicherr.KindOf(err))
	assert.Equal(t, int64(0), hits.Load(), "denial must short-circuit before any upstream call")
}

func TestProfileRedactsProtectedEntity(t *testing.T) {
	sirene := startServer(t, serveJSON(fusionSireneProtectedBody))
	rne := startServer(t, serveJSON(fusionRNEBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)

	entity := resp.Entity
	assert.Equal(t, types.PrivacyProtected, entity.Privacy)
	require.NotNil(t, entity.Address)
	assert.Empty(t, entity.Address.Street, "street withheld on protected records")
	assert.Equal(t, "75009", entity.Address.PostalCode, "postal code survives redaction")
	assert.Equal(t, privacy.DefaultNotice, entity.PrivacyNotice)
	require.Len(t, entity.Executives, 1)
	assert.Equal(t, "1961-07", entity.Executives[0].BirthDate)
}

func TestProfileSelectedSections(t *testing.T) {
	sireneMux := http.NewServeMux()
	sireneMux.HandleFunc("/siren/"+testKey, serveJSON(fusionSireneBody))
	sireneMux.HandleFunc("/siret", serveJSON(`{
		"header": {"statut": 200, "total": 1},
		"etablissements": [
			{
				"siret": "55203253400646",
				"etablissementSiege": true,
				"etatAdministratifEtablissement": "A",
				"activitePrincipaleEtablissement": "70.10Z",
				"codePostalEtablissement": "75009",
				"libelleCommuneEtablissement": "PARIS"
			}
		]
	}`))
	sirene := startServer(t, sireneMux)

	rneMux := http.NewServeMux()
	rneMux.HandleFunc("/companies/"+testKey, serveJSON(fusionRNEBody))
	rneMux.HandleFunc("/companies/"+testKey+"/documents", serveJSON(`{
		"documents": [
			{"id": "doc-1", "type": "Bilan annuel", "name": "comptes 2024", "date": "2024-06-30", "size": 120000}
		]
	}`))
	rne := startServer(t, rneMux)

	recherche := startServer(t, serveJSON(fusionRechercheBody))
	rge := startServer(t, serveJSON(`{
		"total": 1,
		"results": [
			{
				"siret": "55203253400646",
				"certificat": "QB-1234",
				"nom_certificat": "Qualibat RGE",
				"organisme": "QUALIBAT",
				"date_validite": "2099-01-01",
				"domaine_travaux": "isolation"
			}
		]
	}`))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
		RGE:       providerCfg(rge.URL),
	})

	resp, err := orch.Profile(context.Background(), ProfileRequest{
		BusinessKey:           testKey,
		IncludeEstablishments: true,
		IncludeDocuments:      true,
		IncludeCertifications: true,
	})
	require.NoError(t, err)

	require.NotEmpty(t, resp.Entity.Establishments)
	assert.Equal(t, "55203253400646", resp.Entity.Establishments[0].EstablishmentKey)
	assert.Equal(t, len(resp.Entity.Establishments), resp.Entity.EstablishmentCount)

	require.Len(t, resp.Documents, 1)
	assert.Equal(t, types.DocumentAccounts, resp.Documents[0].Kind)
	assert.Equal(t, 2024, resp.Documents[0].Year)

	require.NotEmpty(t, resp.Entity.Certifications)
	assert.Equal(t, "QB-1234", resp.Entity.Certifications[0].Code)

	for _, section := range []string{"establishments", "documents", "certifications"} {
		assert.Contains(t, resp.Metadata.Sources, section)
	}
}

func TestProfileCacheHit(t *testing.T) {
	var rneHits atomic.Int64
	rne := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rneHits.Add(1)
		_, _ = w.Write([]byte(fusionRNEBody))
	}))
	sirene := startServer(t, serveJSON(fusionSireneBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	first, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)
	second, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)

	assert.Equal(t, int64(1), rneHits.Load(), "second call must be served from cache")
	assert.Equal(t, first.Entity.Name, second.Entity.Name)
	assert.Equal(t, first.Metadata.Sources, second.Metadata.Sources)
}

func TestProfileDistinctSelectionsDoNotShareCache(t *testing.T) {
	var rneHits atomic.Int64
	rneMux := http.NewServeMux()
	rneMux.HandleFunc("/companies/"+testKey, func(w http.ResponseWriter, r *http.Request) {
		rneHits.Add(1)
		_, _ = w.Write([]byte(fusionRNEBody))
	})
	rneMux.HandleFunc("/companies/"+testKey+"/documents", serveJSON(`{"documents": []}`))
	rne := startServer(t, rneMux)
	sirene := startServer(t, serveJSON(fusionSireneBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	_, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.NoError(t, err)
	_, err = orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey, IncludeDocuments: true})
	require.NoError(t, err)

	assert.Equal(t, int64(2), rneHits.Load(), "different selections are different fingerprints")
}

func TestProfileConcurrentCallsShareOneFanOut(t *testing.T) {
	gate := make(chan struct{})
	var rneHits atomic.Int64
	rne := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rneHits.Add(1)
		<-gate
		_, _ = w.Write([]byte(fusionRNEBody))
	}))
	var rechercheHits atomic.Int64
	recherche := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rechercheHits.Add(1)
		_, _ = w.Write([]byte(fusionRechercheBody))
	}))
	sirene := startServer(t, serveJSON(fusionSireneBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	var wg sync.WaitGroup
	responses := make([]*ProfileResponse, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i], errs[i] = orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
		}(i)
	}

	// Both callers are joined on the flight before the upstream is
	// released; the laggard would otherwise hit the cache anyway.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < 2; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, responses[i])
		assert.Equal(t, "DANONE SOCIETE ANONYME", responses[i].Entity.Name)
	}
	assert.Equal(t, int64(1), rneHits.Load(), "identical concurrent requests share one fan-out")
	assert.Equal(t, int64(1), rechercheHits.Load())
}

func TestProfileAllLiveSourcesFailed(t *testing.T) {
	failing := startServer(t, serveStatus(http.StatusInternalServerError))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(failing.URL),
		RNE:       providerCfg(failing.URL),
		Recherche: providerCfg(failing.URL),
	})

	_, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all profile sources failed")
}

func TestProfileCancelledCallerDetaches(t *testing.T) {
	gate := make(chan struct{})
	rne := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		_, _ = w.Write([]byte(fusionRNEBody))
	}))
	sirene := startServer(t, serveJSON(fusionSireneBody))
	recherche := startServer(t, serveJSON(fusionRechercheBody))

	orch, _ := newOrchestrator(t, config.ProvidersConfig{
		Sirene:    providerCfg(sirene.URL),
		RNE:       providerCfg(rne.URL),
		Recherche: providerCfg(recherche.URL),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := orch.Profile(ctx, ProfileRequest{BusinessKey: testKey})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	// The flight itself keeps running and lands in the cache.
	close(gate)
	require.Eventually(t, func() bool {
		resp, err := orch.Profile(context.Background(), ProfileRequest{BusinessKey: testKey})
		return err == nil && resp.Entity.Name == "DANONE SOCIETE ANONYME"
	}, 2*time.Second, 20*time.Millisecond)
}

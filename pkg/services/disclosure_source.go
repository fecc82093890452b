package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/scopeops/scopeops-engine/pkg/models"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
)

// DisclosureSource looks up published supplier disclosures by normalized join key.
// Both methods return nil when nothing matches.
type DisclosureSource interface {
	LookupByDomain(ctx context.Context, domainKey string) (*models.VerifiedDisclosure, error)
	LookupByName(ctx context.Context, nameKey string) (*models.VerifiedDisclosure, error)
}

// ============================================================================
// Database-backed source
// ============================================================================

type repositoryDisclosureSource struct {
	repo repositories.DisclosureRepository
}

// NewRepositoryDisclosureSource serves disclosures from the scope_supplier_disclosures table.
func NewRepositoryDisclosureSource(repo repositories.DisclosureRepository) DisclosureSource {
	return &repositoryDisclosureSource{repo: repo}
}

func (s *repositoryDisclosureSource) LookupByDomain(ctx context.Context, domainKey string) (*models.VerifiedDisclosure, error) {
	return s.repo.FindByDomainKey(ctx, domainKey)
}

func (s *repositoryDisclosureSource) LookupByName(ctx context.Context, nameKey string) (*models.VerifiedDisclosure, error) {
	return s.repo.FindByNameKey(ctx, nameKey)
}

// ============================================================================
// YAML catalog
// ============================================================================

// DisclosureCatalog is an in-memory disclosure set loaded from YAML.
// It is read-only after loading and safe for concurrent use.
type DisclosureCatalog struct {
	entries  []*models.VerifiedDisclosure
	byDomain map[string]*models.VerifiedDisclosure
	byName   map[string]*models.VerifiedDisclosure
}

var _ DisclosureSource = (*DisclosureCatalog)(nil)

type catalogFile struct {
	Disclosures []catalogEntry `yaml:"disclosures"`
}

type catalogEntry struct {
	Name            string      `yaml:"name"`
	Domain          string      `yaml:"domain"`
	ReportingYear   int         `yaml:"reporting_year"`
	Scope1          yamlDecimal `yaml:"scope_1"`
	Scope2Market    yamlDecimal `yaml:"scope_2_market"`
	Scope2Location  yamlDecimal `yaml:"scope_2_location"`
	Scope3          yamlDecimal `yaml:"scope_3"`
	Revenue         yamlDecimal `yaml:"revenue"`
	RevenueCurrency string      `yaml:"revenue_currency"`
	MassUnit        string      `yaml:"mass_unit"`
	AssuranceLevel  string      `yaml:"assurance_level"`
	SourceURL       string      `yaml:"source_url"`
}

// yamlDecimal decodes a YAML scalar into an exact decimal; null or absent stays invalid.
type yamlDecimal struct {
	decimal.NullDecimal
}

func (d *yamlDecimal) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", value.Line)
	}
	if value.Tag == "!!null" || value.Value == "" {
		d.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	parsed, err := decimal.NewFromString(strings.ReplaceAll(value.Value, "_", ""))
	if err != nil {
		return fmt.Errorf("line %d: invalid number %q: %w", value.Line, value.Value, err)
	}
	d.NullDecimal = decimal.NewNullDecimal(parsed)
	return nil
}

// LoadDisclosureCatalogFile reads a YAML disclosure catalog from disk.
func LoadDisclosureCatalogFile(path string) (*DisclosureCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read disclosure catalog: %w", err)
	}
	return LoadDisclosureCatalog(bytes.NewReader(data))
}

// LoadDisclosureCatalog decodes a YAML disclosure catalog. When several
// entries share a key, the most recent reporting year wins.
func LoadDisclosureCatalog(r io.Reader) (*DisclosureCatalog, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode disclosure catalog: %w", err)
	}

	catalog := &DisclosureCatalog{
		byDomain: make(map[string]*models.VerifiedDisclosure),
		byName:   make(map[string]*models.VerifiedDisclosure),
	}

	for i, e := range file.Disclosures {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("disclosure %d: name is required", i)
		}
		if e.ReportingYear == 0 {
			return nil, fmt.Errorf("disclosure %q: reporting_year is required", e.Name)
		}

		d := &models.VerifiedDisclosure{
			Name:            strings.TrimSpace(e.Name),
			Domain:          strings.TrimSpace(e.Domain),
			ReportingYear:   e.ReportingYear,
			Scope1:          e.Scope1.NullDecimal,
			Scope2Market:    e.Scope2Market.NullDecimal,
			Scope2Location:  e.Scope2Location.NullDecimal,
			Scope3:          e.Scope3.NullDecimal,
			Revenue:         e.Revenue.NullDecimal,
			RevenueCurrency: e.RevenueCurrency,
			MassUnit:        e.MassUnit,
			AssuranceLevel:  e.AssuranceLevel,
			SourceURL:       e.SourceURL,
		}
		catalog.entries = append(catalog.entries, d)

		if key := NormalizeDomain(d.Domain); key != "" {
			catalog.byDomain[key] = latestDisclosure(catalog.byDomain[key], d)
		}
		if key := NormalizeCompanyName(d.Name); key != "" {
			catalog.byName[key] = latestDisclosure(catalog.byName[key], d)
		}
	}

	return catalog, nil
}

func latestDisclosure(current, candidate *models.VerifiedDisclosure) *models.VerifiedDisclosure {
	if current == nil || candidate.ReportingYear > current.ReportingYear {
		return candidate
	}
	return current
}

// Disclosures returns every entry in file order.
func (c *DisclosureCatalog) Disclosures() []*models.VerifiedDisclosure {
	return c.entries
}

func (c *DisclosureCatalog) LookupByDomain(_ context.Context, domainKey string) (*models.VerifiedDisclosure, error) {
	return c.byDomain[domainKey], nil
}

func (c *DisclosureCatalog) LookupByName(_ context.Context, nameKey string) (*models.VerifiedDisclosure, error) {
	return c.byName[nameKey], nil
}

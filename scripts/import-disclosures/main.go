// import-disclosures loads a YAML disclosure catalog into scope_supplier_disclosures.
//
// Entries are keyed by normalized company name and reporting year, so
// re-running the import with the same or a restated catalog updates rows in
// place instead of duplicating them.
//
// Usage: go run ./scripts/import-disclosures [-dry-run] <catalog.yaml>
//
// Database connection: config.yaml and the standard PG* environment variables
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/scopeops/scopeops-engine/pkg/config"
	"github.com/scopeops/scopeops-engine/pkg/database"
	"github.com/scopeops/scopeops-engine/pkg/logging"
	"github.com/scopeops/scopeops-engine/pkg/repositories"
	"github.com/scopeops/scopeops-engine/pkg/services"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Validate the catalog and print what would be imported")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [-dry-run] <catalog.yaml>\n", os.Args[0])
		os.Exit(1)
	}

	catalog, err := services.LoadDisclosureCatalogFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load catalog: %v\n", err)
		os.Exit(1)
	}

	if *dryRun {
		for _, d := range catalog.Disclosures() {
			fmt.Printf("%-40s %d  name_key=%q domain_key=%q\n",
				logging.TruncateString(d.Name, 37), d.ReportingYear,
				services.NormalizeCompanyName(d.Name), services.NormalizeDomain(d.Domain))
		}
		fmt.Printf("\n%d disclosures validated (dry run, nothing written)\n", len(catalog.Disclosures()))
		return
	}

	cfg, err := config.Load("import-disclosures")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := importCatalog(context.Background(), cfg, catalog); err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %s\n", logging.SanitizeError(err))
		os.Exit(1)
	}
}

func importCatalog(ctx context.Context, cfg *config.Config, catalog *services.DisclosureCatalog) error {
	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.ConnectionString(),
		MaxConnections:  2,
		ApplicationName: "import-disclosures",
	})
	if err != nil {
		return err
	}
	defer db.Close()

	// Disclosures are shared across owners and carry no RLS policy.
	scope, err := db.WithoutOwner(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer scope.Close()
	ctx = database.SetOwnerScope(ctx, scope)

	repo := repositories.NewDisclosureRepository()
	imported, skipped := 0, 0
	for _, d := range catalog.Disclosures() {
		nameKey := services.NormalizeCompanyName(d.Name)
		if nameKey == "" {
			fmt.Printf("skip  %q: name normalizes to an empty key\n", d.Name)
			skipped++
			continue
		}

		if err := repo.Upsert(ctx, d, nameKey, services.NormalizeDomain(d.Domain)); err != nil {
			return fmt.Errorf("upsert %q (%d): %w", d.Name, d.ReportingYear, err)
		}
		fmt.Printf("ok    %-40s %d\n", logging.TruncateString(d.Name, 37), d.ReportingYear)
		imported++
	}

	fmt.Printf("\nImported %d disclosures, skipped %d\n", imported, skipped)
	return nil
}

// Package seed bootstraps accounts, units and listings from a YAML fixture
// file. Listing webhooks only update rows that already exist, so a new
// property has to be seeded before its events are useful.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/synergy-rentals/srg-stack/common/logging"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/models"
	"github.com/synergy-rentals/srg-stack/webhooks/internal/repository"
)

// Fixtures is the on-disk shape:
//
//	accounts:
//	  - id: main
//	    client_id: ...
//	units:
//	  - id: unit-1
//	    external_ids: {guesty_id: L1}
//	listings:
//	  - unit_id: unit-1
//	    listing_id: L1
type Fixtures struct {
	Accounts []models.Account `yaml:"accounts"`
	Units    []models.Unit    `yaml:"units"`
	Listings []models.Listing `yaml:"listings"`
}

// Result counts what Apply wrote.
type Result struct {
	Accounts int
	Units    int
	Listings int
}

func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	for i, u := range f.Units {
		if u.ID == "" {
			return nil, fmt.Errorf("units[%d]: id is required", i)
		}
	}
	for i, l := range f.Listings {
		if l.UnitID == "" || l.ListingID == "" {
			return nil, fmt.Errorf("listings[%d]: unit_id and listing_id are required", i)
		}
	}
	return &f, nil
}

// Apply upserts every fixture. Units are written before listings.
func Apply(ctx context.Context, repo repository.Repository, f *Fixtures, logger *slog.Logger) (Result, error) {
	logger = logging.OrDiscard(logger)
	var res Result

	if _, err := SyncAccounts(ctx, repo, f.Accounts); err != nil {
		return res, err
	}
	res.Accounts = len(f.Accounts)

	for i := range f.Units {
		unit := f.Units[i]
		if err := repo.UpsertUnit(ctx, &unit); err != nil {
			return res, fmt.Errorf("seed unit %s: %w", unit.ID, err)
		}
		res.Units++
	}

	for i := range f.Listings {
		listing := f.Listings[i]
		if listing.OTA == "" {
			listing.OTA = models.SourceGuesty
		}
		if err := repo.UpsertListing(ctx, &listing); err != nil {
			return res, fmt.Errorf("seed listing %s: %w", listing.ListingID, err)
		}
		res.Listings++
	}

	logger.InfoContext(ctx, "fixtures applied",
		slog.Int("accounts", res.Accounts), slog.Int("units", res.Units), slog.Int("listings", res.Listings))
	return res, nil
}

// SyncAccounts upserts configured accounts and returns the ids whose OAuth
// client credentials changed, so their cached tokens can be dropped. An
// empty webhook secret keeps the stored one, since secrets are usually
// generated through the admin API rather than configured.
func SyncAccounts(ctx context.Context, repo repository.AccountRepository, accounts []models.Account) ([]string, error) {
	var rotated []string
	for i := range accounts {
		acct := accounts[i]
		if acct.ID == "" {
			return rotated, fmt.Errorf("accounts[%d]: id is required", i)
		}

		existing, err := repo.GetAccount(ctx, acct.ID)
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
		case err != nil:
			return rotated, fmt.Errorf("load account %s: %w", acct.ID, err)
		default:
			if acct.WebhookSecret == "" {
				acct.WebhookSecret = existing.WebhookSecret
			}
			if existing.ClientID != acct.ClientID || existing.ClientSecret != acct.ClientSecret {
				rotated = append(rotated, acct.ID)
			}
		}

		if err := repo.UpsertAccount(ctx, &acct); err != nil {
			return rotated, fmt.Errorf("upsert account %s: %w", acct.ID, err)
		}
	}
	return rotated, nil
}

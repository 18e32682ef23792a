// Package settlement implements the settlement maintenance command: it
// inspects stored custody records and reports stored-open records whose
// deadline has passed. Inspection is read-only; expiry stays lazy.
package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/openclearing/settlement/internal/services/settlement/storage"
	"github.com/openclearing/settlement/internal/services/settlement/storage/sqlite"
)

// Config holds settlement command configuration.
type Config struct {
	DBPath string `env:"SETTLEMENT_DB_PATH" envDefault:"data/settlement.db"`

	Kind     string
	RecordID string
	Overdue  bool
	JSON     bool
}

// ParseConfig parses environment defaults and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to sqlite settlement database")
	fs.StringVar(&cfg.Kind, "kind", "", "record kind to inspect (swap, auction, futures)")
	fs.StringVar(&cfg.RecordID, "record-id", "", "record id to inspect")
	fs.BoolVar(&cfg.Overdue, "overdue", false, "report stored-open records past their deadline")
	fs.BoolVar(&cfg.JSON, "json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// recordReport is the inspection output for one custody record.
type recordReport struct {
	Kind         string     `json:"kind"`
	ID           string     `json:"id"`
	Creator      string     `json:"creator"`
	Counterparty string     `json:"counterparty"`
	Status       string     `json:"status"`
	HeldAsset    string     `json:"held_asset,omitempty"`
	Expiry       *time.Time `json:"expiry,omitempty"`

	RequiredAsset string `json:"required_asset,omitempty"`

	HighestBidder string `json:"highest_bidder,omitempty"`
	HighestAmount uint64 `json:"highest_amount,omitempty"`

	Price    uint64 `json:"price,omitempty"`
	Quantity uint64 `json:"quantity,omitempty"`
	Executed bool   `json:"executed,omitempty"`
}

// overdueReport is the expiry-report output.
type overdueReport struct {
	AsOf    time.Time              `json:"as_of"`
	Overdue []sqlite.OverdueRecord `json:"overdue"`
}

// Run executes the settlement command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if !cfg.Overdue && cfg.RecordID == "" {
		return errors.New("either -overdue or -record-id is required")
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(errOut, "close store: %v\n", err)
		}
	}()

	if cfg.Overdue {
		return runOverdue(ctx, store, cfg, out)
	}
	return runInspect(ctx, store, cfg, out)
}

func runOverdue(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	asOf := time.Now().UTC()
	overdue, err := store.OverdueOpenRecords(ctx, asOf)
	if err != nil {
		return err
	}
	if cfg.JSON {
		return writeJSON(out, overdueReport{AsOf: asOf, Overdue: overdue})
	}
	if len(overdue) == 0 {
		fmt.Fprintln(out, "no overdue records")
		return nil
	}
	for _, record := range overdue {
		fmt.Fprintf(out, "%s %s creator=%s deadline=%s\n",
			record.Kind, record.ID, record.Creator, record.Deadline.Format(time.RFC3339))
	}
	return nil
}

func runInspect(ctx context.Context, store *sqlite.Store, cfg Config, out io.Writer) error {
	report, err := inspectRecord(ctx, store, cfg.Kind, cfg.RecordID)
	if err != nil {
		return err
	}
	if cfg.JSON {
		return writeJSON(out, report)
	}
	fmt.Fprintf(out, "%s %s status=%s creator=%s counterparty=%s\n",
		report.Kind, report.ID, report.Status, report.Creator, report.Counterparty)
	if report.HeldAsset != "" {
		fmt.Fprintf(out, "  held: %s\n", report.HeldAsset)
	}
	if report.Expiry != nil {
		fmt.Fprintf(out, "  expiry: %s\n", report.Expiry.Format(time.RFC3339))
	}
	return nil
}

func inspectRecord(ctx context.Context, store *sqlite.Store, kind, recordID string) (recordReport, error) {
	switch kind {
	case "swap":
		record, err := store.GetSwap(ctx, recordID)
		if err != nil {
			return recordReport{}, describeMiss(err, kind, recordID)
		}
		report := recordReport{
			Kind:          "swap",
			ID:            record.ID,
			Creator:       record.Creator,
			Counterparty:  record.Counterparty,
			Status:        record.Status.String(),
			Expiry:        record.Expiry,
			RequiredAsset: record.RequiredAssetID,
		}
		if held, ok := record.Held.Peek(); ok {
			report.HeldAsset = held.ID
		}
		return report, nil
	case "auction":
		record, err := store.GetAuction(ctx, recordID)
		if err != nil {
			return recordReport{}, describeMiss(err, kind, recordID)
		}
		report := recordReport{
			Kind:         "auction",
			ID:           record.ID,
			Creator:      record.Creator,
			Counterparty: record.Counterparty,
			Status:       record.Status.String(),
		}
		if held, ok := record.Held.Peek(); ok {
			report.HeldAsset = held.ID
		}
		if record.CurrentHighest != nil {
			report.HighestBidder = record.CurrentHighest.Bidder
			report.HighestAmount = record.CurrentHighest.Amount
		}
		return report, nil
	case "futures":
		record, err := store.GetContract(ctx, recordID)
		if err != nil {
			return recordReport{}, describeMiss(err, kind, recordID)
		}
		report := recordReport{
			Kind:         "futures",
			ID:           record.ID,
			Creator:      record.Creator,
			Counterparty: record.Counterparty,
			Status:       record.Status.String(),
			Expiry:       record.Expiry,
			Price:        record.Price,
			Quantity:     record.Quantity,
			Executed:     record.Executed,
		}
		if held, ok := record.Held.Peek(); ok {
			report.HeldAsset = held.ID
		}
		return report, nil
	default:
		return recordReport{}, fmt.Errorf("unknown record kind %q (want swap, auction, or futures)", kind)
	}
}

func describeMiss(err error, kind, recordID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s record %q not found", kind, recordID)
	}
	return err
}

func writeJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
	"github.com/openclearing/settlement/internal/services/settlement/storage/sqlite"
)

func seedSwap(t *testing.T, dbPath string, expiry time.Time) {
	t.Helper()
	store, err := sqlite.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	record, _, err := swap.Create("swap-1", swap.CreateInput{
		Creator:         "alice",
		Recipient:       "bob",
		RequiredAssetID: "asset-7",
		Deposit:         asset.Asset{ID: "item-a"},
		Expiry:          expiry,
	}, expiry.Add(-time.Hour))
	if err != nil {
		t.Fatalf("create swap: %v", err)
	}
	if err := store.PutSwap(context.Background(), record); err != nil {
		t.Fatalf("put swap: %v", err)
	}
}

func TestParseConfigRequiresAction(t *testing.T) {
	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := Run(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("run without -overdue or -record-id must fail")
	}
}

func TestInspectSwapJSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settlement.db")
	seedSwap(t, dbPath, time.Now().UTC().Add(time.Hour))

	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-db-path", dbPath, "-kind", "swap", "-record-id", "swap-1", "-json",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	var report recordReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.Kind != "swap" || report.ID != "swap-1" || report.HeldAsset != "item-a" {
		t.Fatalf("report = %+v", report)
	}
}

func TestInspectMissingRecord(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settlement.db")
	seedSwap(t, dbPath, time.Now().UTC().Add(time.Hour))

	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-db-path", dbPath, "-kind", "swap", "-record-id", "absent",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	err = Run(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestOverdueReport(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settlement.db")
	seedSwap(t, dbPath, time.Now().UTC().Add(-time.Hour))

	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-db-path", dbPath, "-overdue"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	var out bytes.Buffer
	if err := Run(context.Background(), cfg, &out, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "swap swap-1") {
		t.Fatalf("output = %q, want overdue swap-1", out.String())
	}
}

func TestUnknownKind(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "settlement.db")
	seedSwap(t, dbPath, time.Now().UTC().Add(time.Hour))

	fs := flag.NewFlagSet("settlement", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-db-path", dbPath, "-kind", "ticket", "-record-id", "swap-1",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if err := Run(context.Background(), cfg, &bytes.Buffer{}, &bytes.Buffer{}); err == nil {
		t.Fatal("unknown kind must fail")
	}
}

// Package scenario runs YAML-scripted settlement scenarios against an
// in-memory engine. Scripts drive the same operations the engine exposes,
// with symbolic names standing in for generated record and bid ids, and can
// assert the typed error code an operation must fail with.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
	"github.com/openclearing/settlement/internal/services/settlement/domain/asset"
	"github.com/openclearing/settlement/internal/services/settlement/domain/futures"
	"github.com/openclearing/settlement/internal/services/settlement/domain/swap"
	"github.com/openclearing/settlement/internal/services/settlement/engine"
	"github.com/openclearing/settlement/internal/services/settlement/gateway"
	"github.com/openclearing/settlement/internal/services/settlement/storage/memory"
)

// Params carries the operation arguments of one step. Unused fields stay
// zero; each operation reads only the fields it needs.
type Params struct {
	Creator       string `yaml:"creator"`
	Recipient     string `yaml:"recipient"`
	RequiredAsset string `yaml:"required_asset"`
	Deposit       string `yaml:"deposit"`
	ExpiresIn     string `yaml:"expires_in"`
	Owner         string `yaml:"owner"`
	Auctioneer    string `yaml:"auctioneer"`
	Item          string `yaml:"item"`
	Bidder        string `yaml:"bidder"`
	Amount        uint64 `yaml:"amount"`
	Caller        string `yaml:"caller"`
	Presented     string `yaml:"presented"`
	Buyer         string `yaml:"buyer"`
	Seller        string `yaml:"seller"`
	Collateral    string `yaml:"collateral"`
	Price         uint64 `yaml:"price"`
	Quantity      uint64 `yaml:"quantity"`
	Payment       uint64 `yaml:"payment"`
}

// RegisterAsset seeds ownership of a unique asset handle.
type RegisterAsset struct {
	Asset string `yaml:"asset"`
	Owner string `yaml:"owner"`
}

// Credit seeds a fungible balance.
type Credit struct {
	Address string `yaml:"address"`
	Amount  uint64 `yaml:"amount"`
}

// Step is one scripted action: a ledger seed, a clock advance, or an engine
// operation with an optional expected error code.
type Step struct {
	RegisterAsset *RegisterAsset `yaml:"register_asset"`
	Credit        *Credit        `yaml:"credit"`
	AdvanceClock  string         `yaml:"advance_clock"`
	Op            string         `yaml:"op"`
	SaveAs        string         `yaml:"save_as"`
	Record        string         `yaml:"record"`
	Bid           string         `yaml:"bid"`
	Params        Params         `yaml:"params"`
	ExpectError   string         `yaml:"expect_error"`
}

// Scenario is a named sequence of steps.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load parses a scenario script.
func Load(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if len(s.Steps) == 0 {
		return Scenario{}, errors.New("scenario has no steps")
	}
	return s, nil
}

// Runner executes scenarios against a fresh in-memory engine per run.
type Runner struct {
	Start time.Time
}

// Run executes every step in order and fails on the first step whose
// outcome does not match the script.
func (r Runner) Run(ctx context.Context, s Scenario) error {
	start := r.Start
	if start.IsZero() {
		start = time.Now().UTC()
	}
	clock := start
	ledger := gateway.NewLedger()
	eng := engine.New(memory.New(), ledger,
		engine.WithClock(func() time.Time { return clock }),
	)
	symbols := make(map[string]string)

	resolve := func(symbol string) (string, error) {
		id, ok := symbols[symbol]
		if !ok {
			return "", fmt.Errorf("unknown symbol %q", symbol)
		}
		return id, nil
	}

	for i, step := range s.Steps {
		if err := r.runStep(ctx, eng, ledger, &clock, symbols, resolve, step); err != nil {
			return fmt.Errorf("scenario %q step %d: %w", s.Name, i+1, err)
		}
	}
	return nil
}

func (r Runner) runStep(
	ctx context.Context,
	eng *engine.Engine,
	ledger *gateway.Ledger,
	clock *time.Time,
	symbols map[string]string,
	resolve func(string) (string, error),
	step Step,
) error {
	switch {
	case step.RegisterAsset != nil:
		ledger.Register(step.RegisterAsset.Asset, step.RegisterAsset.Owner)
		return nil
	case step.Credit != nil:
		ledger.Credit(step.Credit.Address, step.Credit.Amount)
		return nil
	case step.AdvanceClock != "":
		delta, err := time.ParseDuration(step.AdvanceClock)
		if err != nil {
			return fmt.Errorf("parse advance_clock: %w", err)
		}
		*clock = clock.Add(delta)
		return nil
	case step.Op != "":
		savedID, err := r.runOp(ctx, eng, clock, resolve, step)
		if err := checkOutcome(step, err); err != nil {
			return err
		}
		if step.SaveAs != "" && savedID != "" {
			symbols[step.SaveAs] = savedID
		}
		return nil
	default:
		return errors.New("step names no action")
	}
}

// runOp dispatches one engine operation. It returns the generated id for
// creating operations so save_as can bind it.
func (r Runner) runOp(ctx context.Context, eng *engine.Engine, clock *time.Time, resolve func(string) (string, error), step Step) (string, error) {
	expiry := func() (time.Time, error) {
		if step.Params.ExpiresIn == "" {
			return time.Time{}, errors.New("expires_in is required")
		}
		delta, err := time.ParseDuration(step.Params.ExpiresIn)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse expires_in: %w", err)
		}
		return clock.Add(delta), nil
	}

	switch step.Op {
	case "create_swap":
		deadline, err := expiry()
		if err != nil {
			return "", err
		}
		record, err := eng.CreateSwap(ctx, swap.CreateInput{
			Creator:         step.Params.Creator,
			Recipient:       step.Params.Recipient,
			RequiredAssetID: step.Params.RequiredAsset,
			Deposit:         asset.Asset{ID: step.Params.Deposit},
			Expiry:          deadline,
		})
		return record.ID, err
	case "exchange":
		recordID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		_, err = eng.Exchange(ctx, recordID, asset.Asset{ID: step.Params.Presented}, step.Params.Caller)
		return "", err
	case "cancel_swap":
		recordID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		_, err = eng.CancelSwap(ctx, recordID, step.Params.Caller)
		return "", err
	case "create_auction":
		record, err := eng.CreateAuction(ctx, asset.Asset{ID: step.Params.Item}, step.Params.Owner, step.Params.Auctioneer)
		return record.ID, err
	case "submit_bid":
		auctionID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		bid, err := eng.SubmitBid(ctx, auctionID, step.Params.Bidder, step.Params.Amount)
		return bid.ID, err
	case "apply_bid":
		auctionID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		bidID, err := resolve(step.Bid)
		if err != nil {
			return "", err
		}
		_, err = eng.ApplyBid(ctx, auctionID, bidID, step.Params.Caller)
		return "", err
	case "end_auction":
		auctionID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		_, err = eng.EndAuction(ctx, auctionID, step.Params.Caller)
		return "", err
	case "create_contract":
		deadline, err := expiry()
		if err != nil {
			return "", err
		}
		record, err := eng.CreateContract(ctx, futures.CreateInput{
			Buyer:      step.Params.Buyer,
			Seller:     step.Params.Seller,
			Collateral: asset.Asset{ID: step.Params.Collateral},
			Price:      step.Params.Price,
			Quantity:   step.Params.Quantity,
			Expiration: deadline,
		})
		return record.ID, err
	case "settle_contract":
		contractID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		_, err = eng.SettleContract(ctx, contractID, step.Params.Payment, step.Params.Caller)
		return "", err
	case "cancel_contract":
		contractID, err := resolve(step.Record)
		if err != nil {
			return "", err
		}
		_, err = eng.CancelOrExpireContract(ctx, contractID, step.Params.Caller)
		return "", err
	default:
		return "", fmt.Errorf("unknown op %q", step.Op)
	}
}

// checkOutcome compares an operation result with the scripted expectation.
func checkOutcome(step Step, err error) error {
	if step.ExpectError == "" {
		if err != nil {
			return fmt.Errorf("op %s: %w", step.Op, err)
		}
		return nil
	}
	if err == nil {
		return fmt.Errorf("op %s succeeded, want error code %s", step.Op, step.ExpectError)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return fmt.Errorf("op %s failed untyped (%v), want error code %s", step.Op, err, step.ExpectError)
	}
	if string(appErr.Code) != step.ExpectError {
		return fmt.Errorf("op %s failed with code %s, want %s", step.Op, appErr.Code, step.ExpectError)
	}
	return nil
}

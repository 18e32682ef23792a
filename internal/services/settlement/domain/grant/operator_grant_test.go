package grant

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	apperrors "github.com/openclearing/settlement/internal/platform/errors"
)

var grantTime = time.Date(2026, time.March, 4, 10, 0, 0, 0, time.UTC)

func testKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate keys: %v", err)
	}
	return pub, priv
}

func testConfig(pub ed25519.PublicKey) Config {
	return Config{
		Issuer:   "settlement-issuer",
		Audience: "settlement-core",
		Key:      pub,
		Now:      func() time.Time { return grantTime },
	}
}

func signTestGrant(t *testing.T, priv ed25519.PrivateKey, mutate func(*SignInput)) string {
	t.Helper()
	in := SignInput{
		Issuer:    "settlement-issuer",
		Audience:  "settlement-core",
		JWTID:     "grant-1",
		AuctionID: "auc-1",
		Operator:  "auctioneer",
		IssuedAt:  grantTime.Add(-time.Minute),
		ExpiresAt: grantTime.Add(time.Hour),
	}
	if mutate != nil {
		mutate(&in)
	}
	token, err := Sign(priv, in)
	if err != nil {
		t.Fatalf("sign grant: %v", err)
	}
	return token
}

func TestVerifyValidGrant(t *testing.T) {
	pub, priv := testKeys(t)
	token := signTestGrant(t, priv, nil)

	claims, err := Verify(token, Expectation{AuctionID: "auc-1", Operator: "auctioneer"}, testConfig(pub))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.AuctionID != "auc-1" || claims.Operator != "auctioneer" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv := testKeys(t)
	otherPub, _ := testKeys(t)
	token := signTestGrant(t, priv, nil)

	_, err := Verify(token, Expectation{AuctionID: "auc-1", Operator: "auctioneer"}, testConfig(otherPub))
	if !errors.Is(err, apperrors.New(apperrors.CodeGrantInvalid, "")) {
		t.Fatalf("err = %v, want grant-invalid", err)
	}
}

func TestVerifyRejectsExpiredGrant(t *testing.T) {
	pub, priv := testKeys(t)
	token := signTestGrant(t, priv, func(in *SignInput) {
		in.ExpiresAt = grantTime.Add(-time.Minute)
	})

	_, err := Verify(token, Expectation{AuctionID: "auc-1", Operator: "auctioneer"}, testConfig(pub))
	if !errors.Is(err, apperrors.New(apperrors.CodeGrantExpired, "")) {
		t.Fatalf("err = %v, want grant-expired", err)
	}
}

func TestVerifyRejectsAuctionMismatch(t *testing.T) {
	pub, priv := testKeys(t)
	token := signTestGrant(t, priv, func(in *SignInput) {
		in.AuctionID = "auc-2"
	})

	_, err := Verify(token, Expectation{AuctionID: "auc-1", Operator: "auctioneer"}, testConfig(pub))
	if !errors.Is(err, apperrors.New(apperrors.CodeGrantMismatch, "")) {
		t.Fatalf("err = %v, want grant-mismatch", err)
	}
}

func TestVerifyRejectsOperatorMismatch(t *testing.T) {
	pub, priv := testKeys(t)
	token := signTestGrant(t, priv, nil)

	_, err := Verify(token, Expectation{AuctionID: "auc-1", Operator: "someone-else"}, testConfig(pub))
	if !errors.Is(err, apperrors.New(apperrors.CodeGrantMismatch, "")) {
		t.Fatalf("err = %v, want grant-mismatch", err)
	}
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	pub, _ := testKeys(t)
	_, err := Verify("  ", Expectation{AuctionID: "auc-1", Operator: "auctioneer"}, testConfig(pub))
	if !errors.Is(err, apperrors.New(apperrors.CodeGrantInvalid, "")) {
		t.Fatalf("err = %v, want grant-invalid", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	pub, _ := testKeys(t)
	t.Setenv("SETTLEMENT_GRANT_ISSUER", "settlement-issuer")
	t.Setenv("SETTLEMENT_GRANT_AUDIENCE", "settlement-core")
	t.Setenv("SETTLEMENT_GRANT_PUBLIC_KEY", base64.RawStdEncoding.EncodeToString(pub))

	cfg, err := LoadConfigFromEnv(func() time.Time { return grantTime })
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Issuer != "settlement-issuer" || cfg.Audience != "settlement-core" {
		t.Fatalf("config = %+v", cfg)
	}
	if len(cfg.Key) != ed25519.PublicKeySize {
		t.Fatalf("key size = %d", len(cfg.Key))
	}
}

func TestLoadConfigFromEnvRequiresAllValues(t *testing.T) {
	t.Setenv("SETTLEMENT_GRANT_ISSUER", "")
	t.Setenv("SETTLEMENT_GRANT_AUDIENCE", "settlement-core")
	t.Setenv("SETTLEMENT_GRANT_PUBLIC_KEY", "")

	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected error for missing env values")
	}
}

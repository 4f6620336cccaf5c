// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package accounts

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/librachat/lib/accesstoken"
	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/logging"
	"github.com/bureau-foundation/librachat/store"
	"github.com/bureau-foundation/librachat/store/storetest"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	service   *Service
	store     *store.Store
	blacklist *accesstoken.Blacklist
	clock     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	fakeClock := clock.Fake(testEpoch)
	s := storetest.Open(t)
	blacklist := accesstoken.NewBlacklist()
	issuer := accesstoken.NewIssuer(accesstoken.IssuerConfig{
		PrivateKey: private,
		Issuer:     storetest.ServerName.String(),
		Lifetime:   time.Hour,
		Clock:      fakeClock,
	})
	return &fixture{
		service: New(Config{
			Store:      s,
			Issuer:     issuer,
			Blacklist:  blacklist,
			Clock:      fakeClock,
			Logger:     logging.Discard(),
			BcryptCost: bcrypt.MinCost,
		}),
		store:     s,
		blacklist: blacklist,
		clock:     fakeClock,
	}
}

func wantKind(t *testing.T, err error, kind fault.Kind) {
	t.Helper()
	if !fault.HasKind(err, kind) {
		t.Fatalf("error = %v (kind %s), want kind %s", err, fault.KindOf(err), kind)
	}
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.service.Register(ctx, Registration{
		Username: "  Alice ",
		Password: "correct horse",
		Email:    "alice@example.org",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := session.Identity.UserID.String(); got != "@alice:chat.example.org" {
		t.Errorf("user ID = %q, want @alice:chat.example.org", got)
	}
	if session.Identity.DisplayName != "alice" {
		t.Errorf("display name = %q, want the localpart", session.Identity.DisplayName)
	}
	if session.ExpiresIn != time.Hour {
		t.Errorf("ExpiresIn = %v, want 1h", session.ExpiresIn)
	}
	if err := envelope.ValidatePublicKey(session.Identity.PublicKey); err != nil {
		t.Errorf("public key: %v", err)
	}

	private, err := f.store.PrivateKey(ctx, session.Identity.UserID)
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	defer private.Close()
	if !strings.HasPrefix(private.String(), "AGE-SECRET-KEY-") {
		t.Error("stored private key is not an age identity")
	}

	caller, err := f.service.Authenticate(ctx, session.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if caller.UserID() != session.Identity.UserID {
		t.Errorf("caller = %s, want %s", caller.UserID(), session.Identity.UserID)
	}
}

func TestRegisterRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Register(ctx, Registration{Username: "bob", Password: "password1"}); err != nil {
		t.Fatalf("Register(bob): %v", err)
	}

	tests := []struct {
		name         string
		registration Registration
		kind         fault.Kind
	}{
		{"taken", Registration{Username: "bob", Password: "password2"}, fault.AlreadyExists},
		{"taken different case", Registration{Username: "BOB", Password: "password2"}, fault.AlreadyExists},
		{"empty username", Registration{Username: "", Password: "password1"}, fault.MalformedID},
		{"invalid character", Registration{Username: "bob smith", Password: "password1"}, fault.MalformedID},
		{"short password", Registration{Username: "carol", Password: "short"}, fault.InvalidRequest},
		{"long password", Registration{Username: "carol", Password: strings.Repeat("x", 80)}, fault.InvalidRequest},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.service.Register(ctx, test.registration)
			wantKind(t, err, test.kind)
		})
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.service.Register(ctx, Registration{Username: "alice", Password: "password1", DisplayName: "Alice"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, login := range []string{"alice", "ALICE", "@alice:chat.example.org"} {
		session, err := f.service.Login(ctx, login, "password1")
		if err != nil {
			t.Errorf("Login(%q): %v", login, err)
			continue
		}
		if session.Identity.DisplayName != "Alice" {
			t.Errorf("Login(%q) display name = %q", login, session.Identity.DisplayName)
		}
	}

	failures := []struct {
		name, login, password string
		kind                  fault.Kind
	}{
		{"wrong password", "alice", "password2", fault.AuthenticationRequired},
		{"unknown user", "mallory", "password1", fault.AuthenticationRequired},
		{"remote user", "@alice:elsewhere.example", "password1", fault.AuthenticationRequired},
		{"malformed ID", "@alice", "password1", fault.MalformedID},
	}
	for _, test := range failures {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.service.Login(ctx, test.login, test.password)
			wantKind(t, err, test.kind)
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.Register(ctx, Registration{Username: "alice", Password: "password1"})
	if err != nil {
		t.Fatal(err)
	}

	for _, raw := range []string{"", "not-a-token", session.AccessToken + "x"} {
		_, err := f.service.Authenticate(ctx, raw)
		wantKind(t, err, fault.AuthenticationRequired)
	}

	f.clock.Advance(time.Hour + time.Second)
	_, err = f.service.Authenticate(ctx, session.AccessToken)
	wantKind(t, err, fault.AuthenticationRequired)
}

func TestLogoutRevokesAcrossRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, err := f.service.Register(ctx, Registration{Username: "alice", Password: "password1"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := f.service.Login(ctx, "alice", "password1")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.service.Logout(ctx, session.AccessToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err = f.service.Authenticate(ctx, session.AccessToken)
	wantKind(t, err, fault.AuthenticationRequired)
	if _, err := f.service.Authenticate(ctx, other.AccessToken); err != nil {
		t.Errorf("second session was revoked too: %v", err)
	}
	wantKind(t, f.service.Logout(ctx, session.AccessToken), fault.AuthenticationRequired)

	// A fresh blacklist stands in for a restarted process.
	restarted := New(Config{
		Store:      f.store,
		Issuer:     f.service.issuer,
		Blacklist:  accesstoken.NewBlacklist(),
		Clock:      f.clock,
		Logger:     logging.Discard(),
		BcryptCost: bcrypt.MinCost,
	})
	if _, err := restarted.Authenticate(ctx, session.AccessToken); err != nil {
		t.Fatalf("before LoadRevocations, Authenticate: %v", err)
	}
	if err := restarted.LoadRevocations(ctx); err != nil {
		t.Fatalf("LoadRevocations: %v", err)
	}
	_, err = restarted.Authenticate(ctx, session.AccessToken)
	wantKind(t, err, fault.AuthenticationRequired)
}

func TestRunMaintenanceSweepsExpired(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	session, err := f.service.Register(ctx, Registration{Username: "alice", Password: "password1"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.service.Logout(ctx, session.AccessToken); err != nil {
		t.Fatal(err)
	}
	if f.blacklist.Len() != 1 {
		t.Fatalf("blacklist has %d entries, want 1", f.blacklist.Len())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.service.RunMaintenance(ctx, 10*time.Minute)
	}()
	f.clock.WaitForTimers(1)
	f.clock.Advance(2 * time.Hour)

	swept := func() bool {
		if f.blacklist.Len() != 0 {
			return false
		}
		revoked, err := f.store.RevokedTokens(context.Background(), testEpoch)
		if err != nil {
			t.Fatal(err)
		}
		return len(revoked) == 0
	}
	deadline := time.Now().Add(5 * time.Second)
	for !swept() {
		if time.Now().After(deadline) {
			t.Fatal("expired revocation was not swept from the blacklist and store")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/envelope"
	"github.com/bureau-foundation/librachat/lib/fault"
	"github.com/bureau-foundation/librachat/lib/logging"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/schema"
	"github.com/bureau-foundation/librachat/lib/secret"
	"github.com/bureau-foundation/librachat/lib/testutil"
)

var testServer = ref.MustParseServerName("chat.example.org")

func openTestStore(t *testing.T) *Store {
	t.Helper()
	_, databasePath := testutil.StateDir(t)
	store, err := Open(context.Background(), Config{
		Path:        databasePath,
		PoolSize:    4,
		ServerName:  testServer,
		Compression: codec.CompressionZstd,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

type testUser struct {
	id      ref.UserID
	keypair *envelope.Keypair
}

func createTestUser(t *testing.T, store *Store, localpart string) testUser {
	t.Helper()
	keypair, err := envelope.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { keypair.Close() })
	userID := ref.MatrixUserID(localpart, testServer)
	err = store.CreateUser(context.Background(), NewUser{
		Identity: schema.Identity{
			UserID:      userID,
			DisplayName: localpart + " display",
			PublicKey:   keypair.PublicKey,
			CreatedTS:   1000,
		},
		PasswordHash: []byte("$2a$10$hash-for-" + localpart),
		PrivateKey:   keypair.PrivateKey,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", localpart, err)
	}
	return testUser{id: userID, keypair: keypair}
}

func wantKind(t *testing.T, err error, kind fault.Kind) {
	t.Helper()
	if !fault.HasKind(err, kind) {
		t.Fatalf("error = %v (kind %s), want kind %s", err, fault.KindOf(err), kind)
	}
}

func TestUsers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	createTestUser(t, store, "alicia")
	createTestUser(t, store, "bob")

	identity, err := store.Identity(ctx, alice.id)
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if identity.DisplayName != "alice display" || identity.PublicKey != alice.keypair.PublicKey {
		t.Errorf("identity = %+v", identity)
	}

	privateKey, err := store.PrivateKey(ctx, alice.id)
	if err != nil {
		t.Fatalf("PrivateKey: %v", err)
	}
	defer privateKey.Close()
	if !privateKey.Equal(alice.keypair.PrivateKey) {
		t.Error("stored private key differs from the generated one")
	}

	hash, err := store.PasswordHash(ctx, alice.id)
	if err != nil || string(hash) != "$2a$10$hash-for-alice" {
		t.Errorf("PasswordHash = %q, %v", hash, err)
	}

	duplicate := NewUser{
		Identity:     schema.Identity{UserID: alice.id, PublicKey: "x"},
		PasswordHash: []byte("x"),
		PrivateKey:   alice.keypair.PrivateKey,
	}
	wantKind(t, store.CreateUser(ctx, duplicate), fault.AlreadyExists)

	_, err = store.Identity(ctx, ref.MatrixUserID("nobody", testServer))
	wantKind(t, err, fault.NotFound)
	_, err = store.Identity(ctx, ref.MustParseUserID("@alice:elsewhere.org"))
	wantKind(t, err, fault.NotFound)

	tests := []struct {
		query string
		want  []string
	}{
		{"ali", []string{"alice", "alicia"}},
		{"b", []string{"bob"}},
		{"%", nil},
		{"", []string{"alice", "alicia", "bob"}},
	}
	for _, test := range tests {
		results, err := store.SearchUsers(ctx, test.query, 10)
		if err != nil {
			t.Fatalf("SearchUsers(%q): %v", test.query, err)
		}
		var got []string
		for _, result := range results {
			got = append(got, result.UserID.Localpart())
		}
		if len(got) != len(test.want) {
			t.Errorf("SearchUsers(%q) = %v, want %v", test.query, got, test.want)
			continue
		}
		for i := range got {
			if got[i] != test.want[i] {
				t.Errorf("SearchUsers(%q) = %v, want %v", test.query, got, test.want)
			}
		}
	}
}

func stateKey(user ref.UserID) *string {
	key := user.String()
	return &key
}

func memberEvent(room ref.RoomID, user ref.UserID, membership schema.Membership, ts int64) *schema.Event {
	return &schema.Event{
		EventID:        ref.NewEventID(testServer),
		RoomID:         room,
		Sender:         user,
		Type:           schema.EventTypeMember,
		StateKey:       stateKey(user),
		Origin:         testServer,
		OriginServerTS: ts,
		Content:        &schema.MemberContent{Membership: membership},
	}
}

func messageEvent(room ref.RoomID, sender ref.UserID, body string, ts int64) *schema.Event {
	return &schema.Event{
		EventID:        ref.NewEventID(testServer),
		RoomID:         room,
		Sender:         sender,
		Type:           schema.EventTypeMessage,
		Origin:         testServer,
		OriginServerTS: ts,
		Content:        &schema.MessageContent{MsgType: schema.MsgTypeText, Body: body},
	}
}

func createTestRoom(t *testing.T, store *Store, creator ref.UserID, name string, public bool) ref.RoomID {
	t.Helper()
	roomID := ref.NewRoomID(testServer)
	room := &schema.Room{RoomID: roomID, Name: name, Creator: creator, IsPublic: public, CreatedTS: 2000}
	if alias, ok := ref.AliasFromName(name, testServer); ok {
		room.Alias = alias
	}
	create := &schema.Event{
		EventID:        ref.NewEventID(testServer),
		RoomID:         roomID,
		Sender:         creator,
		Type:           schema.EventTypeCreate,
		StateKey:       new(string),
		Origin:         testServer,
		OriginServerTS: 2000,
		Content:        &schema.CreateContent{Creator: creator, RoomVersion: schema.RoomVersion, Name: name, IsPublic: public},
	}
	join := memberEvent(roomID, creator, schema.MembershipJoin, 2000)
	if err := store.CreateRoom(context.Background(), room, create, join); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return roomID
}

func TestRoomsAndEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice").id
	bob := createTestUser(t, store, "bob").id

	general := createTestRoom(t, store, alice, "General", true)
	private := createTestRoom(t, store, bob, "", false)

	room, err := store.Room(ctx, general)
	if err != nil {
		t.Fatalf("Room: %v", err)
	}
	if room.Alias.String() != "#general:chat.example.org" || room.JoinedMembers != 1 || !room.IsPublic {
		t.Errorf("room = %+v", room)
	}
	if _, err := store.Room(ctx, ref.NewRoomID(testServer)); !fault.HasKind(err, fault.NotFound) {
		t.Errorf("Room(unknown) = %v, want NotFound", err)
	}

	membership, joinEvent, err := store.Membership(ctx, general, alice)
	if err != nil || membership != schema.MembershipJoin || joinEvent.IsZero() {
		t.Fatalf("Membership(alice) = %q, %v, %v", membership, joinEvent, err)
	}
	membership, _, err = store.Membership(ctx, general, bob)
	if err != nil || membership != "" {
		t.Fatalf("Membership(bob) = %q, %v", membership, err)
	}

	position, err := store.StreamPosition(ctx, general)
	if err != nil {
		t.Fatal(err)
	}

	bobJoin := memberEvent(general, bob, schema.MembershipJoin, 3000)
	if err := store.AppendEvent(ctx, bobJoin); err != nil {
		t.Fatalf("AppendEvent(join): %v", err)
	}
	if bobJoin.Unsigned == nil || bobJoin.Unsigned.StreamOrdering <= position {
		t.Errorf("join stream ordering = %+v, want > %d", bobJoin.Unsigned, position)
	}

	var sent []*schema.Event
	for i, body := range []string{"one", "two", "three"} {
		event := messageEvent(general, alice, body, int64(4000+i))
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("AppendEvent(%s): %v", body, err)
		}
		sent = append(sent, event)
	}
	if err := store.AppendEvent(ctx, sent[0]); !fault.HasKind(err, fault.AlreadyExists) {
		t.Errorf("duplicate AppendEvent = %v, want AlreadyExists", err)
	}

	recent, err := store.RecentEvents(ctx, general, schema.EventTypeMessage, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || bodyOf(recent[0]) != "two" || bodyOf(recent[1]) != "three" {
		t.Errorf("RecentEvents = %v", eventBodies(recent))
	}

	since, err := store.EventsSince(ctx, general, position, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 4 || since[0].EventID != bobJoin.EventID {
		t.Fatalf("EventsSince returned %d events", len(since))
	}
	for i := 1; i < len(since); i++ {
		if since[i].Unsigned.StreamOrdering <= since[i-1].Unsigned.StreamOrdering {
			t.Error("EventsSince is not in stream order")
		}
	}

	loaded, err := store.Event(ctx, sent[1].EventID)
	if err != nil {
		t.Fatalf("Event: %v", err)
	}
	if loaded.Sender != alice || bodyOf(loaded) != "two" || loaded.OriginServerTS != 4001 {
		t.Errorf("Event = %+v", loaded)
	}

	joined, err := store.JoinedRooms(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(joined) != 2 {
		t.Errorf("JoinedRooms(bob) = %d rooms, want 2", len(joined))
	}
	public, err := store.PublicRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(public) != 1 || public[0].RoomID != general || public[0].JoinedMembers != 2 {
		t.Errorf("PublicRooms = %+v", public)
	}
	if privateRoom, _ := store.Room(ctx, private); privateRoom == nil || privateRoom.IsPublic || !privateRoom.Alias.IsZero() {
		t.Errorf("private room = %+v", privateRoom)
	}

	leave := memberEvent(general, bob, schema.MembershipLeave, 5000)
	if err := store.AppendEvent(ctx, leave); err != nil {
		t.Fatal(err)
	}
	membership, eventID, err := store.Membership(ctx, general, bob)
	if err != nil || membership != schema.MembershipLeave || eventID != leave.EventID {
		t.Errorf("Membership after leave = %q, %v, %v", membership, eventID, err)
	}

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.RoomCount != 2 || stats.UserCount != 2 || stats.EventCount != 9 {
		t.Errorf("Statistics = %+v", stats)
	}
}

func bodyOf(event *schema.Event) string {
	if content, ok := event.Content.(*schema.MessageContent); ok {
		return content.Body
	}
	return ""
}

func eventBodies(events []*schema.Event) []string {
	var bodies []string
	for _, event := range events {
		bodies = append(bodies, bodyOf(event))
	}
	return bodies
}

func TestEventsReadableAcrossCompressionSettings(t *testing.T) {
	_, databasePath := testutil.StateDir(t)
	ctx := context.Background()
	var roomID ref.RoomID
	alice := ref.MatrixUserID("alice", testServer)

	for _, compression := range []codec.Compression{codec.CompressionLZ4, codec.CompressionNone, codec.CompressionZstd} {
		store, err := Open(ctx, Config{
			Path: databasePath, ServerName: testServer, Compression: compression, Logger: logging.Discard(),
		})
		if err != nil {
			t.Fatal(err)
		}
		if roomID.IsZero() {
			roomID = createTestRoom(t, store, alice, "mixed", true)
		}
		event := messageEvent(roomID, alice, compression.String()+" body that is long enough to be worth compressing at all", 1)
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatal(err)
		}
		store.Close()
	}

	store := openTestStoreAt(t, databasePath)
	events, err := store.RecentEvents(ctx, roomID, schema.EventTypeMessage, 10)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("read %d events, want 3", len(events))
	}
}

func openTestStoreAt(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: path, ServerName: testServer, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func contactEdge(owner, contact testUser, ts int64) *schema.Contact {
	return &schema.Contact{
		Owner:       owner.id,
		Contact:     contact.id,
		DisplayName: contact.id.Localpart(),
		PublicKey:   contact.keypair.PublicKey,
		AddedTS:     ts,
	}
}

func TestContacts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")
	carol := createTestUser(t, store, "carol")

	mirrored, err := store.AddContact(ctx, contactEdge(alice, bob, 10), contactEdge(bob, alice, 10))
	if err != nil || !mirrored {
		t.Fatalf("AddContact = %v, %v", mirrored, err)
	}
	_, err = store.AddContact(ctx, contactEdge(alice, bob, 11), nil)
	wantKind(t, err, fault.DuplicateContact)

	// Bob already has Alice from the mirror; his own add is a duplicate.
	_, err = store.AddContact(ctx, contactEdge(bob, alice, 12), nil)
	wantKind(t, err, fault.DuplicateContact)

	if _, err := store.AddContact(ctx, contactEdge(alice, carol, 20), nil); err != nil {
		t.Fatal(err)
	}
	contacts, err := store.Contacts(ctx, alice.id)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 2 || contacts[0].Contact != bob.id || contacts[1].Contact != carol.id {
		t.Fatalf("Contacts(alice) = %+v", contacts)
	}
	if contacts[0].PublicKey != bob.keypair.PublicKey {
		t.Error("contact edge lost the public key snapshot")
	}

	if err := store.RemoveContact(ctx, alice.id, carol.id); err != nil {
		t.Fatalf("RemoveContact: %v", err)
	}
	wantKind(t, store.RemoveContact(ctx, alice.id, carol.id), fault.NotFound)
	wantKind(t, store.RemoveContact(ctx, carol.id, alice.id), fault.NotFound)

	// A removed edge is reactivated by a fresh add.
	if _, err := store.AddContact(ctx, contactEdge(alice, carol, 30), nil); err != nil {
		t.Fatalf("re-adding removed contact: %v", err)
	}
	contacts, _ = store.Contacts(ctx, alice.id)
	if len(contacts) != 2 || contacts[1].AddedTS != 30 {
		t.Errorf("Contacts after reactivation = %+v", contacts)
	}

	// A reverse edge its owner removed is not mirrored back.
	if err := store.RemoveContact(ctx, bob.id, alice.id); err != nil {
		t.Fatal(err)
	}
	if err := store.RemoveContact(ctx, alice.id, bob.id); err != nil {
		t.Fatal(err)
	}
	mirrored, err = store.AddContact(ctx, contactEdge(alice, bob, 40), contactEdge(bob, alice, 40))
	if err != nil || mirrored {
		t.Fatalf("re-adding over a removed reverse edge = %v, %v", mirrored, err)
	}
	if reverse, _ := store.Contacts(ctx, bob.id); len(reverse) != 0 {
		t.Errorf("Contacts(bob) = %+v, want none", reverse)
	}
}

func TestAddContactConcurrentDuplicates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.AddContact(ctx, contactEdge(alice, bob, int64(i)), nil)
		}()
	}
	wg.Wait()

	successes, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case fault.HasKind(err, fault.DuplicateContact):
			duplicates++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if successes != 1 || duplicates != attempts-1 {
		t.Errorf("successes = %d, duplicates = %d", successes, duplicates)
	}
}

func sealTestMessage(t *testing.T, sender, recipient testUser, body string) *envelope.Sealed {
	t.Helper()
	sealed, err := envelope.Seal([]byte(body), []byte("test"), sender.keypair.PublicKey, recipient.keypair.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	return sealed
}

func TestPrivateMessagesAndConversations(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	alice := createTestUser(t, store, "alice")
	bob := createTestUser(t, store, "bob")
	carol := createTestUser(t, store, "carol")
	dave := createTestUser(t, store, "dave")

	for _, contact := range []testUser{bob, carol, dave} {
		if _, err := store.AddContact(ctx, contactEdge(alice, contact, 1), nil); err != nil {
			t.Fatal(err)
		}
	}

	messages := []struct {
		id       string
		from, to testUser
		ts       int64
	}{
		{"m1", alice, bob, 100},
		{"m2", bob, alice, 200},
		{"m3", alice, carol, 300},
		{"m4", carol, bob, 400},
	}
	for _, m := range messages {
		err := store.InsertPrivateMessage(ctx, &schema.PrivateMessage{
			MessageID: m.id, Sender: m.from.id, Recipient: m.to.id, Timestamp: m.ts,
			Sealed: sealTestMessage(t, m.from, m.to, m.id),
		})
		if err != nil {
			t.Fatalf("InsertPrivateMessage(%s): %v", m.id, err)
		}
	}

	history, err := store.PrivateMessages(ctx, bob.id, alice.id, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 || history[0].MessageID != "m1" || history[1].MessageID != "m2" {
		t.Fatalf("PrivateMessages(bob, alice) = %d messages", len(history))
	}
	limited, _ := store.PrivateMessages(ctx, alice.id, bob.id, 1)
	if len(limited) != 1 || limited[0].MessageID != "m2" {
		t.Errorf("limit 1 returned %+v", limited)
	}

	loaded, err := store.PrivateMessage(ctx, "m3")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Sender != alice.id || len(loaded.Sealed.RecipientEnvelope.Stanzas) == 0 {
		t.Errorf("PrivateMessage(m3) = %+v", loaded)
	}
	plaintext, err := envelope.Open(loaded.Sealed, envelope.RoleRecipient, []byte("test"), carol.keypair.PrivateKey)
	if err != nil {
		t.Fatalf("opening stored message: %v", err)
	}
	if string(plaintext.Bytes()) != "m3" {
		t.Errorf("plaintext = %q", plaintext.Bytes())
	}
	plaintext.Close()

	_, err = store.PrivateMessage(ctx, "missing")
	wantKind(t, err, fault.NotFound)

	oneEnvelope := sealTestMessage(t, alice, bob, "x")
	oneEnvelope.RecipientEnvelope = envelope.Envelope{}
	err = store.InsertPrivateMessage(ctx, &schema.PrivateMessage{
		MessageID: "partial", Sender: alice.id, Recipient: bob.id, Timestamp: 1, Sealed: oneEnvelope,
	})
	wantKind(t, err, fault.InvalidOperation)
	if _, err := store.PrivateMessage(ctx, "partial"); !fault.HasKind(err, fault.NotFound) {
		t.Error("a message with one envelope was persisted")
	}

	conversations, err := store.Conversations(ctx, alice.id)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		contact ref.UserID
		last    int64
		has     bool
	}{
		{carol.id, 300, true},
		{bob.id, 200, true},
		{dave.id, 0, false},
	}
	if len(conversations) != len(want) {
		t.Fatalf("Conversations = %+v", conversations)
	}
	for i, w := range want {
		got := conversations[i]
		if got.Contact != w.contact || got.LastMessageTS != w.last || got.HasMessages != w.has {
			t.Errorf("conversation %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestRevokedTokens(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if err := store.RevokeToken(ctx, "expired", now.Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := store.RevokeToken(ctx, "live", now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.RevokeToken(ctx, "live", now.Add(time.Hour)); err != nil {
		t.Errorf("revoking twice: %v", err)
	}

	revoked, err := store.RevokedTokens(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(revoked) != 1 || !revoked["live"].Equal(now.Add(time.Hour)) {
		t.Errorf("RevokedTokens = %v", revoked)
	}
	purged, err := store.PurgeRevokedTokens(ctx, now)
	if err != nil || purged != 1 {
		t.Errorf("PurgeRevokedTokens = %d, %v", purged, err)
	}
}

func TestCreateUserRejectsRemoteUser(t *testing.T) {
	store := openTestStore(t)
	buffer, err := secret.NewFromBytes([]byte("key"))
	if err != nil {
		t.Fatal(err)
	}
	defer buffer.Close()
	err = store.CreateUser(context.Background(), NewUser{
		Identity:     schema.Identity{UserID: ref.MustParseUserID("@mallory:elsewhere.org")},
		PasswordHash: []byte("x"),
		PrivateKey:   buffer,
	})
	if !fault.HasKind(err, fault.InvalidOperation) {
		t.Errorf("CreateUser(remote) = %v", err)
	}
}

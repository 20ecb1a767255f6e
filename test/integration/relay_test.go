package integration

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modchat/relay/test/testhelpers"
)

// TestLobbyRelay verifies the happy path: two members of a room, one sends a
// chat frame, the other receives it annotated with a clean verdict, and the
// sender does not hear its own message back.
func TestLobbyRelay(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")

	testhelpers.SendChat(t, alice, "alice", "hello")

	verdict := testhelpers.ExpectChatFrame(t, bob, "alice", "hello")
	testhelpers.AssertCleanVerdict(t, verdict)

	testhelpers.ExpectNoFrame(t, alice, 300*time.Millisecond)
}

func TestFlaggedMessageStillDelivered(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")

	testhelpers.SendChat(t, alice, "alice", "flagme you fool")

	verdict := testhelpers.ExpectChatFrame(t, bob, "alice", "flagme you fool")
	category, ok := verdict["category"].(string)
	if !ok || category != testhelpers.FlagLabel {
		t.Fatalf("category = %v, want %q", verdict["category"], testhelpers.FlagLabel)
	}
	score, ok := verdict["score"].(float64)
	if !ok || score != testhelpers.FlagScore {
		t.Fatalf("score = %v, want %v", verdict["score"], testhelpers.FlagScore)
	}
}

// TestModerationFailureStillDelivered pins the availability guarantee: when
// the classifier is down the chat frame is relayed anyway carrying the
// null/null verdict, and the sender's session keeps working afterwards.
func TestModerationFailureStillDelivered(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")

	testhelpers.SendChat(t, alice, "alice", "breakme please")

	verdict := testhelpers.ExpectChatFrame(t, bob, "alice", "breakme please")
	testhelpers.AssertUnavailableVerdict(t, verdict)

	testhelpers.SendChat(t, alice, "alice", "still here")
	verdict = testhelpers.ExpectChatFrame(t, bob, "alice", "still here")
	testhelpers.AssertCleanVerdict(t, verdict)
}

func TestMalformedFrameDoesNotKillSession(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")

	for _, raw := range []string{
		"not json at all",
		`{"type":"presence","username":"alice"}`,
		`{"type":"message","username":"alice","message":"hi","extra":true}`,
	} {
		if err := alice.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write malformed frame: %v", err)
		}
	}

	// The sentinel chat must be the next frame bob sees: none of the bad
	// frames produced output, and alice's session is still alive.
	testhelpers.SendChat(t, alice, "alice", "recovered")
	testhelpers.ExpectChatFrame(t, bob, "alice", "recovered")
}

func TestPeerDisconnectDoesNotBreakFanout(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")
	carol := testhelpers.JoinRoom(t, relay, "lobby", "carol")
	testhelpers.ExpectSystemFrame(t, alice, "carol has joined the room.")
	testhelpers.ExpectSystemFrame(t, bob, "carol has joined the room.")

	// Kill carol's transport without a close handshake.
	carol.UnderlyingConn().Close()

	testhelpers.SendChat(t, alice, "alice", "anyone there")
	testhelpers.ExpectChatFrame(t, bob, "alice", "anyone there")
}

func TestRoomScoping(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	eve := testhelpers.JoinRoom(t, relay, "ops", "eve")

	testhelpers.SendChat(t, alice, "alice", "lobby only")

	testhelpers.ExpectNoFrame(t, eve, 300*time.Millisecond)
}

func TestSenderOrderPreserved(t *testing.T) {
	classifier := testhelpers.NewClassifierStub()
	defer classifier.Close()

	relay := testhelpers.StartRelay(t, classifier.URL, nil)

	alice := testhelpers.JoinRoom(t, relay, "lobby", "alice")
	bob := testhelpers.JoinRoom(t, relay, "lobby", "bob")
	testhelpers.ExpectSystemFrame(t, alice, "bob has joined the room.")

	want := []string{"first", "second", "third", "fourth"}
	for _, text := range want {
		testhelpers.SendChat(t, alice, "alice", text)
	}
	for _, text := range want {
		testhelpers.ExpectChatFrame(t, bob, "alice", text)
	}
}

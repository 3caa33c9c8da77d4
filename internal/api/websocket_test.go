package api

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetgate/fleetgate-core/internal/auth"
	"github.com/fleetgate/fleetgate-core/internal/fleet"
)

// dialWS opens a realtime connection against the test server.
func dialWS(t *testing.T, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/ws"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEvent reads one hub message within a deadline.
func readEvent(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	//nolint:errcheck // Best-effort deadline in tests
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading event: %v", err)
	}

	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decoding event: %v", err)
	}
	return msg
}

// expectNoEvent asserts that nothing arrives within a short window.
func expectNoEvent(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	//nolint:errcheck // Best-effort deadline in tests
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected event: %s", data)
	}
}

// sendMessage writes one client message.
func sendMessage(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()

	data, err := json.Marshal(WSMessage{Type: msgType, Payload: payload})
	if err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("sending message: %v", err)
	}
}

// expectClose asserts the connection is closed with the given code.
func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()

	//nolint:errcheck // Best-effort deadline in tests
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("read error = %v, want close error", err)
	}
	if closeErr.Code != code {
		t.Errorf("close code = %d, want %d", closeErr.Code, code)
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	conn := dialWS(t, env, "")
	expectClose(t, conn, WSCloseNoToken)
}

func TestWebSocket_RejectsInvalidToken(t *testing.T) {
	env := newTestEnv(t)

	conn := dialWS(t, env, "not-a-jwt")
	expectClose(t, conn, WSCloseBadToken)
}

func TestWebSocket_AutoSubscribeAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	user := env.seedUser(t, "renter@example.com", auth.RoleFleetUser, f.ID)
	reg := env.seedRegulator(t, "SN-100", f.ID, "")

	tokens := env.login(t, "renter@example.com")
	conn := dialWS(t, env, tokens.AccessToken)

	// Fleet-tier roles join their fleet channel on connect.
	connected := readEvent(t, conn)
	if connected.Type != WSTypeConnected {
		t.Fatalf("first event = %q, want %q", connected.Type, WSTypeConnected)
	}
	payload, _ := connected.Payload.(map[string]any) //nolint:errcheck // shape asserted below
	channels, _ := payload["channels"].([]any)       //nolint:errcheck // shape asserted below
	if len(channels) != 1 || channels[0] != fleet.FleetChannel(f.ID) {
		t.Fatalf("auto channels = %v, want [%s]", channels, fleet.FleetChannel(f.ID))
	}

	// A checkout on the fleet's unit reaches the subscriber.
	if _, err := env.fleetSvc.Checkout(t.Context(), reg.ID, user.ID); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}

	event := readEvent(t, conn)
	if event.Type != fleet.EventCheckedOut {
		t.Errorf("event type = %q, want %q", event.Type, fleet.EventCheckedOut)
	}
	if event.Timestamp == "" {
		t.Error("event has no timestamp")
	}
}

func TestWebSocket_BroadcastScoping(t *testing.T) {
	env := newTestEnv(t)
	north := env.seedFleet(t, "North")
	south := env.seedFleet(t, "South")
	env.seedUser(t, "north@example.com", auth.RoleFleetUser, north.ID)
	env.seedUser(t, "south@example.com", auth.RoleFleetUser, south.ID)

	northConn := dialWS(t, env, env.login(t, "north@example.com").AccessToken)
	southConn := dialWS(t, env, env.login(t, "south@example.com").AccessToken)
	readEvent(t, northConn)
	readEvent(t, southConn)

	env.server.hub.Broadcast(fleet.EventStatusChanged,
		map[string]string{"status": "maintenance"}, fleet.FleetChannel(north.ID))

	if event := readEvent(t, northConn); event.Type != fleet.EventStatusChanged {
		t.Errorf("north event = %q, want %q", event.Type, fleet.EventStatusChanged)
	}
	expectNoEvent(t, southConn)
}

func TestWebSocket_SubscribeAuthorization(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	owner := env.seedUser(t, "owner@example.com", auth.RoleRegOwner, "")
	owned := env.seedRegulator(t, "SN-OWN", "", owner.ID)
	fleetReg := env.seedRegulator(t, "SN-FLT", f.ID, "")

	conn := dialWS(t, env, env.login(t, "owner@example.com").AccessToken)

	// Owners join nothing automatically.
	connected := readEvent(t, conn)
	payload, _ := connected.Payload.(map[string]any) //nolint:errcheck // shape asserted below
	if channels, ok := payload["channels"].([]any); ok && len(channels) != 0 {
		t.Fatalf("auto channels = %v, want none", channels)
	}

	// Subscribing to an owned unit succeeds.
	sendMessage(t, conn, WSTypeSubscribe, WSChannelPayload{Channel: fleet.RegulatorChannel(owned.ID)})
	if event := readEvent(t, conn); event.Type != WSTypeSubscribed {
		t.Fatalf("event = %q, want %q", event.Type, WSTypeSubscribed)
	}

	// A unit in someone else's fleet is denied, but the connection
	// survives the denial.
	sendMessage(t, conn, WSTypeSubscribe, WSChannelPayload{Channel: fleet.RegulatorChannel(fleetReg.ID)})
	if event := readEvent(t, conn); event.Type != WSTypeError {
		t.Fatalf("event = %q, want %q", event.Type, WSTypeError)
	}
	sendMessage(t, conn, WSTypeSubscribe, WSChannelPayload{Channel: fleet.FleetChannel(f.ID)})
	if event := readEvent(t, conn); event.Type != WSTypeError {
		t.Fatalf("event = %q, want %q", event.Type, WSTypeError)
	}

	sendMessage(t, conn, WSTypePing, nil)
	if event := readEvent(t, conn); event.Type != WSTypePong {
		t.Errorf("event = %q, want %q", event.Type, WSTypePong)
	}

	// The owned-unit subscription delivers.
	env.server.hub.Broadcast("telemetry_received",
		map[string]string{"regulator_id": owned.ID}, fleet.RegulatorChannel(owned.ID))
	if event := readEvent(t, conn); event.Type != "telemetry_received" {
		t.Errorf("event = %q, want telemetry_received", event.Type)
	}
}

func TestWebSocket_UnsubscribeStopsDelivery(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	env.seedUser(t, "renter@example.com", auth.RoleFleetUser, f.ID)

	conn := dialWS(t, env, env.login(t, "renter@example.com").AccessToken)
	readEvent(t, conn)

	channel := fleet.FleetChannel(f.ID)
	sendMessage(t, conn, WSTypeUnsubscribe, WSChannelPayload{Channel: channel})
	if event := readEvent(t, conn); event.Type != WSTypeUnsubscribed {
		t.Fatalf("event = %q, want %q", event.Type, WSTypeUnsubscribed)
	}

	env.server.hub.Broadcast(fleet.EventStatusChanged, nil, channel)
	expectNoEvent(t, conn)
}

func TestWebSocket_DisconnectUnwindsSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	env.seedUser(t, "renter@example.com", auth.RoleFleetUser, f.ID)

	conn := dialWS(t, env, env.login(t, "renter@example.com").AccessToken)
	readEvent(t, conn)

	hub := env.server.hub
	channel := fleet.FleetChannel(f.ID)
	if got := hub.SubscriberCount(channel); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("clients = %d, want 1", got)
	}

	conn.Close()

	// No residue: the id must leave both the channel set and the client map.
	waitFor(t, "subscription unwind", func() bool {
		return hub.SubscriberCount(channel) == 0 && hub.ClientCount() == 0
	})
}

func TestHub_ProbeClosesSilentConnections(t *testing.T) {
	env := newTestEnv(t)
	f := env.seedFleet(t, "North")
	env.seedUser(t, "renter@example.com", auth.RoleFleetUser, f.ID)

	conn := dialWS(t, env, env.login(t, "renter@example.com").AccessToken)
	readEvent(t, conn)

	hub := env.server.hub

	// First pass arms the flag, second pass reaps the silent connection.
	hub.probe()
	hub.probe()

	waitFor(t, "probe reap", func() bool {
		return hub.ClientCount() == 0 && hub.SubscriberCount(fleet.FleetChannel(f.ID)) == 0
	})

	//nolint:errcheck // Best-effort deadline in tests
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the silent connection to be closed")
	}
}

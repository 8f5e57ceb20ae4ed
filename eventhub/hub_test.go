package eventhub

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumie-health/ringlink/ble"
	"github.com/lumie-health/ringlink/ring"
)

func dial(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial: %v", err)
	}
	waitForClients(t, hub, 1)
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func read(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(time.Second))
	var msg map[string]interface{}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestBroadcastEvents(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dial(t, hub)
	defer cleanup()

	hub.ScanFound(ble.Peripheral{ID: "AA:BB", Name: "JCRing-01", RSSI: -52})
	msg := read(t, conn)
	if msg["type"] != TypeScanFound {
		t.Errorf("type = %v", msg["type"])
	}
	payload := msg["payload"].(map[string]interface{})
	if payload["device_id"] != "AA:BB" || payload["rssi"] != float64(-52) {
		t.Errorf("payload = %v", payload)
	}

	hub.ScanTimeout()
	if msg := read(t, conn); msg["type"] != TypeScanTimeout {
		t.Errorf("type = %v", msg["type"])
	}

	hub.State(ring.StateHandshaking)
	msg = read(t, conn)
	if payload := msg["payload"].(map[string]interface{}); payload["state"] != "handshaking" {
		t.Errorf("state payload = %v", payload)
	}

	pct := 87
	hub.Paired(&ring.PairedDeviceInfo{DeviceID: "AA:BB", DisplayName: "JCRing-01", ConnectionState: ring.Connected, BatteryPercent: &pct})
	msg = read(t, conn)
	payload = msg["payload"].(map[string]interface{})
	if msg["type"] != TypePaired || payload["battery_percent"] != float64(87) {
		t.Errorf("paired = %v", msg)
	}
	if _, ok := payload["firmware_version"]; ok {
		t.Error("unset firmware version was serialized")
	}

	hub.PairFailed("AA:BB", &ring.ProtocolMismatchError{DeviceID: "AA:BB", Missing: "service fff0"})
	msg = read(t, conn)
	if payload := msg["payload"].(map[string]interface{}); payload["reason"] != ring.ReasonWrongDevice {
		t.Errorf("pair_failed payload = %v", payload)
	}
}

func TestClosedClientIsRemoved(t *testing.T) {
	hub := NewHub()
	conn, cleanup := dial(t, hub)
	defer cleanup()

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting with no clients is a no-op.
	hub.PairFailed("AA:BB", errors.New("boom"))
}

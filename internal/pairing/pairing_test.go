package pairing

import (
	"encoding/json"
	"testing"
)

func TestBuildJSONRoundTrip(t *testing.T) {
	p := Build("192.168.1.20", 8443, "ab:cd:ef", "deadbeef")

	data, err := p.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got["ip"] != "192.168.1.20" {
		t.Fatalf("unexpected ip: %v", got["ip"])
	}
	if got["port"].(float64) != 8443 {
		t.Fatalf("unexpected port: %v", got["port"])
	}
	if got["fingerprint"] != "ab:cd:ef" {
		t.Fatalf("unexpected fingerprint: %v", got["fingerprint"])
	}
	if got["token"] != "deadbeef" {
		t.Fatalf("unexpected token: %v", got["token"])
	}
	if got["protocol_version"].(float64) != float64(ProtocolVersion) {
		t.Fatalf("unexpected protocol_version: %v", got["protocol_version"])
	}
}

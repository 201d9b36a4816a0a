// Package pairing builds the JSON payload an endpoint hands to an external
// QR renderer or browser so a new client can dial in. Rendering the code
// itself stays outside this repo's scope; this package only produces the
// data it needs.
package pairing

import "encoding/json"

// ProtocolVersion is the wire protocol version advertised to new clients.
const ProtocolVersion = 1

// Payload is the out-of-band blob a client scans or pastes to pair.
type Payload struct {
	IP              string `json:"ip"`
	Port            int    `json:"port"`
	Fingerprint     string `json:"fingerprint"`
	Token           string `json:"token"`
	ProtocolVersion uint32 `json:"protocol_version"`
}

// Build assembles a Payload from the endpoint's bound address, certificate
// fingerprint, and a freshly issued pairing token.
func Build(ip string, port int, fingerprint, token string) Payload {
	return Payload{
		IP:              ip,
		Port:            port,
		Fingerprint:     fingerprint,
		Token:           token,
		ProtocolVersion: ProtocolVersion,
	}
}

// JSON marshals the payload for embedding in a QR code or a pairing URL.
func (p Payload) JSON() ([]byte, error) {
	return json.Marshal(p)
}

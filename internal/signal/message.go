package signal

// Type discriminates the signaling message variants.
type Type string

const (
	TypeSDP        Type = "sdp"
	TypeICE        Type = "ice"
	TypeHostChange Type = "host-change"
	TypeKick       Type = "kick"
)

// SDP carries a session description offer or answer.
type SDP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICE carries a single ICE candidate. SDPMid and SDPMLineIndex are
// nullable on the wire and stay pointers here.
type ICE struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid"`
	SDPMLineIndex *int    `json:"sdpMLineIndex"`
}

// Message is the tagged union exchanged between peers in a room.
// Only the fields belonging to the variant named by Type are set;
// the rest are zero and omitted when marshaled.
type Message struct {
	Type      Type   `json:"type"`
	SenderID  string `json:"senderId"`
	Timestamp int64  `json:"timestamp"` // epoch millis, filled at validation if absent

	// sdp, ice, kick
	TargetID string `json:"targetId,omitempty"`
	// sdp
	SDP *SDP `json:"sdp,omitempty"`
	// ice
	ICE *ICE `json:"ice,omitempty"`
	// host-change
	NewHostID string `json:"newHostId,omitempty"`
	// kick, optional
	Reason string `json:"reason,omitempty"`
}

// Envelope is the broker-side wrapper around a Message. The origin
// tag is private to the relay and stripped before local delivery.
type Envelope struct {
	Message
	OriginClientID string `json:"_originClientId,omitempty"`
}

package contextnet

import (
	"github.com/fxamacker/cbor/v2"
)

// Envelope kinds exchanged with the gateway.
const (
	KindHello = "hello" // announce / keepalive, also sent once on connect
	KindAck   = "ack"   // gateway accepted the node
	KindData  = "data"  // application payload
	KindBye   = "bye"   // orderly shutdown from either side
)

// Envelope is one datagram on the wire.
type Envelope struct {
	Kind      string `cbor:"k"`
	Sender    string `cbor:"s"`
	Recipient string `cbor:"r,omitempty"`
	Content   string `cbor:"c,omitempty"`
}

// encMode uses Core Deterministic Encoding so equal envelopes produce equal bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("contextnet: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("contextnet: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes an envelope.
func Marshal(e Envelope) ([]byte, error) {
	return encMode.Marshal(e)
}

// Unmarshal decodes a datagram into an envelope.
func Unmarshal(data []byte) (Envelope, error) {
	var e Envelope
	err := decMode.Unmarshal(data, &e)
	return e, err
}

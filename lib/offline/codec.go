package offline

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/go-i2p/go-stanzarouter/lib/stanza"
)

// Queued stanzas are persisted as deterministic CBOR. IDs travel as text
// strings through their TextMarshaler implementation, times as RFC 3339
// strings with nanosecond precision.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("offline: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("offline: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeTimed(ts stanza.TimedStanza) ([]byte, error) {
	return encMode.Marshal(ts)
}

func decodeTimed(data []byte) (stanza.TimedStanza, error) {
	var ts stanza.TimedStanza
	err := decMode.Unmarshal(data, &ts)
	return ts, err
}

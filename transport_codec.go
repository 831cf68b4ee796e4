package ttg

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ttg-go/ttg/telemetry"
)

// encodeKey gob-encodes a key for the wire; the key marshalling scheme
// itself (gob, over some other wire codec) is left to the implementation,
// so long as it round-trips any comparable key type.
func encodeKey[K comparable](key K) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&key); err != nil {
		return nil, fmt.Errorf("ttg: encode key: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeKey[K comparable](b []byte) (K, error) {
	var key K
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&key); err != nil {
		return key, fmt.Errorf("%w: decode key: %v", ErrWireCorruption, err)
	}
	return key, nil
}

// sendRemote serialises (key, dc.Payload()) with the runtime's registered
// ValueDescriptor and hands it to the Transport for delivery to rank. It
// is a free generic function, not a Runtime method, because Runtime is
// deliberately non-generic while the key type varies per TT.
func sendRemote[K comparable](rt *Runtime, ttID string, slot int, rank int, key K, dc *DataCopy) error {
	if rt.transport == nil {
		return fmt.Errorf("%w: no transport configured", ErrUnknownPeer)
	}

	keyBytes, err := encodeKey(key)
	if err != nil {
		return err
	}
	desc := rt.descriptorFor(ttID, slot, dc.Payload())
	header, err := desc.PackHeader(dc.Payload())
	if err != nil {
		return fmt.Errorf("ttg: pack header: %w", err)
	}
	payload, err := desc.PackPayload(dc.Payload())
	if err != nil {
		return fmt.Errorf("ttg: pack payload: %w", err)
	}
	if err := rt.transport.SendRemote(ttID, slot, rank, keyBytes, header, payload); err != nil {
		return err
	}
	telemetry.TransportSend(rt.ctx(), ttID, slot, rank, len(payload))
	return nil
}

// registerRecv installs the Transport-facing handler for tt: it decodes a
// remote message back into a DataCopy and re-enters tt's activation path
// exactly as a local delivery would. A moved-in remote value always
// arrives as a Move slot — it was freshly deserialised and is exclusively
// owned by this rank.
func registerRecv[K comparable](rt *Runtime, tt *TT[K]) {
	if rt.transport == nil {
		return
	}
	rt.transport.RegisterRecv(tt.id, func(slot int, keyBytes, header, payload []byte) error {
		key, err := decodeKey[K](keyBytes)
		if err != nil {
			return err
		}
		desc := rt.descriptorFor(tt.id, slot, nil)
		info, err := desc.UnpackHeader(header)
		if err != nil {
			return fmt.Errorf("ttg: unpack header: %w", err)
		}
		value, err := desc.UnpackPayload(info, payload)
		if err != nil {
			return fmt.Errorf("ttg: unpack payload: %w", err)
		}
		dc := NewDataCopy(value)
		return tt.onDeliverChecked(slot, key, true, dc)
	})
}

package app

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"msgledger/internal/codec"
	"msgledger/internal/ledger"
)

// eventView is the exported form of an event, with keys and addresses in hex.
type eventView struct {
	Seq       int64          `yaml:"seq"`
	ID        string         `yaml:"id"`
	Kind      string         `yaml:"kind"`
	Address   string         `yaml:"address"`
	Timestamp string         `yaml:"timestamp"`
	Payload   map[string]any `yaml:"payload"`
}

func newEventView(ev *ledger.Event) (*eventView, error) {
	decoded, err := ev.Decode()
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	switch p := decoded.(type) {
	case *ledger.MessagingKeyRegistered:
		payload = map[string]any{
			"owner":          p.Owner.String(),
			"encryption_key": p.EncryptionKey.String(),
			"timestamp":      p.Timestamp,
		}
	case *ledger.MessagingKeyRevoked:
		payload = map[string]any{
			"owner":     p.Owner.String(),
			"timestamp": p.Timestamp,
		}
	case *ledger.MessagePosted:
		payload = map[string]any{
			"sender":    p.Sender.String(),
			"recipient": p.Recipient.String(),
			"locator":   p.Locator,
			"sequence":  p.Sequence,
			"timestamp": p.Timestamp,
		}
	}

	return &eventView{
		Seq:       ev.Seq,
		ID:        ev.ID,
		Kind:      string(ev.Kind),
		Address:   ev.Address.String(),
		Timestamp: time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339),
		Payload:   payload,
	}, nil
}

// WriteEventsText writes events one per line: seq, kind, short address,
// time and id, tab separated.
func WriteEventsText(w io.Writer, events []*ledger.Event) error {
	for _, ev := range events {
		_, err := fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			ev.Seq,
			ev.Kind,
			ev.Address.String()[:16],
			time.Unix(ev.Timestamp, 0).UTC().Format(time.RFC3339),
			ev.ID,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// WriteEventsYAML writes events as a YAML sequence with decoded payloads.
func WriteEventsYAML(w io.Writer, events []*ledger.Event) error {
	views := make([]*eventView, 0, len(events))
	for _, ev := range events {
		v, err := newEventView(ev)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		views = append(views, v)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(views); err != nil {
		return fmt.Errorf("encoding events: %w", err)
	}
	return enc.Close()
}

// WriteEventsDiag writes each event's raw payload in CBOR diagnostic
// notation, for inspecting exactly what external readers decode.
func WriteEventsDiag(w io.Writer, events []*ledger.Event) error {
	for _, ev := range events {
		diag, err := codec.Diagnose(ev.Payload)
		if err != nil {
			return fmt.Errorf("event %d: %w", ev.Seq, err)
		}
		if _, err := fmt.Fprintf(w, "%d\t%s\t%s\n", ev.Seq, ev.Kind, diag); err != nil {
			return err
		}
	}
	return nil
}

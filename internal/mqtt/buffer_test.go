package mqtt

import "testing"

func fill(o *outbox, from, to int) (firstDrops int) {
	for i := from; i < to; i++ {
		if o.add(bufferedMsg{topic: "t", payload: []byte{byte(i)}}) {
			firstDrops++
		}
	}
	return firstDrops
}

func payloads(msgs []bufferedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestOutboxDrain(t *testing.T) {
	tests := []struct {
		name        string
		limit       int
		added       int
		want        []byte
		wantDropped int
	}{
		{"empty", 4, 0, nil, 0},
		{"partial", 4, 3, []byte{0, 1, 2}, 0},
		{"full", 4, 4, []byte{0, 1, 2, 3}, 0},
		{"overflow keeps newest", 4, 7, []byte{3, 4, 5, 6}, 3},
		{"zero limit clamps to one", 0, 3, []byte{2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := newOutbox(tt.limit)
			fill(o, 0, tt.added)
			got, dropped := o.drain()
			if string(payloads(got)) != string(tt.want) {
				t.Errorf("payloads: got %v, want %v", payloads(got), tt.want)
			}
			if dropped != tt.wantDropped {
				t.Errorf("dropped: got %d, want %d", dropped, tt.wantDropped)
			}
			if o.len() != 0 {
				t.Errorf("len after drain: got %d", o.len())
			}
		})
	}
}

func TestOutboxReportsFirstDropOnly(t *testing.T) {
	o := newOutbox(2)
	if n := fill(o, 0, 5); n != 1 {
		t.Errorf("first overflow: got %d drop reports, want 1", n)
	}
	o.drain()
	if n := fill(o, 0, 3); n != 1 {
		t.Errorf("after drain: got %d drop reports, want 1", n)
	}
}

func TestOutboxDrainDoesNotAlias(t *testing.T) {
	o := newOutbox(5)
	fill(o, 0, 3)
	first, _ := o.drain()
	fill(o, 10, 14)
	if got := payloads(first); string(got) != string([]byte{0, 1, 2}) {
		t.Errorf("first drain changed: got %v", got)
	}
	if got, _ := o.drain(); string(payloads(got)) != string([]byte{10, 11, 12, 13}) {
		t.Errorf("second cycle: got %v", payloads(got))
	}
}

func TestOutboxPreservesFields(t *testing.T) {
	o := newOutbox(10)
	o.add(bufferedMsg{topic: "energy/test", payload: []byte(`{"test":true}`), qos: 1, retained: true})

	got, _ := o.drain()
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d", len(got))
	}
	m := got[0]
	if m.topic != "energy/test" || string(m.payload) != `{"test":true}` || m.qos != 1 || !m.retained {
		t.Errorf("got %+v", m)
	}
}

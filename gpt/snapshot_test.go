package gpt

import "testing"

func TestSnapshotRingEvictsOldest(t *testing.T) {
	r := NewSnapshotRing(3)
	for _, name := range []string{"a", "b", "c", "d"} {
		r.Add(Attachment{MimeType: "image/jpeg", Data: []byte(name)})
	}
	if r.Len() != 3 {
		t.Fatalf("len = %d, want 3", r.Len())
	}
	all := r.All()
	if string(all[0].Data) != "b" || string(all[2].Data) != "d" {
		t.Errorf("ring order = %q..%q", all[0].Data, all[2].Data)
	}
	latest, ok := r.Latest()
	if !ok || string(latest.Data) != "d" {
		t.Errorf("latest = %q, ok=%v", latest.Data, ok)
	}
}

func TestSnapshotRingClampsSize(t *testing.T) {
	r := NewSnapshotRing(0)
	r.Add(Attachment{Data: []byte("a")})
	r.Add(Attachment{Data: []byte("b")})
	if r.Len() != 1 {
		t.Errorf("len = %d, want 1", r.Len())
	}
}

func TestSnapshotRingEmpty(t *testing.T) {
	r := NewSnapshotRing(2)
	if _, ok := r.Latest(); ok {
		t.Error("empty ring reported a snapshot")
	}
}

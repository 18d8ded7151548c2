package discovery

import "testing"

func TestHandleChunkResolvesAddressAndChannels(t *testing.T) {
	cat := NewCatalog()
	cat.HandleChunk("$051047074700...$2E0000")
	cat.HandleChunk("$052247074700...$1E0000")

	snap := cat.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one resolved descriptor, got %d: %+v", len(snap), snap)
	}
	if snap[0].Address != "4707" {
		t.Fatalf("expected address 4707, got %q", snap[0].Address)
	}
	if snap[0].Channels != 6 {
		t.Fatalf("expected channel count 6, got %d", snap[0].Channels)
	}
}

func TestCBORRoundTrip(t *testing.T) {
	cat := NewCatalog()
	cat.HandleChunk("$051047074700...$2E0000")

	data, err := cat.MarshalCBOR()
	if err != nil {
		t.Fatalf("MarshalCBOR: %v", err)
	}

	restored := NewCatalog()
	if err := restored.UnmarshalCBOR(data); err != nil {
		t.Fatalf("UnmarshalCBOR: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap) != 1 || snap[0].Address != "4707" {
		t.Fatalf("unexpected restored snapshot: %+v", snap)
	}
}

func TestUnrelatedLinesAreIgnored(t *testing.T) {
	cat := NewCatalog()
	cat.HandleChunk("#N4ECB1A")
	cat.HandleChunk("$1E0747FF0000000000CCAEA3")

	if len(cat.Snapshot()) != 0 {
		t.Fatalf("expected no entries from non-discovery lines")
	}
}

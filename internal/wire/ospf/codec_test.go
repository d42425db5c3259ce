package ospf

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHelloRoundTrip(t *testing.T) {
	in := Hello{
		NetworkMask:        0xFFFFFFFC,
		HelloInterval:      10,
		Options:            0x02,
		RouterPriority:     1,
		RouterDeadInterval: 40,
		DesignatedRouter:   0x01010101,
		BackupDesignatedRouter: 0x02020202,
		Neighbors:          []uint32{0x02020202, 0x03030303},
	}
	body := EncodeHello(in)
	out, err := DecodeHello(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHeaderRoundTripAndChecksum(t *testing.T) {
	h := Header{
		Version:  2,
		Type:     TypeHello,
		RouterID: 0x01010101,
		AreaID:   0,
		AuType:   0,
	}
	body := EncodeHello(Hello{NetworkMask: 0xFFFFFF00, HelloInterval: 10, RouterDeadInterval: 40})
	full := EncodeHeader(h, body)

	if !VerifyChecksum(full) {
		t.Fatal("expected checksum to verify")
	}

	gotHeader, gotBody, err := DecodeHeader(full)
	if err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if gotHeader.RouterID != h.RouterID || gotHeader.Type != h.Type {
		t.Errorf("header mismatch: %+v", gotHeader)
	}
	if len(gotBody) != len(body) {
		t.Errorf("body length mismatch: got %d want %d", len(gotBody), len(body))
	}

	// Corrupting a byte must break the checksum.
	full[30] ^= 0xFF
	if VerifyChecksum(full) {
		t.Fatal("expected checksum to fail after corruption")
	}
}

func TestLSARoundTripAndChecksum(t *testing.T) {
	body := EncodeRouterLSABody(RouterLSABody{
		Bits: 0,
		Links: []RouterLink{
			{ID: 0x02020202, Data: 0x0A000001, LinkType: 1, Metric: 10},
		},
	})
	lsa := LSA{
		Header: LSHeader{
			Age:               0,
			Type:              RouterLSA,
			LinkStateID:       0x01010101,
			AdvertisingRouter: 0x01010101,
			SequenceNumber:    -2147483647, // RFC 2328 initial sequence 0x80000001
		},
		Body: body,
	}
	encoded := lsa.Encode()
	decoded, n, err := DecodeLSA(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("consumed %d, want %d", n, len(encoded))
	}
	if decoded.Header.SequenceNumber != lsa.Header.SequenceNumber {
		t.Errorf("sequence mismatch: %d", decoded.Header.SequenceNumber)
	}
	gotBody, err := DecodeRouterLSABody(decoded.Body)
	if err != nil {
		t.Fatalf("decode router body: %v", err)
	}
	if len(gotBody.Links) != 1 || gotBody.Links[0].Metric != 10 {
		t.Errorf("unexpected body: %+v", gotBody)
	}

	// Age is excluded from the checksum (spec.md §4.1): bumping it alone
	// must not invalidate the LSA.
	aged := lsa
	aged.Header.Age = 100
	_, _, err = DecodeLSA(aged.Encode())
	if err != nil {
		t.Fatalf("aged LSA should still checksum-verify: %v", err)
	}
}

func TestLSUAndLSAckRoundTrip(t *testing.T) {
	lsa := LSA{
		Header: LSHeader{Type: NetworkLSA, LinkStateID: 0x0A000001, AdvertisingRouter: 0x02020202, SequenceNumber: 1},
		Body:   EncodeNetworkLSABody(NetworkLSABody{NetworkMask: 0xFFFFFF00, AttachedRouters: []uint32{1, 2}}),
	}
	u := LSU{LSAs: []LSA{lsa}}
	body := EncodeLSU(u)
	out, err := DecodeLSU(body)
	if err != nil {
		t.Fatalf("decode LSU: %v", err)
	}
	if len(out.LSAs) != 1 || out.LSAs[0].Header.LinkStateID != lsa.Header.LinkStateID {
		t.Errorf("unexpected LSU: %+v", out)
	}

	ack := LSAck{Headers: []LSHeader{lsa.Header}}
	ackBody := EncodeLSAck(ack)
	outAck, err := DecodeLSAckBody(ackBody)
	if err != nil {
		t.Fatalf("decode LSAck: %v", err)
	}
	if len(outAck.Headers) != 1 || outAck.Headers[0].LinkStateID != lsa.Header.LinkStateID {
		t.Errorf("unexpected LSAck: %+v", outAck)
	}
}

func TestCompareFreshness(t *testing.T) {
	base := LSHeader{SequenceNumber: 5, Checksum: 100, Age: 10}
	higherSeq := base
	higherSeq.SequenceNumber = 6
	if CompareFreshness(higherSeq, base) <= 0 {
		t.Error("higher sequence should be fresher")
	}

	higherChecksum := base
	higherChecksum.Checksum = 200
	if CompareFreshness(higherChecksum, base) <= 0 {
		t.Error("higher checksum should be fresher on sequence tie")
	}

	smallerAge := base
	smallerAge.Age = 1
	if CompareFreshness(smallerAge, base) <= 0 {
		t.Error("smaller age should be fresher on sequence+checksum tie")
	}

	maxAge := base
	maxAge.Age = MaxAge
	fresh := base
	fresh.SequenceNumber = 1000
	if CompareFreshness(maxAge, fresh) <= 0 {
		t.Error("MaxAge instance must always win regardless of sequence")
	}
}

package exchange

import "testing"

func TestHMACSHA256Hex(t *testing.T) {
	signer := HMACSHA256Hex{Secret: []byte("key")}
	got := signer.Sign("The quick brown fox jumps over the lazy dog")
	want := "f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8"
	if got != want {
		t.Fatalf("HMAC mismatch. Expected %s, got %s", want, got)
	}
}

func TestHMACSHA256UpperHex(t *testing.T) {
	signer := HMACSHA256UpperHex{Secret: []byte("key")}
	got := signer.Sign("The quick brown fox jumps over the lazy dog")
	want := "F7BC83F430538424B13298E6AA6FB143EF4D59A14946175997479DBC2D1A3CD8"
	if got != want {
		t.Fatalf("HMAC mismatch. Expected %s, got %s", want, got)
	}
}

func TestKrakenSigner(t *testing.T) {
	signer, err := NewKrakenSigner("kQH5HW/8p1uGOVjbgWA7FunAmGO8lsSUXNsu3eow76sz84Q18fWxnyRzBHCd3pd5nE9qa99HAZtuZuj6F1huXg==")
	if err != nil {
		t.Fatalf("NewKrakenSigner: %v", err)
	}
	nonce := "1616492376594"
	body := "nonce=1616492376594&ordertype=limit&pair=XBTUSD&price=37500&type=buy&volume=1.25"
	got := signer.SignRequest("/0/private/AddOrder", nonce, body)
	want := "4/dpxb3iT4tp/ZCVEwSnEsLxx0bqyhLpdfOpc6fn7OR8+UClSV5n9E6aSS8MPtnRfp32bAb0nmbRn6H8ndwLUQ=="
	if got != want {
		t.Fatalf("API-Sign mismatch. Expected %s, got %s", want, got)
	}
}

func TestKrakenSignerRejectsBadSecret(t *testing.T) {
	if _, err := NewKrakenSigner("not base64!"); err == nil {
		t.Fatal("expected error for invalid secret")
	}
}

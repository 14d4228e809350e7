package secure

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	serial := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	header := []byte{0x06, 0x10, 0x09, 0x50, 0x00, 0x20}
	payload := []byte("group value write 42")

	ciphertext, mac, err := Wrap(key, 4, serial, 0, header, 7, payload)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unwrap(key, 4, serial, 0, header, 7, ciphertext, mac)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: %q != %q", got, payload)
	}
}

func TestUnwrapRejectsTamperedMAC(t *testing.T) {
	key := [16]byte{1}
	serial := [6]byte{1, 2, 3, 4, 5, 6}
	header := []byte{0x06, 0x10, 0x09, 0x50, 0x00, 0x20}
	ciphertext, mac, err := Wrap(key, 1, serial, 0, header, 1, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	mac[0] ^= 0xFF
	if _, err := Unwrap(key, 1, serial, 0, header, 1, ciphertext, mac); err == nil {
		t.Fatal("expected MAC mismatch error")
	}
}

func TestHashUserPasswordMatchesPBKDF2(t *testing.T) {
	want := pbkdf2.Key([]byte("testpass"), []byte(userPasswordSalt), pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
	got := HashUserPassword("testpass")
	if !bytes.Equal(got[:], want) {
		t.Fatalf("hash mismatch: %x != %x", got, want)
	}
}

func TestSanitizeReplacesNonPrintable(t *testing.T) {
	got := sanitize("abc\x01\x7Fxyz")
	want := "abc??xyz"
	if string(got) != want {
		t.Fatalf("sanitize = %q, want %q", got, want)
	}
}

func TestX25519RoundTrip(t *testing.T) {
	privA, pubA, err := X25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	privB, pubB, err := X25519KeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sharedA, err := X25519Shared(privA, pubB)
	if err != nil {
		t.Fatal(err)
	}
	sharedB, err := X25519Shared(privB, pubA)
	if err != nil {
		t.Fatal(err)
	}
	if sharedA != sharedB {
		t.Fatal("shared secrets disagree")
	}
}

func TestGroupTimerFollowerTransition(t *testing.T) {
	sent := make(chan []byte, 8)
	gt := NewGroupTimer([16]byte{1}, [6]byte{1, 2, 3, 4, 5, 6}, 1000*time.Millisecond, func(f []byte) error {
		sent <- f
		return nil
	})
	defer gt.Close()

	local := gt.Local()
	if !gt.OnDataFrame(local + 50) {
		t.Fatal("expected frame ahead of local timer to be accepted")
	}
	if gt.OnDataFrame(0) {
		t.Fatal("expected stale frame to be rejected")
	}
}

// TestGroupTimerFollowerNotifiesAfterRoleTransition guards against the loop
// goroutine staying blocked on a timer that a role transition already
// stopped and replaced: the follower update-notify must still fire.
func TestGroupTimerFollowerNotifiesAfterRoleTransition(t *testing.T) {
	orig := keeperNotifyMin
	keeperNotifyMin = 20 * time.Millisecond
	defer func() { keeperNotifyMin = orig }()

	sent := make(chan []byte, 8)
	gt := NewGroupTimer([16]byte{1}, [6]byte{1, 2, 3, 4, 5, 6}, 100*time.Millisecond, func(f []byte) error {
		sent <- f
		return nil
	})
	defer gt.Close()

	gt.Join()
	select {
	case <-sent: // the initial time-keeper announce
	case <-time.After(time.Second):
		t.Fatal("expected initial keeper announce")
	}

	local := gt.Local()
	gt.OnGroupSync(local) // remote == local flips this node to time-follower

	gt.mu.Lock()
	role := gt.role
	gt.mu.Unlock()
	if role != RoleTimeFollower {
		t.Fatalf("role = %v, want time-follower", role)
	}

	select {
	case <-sent: // the follower's one-shot update-notify
	case <-time.After(time.Second):
		t.Fatal("follower update-notify never fired: loop is stuck on the stopped keeper timer")
	}
}

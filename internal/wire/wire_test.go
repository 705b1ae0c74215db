package wire

import "testing"

func TestCheckVersionAccepted(t *testing.T) {
	if err := CheckVersion(ProtocolVersion); err != nil {
		t.Fatalf("current protocol version should be accepted: %v", err)
	}
}

func TestCheckVersionRejectsMismatch(t *testing.T) {
	if err := CheckVersion(ProtocolVersion + 1); err != ErrUnsupportedVersion {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

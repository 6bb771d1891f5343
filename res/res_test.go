package res

import (
	"testing"

	"bounds"
)

func TestAdmissionCeiling(t *testing.T) {
	SetCeiling(2)
	defer SetCeiling(1 << 20)

	if !Resadd_noblock(bounds.B_ASPACE_T_K2USER_INNER) {
		t.Fatal("first reservation should succeed")
	}
	if !Resadd_noblock(bounds.B_ASPACE_T_K2USER_INNER) {
		t.Fatal("second reservation should succeed")
	}
	if Resadd_noblock(bounds.B_ASPACE_T_K2USER_INNER) {
		t.Fatal("third reservation should be refused")
	}
	Resend(bounds.B_ASPACE_T_K2USER_INNER)
	Resend(bounds.B_ASPACE_T_K2USER_INNER)
	if Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", Outstanding())
	}
}

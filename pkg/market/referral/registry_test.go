package referral

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000a11")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	smith = common.HexToAddress("0x0000000000000000000000000000000000000577")
	carol = common.HexToAddress("0x0000000000000000000000000000000000000ca0")
)

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name     string
		caller   common.Address
		referrer common.Address
		wantErr  error
	}{
		{name: "zero referrer", caller: bob, referrer: common.Address{}, wantErr: ErrInvalidReferral},
		{name: "zero caller", caller: common.Address{}, referrer: bob, wantErr: ErrInvalidReferral},
		{name: "self referral", caller: bob, referrer: bob, wantErr: ErrInvalidReferral},
		{name: "ok", caller: bob, referrer: smith, wantErr: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.caller, tt.referrer)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Register() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterIsImmutable(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(alice, bob); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(alice, smith); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second register = %v, want ErrAlreadyRegistered", err)
	}
	// The original link survives the rejected attempt.
	if ref, _ := r.ReferrerOf(alice); ref != bob {
		t.Fatalf("referrer = %s, want %s", ref.Hex(), bob.Hex())
	}
}

func TestRefereeListCap(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(bob, smith); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(alice, smith); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(carol, smith); !errors.Is(err, ErrReferrerListFull) {
		t.Fatalf("third referee = %v, want ErrReferrerListFull", err)
	}

	list := r.RefereesOf(smith)
	if len(list) != 2 || list[0] != bob || list[1] != alice {
		t.Fatalf("referees = %v, want [bob alice]", list)
	}
}

func TestChainOf(t *testing.T) {
	r := NewRegistry()
	// smith -> alice -> bob
	if err := r.Register(alice, bob); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(smith, alice); err != nil {
		t.Fatal(err)
	}

	if got := r.ChainOf(smith); len(got) != 2 || got[0] != alice || got[1] != bob {
		t.Fatalf("ChainOf(smith) = %v, want [alice bob]", got)
	}
	if got := r.ChainOf(alice); len(got) != 1 || got[0] != bob {
		t.Fatalf("ChainOf(alice) = %v, want [bob]", got)
	}
	if got := r.ChainOf(bob); len(got) != 0 {
		t.Fatalf("ChainOf(bob) = %v, want empty", got)
	}
	if got := r.ChainOf(carol); len(got) != 0 {
		t.Fatalf("ChainOf(carol) = %v, want empty", got)
	}
}

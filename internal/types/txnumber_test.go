package types

import "testing"

func TestTxNumberRoundTrip(t *testing.T) {
	cases := []struct {
		height uint32
		index  uint32
	}{
		{0, 0},
		{1, 1},
		{100, 2},
		{833_000, 1234},
		{1<<32 - 1, 0},
		{1<<32 - 1, uint32(MaxTxIndex)},
	}
	for _, tc := range cases {
		n, err := ConstructTxNumber(tc.height, tc.index)
		if err != nil {
			t.Errorf("construct(%d, %d): %v", tc.height, tc.index, err)
			continue
		}
		if got := BlockOfTxNumber(n); got != tc.height {
			t.Errorf("block_of(%d) = %d, want %d", n, got, tc.height)
		}
		if got := IndexOfTxNumber(n); got != tc.index {
			t.Errorf("index_of(%d) = %d, want %d", n, got, tc.index)
		}
	}
}

func TestTxNumberOrder(t *testing.T) {
	a, err := ConstructTxNumber(100, uint32(MaxTxIndex))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ConstructTxNumber(101, 0)
	if err != nil {
		t.Fatal(err)
	}
	if a >= b {
		t.Errorf("numbers do not follow chain order: %d >= %d", a, b)
	}
}

func TestTxNumberIndexBounds(t *testing.T) {
	if _, err := ConstructTxNumber(10, uint32(MaxTxIndex)); err != nil {
		t.Errorf("max index rejected: %v", err)
	}
	if _, err := ConstructTxNumber(10, uint32(MaxTxIndex)+1); err == nil {
		t.Error("index above 24 bits accepted")
	}
}

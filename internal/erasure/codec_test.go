package erasure

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := MustCodec()

	cases := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"one byte", 1},
		{"three bytes", 3},
		{"exact multiple of K", 4096},
		{"non-divisible", 4097},
		{"large", 1 << 20},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			blob := make([]byte, tc.size)
			for i := range blob {
				blob[i] = byte(i * 31)
			}

			shards, err := c.Encode(blob)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if len(shards) != TotalShards {
				t.Fatalf("got %d shards, want %d", len(shards), TotalShards)
			}
			for i := 1; i < len(shards); i++ {
				if len(shards[i]) != len(shards[0]) {
					t.Fatalf("shard %d has size %d, shard 0 has %d", i, len(shards[i]), len(shards[0]))
				}
			}

			indices := make([]int, len(shards))
			for i := range indices {
				indices[i] = i
			}
			got, err := c.Decode(shards, indices, int64(tc.size))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if !bytes.Equal(got, blob) {
				t.Errorf("round trip mismatch: got %d bytes", len(got))
			}
		})
	}
}

// Any K of the M shards must reconstruct, including parity-only-heavy
// subsets.
func TestDecodeFromAnyKShards(t *testing.T) {
	c := MustCodec()
	blob := []byte("the quick brown fox jumps over the lazy dog, twice over")
	shards, err := c.Encode(blob)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	subsets := [][]int{
		{0, 1, 2, 3},       // data only
		{2, 3, 4, 5},       // two data, two parity
		{0, 1, 4, 5},       // first data, all parity
		{1, 2, 3, 4},       // mixed
		{5, 4, 1, 0},       // unordered
		{0, 1, 2, 3, 4, 5}, // more than K
	}
	for _, idx := range subsets {
		subset := make([][]byte, len(idx))
		for i, j := range idx {
			subset[i] = shards[j]
		}
		got, err := c.Decode(subset, idx, int64(len(blob)))
		if err != nil {
			t.Fatalf("Decode(%v): %v", idx, err)
		}
		if !bytes.Equal(got, blob) {
			t.Errorf("Decode(%v) mismatch", idx)
		}
	}
}

func TestDecodeFailures(t *testing.T) {
	c := MustCodec()
	blob := []byte("some payload worth protecting")
	shards, err := c.Encode(blob)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	t.Run("too few shards", func(t *testing.T) {
		if _, err := c.Decode(shards[:3], []int{0, 1, 2}, int64(len(blob))); err == nil {
			t.Error("expected error with 3 shards")
		}
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		if _, err := c.Decode(shards[:4], []int{0, 1, 2}, int64(len(blob))); err == nil {
			t.Error("expected error for 4 shards with 3 indices")
		}
	})

	t.Run("duplicate index", func(t *testing.T) {
		sub := [][]byte{shards[0], shards[0], shards[2], shards[3]}
		if _, err := c.Decode(sub, []int{0, 0, 2, 3}, int64(len(blob))); err == nil {
			t.Error("expected error for duplicate index")
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		if _, err := c.Decode(shards[:4], []int{0, 1, 2, 6}, int64(len(blob))); err == nil {
			t.Error("expected error for index 6")
		}
		if _, err := c.Decode(shards[:4], []int{-1, 1, 2, 3}, int64(len(blob))); err == nil {
			t.Error("expected error for index -1")
		}
	})

	t.Run("negative size", func(t *testing.T) {
		idx := []int{0, 1, 2, 3}
		if _, err := c.Decode(shards[:4], idx, -1); err == nil {
			t.Error("expected error for negative size")
		}
	})
}

func TestDecodeEmptyBlob(t *testing.T) {
	c := MustCodec()
	shards, err := c.Encode(nil)
	if err != nil {
		t.Fatalf("Encode(nil): %v", err)
	}
	got, err := c.Decode(shards[:4], []int{0, 1, 2, 3}, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d bytes for empty blob", len(got))
	}
}

func TestNewCodecRejectsBadGeometry(t *testing.T) {
	for _, geom := range [][2]int{{0, 6}, {4, 4}, {6, 4}, {-1, 6}} {
		if _, err := NewCodec(geom[0], geom[1]); err == nil {
			t.Errorf("NewCodec(%d, %d): expected error", geom[0], geom[1])
		}
	}
}

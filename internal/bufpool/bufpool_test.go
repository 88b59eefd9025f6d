package bufpool

import "testing"

func TestGet_SizeBuckets(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		expectCap int
	}{
		{"256 bucket - exact", 256, 256},
		{"256 bucket - smaller", 10, 256},
		{"4k bucket - smaller", 1000, 4096},
		{"64k bucket - smaller", 5000, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := Get(tt.size)
			if len(buf) != tt.size {
				t.Fatalf("Get(%d) len = %d, want %d", tt.size, len(buf), tt.size)
			}
			if cap(buf) != tt.expectCap {
				t.Fatalf("Get(%d) cap = %d, want %d", tt.size, cap(buf), tt.expectCap)
			}
			Put(buf)
		})
	}
}

func TestGet_TooLargeReturnsNil(t *testing.T) {
	if got := Get(65537); got != nil {
		t.Fatalf("Get(65537) = %v, want nil", got)
	}
}

func TestPut_Reuse(t *testing.T) {
	buf1 := Get(256)
	ptr1 := &buf1[0]
	Put(buf1)

	buf2 := Get(256)
	ptr2 := &buf2[0]
	Put(buf2)

	if ptr1 != ptr2 {
		t.Skip("pool did not reuse the same backing array this run (sync.Pool offers no hard guarantee)")
	}
}

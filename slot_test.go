// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import (
	"sync"
	"testing"
)

func newSlotTexture(t *testing.T, f TextureFactory) Texture {
	t.Helper()
	tex, err := f.NewTexture(NewFramebuffer(1, 1, FormatRGBA8))
	if err != nil {
		t.Fatalf("NewTexture: %v", err)
	}
	return tex
}

func TestTextureSlot_StoreTake(t *testing.T) {
	var s TextureSlot
	f := NewImageTextureFactory()

	if _, ok := s.Take(); ok {
		t.Fatal("empty slot returned a texture")
	}

	a, b := newSlotTexture(t, f), newSlotTexture(t, f)
	if prev := s.Store(a); prev != nil {
		t.Errorf("Store into empty slot replaced %v", prev)
	}
	if prev := s.Store(b); prev != a {
		t.Error("Store should return the unconsumed texture it replaced")
	}
	a.Release()

	if got, ok := s.Peek(); !ok || got != b {
		t.Error("Peek should return the stored texture")
	}
	if got, ok := s.Take(); !ok || got != b {
		t.Error("Take should return the stored texture")
	}
	if _, ok := s.Take(); ok {
		t.Error("a texture can only be taken once")
	}
	b.Release()

	c := newSlotTexture(t, f)
	s.Store(c)
	if got := s.Clear(); got != c {
		t.Error("Clear should return the held texture")
	}
	if _, ok := s.Peek(); ok {
		t.Error("slot not empty after Clear")
	}
	c.Release()
}

// TestTextureSlot_Concurrent checks that every stored texture ends up
// with exactly one owner: the consumer or the producer that replaced it.
func TestTextureSlot_Concurrent(t *testing.T) {
	const n = 1000
	var s TextureSlot
	f := &countingFactory{inner: NewImageTextureFactory()}

	var wg sync.WaitGroup
	var taken int
	wg.Go(func() {
		fb := NewFramebuffer(1, 1, FormatRGBA8)
		for range n {
			tex, err := f.NewTexture(fb)
			if err != nil {
				t.Errorf("NewTexture: %v", err)
				return
			}
			if prev := s.Store(tex); prev != nil {
				prev.Release()
			}
		}
	})
	wg.Go(func() {
		for range n {
			if tex, ok := s.Take(); ok {
				taken++
				tex.Release()
			}
		}
	})
	wg.Wait()
	if tex := s.Clear(); tex != nil {
		tex.Release()
	}

	if f.created.Load() != n || f.released.Load() != n {
		t.Errorf("created %d released %d, want %d each", f.created.Load(), f.released.Load(), n)
	}
	t.Logf("consumer took %d of %d", taken, n)
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import "sync"

// TextureSlot holds the most recently bridged texture until a consumer
// takes it. It is safe for concurrent use.
type TextureSlot struct {
	mu  sync.Mutex
	tex Texture
}

// Store puts t into the slot and returns the unconsumed texture it
// replaced, if any. The caller owns the returned texture.
func (s *TextureSlot) Store(t Texture) Texture {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.tex
	s.tex = t
	return prev
}

// Take removes and returns the texture. The caller owns it.
func (s *TextureSlot) Take() (Texture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tex
	s.tex = nil
	return t, t != nil
}

// Peek returns the texture without removing it. The slot keeps ownership.
func (s *TextureSlot) Peek() (Texture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tex, s.tex != nil
}

// Clear empties the slot and returns the texture it held.
func (s *TextureSlot) Clear() Texture {
	t, _ := s.Take()
	return t
}

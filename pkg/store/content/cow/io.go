package cow

import (
	"context"
	"fmt"
	"math"

	"github.com/marmos91/agentfs/pkg/store/content"
)

// ReadAt reads up to len(p) bytes at offset. Holes and bytes past a block's
// stored length read as zeros. Reads at or past the end return 0.
func (s *Store) ReadAt(ctx context.Context, id content.ContentID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	obj.mu.RLock()
	defer obj.mu.RUnlock()

	if offset >= obj.size || len(p) == 0 {
		return 0, nil
	}

	n := len(p)
	if remaining := obj.size - offset; uint64(n) > remaining {
		n = int(remaining)
	}
	out := p[:n]

	bs := uint64(s.blockSize)
	for done := 0; done < n; {
		pos := offset + uint64(done)
		idx := int(pos / bs)
		within := int(pos % bs)
		chunk := s.blockSize - within
		if chunk > n-done {
			chunk = n - done
		}
		dst := out[done : done+chunk]

		var b *block
		if idx < len(obj.blocks) {
			b = obj.blocks[idx]
		}
		if b == nil {
			clear(dst)
		} else {
			data, err := s.tierStore(b.tier).Get(ctx, b.id)
			if err != nil {
				return done, fmt.Errorf("content %d block %d: %w", id, idx, err)
			}
			copied := 0
			if within < len(data) {
				copied = copy(dst, data[within:])
			}
			clear(dst[copied:])
		}
		done += chunk
	}

	return n, nil
}

// WriteAt writes p at offset. Sealed content is rejected with ErrSealed.
func (s *Store) WriteAt(ctx context.Context, id content.ContentID, p []byte, offset uint64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return 0, err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.sealed {
		return 0, fmt.Errorf("content %d: %w", id, content.ErrSealed)
	}
	return s.writeLocked(ctx, obj, p, offset)
}

// writeLocked performs the block-level copy-on-write. obj.mu must be held
// (or obj must not be visible to other goroutines yet).
func (s *Store) writeLocked(ctx context.Context, obj *object, p []byte, offset uint64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if offset > math.MaxUint64-uint64(len(p)) {
		return 0, fmt.Errorf("offset %d + %d bytes: %w", offset, len(p), content.ErrInvalidOffset)
	}

	bs := uint64(s.blockSize)
	end := offset + uint64(len(p))
	lastIdx := int((end - 1) / bs)
	if lastIdx >= len(obj.blocks) {
		grown := make([]*block, lastIdx+1)
		copy(grown, obj.blocks)
		obj.blocks = grown
	}

	written := 0
	for written < len(p) {
		pos := offset + uint64(written)
		idx := int(pos / bs)
		within := int(pos % bs)
		chunk := s.blockSize - within
		if chunk > len(p)-written {
			chunk = len(p) - written
		}

		if err := s.writeBlock(ctx, obj, idx, within, p[written:written+chunk]); err != nil {
			s.extend(obj, offset+uint64(written))
			return written, err
		}
		written += chunk
	}

	s.extend(obj, end)
	return written, nil
}

func (s *Store) extend(obj *object, end uint64) {
	if end > obj.size {
		obj.size = end
	}
}

// writeBlock writes chunk at within into block idx of obj.
func (s *Store) writeBlock(ctx context.Context, obj *object, idx, within int, chunk []byte) error {
	old := obj.blocks[idx]

	var data []byte
	if old != nil {
		existing, err := s.tierStore(old.tier).Get(ctx, old.id)
		if err != nil {
			return fmt.Errorf("block %d: %w", idx, err)
		}
		data = existing
	}
	if need := within + len(chunk); need > len(data) {
		grown := make([]byte, need)
		copy(grown, data)
		data = grown
	}
	copy(data[within:], chunk)

	// Exclusively owned: update in place.
	if old != nil && old.refs.Load() == 1 {
		return s.rewriteBlock(ctx, old, data)
	}

	nb, err := s.placeBlock(ctx, data)
	if err != nil {
		return err
	}
	obj.blocks[idx] = nb
	if old != nil {
		s.releaseBlocks(ctx, []*block{old})
	}
	return nil
}

// placeBlock stores data as a new block, in the hot tier if the budget
// allows and in the cold tier otherwise.
func (s *Store) placeBlock(ctx context.Context, data []byte) (*block, error) {
	b := &block{
		id:   content.BlockID(s.nextBlock.Add(1)),
		size: len(data),
	}
	b.refs.Store(1)

	if s.reserve(uint64(len(data))) {
		if err := s.hot.Put(ctx, b.id, data); err != nil {
			s.unreserve(uint64(len(data)))
			return nil, fmt.Errorf("memory tier put: %w", err)
		}
		b.tier = tierHot
		return b, nil
	}

	if s.cold == nil {
		return nil, fmt.Errorf("memory budget of %d bytes exhausted and no spill tier: %w", s.maxHot, content.ErrStorageFull)
	}
	if err := s.cold.Put(ctx, b.id, data); err != nil {
		return nil, err
	}
	b.tier = tierCold
	return b, nil
}

// rewriteBlock replaces the bytes of an exclusively owned block, moving it
// to the cold tier if it grows past the hot budget.
func (s *Store) rewriteBlock(ctx context.Context, b *block, data []byte) error {
	if b.tier == tierCold {
		if err := s.cold.Put(ctx, b.id, data); err != nil {
			return err
		}
		b.size = len(data)
		return nil
	}

	if len(data) <= b.size || s.reserve(uint64(len(data)-b.size)) {
		if err := s.hot.Put(ctx, b.id, data); err != nil {
			if len(data) > b.size {
				s.unreserve(uint64(len(data) - b.size))
			}
			return fmt.Errorf("memory tier put: %w", err)
		}
		if len(data) < b.size {
			s.unreserve(uint64(b.size - len(data)))
		}
		b.size = len(data)
		return nil
	}

	if s.cold == nil {
		return fmt.Errorf("memory budget of %d bytes exhausted and no spill tier: %w", s.maxHot, content.ErrStorageFull)
	}
	if err := s.cold.Put(ctx, b.id, data); err != nil {
		return err
	}
	if err := s.hot.Delete(ctx, b.id); err != nil {
		_ = s.cold.Delete(ctx, b.id)
		return fmt.Errorf("memory tier delete: %w", err)
	}
	s.unreserve(uint64(b.size))
	b.tier = tierCold
	b.size = len(data)
	return nil
}

// Truncate sets the content length. Shrinking drops whole blocks past the
// new end and trims the last partial block so a later extension reads
// zeros.
func (s *Store) Truncate(ctx context.Context, id content.ContentID, size uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	obj, err := s.lookup(id)
	if err != nil {
		return err
	}

	obj.mu.Lock()
	defer obj.mu.Unlock()

	if obj.sealed {
		return fmt.Errorf("content %d: %w", id, content.ErrSealed)
	}

	if size >= obj.size {
		obj.size = size
		return nil
	}

	bs := uint64(s.blockSize)
	keep := int((size + bs - 1) / bs)
	if keep < len(obj.blocks) {
		dropped := obj.blocks[keep:]
		obj.blocks = obj.blocks[:keep:keep]
		s.releaseBlocks(ctx, dropped)
	}

	if tail := int(size % bs); tail > 0 && keep > 0 && keep <= len(obj.blocks) {
		idx := keep - 1
		if b := obj.blocks[idx]; b != nil && b.size > tail {
			if err := s.trimBlock(ctx, obj, idx, tail); err != nil {
				return err
			}
		}
	}

	obj.size = size
	return nil
}

func (s *Store) trimBlock(ctx context.Context, obj *object, idx, length int) error {
	old := obj.blocks[idx]
	data, err := s.tierStore(old.tier).Get(ctx, old.id)
	if err != nil {
		return fmt.Errorf("block %d: %w", idx, err)
	}
	if len(data) > length {
		data = data[:length]
	}

	if old.refs.Load() == 1 {
		return s.rewriteBlock(ctx, old, data)
	}

	nb, err := s.placeBlock(ctx, data)
	if err != nil {
		return err
	}
	obj.blocks[idx] = nb
	s.releaseBlocks(ctx, []*block{old})
	return nil
}

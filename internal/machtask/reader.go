// Package machtask provides the Mach task enumerator (spec component
// 4.5) and the remote memory reader built over a task port (component
// 4.6): region iteration, main-executable discovery, ASLR slide
// computation, and the dyld image list. Every operation here is pure
// over the platform.TaskPort interface it is given, so it is fully
// testable against a fake independent of whether the live darwin
// adapter's MIG calls are wired up yet.
package machtask

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/outrider-security/sentinel/internal/macho"
	"github.com/outrider-security/sentinel/internal/model"
	"github.com/outrider-security/sentinel/internal/platform"
)

// vm_prot_t bits (mach/vm_prot.h).
const (
	vmProtRead    = 0x01
	vmProtWrite   = 0x02
	vmProtExecute = 0x04
)

// Reader composes the primitive TaskPort operations into the higher-level
// queries the contradiction probes need. Close must be called on every
// exit path; the scoped-acquisition helper WithReader below guarantees this
// for the common case.
type Reader struct {
	port platform.TaskPort
	pid  int
}

// Open acquires a task port for pid and wraps it in a Reader.
func Open(ctx context.Context, opener platform.TaskPortOpener, pid int) (*Reader, error) {
	port, err := opener.Open(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("machtask: open pid=%d: %w", pid, err)
	}
	return &Reader{port: port, pid: pid}, nil
}

// Close releases the underlying task port.
func (r *Reader) Close() error { return r.port.Close() }

// WithReader opens a Reader, runs fn, and guarantees Close on every exit
// path including a panic unwinding through fn — the scoped-acquisition
// pattern the spec requires for 4.6.
func WithReader(ctx context.Context, opener platform.TaskPortOpener, pid int, fn func(*Reader) error) error {
	r, err := Open(ctx, opener, pid)
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// Read returns length bytes starting at addr in the remote task.
func (r *Reader) Read(ctx context.Context, addr uint64, length int) ([]byte, error) {
	b, err := r.port.Read(ctx, addr, length)
	if err != nil {
		return nil, fmt.Errorf("machtask: read pid=%d addr=%#x len=%d: %w", r.pid, addr, length, err)
	}
	return b, nil
}

// ReadInto reads len(out) bytes at addr directly into out.
func (r *Reader) ReadInto(ctx context.Context, addr uint64, out []byte) error {
	b, err := r.Read(ctx, addr, len(out))
	if err != nil {
		return err
	}
	if len(b) != len(out) {
		return fmt.Errorf("machtask: read pid=%d addr=%#x: short read (%d of %d): %w", r.pid, addr, len(b), len(out), platform.ErrMalformed)
	}
	copy(out, b)
	return nil
}

// IterateRegions returns every mapped region in the remote task's address
// space. The underlying TaskPort already materializes the full list (no
// raw mach_vm_region cursor is exposed above the platform boundary);
// regions is still presented through this method so callers depend only
// on Reader, not on platform.TaskPort directly.
func (r *Reader) IterateRegions(ctx context.Context) ([]model.VMRegion, error) {
	raw, err := r.port.Regions(ctx)
	if err != nil {
		return nil, fmt.Errorf("machtask: regions pid=%d: %w", r.pid, err)
	}
	out := make([]model.VMRegion, len(raw))
	for i, reg := range raw {
		out[i] = model.VMRegion{
			LoadAddress: reg.Addr,
			Size:        reg.Size,
			Protection:  reg.Protection,
			UserTag:     reg.UserTag,
			Path:        reg.Path,
		}
	}
	return out, nil
}

// FindMainExecutableText iterates regions looking for the first r-x
// region whose first four bytes are a Mach-O magic number. A live
// process's memory stores the magic in native (little-endian) byte
// order, so both MH_MAGIC_64 and its byte-swapped form are accepted
// alongside the FAT variants.
func (r *Reader) FindMainExecutableText(ctx context.Context) (loadAddress uint64, err error) {
	raw, err := r.port.Regions(ctx)
	if err != nil {
		return 0, fmt.Errorf("machtask: find_main_executable_text pid=%d: %w", r.pid, err)
	}
	for _, reg := range raw {
		prot := reg.Protection
		if prot&vmProtExecute == 0 || prot&vmProtRead == 0 || prot&vmProtWrite != 0 {
			continue
		}
		head, err := r.port.Read(ctx, reg.Addr, 4)
		if err != nil || len(head) < 4 {
			continue
		}
		magic := binary.LittleEndian.Uint32(head)
		switch magic {
		case macho.Magic64, macho.Magic64Cigam, macho.MagicFat32, macho.MagicFat32Cigam:
			return reg.Addr, nil
		}
	}
	return 0, fmt.Errorf("machtask: find_main_executable_text pid=%d: no matching region: %w", r.pid, platform.ErrNotPresent)
}

// ASLRSlide computes the live load slide: the runtime-reported first
// image's load address (from dyld_all_image_infos.infoArray[0]) minus
// the binary's static __TEXT vmaddr.
func (r *Reader) ASLRSlide(ctx context.Context, staticTextVMAddr uint64) (int64, error) {
	infosAddr, err := r.port.DyldAllImageInfosAddr(ctx)
	if err != nil {
		return 0, fmt.Errorf("machtask: aslr_slide pid=%d: %w", r.pid, err)
	}
	loadAddr, err := r.firstImageLoadAddress(ctx, infosAddr)
	if err != nil {
		return 0, err
	}
	return int64(loadAddr) - int64(staticTextVMAddr), nil
}

// dyld_all_image_infos (relevant 64-bit prefix): uint32 version; uint32
// infoArrayCount; uint64 infoArray (pointer). dyld_image_info: uint64
// imageLoadAddress; uint64 imageFilePath (pointer); uint64 imageFileModDate.
const (
	dyldInfoArrayCountOff = 4
	dyldInfoArrayPtrOff   = 8
	dyldImageInfoSize     = 24
	dyldImageLoadAddrOff  = 0
	dyldImagePathPtrOff   = 8
)

func (r *Reader) firstImageLoadAddress(ctx context.Context, infosAddr uint64) (uint64, error) {
	hdr, err := r.port.Read(ctx, infosAddr, 16)
	if err != nil || len(hdr) < 16 {
		return 0, fmt.Errorf("machtask: read dyld_all_image_infos pid=%d: %w", r.pid, platform.ErrMalformed)
	}
	count := binary.LittleEndian.Uint32(hdr[dyldInfoArrayCountOff : dyldInfoArrayCountOff+4])
	arrayPtr := binary.LittleEndian.Uint64(hdr[dyldInfoArrayPtrOff : dyldInfoArrayPtrOff+8])
	if count == 0 {
		return 0, fmt.Errorf("machtask: pid=%d: empty dyld image array: %w", r.pid, platform.ErrMalformed)
	}
	first, err := r.port.Read(ctx, arrayPtr, dyldImageInfoSize)
	if err != nil || len(first) < 8 {
		return 0, fmt.Errorf("machtask: read first dyld image info pid=%d: %w", r.pid, platform.ErrMalformed)
	}
	return binary.LittleEndian.Uint64(first[dyldImageLoadAddrOff : dyldImageLoadAddrOff+8]), nil
}

// ReadDyldImageList reads dyld_all_image_infos, then the image-info array,
// then each image's path string (bounded to 1 KiB).
func (r *Reader) ReadDyldImageList(ctx context.Context) ([]model.LoadedImageEntry, error) {
	infosAddr, err := r.port.DyldAllImageInfosAddr(ctx)
	if err != nil {
		return nil, fmt.Errorf("machtask: read_dyld_image_list pid=%d: %w", r.pid, err)
	}
	hdr, err := r.port.Read(ctx, infosAddr, 16)
	if err != nil || len(hdr) < 16 {
		return nil, fmt.Errorf("machtask: read dyld_all_image_infos pid=%d: %w", r.pid, platform.ErrMalformed)
	}
	count := binary.LittleEndian.Uint32(hdr[dyldInfoArrayCountOff : dyldInfoArrayCountOff+4])
	arrayPtr := binary.LittleEndian.Uint64(hdr[dyldInfoArrayPtrOff : dyldInfoArrayPtrOff+8])

	const maxImages = 4096
	if count > maxImages {
		count = maxImages
	}

	out := make([]model.LoadedImageEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if ctx.Err() != nil {
			return out, nil
		}
		entryAddr := arrayPtr + uint64(i)*dyldImageInfoSize
		rec, err := r.port.Read(ctx, entryAddr, dyldImageInfoSize)
		if err != nil || len(rec) < dyldImageInfoSize {
			continue
		}
		loadAddr := binary.LittleEndian.Uint64(rec[dyldImageLoadAddrOff : dyldImageLoadAddrOff+8])
		pathPtr := binary.LittleEndian.Uint64(rec[dyldImagePathPtrOff : dyldImagePathPtrOff+8])

		const maxPath = 1024
		pathBytes, err := r.port.Read(ctx, pathPtr, maxPath)
		if err != nil {
			continue
		}
		out = append(out, model.LoadedImageEntry{
			LoadAddress: loadAddr,
			Path:        nullTerminated(pathBytes),
		})
	}
	return out, nil
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

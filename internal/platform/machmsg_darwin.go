//go:build darwin

package platform

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Mach trap numbers not exposed by x/sys/unix, reproduced from XNU's
// syscall_sw.c mach trap table, same source as taskport_darwin.go's
// task_self_trap/task_for_pid entries.
const (
	trapMachMsg        = -31
	trapMachReplyPort  = -26
	trapPortDeallocate = -17
)

// Mach message bits (mach/message.h). A simple (non-complex) MIG client
// call sends a copy-send right to the remote port and asks the kernel to
// make a send-once right on our reply port for the answer.
const (
	msgTypeCopySend     = 0x13
	msgTypeMakeSendOnce = 0x15
	msgBitsSimpleCall   = msgTypeCopySend | (msgTypeMakeSendOnce << 8)

	msgOptionSend      = 0x00000001
	msgOptionRcv       = 0x00000002
	msgTimeoutInfinite = 0
)

// ndrRecord is the canonical NDR_record_t (mach/ndr.h) every MIG
// request/reply on a little-endian Darwin host carries verbatim: mig
// version 0, little-endian integers, ASCII characters, IEEE floats.
var ndrRecord = [8]byte{0, 0, 0, 0, 1, 0, 0, 0}

const (
	machMsgHeaderSize  = 24
	machReplyFixedSize = machMsgHeaderSize + len(ndrRecord) + 4 + 4 // Head + NDR + RetCode + pad/count
)

func putMsgHeader(buf []byte, bits, size, remote, local uint32, id int32) {
	binary.LittleEndian.PutUint32(buf[0:4], bits)
	binary.LittleEndian.PutUint32(buf[4:8], size)
	binary.LittleEndian.PutUint32(buf[8:12], remote)
	binary.LittleEndian.PutUint32(buf[12:16], local)
	binary.LittleEndian.PutUint32(buf[16:20], 0) // voucher, always MACH_PORT_NULL here
	binary.LittleEndian.PutUint32(buf[20:24], uint32(id))
}

// machReplyPort allocates a thread-local reply port via the mach_reply_port
// trap, the same primitive every MIG client stub uses to receive a
// synchronous reply without a full mach_port_allocate round trip.
func machReplyPort() (uint32, error) {
	r0, _, errno := unix.Syscall(uintptr(trapMachReplyPort), 0, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("platform: mach_reply_port: %w", errno)
	}
	return uint32(r0), nil
}

// releasePort drops our send-once right on a reply port once it's been
// consumed, via the kernelrpc mach_port_deallocate trap against our own
// task (task_self_trap).
func releasePort(port uint32) {
	self, _, errno := unix.Syscall(uintptr(trapTaskSelf), 0, 0, 0)
	if errno != 0 {
		return
	}
	unix.Syscall(uintptr(trapPortDeallocate), self, uintptr(port), 0)
}

// machCall issues one synchronous MIG-style request/reply exchange against
// remotePort: send a request of routineID carrying reqBody (everything
// after the header+NDR), block for the reply, and return the reply's body
// (everything after Head+NDR+RetCode+pad/count) along with the call's own
// KERN_RETURN_T-equivalent status.
//
// This is the pure mach_msg marshaling path the kernel's MIG-generated
// client stubs use internally; it replaces them directly rather than
// linking against libSystem's stub objects, keeping the adapter cgo-free
// like every other darwin adapter in this package.
func machCall(remotePort uint32, routineID int32, reqBody []byte, maxReplyBody int) ([]byte, int32, error) {
	replyPort, err := machReplyPort()
	if err != nil {
		return nil, 0, err
	}
	defer releasePort(replyPort)

	sendSize := machMsgHeaderSize + len(ndrRecord) + len(reqBody)
	rcvSize := machReplyFixedSize + maxReplyBody
	bufSize := sendSize
	if rcvSize > bufSize {
		bufSize = rcvSize
	}
	buf := make([]byte, bufSize)

	putMsgHeader(buf, msgBitsSimpleCall, uint32(sendSize), remotePort, replyPort, routineID)
	copy(buf[machMsgHeaderSize:], ndrRecord[:])
	copy(buf[machMsgHeaderSize+len(ndrRecord):], reqBody)

	_, _, errno := unix.Syscall9(uintptr(trapMachMsg),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(msgOptionSend|msgOptionRcv),
		uintptr(sendSize), uintptr(rcvSize),
		uintptr(replyPort), uintptr(msgTimeoutInfinite),
		0, 0, 0)
	if errno != 0 {
		return nil, 0, fmt.Errorf("platform: mach_msg_trap routine=%d: %w", routineID, errno)
	}

	retCode := int32(binary.LittleEndian.Uint32(buf[machMsgHeaderSize+len(ndrRecord) : machMsgHeaderSize+len(ndrRecord)+4]))
	body := buf[machReplyFixedSize:]
	return body, retCode, nil
}

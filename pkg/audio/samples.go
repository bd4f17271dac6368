package audio

import (
	"unsafe"
)

// Float32s reinterprets a native-endian float32 PCM buffer without copying.
// Trailing bytes that do not form a whole sample are ignored.
func Float32s(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

// Float32Bytes is the inverse of Float32s.
func Float32Bytes(s []float32) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*4)
}

package gatomic

import (
	"sync/atomic"
	"unsafe"
)

func LoadPointer[T any](addr **T) *T {
	return (*T)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(addr))))
}

func StorePointer[T any](addr **T, val *T) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(addr)), unsafe.Pointer(val))
}

func CompareAndSwapPointer[T any](addr **T, old, new *T) (swapped bool) {
	return atomic.CompareAndSwapPointer(
		(*unsafe.Pointer)(unsafe.Pointer(addr)),
		unsafe.Pointer(old),
		unsafe.Pointer(new),
	)
}

func LoadInt32(x *int32) int32 {
	return atomic.LoadInt32(x)
}

func StoreInt32(x *int32, v int32) {
	atomic.StoreInt32(x, v)
}

func CompareAndSwapInt32(x *int32, old, new int32) bool {
	return atomic.CompareAndSwapInt32(x, old, new)
}

func LoadInt64(x *int64) int64 {
	return atomic.LoadInt64(x)
}

func StoreInt64(x *int64, v int64) {
	atomic.StoreInt64(x, v)
}

func AddInt64(x *int64, delta int64) int64 {
	return atomic.AddInt64(x, delta)
}

func CompareAndSwapInt64(x *int64, old, new int64) bool {
	return atomic.CompareAndSwapInt64(x, old, new)
}

func LoadUint32(x *uint32) uint32 {
	return atomic.LoadUint32(x)
}

func StoreUint32(x *uint32, v uint32) {
	atomic.StoreUint32(x, v)
}

func AddUint32(x *uint32, delta uint32) uint32 {
	return atomic.AddUint32(x, delta)
}

func CompareAndSwapUint32(x *uint32, old, new uint32) bool {
	return atomic.CompareAndSwapUint32(x, old, new)
}

func LoadUint64(x *uint64) uint64 {
	return atomic.LoadUint64(x)
}

func CompareAndSwapUint64(x *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(x, old, new)
}

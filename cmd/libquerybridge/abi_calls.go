package main

/*
#include <stddef.h>
#include <stdint.h>

struct ArrowSchema;
struct ArrowArray;
*/
import "C"

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/cdata"
)

// Go entry points into the exported functions with Go-typed arguments. Test
// files cannot use cgo, so the package tests reach the C ABI through these.

func errorPointer(buf []byte) (*C.char, C.size_t) {
	if len(buf) == 0 {
		return nil, 0
	}

	return (*C.char)(unsafe.Pointer(&buf[0])), C.size_t(len(buf))
}

type nextCall struct {
	ok      bool
	numCols int64
	numRows int64
	end     uint8
}

// callStreamNext runs querybridge_stream_next. The out parameters start with
// sentinel values so untouched outputs are visible.
func callStreamNext(stream uint64, outSchema *cdata.CArrowSchema, outBatch *cdata.CArrowArray, buf []byte) nextCall {
	numCols, numRows, end := C.int64_t(-1), C.int64_t(-1), C.uint8_t(0xff)
	err, errLen := errorPointer(buf)

	ok := querybridge_stream_next(C.uint64_t(stream),
		(*C.struct_ArrowSchema)(unsafe.Pointer(outSchema)),
		(*C.struct_ArrowArray)(unsafe.Pointer(outBatch)),
		&numCols, &numRows, &end, err, errLen)

	return nextCall{ok: bool(ok), numCols: int64(numCols), numRows: int64(numRows), end: uint8(end)}
}

// callExecuteSubstrait runs querybridge_execute_substrait with an explicit
// plan length, which may claim more bytes than plan holds.
func callExecuteSubstrait(session uint64, plan []byte, planLen uint64, buf []byte) uint64 {
	var planPointer *C.uint8_t
	if len(plan) > 0 {
		planPointer = (*C.uint8_t)(unsafe.Pointer(&plan[0]))
	}

	err, errLen := errorPointer(buf)
	return uint64(querybridge_execute_substrait(C.uint64_t(session), planPointer, C.size_t(planLen), err, errLen))
}

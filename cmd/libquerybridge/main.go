// Command libquerybridge builds the query bridge as a C shared library:
//
//	go build -buildmode=c-shared -o libquerybridge.so ./cmd/libquerybridge
//
// Every exported function returns false, 0 or null on failure and writes a
// "<Code>: <message>" diagnostic into the caller's error buffer. Sessions and
// streams are opaque non-zero handles; 0 is the null handle.
package main

/*
#include <stdbool.h>
#include <stddef.h>
#include <stdint.h>

struct ArrowSchema;
struct ArrowArray;
*/
import "C"

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/arrowbridge"
)

// maxErrorLen bounds the part of an error buffer a diagnostic may use.
const maxErrorLen = 1 << 16

func errorBuffer(err *C.char, errLen C.size_t) []byte {
	if err == nil || errLen == 0 {
		return nil
	}

	if errLen > maxErrorLen {
		errLen = maxErrorLen
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(err)), int(errLen))
}

//export querybridge_create_session
func querybridge_create_session(err *C.char, errLen C.size_t) C.uint64_t {
	return C.uint64_t(createSession(errorBuffer(err, errLen)))
}

//export querybridge_free_session
func querybridge_free_session(session C.uint64_t) {
	_ = freeSession(uint64(session))
}

//export querybridge_register_table
func querybridge_register_table(session C.uint64_t, name *C.char, schema *C.struct_ArrowSchema, columns **C.struct_ArrowArray, numCols C.int32_t, numRows C.int64_t, err *C.char, errLen C.size_t) C.bool {
	buf := errorBuffer(err, errLen)
	cSchema := (*cdata.CArrowSchema)(unsafe.Pointer(schema))

	// never read past the pointers the schema accounts for
	supplied := int(numCols)
	if declared := arrowbridge.DeclaredColumns(cSchema); declared < supplied {
		supplied = declared
	}
	if columns == nil || supplied < 0 {
		supplied = 0
	}

	arrays := make([]*cdata.CArrowArray, supplied)
	for index, column := range unsafe.Slice(columns, supplied) {
		arrays[index] = (*cdata.CArrowArray)(unsafe.Pointer(column))
	}

	var goName string
	if name != nil {
		goName = C.GoString(name)
	}

	return C.bool(registerTable(uint64(session), goName, cSchema, arrays, int(numCols), int64(numRows), buf))
}

//export querybridge_execute_substrait
func querybridge_execute_substrait(session C.uint64_t, plan *C.uint8_t, planLen C.size_t, err *C.char, errLen C.size_t) C.uint64_t {
	return C.uint64_t(executeSubstrait(uint64(session), unsafe.Pointer(plan), uint64(planLen), errorBuffer(err, errLen)))
}

// querybridge_stream_next returns true with a batch, false with *out_end set
// at the end of the stream, and false with a diagnostic on failure.
//
//export querybridge_stream_next
func querybridge_stream_next(stream C.uint64_t, outSchema *C.struct_ArrowSchema, outBatch *C.struct_ArrowArray, outNumCols *C.int64_t, outNumRows *C.int64_t, outEnd *C.uint8_t, err *C.char, errLen C.size_t) C.bool {
	result, ok := streamNext(uint64(stream),
		(*cdata.CArrowSchema)(unsafe.Pointer(outSchema)),
		(*cdata.CArrowArray)(unsafe.Pointer(outBatch)),
		errorBuffer(err, errLen))

	return C.bool(writeOutcome(result, ok,
		(*int64)(unsafe.Pointer(outNumCols)),
		(*int64)(unsafe.Pointer(outNumRows)),
		(*uint8)(unsafe.Pointer(outEnd))))
}

//export querybridge_stream_free
func querybridge_stream_free(stream C.uint64_t) {
	_ = streamFree(uint64(stream))
}

//export querybridge_engine_available
func querybridge_engine_available() C.bool {
	return C.bool(engineAvailable())
}

//export querybridge_outstanding_exports
func querybridge_outstanding_exports() C.int64_t {
	return C.int64_t(outstandingExports())
}

func main() {}

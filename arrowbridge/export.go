package arrowbridge

// #include "abi.h"
import "C"

import (
	"unsafe"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/exsql-io/go-querybridge/errors"
)

// ExportSchema writes the struct schema describing every batch of a stream.
// out must be zero initialized.
func ExportSchema(schema *arrow.Schema, out *cdata.CArrowSchema) error {
	if out == nil {
		return errors.New(errors.InvalidArgument, "output schema is null")
	}

	cdata.ExportArrowSchema(schema, out)
	return nil
}

// ExportBatch writes rec into out as a struct array. The record stays
// referenced until the consumer invokes out's release callback, which closes
// the lease taken here. out must be zero initialized.
func ExportBatch(rec arrow.Record, out *cdata.CArrowArray) error {
	if out == nil {
		return errors.New(errors.InvalidArgument, "output array is null")
	}

	inner := (*C.struct_ArrowArray)(C.calloc(1, C.sizeof_struct_ArrowArray))
	if inner == nil {
		return errors.New(errors.OutOfMemory, "cannot allocate exported array")
	}

	cdata.ExportArrowRecordBatch(rec, (*cdata.CArrowArray)(unsafe.Pointer(inner)), nil)

	token := leases.acquire(rec.NumRows(), func() {
		C.qb_release_array(inner)
		C.free(unsafe.Pointer(inner))
	})

	C.qb_wrap_array((*C.struct_ArrowArray)(unsafe.Pointer(out)), inner, C.uint64_t(token))
	return nil
}

// Release invokes the release callback of arr, if it has not been released.
func Release(arr *cdata.CArrowArray) {
	if arr != nil {
		C.qb_release_array((*C.struct_ArrowArray)(unsafe.Pointer(arr)))
	}
}

// Released reports whether arr has been released or moved.
func Released(arr *cdata.CArrowArray) bool {
	return arr == nil || (*C.struct_ArrowArray)(unsafe.Pointer(arr)).release == nil
}

// SchemaReleased reports whether schema has been released, moved or never
// written.
func SchemaReleased(schema *cdata.CArrowSchema) bool {
	return schema == nil || (*C.struct_ArrowSchema)(unsafe.Pointer(schema)).release == nil
}

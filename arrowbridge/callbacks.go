package arrowbridge

// #include "abi.h"
import "C"

//export qbReleaseLease
func qbReleaseLease(token C.uint64_t) {
	leases.close(uint64(token))
}

package engine

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/exsql-io/go-querybridge/errors"
	"github.com/exsql-io/go-querybridge/logger"
)

// host reference counts the process-wide engine state. The first Acquire
// initializes it and the last Release tears it down.
type host struct {
	mutex      sync.Mutex
	references int
	registry   compute.FunctionRegistry
}

var engineHost host

// Acquire takes a reference on the engine, initializing it on first use.
func Acquire() error {
	engineHost.mutex.Lock()
	defer engineHost.mutex.Unlock()

	if engineHost.references == 0 {
		registry := compute.GetFunctionRegistry()
		for name, fn := range functions {
			if _, ok := registry.GetFunction(fn.arrowName); !ok {
				return errors.Newf(errors.ExecutionError, "compute function '%s' backing '%s' is not registered", fn.arrowName, name)
			}
		}

		engineHost.registry = registry
		logger.Get().Debug("engine initialized", "functions", registry.NumFunctions())
	}

	engineHost.references++
	return nil
}

// Release drops a reference taken by Acquire.
func Release() {
	engineHost.mutex.Lock()
	defer engineHost.mutex.Unlock()

	if engineHost.references == 0 {
		logger.Get().Warn("engine released more times than acquired")
		return
	}

	engineHost.references--
	if engineHost.references == 0 {
		engineHost.registry = nil
		logger.Get().Debug("engine shut down")
	}
}

func References() int {
	engineHost.mutex.Lock()
	defer engineHost.mutex.Unlock()

	return engineHost.references
}

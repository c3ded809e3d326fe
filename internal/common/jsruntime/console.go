package jsruntime

import (
	"github.com/dop251/goja"
	"github.com/rs/zerolog/log"
)

func bindConsole(vm *goja.Runtime) {
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		log.Debug().Interface("args", args).Msg("expression console.log")
		return goja.Undefined()
	})
	_ = vm.Set("console", console)
}

package skill

import (
	"context"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/cis-project/cis-core/internal/domain"
)

// wasmMagic is the four-byte header every valid wasm module begins with.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// requiredExports are the guest functions every CIS wasm skill must expose:
// allocate a buffer, run with a given input length, and read the result
// length back out, mirroring the host/guest contract used by the
// reference virtual machine this package is modeled on.
var requiredExports = []string{"cis_alloc", "cis_run", "cis_result_len"}

// WasmRuntime runs a skill inside a sandboxed wasmer.Instance. One instance
// is created per Run call; the engine and compiled module are built once by
// LoadWasmModule and reused by every Run on the same runtime. WasmPool only
// runs those calls on dedicated goroutines.
type WasmRuntime struct {
	engine *wasmer.Engine
	module *wasmer.Module
}

// LoadWasmModule validates the magic header and exports, then compiles the
// module once so repeated Run calls only pay instantiation cost.
func LoadWasmModule(code []byte) (*WasmRuntime, error) {
	if len(code) < 4 || string(code[:4]) != string(wasmMagic) {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_magic_invalid", domain.ErrWasmMagicInvalid)
	}

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_compile_failed", err)
	}

	exported := make(map[string]bool, len(module.Exports()))
	for _, e := range module.Exports() {
		exported[e.Name()] = true
	}
	for _, name := range requiredExports {
		if !exported[name] {
			return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_export_missing", domain.ErrWasmExportsMissing)
		}
	}

	return &WasmRuntime{engine: engine, module: module}, nil
}

// Kind identifies this runtime for logging/metrics.
func (r *WasmRuntime) Kind() string { return string(domain.SkillWasm) }

// Run instantiates a fresh guest instance, writes input into its linear
// memory, invokes cis_run, and reads the result back out. Each call gets
// its own instance so concurrent executions of the same module never share
// mutable guest memory.
func (r *WasmRuntime) Run(ctx context.Context, input []byte) ([]byte, error) {
	store := wasmer.NewStore(r.engine)
	importObject := wasmer.NewImportObject()

	instance, err := wasmer.NewInstance(r.module, importObject)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_instantiate_failed", err)
	}
	defer instance.Close()

	memory, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_memory_missing", err)
	}

	alloc, err := instance.Exports.GetFunction("cis_alloc")
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_export_missing", domain.ErrWasmExportsMissing)
	}
	run, err := instance.Exports.GetFunction("cis_run")
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_export_missing", domain.ErrWasmExportsMissing)
	}
	resultLenFn, err := instance.Exports.GetFunction("cis_result_len")
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_export_missing", domain.ErrWasmExportsMissing)
	}

	ptrAny, err := alloc(int32(len(input)))
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_alloc_failed", err)
	}
	ptr := ptrAny.(int32)

	copy(memory.Data()[ptr:], input)

	resultPtrAny, err := run(ptr, int32(len(input)))
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_run_failed", err)
	}
	resultPtr := resultPtrAny.(int32)

	resultLenAny, err := resultLenFn()
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.wasm_result_len_failed", err)
	}
	resultLen := resultLenAny.(int32)

	out := make([]byte, resultLen)
	copy(out, memory.Data()[resultPtr:int(resultPtr)+int(resultLen)])

	_ = store
	_ = ctx
	return out, nil
}

// Close releases compiled-module resources.
func (r *WasmRuntime) Close() {
	r.module.Close()
	r.engine.Close()
}

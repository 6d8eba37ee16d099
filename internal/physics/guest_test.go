package physics

import (
	"encoding/binary"
	"math"
)

// A minimal guest implementing the physics ABI, assembled in-process so the
// tests need no toolchain. It opens the scene document through WASI, counts
// "<g" and "<b" tags as geoms and bodies and answers every other export from
// globals. The exported globals live, geom_bias, step_rc and trap_counts
// let tests observe and steer it.

const (
	i32 = 0x7f
	i64 = 0x7e
	f32 = 0x7d
	f64 = 0x7c

	blockEmpty = 0x40
)

// guest globals, in declaration order
const (
	gHeap = iota
	gNGeom
	gNBody
	gErrPtr
	gLive
	gGeomBias
	gStepRC
	gTime
	gTrapCounts
)

// guest functions; imports come first
const (
	fPathOpen = iota
	fFdRead
	fFdClose
	fInitialize
	fMalloc
	fFree
	fLoadModel
	fMakeData
	fModelNGeom
	fModelNBody
	fGeomWrite
	fStep
	fSimTime
	fDeleteData
	fDeleteModel
	fLastError
)

const (
	docErrAddr  = 1024
	stepErrAddr = 1100
	iovecAddr   = 256
	nreadAddr   = 264
	fdAddr      = 268
	readBuf     = 8192
	readBufLen  = 4096
	heapStart   = 16384
)

const (
	guestDocError  = "XML Error: document is not a model"
	guestStepError = "step diverged"
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if done {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func name(s string) []byte { return append(uleb(uint64(len(s))), s...) }

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, body []byte) []byte {
	return append(append([]byte{id}, uleb(uint64(len(body)))...), body...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func funcType(params, results []byte) []byte {
	return cat([]byte{0x60}, uleb(uint64(len(params))), params, uleb(uint64(len(results))), results)
}

// instructions
func i32c(v int32) []byte { return append([]byte{0x41}, sleb(int64(v))...) }
func i64c(v int64) []byte { return append([]byte{0x42}, sleb(v)...) }
func localGet(i uint32) []byte { return append([]byte{0x20}, uleb(uint64(i))...) }
func localSet(i uint32) []byte { return append([]byte{0x21}, uleb(uint64(i))...) }
func globalGet(i uint32) []byte { return append([]byte{0x23}, uleb(uint64(i))...) }
func globalSet(i uint32) []byte { return append([]byte{0x24}, uleb(uint64(i))...) }
func call(i uint32) []byte { return append([]byte{0x10}, uleb(uint64(i))...) }
func br(depth uint32) []byte { return append([]byte{0x0c}, uleb(uint64(depth))...) }
func brIf(depth uint32) []byte { return append([]byte{0x0d}, uleb(uint64(depth))...) }

func f32c(v float32) []byte {
	b := make([]byte, 5)
	b[0] = 0x43
	binary.LittleEndian.PutUint32(b[1:], math.Float32bits(v))
	return b
}

func f64c(v float64) []byte {
	b := make([]byte, 9)
	b[0] = 0x44
	binary.LittleEndian.PutUint64(b[1:], math.Float64bits(v))
	return b
}

func memarg(op byte, align, offset uint32) []byte {
	return cat([]byte{op}, uleb(uint64(align)), uleb(uint64(offset)))
}

func i32Load(offset uint32) []byte { return memarg(0x28, 2, offset) }
func i32Load8U(offset uint32) []byte { return memarg(0x2d, 0, offset) }
func i32Store(offset uint32) []byte { return memarg(0x36, 2, offset) }
func f32Store(offset uint32) []byte { return memarg(0x38, 2, offset) }

var (
	opUnreachable = []byte{0x00}
	opBlock       = []byte{0x02, blockEmpty}
	opLoop        = []byte{0x03, blockEmpty}
	opIf          = []byte{0x04, blockEmpty}
	opEnd         = []byte{0x0b}
	opReturn      = []byte{0x0f}
	opDrop        = []byte{0x1a}
	opI32Eqz      = []byte{0x45}
	opI32Eq       = []byte{0x46}
	opI32Ne       = []byte{0x47}
	opI32GeS      = []byte{0x4e}
	opI32GeU      = []byte{0x4f}
	opI32Add      = []byte{0x6a}
	opI32Sub      = []byte{0x6b}
	opI32And      = []byte{0x71}
	opF64Add      = []byte{0xa0}
	opF32FromI32  = []byte{0xb2}
)

// body wraps instructions with local declarations; locals is a list of
// (count, type) pairs.
func body(locals [][2]byte, code ...[]byte) []byte {
	decl := uleb(uint64(len(locals)))
	for _, l := range locals {
		decl = append(decl, l[0], l[1])
	}
	fn := cat(decl, cat(code...), opEnd)
	return append(uleb(uint64(len(fn))), fn...)
}

func incGlobal(g uint32, by int32) []byte {
	return cat(globalGet(g), i32c(by), opI32Add, globalSet(g))
}

// countTag adds one to global g when the byte after '<' equals c.
func countTag(c byte, g uint32) []byte {
	return cat(localGet(5), i32c(int32(c)), opI32Eq, opIf, incGlobal(g, 1), opEnd)
}

func failLoad() []byte {
	return cat(i32c(docErrAddr), globalSet(gErrPtr), i32c(0), opReturn)
}

func buildGuest() []byte {
	const (
		tPathOpen = iota
		tI32x4
		tI32ToI32
		tVoid
		tI32ToVoid
		tI32x2
		tI32ToF64
		tToI32
	)
	types := section(1, vec(
		funcType([]byte{i32, i32, i32, i32, i32, i64, i64, i32, i32}, []byte{i32}),
		funcType([]byte{i32, i32, i32, i32}, []byte{i32}),
		funcType([]byte{i32}, []byte{i32}),
		funcType(nil, nil),
		funcType([]byte{i32}, nil),
		funcType([]byte{i32, i32}, []byte{i32}),
		funcType([]byte{i32}, []byte{f64}),
		funcType(nil, []byte{i32}),
	))

	wasi := "wasi_snapshot_preview1"
	imports := section(2, vec(
		cat(name(wasi), name("path_open"), []byte{0x00}, uleb(tPathOpen)),
		cat(name(wasi), name("fd_read"), []byte{0x00}, uleb(tI32x4)),
		cat(name(wasi), name("fd_close"), []byte{0x00}, uleb(tI32ToI32)),
	))

	funcs := section(3, vec(
		uleb(tVoid),      // _initialize
		uleb(tI32ToI32),  // malloc
		uleb(tI32ToVoid), // free
		uleb(tI32x2),     // load_model
		uleb(tI32ToI32),  // make_data
		uleb(tI32ToI32),  // model_ngeom
		uleb(tI32ToI32),  // model_nbody
		uleb(tI32x4),     // geom_write
		uleb(tI32x2),     // step
		uleb(tI32ToF64),  // sim_time
		uleb(tI32ToVoid), // delete_data
		uleb(tI32ToVoid), // delete_model
		uleb(tToI32),     // last_error
	))

	memory := section(5, vec([]byte{0x00, 0x01}))

	mutI32 := func(v int32) []byte { return cat([]byte{i32, 0x01}, i32c(v), opEnd) }
	globals := section(6, vec(
		mutI32(heapStart), // heap
		mutI32(0),         // ngeom
		mutI32(0),         // nbody
		mutI32(0),         // errptr
		mutI32(0),         // live
		mutI32(0),         // geom_bias
		mutI32(0),         // step_rc
		cat([]byte{f64, 0x01}, f64c(0), opEnd),
		mutI32(0), // trap_counts
	))

	exportFunc := func(n string, idx uint32) []byte { return cat(name(n), []byte{0x00}, uleb(uint64(idx))) }
	exportGlobal := func(n string, idx uint32) []byte { return cat(name(n), []byte{0x03}, uleb(uint64(idx))) }
	exports := section(7, vec(
		cat(name("memory"), []byte{0x02, 0x00}),
		exportFunc("_initialize", fInitialize),
		exportFunc("malloc", fMalloc),
		exportFunc("free", fFree),
		exportFunc("load_model", fLoadModel),
		exportFunc("make_data", fMakeData),
		exportFunc("model_ngeom", fModelNGeom),
		exportFunc("model_nbody", fModelNBody),
		exportFunc("geom_write", fGeomWrite),
		exportFunc("step", fStep),
		exportFunc("sim_time", fSimTime),
		exportFunc("delete_data", fDeleteData),
		exportFunc("delete_model", fDeleteModel),
		exportFunc("last_error", fLastError),
		exportGlobal("live", gLive),
		exportGlobal("geom_bias", gGeomBias),
		exportGlobal("step_rc", gStepRC),
		exportGlobal("trap_counts", gTrapCounts),
	))

	initialize := body(nil)

	// bump allocator, 8-byte aligned
	malloc := body(nil,
		globalGet(gHeap),
		globalGet(gHeap), localGet(0), opI32Add, i32c(7), opI32Add, i32c(-8), opI32And,
		globalSet(gHeap),
	)

	free := body(nil)

	// params: path, len; locals: fd(2), n(3), i(4), c(5)
	loadModel := body([][2]byte{{4, i32}},
		// path_open(3, 0, path+1, len-1, 0, 0, 0, 0, &fd): the leading
		// slash is dropped so the path is relative to the "/" preopen.
		i32c(3), i32c(0),
		localGet(0), i32c(1), opI32Add,
		localGet(1), i32c(1), opI32Sub,
		i32c(0), i64c(0), i64c(0), i32c(0), i32c(fdAddr),
		call(fPathOpen),
		opIf, failLoad(), opEnd,
		i32c(fdAddr), i32Load(0), localSet(2),

		i32c(iovecAddr), i32c(readBuf), i32Store(0),
		i32c(iovecAddr), i32c(readBufLen), i32Store(4),
		localGet(2), i32c(iovecAddr), i32c(1), i32c(nreadAddr), call(fFdRead), opDrop,
		i32c(nreadAddr), i32Load(0), localSet(3),
		localGet(2), call(fFdClose), opDrop,

		localGet(3), opI32Eqz, opIf, failLoad(), opEnd,
		i32c(readBuf), i32Load8U(0), i32c('<'), opI32Ne, opIf, failLoad(), opEnd,

		i32c(0), globalSet(gNGeom),
		i32c(0), globalSet(gNBody),
		i32c(0), localSet(4),
		opBlock, opLoop,
		localGet(4), i32c(1), opI32Add, localGet(3), opI32GeS, brIf(1),
		localGet(4), i32c(readBuf), opI32Add, i32Load8U(0), i32c('<'), opI32Eq,
		opIf,
		localGet(4), i32c(readBuf+1), opI32Add, i32Load8U(0), localSet(5),
		countTag('g', gNGeom),
		countTag('b', gNBody),
		opEnd,
		localGet(4), i32c(1), opI32Add, localSet(4),
		br(0),
		opEnd, opEnd,

		incGlobal(gLive, 1),
		i32c(1),
	)

	makeData := body(nil, incGlobal(gLive, 1), i32c(2))

	modelNGeom := body(nil,
		globalGet(gTrapCounts), opIf, opUnreachable, opEnd,
		globalGet(gNGeom), globalGet(gGeomBias), opI32Add,
	)

	modelNBody := body(nil, globalGet(gNBody))

	// params: model, data, index, out
	record := func(offset uint32, v float32) []byte { return cat(localGet(3), f32c(v), f32Store(offset)) }
	geomWrite := body(nil,
		localGet(2), globalGet(gNGeom), opI32GeU, opIf, i32c(1), opReturn, opEnd,
		localGet(3), i32c(int32(GeomBox)), i32Store(0),
		localGet(3), localGet(2), i32Store(4),
		record(8, 0.5), record(12, 0.5), record(16, 0.5),
		localGet(3), localGet(2), opF32FromI32, f32Store(20),
		record(24, 0), record(28, 1),
		record(32, 1), record(36, 0), record(40, 0), record(44, 0),
		record(48, 1), record(52, 1), record(56, 1), record(60, 1),
		i32c(0),
	)

	step := body(nil,
		globalGet(gStepRC), opIf,
		i32c(stepErrAddr), globalSet(gErrPtr), globalGet(gStepRC), opReturn,
		opEnd,
		globalGet(gTime), f64c(0.002), opF64Add, globalSet(gTime),
		i32c(0),
	)

	simTime := body(nil, globalGet(gTime))

	deleteHandle := body(nil, incGlobal(gLive, -1))

	lastError := body(nil, globalGet(gErrPtr))

	code := section(10, vec(
		initialize, malloc, free, loadModel, makeData, modelNGeom, modelNBody,
		geomWrite, step, simTime, deleteHandle, deleteHandle, lastError,
	))

	cstr := func(s string) []byte { return append([]byte(s), 0) }
	data := section(11, vec(
		cat([]byte{0x00}, i32c(docErrAddr), opEnd, name(string(cstr(guestDocError)))),
		cat([]byte{0x00}, i32c(stepErrAddr), opEnd, name(string(cstr(guestStepError)))),
	))

	return cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		types, imports, funcs, memory, globals, exports, code, data,
	)
}

// Package physics hosts the compiled physics engine as a WebAssembly guest.
//
// A [Loader] reads the module binary and instantiates it under wazero with
// WASI preview 1. The guest sees a virtual filesystem, [vfs.FS], rooted at
// "/", which the host mounts directories into and writes scene documents to
// before asking the engine to load them:
//
//	mod, err := physics.NewLoader("mujoco_wasm.wasm").Load(ctx)
//	if err != nil {
//	    return err
//	}
//	defer mod.Close(ctx)
//
//	_ = mod.FS().Mount("/working")
//	_ = mod.FS().WriteFile("/working/model.xml", doc)
//	model, state, err := mod.LoadScene(ctx, "/working/model.xml")
//
// # Guest ABI
//
// The guest must export malloc, free, load_model, make_data, model_ngeom,
// model_nbody, geom_write, step, sim_time, delete_data and delete_model.
// last_error is optional and, when present, supplies the reason for a
// rejected document.
//
// geom_write fills one [GeomRecordSize]-byte little-endian record per geom:
// type and body as int32, then size, position, orientation quaternion
// (w, x, y, z) and rgba as float32. Coordinates are Z-up.
package physics

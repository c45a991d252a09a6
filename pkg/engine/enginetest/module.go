package enginetest

// ModuleVersion and ModuleMove are the constants baked into Module.
const (
	ModuleVersion = "1.0.0"
	ModuleMove    = "e2e4"
)

// Module returns a minimal core wasm module implementing the engine ABI.
// version() returns "1.0.0" and best_move() returns "e2e4" from data
// segments; alloc always hands out offset 1024; the setters are no-ops.
func Module() []byte {
	return []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,

		// type: (i32)->i32, (i32)->(), (i32,i32)->(), ()->i64
		0x01, 0x13, 0x04,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x01, 0x7f, 0x00,
		0x60, 0x02, 0x7f, 0x7f, 0x00,
		0x60, 0x00, 0x01, 0x7e,

		// function: alloc, dealloc, set_depth, set_fen, best_move, version
		0x03, 0x07, 0x06, 0x00, 0x02, 0x01, 0x02, 0x03, 0x03,

		// memory: one page
		0x05, 0x03, 0x01, 0x00, 0x01,

		// export
		0x07, 0x48, 0x07,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
		0x07, 'd', 'e', 'a', 'l', 'l', 'o', 'c', 0x00, 0x01,
		0x09, 's', 'e', 't', '_', 'd', 'e', 'p', 't', 'h', 0x00, 0x02,
		0x07, 's', 'e', 't', '_', 'f', 'e', 'n', 0x00, 0x03,
		0x09, 'b', 'e', 's', 't', '_', 'm', 'o', 'v', 'e', 0x00, 0x04,
		0x07, 'v', 'e', 'r', 's', 'i', 'o', 'n', 0x00, 0x05,

		// code
		0x0a, 0x1f, 0x06,
		0x05, 0x00, 0x41, 0x80, 0x08, 0x0b, // alloc: i32.const 1024
		0x02, 0x00, 0x0b, // dealloc
		0x02, 0x00, 0x0b, // set_depth
		0x02, 0x00, 0x0b, // set_fen
		0x09, 0x00, 0x42, 0x84, 0x80, 0x80, 0x80, 0x80, 0x02, 0x0b, // best_move: i64.const 16<<32|4
		0x04, 0x00, 0x42, 0x05, 0x0b, // version: i64.const 0<<32|5

		// data
		0x0b, 0x14, 0x02,
		0x00, 0x41, 0x00, 0x0b, 0x05, '1', '.', '0', '.', '0',
		0x00, 0x41, 0x10, 0x0b, 0x04, 'e', '2', 'e', '4',
	}
}

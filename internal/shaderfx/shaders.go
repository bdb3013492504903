package shaderfx

import (
	"encoding/binary"
	"math"
)

// preludeWGSL is prepended to every fragment source. It declares the input
// bindings, the uniform block and the fixed passthrough vertex stage, so a
// filter file only has to provide fs_main.
const preludeWGSL = `
struct FilterUniforms {
    time: f32,
    seed: f32,
    strength: f32,
    _pad: f32,
};

@group(0) @binding(0) var src_tex: texture_2d<f32>;
@group(0) @binding(1) var src_sampler: sampler;
@group(0) @binding(2) var<uniform> u: FilterUniforms;

struct VertexOut {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@location(0) pos: vec2<f32>, @location(1) uv: vec2<f32>) -> VertexOut {
    var out: VertexOut;
    out.position = vec4<f32>(pos, 0.0, 1.0);
    out.uv = uv;
    return out;
}
`

const (
	vertexEntry   = "vs_main"
	fragmentEntry = "fs_main"

	quadVertexCount  = 6
	quadVertexStride = 16 // vec2 position + vec2 uv
	uniformSize      = 16
)

// programSource joins the prelude with a filter's fragment source.
func programSource(fragment string) string {
	return preludeWGSL + "\n" + fragment
}

// quadVertices covers clip space with two triangles. The top of clip space
// samples the bottom row of the texture, so the target is filled bottom-up
// and readback flips it back.
func quadVertices() []byte {
	v := []float32{
		// x, y, u, v
		-1, -1, 0, 0,
		1, -1, 1, 0,
		1, 1, 1, 1,

		-1, -1, 0, 0,
		1, 1, 1, 1,
		-1, 1, 0, 1,
	}
	return float32Bytes(v)
}

// uniformBytes packs {time, seed, strength, pad}.
func uniformBytes(time, seed, strength float32) []byte {
	return float32Bytes([]float32{time, seed, strength, 0})
}

func float32Bytes(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

//go:build windows

package webgpu

// WGSL compute shaders. All matrices are column-major: element (i, j) of a
// matrix with leading dimension ld is at j*ld + i.

// tileSize is the workgroup edge for the 2D kernels.
const tileSize = 16

// sgemmShader computes C = alpha*op(A)*op(B) + beta*C.
// global_id.x walks rows of C, global_id.y walks columns.
const sgemmShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;

struct Params {
    m: u32,
    n: u32,
    k: u32,
    lda: u32,
    ldb: u32,
    ldc: u32,
    trans_a: u32,
    trans_b: u32,
    alpha: f32,
    beta: f32,
    _pad0: u32,
    _pad1: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

fn op_a(i: u32, p: u32) -> f32 {
    if (params.trans_a == 0u) {
        return a[p * params.lda + i];
    }
    return a[i * params.lda + p];
}

fn op_b(p: u32, j: u32) -> f32 {
    if (params.trans_b == 0u) {
        return b[j * params.ldb + p];
    }
    return b[p * params.ldb + j];
}

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    let j = global_id.y;
    if (i >= params.m || j >= params.n) {
        return;
    }

    var sum: f32 = 0.0;
    for (var p: u32 = 0u; p < params.k; p = p + 1u) {
        sum = sum + op_a(i, p) * op_b(p, j);
    }

    let idx = j * params.ldc + i;
    if (params.beta == 0.0) {
        c[idx] = params.alpha * sum;
    } else {
        c[idx] = params.alpha * sum + params.beta * c[idx];
    }
}
`

// sgeamShader computes C = alpha*op(A) + beta*op(B).
// When beta is zero, B is bound to A's buffer and never read.
const sgeamShader = `
@group(0) @binding(0) var<storage, read> a: array<f32>;
@group(0) @binding(1) var<storage, read> b: array<f32>;
@group(0) @binding(2) var<storage, read_write> c: array<f32>;

struct Params {
    m: u32,
    n: u32,
    lda: u32,
    ldb: u32,
    ldc: u32,
    trans_a: u32,
    trans_b: u32,
    _pad0: u32,
    alpha: f32,
    beta: f32,
    _pad1: u32,
    _pad2: u32,
}
@group(0) @binding(3) var<uniform> params: Params;

@compute @workgroup_size(16, 16)
fn main(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    let j = global_id.y;
    if (i >= params.m || j >= params.n) {
        return;
    }

    var va: f32;
    if (params.trans_a == 0u) {
        va = a[j * params.lda + i];
    } else {
        va = a[i * params.lda + j];
    }
    var v = params.alpha * va;

    if (params.beta != 0.0) {
        var vb: f32;
        if (params.trans_b == 0u) {
            vb = b[j * params.ldb + i];
        } else {
            vb = b[i * params.ldb + j];
        }
        v = v + params.beta * vb;
    }

    c[j * params.ldc + i] = v;
}
`
